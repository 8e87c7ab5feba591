package flow

import "strconv"

// opraVenues maps feed exchange ids to venue names. Ids not present resolve
// through ExchangeName to a sentinel so an unknown venue never fails a
// classification.
var opraVenues = map[int]string{
	1:   "NYSE AMERICAN",
	2:   "NASDAQ OMX BX",
	3:   "NYSE NATIONAL",
	4:   "FINRA ADF",
	5:   "MIAX EMERALD",
	6:   "ISE GEMINI",
	7:   "CBOE EDGA",
	8:   "CBOE EDGX",
	9:   "MIAX PEARL",
	10:  "NYSE CHICAGO",
	21:  "IEX",
	65:  "MIAX OPTIONS",
	66:  "MEMX",
	300: "OPRA",
	301: "BOX",
	302: "CBOE",
	303: "NASDAQ PHLX",
	304: "NYSE ARCA OPTIONS",
	309: "MIAX SAPPHIRE",
	312: "NASDAQ ISE",
	313: "NASDAQ MRX",
	322: "NASDAQ OPTIONS",
}

// ExchangeName resolves a feed exchange id to its venue name, falling back
// to a sentinel for ids the table does not know.
func ExchangeName(id int) string {
	if name, ok := opraVenues[id]; ok {
		return name
	}
	return "UNKNOWN(" + strconv.Itoa(id) + ")"
}
