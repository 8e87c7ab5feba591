// Package ingest runs the WebSocket session farm against the vendor options
// feed: authentication, the global trade firehose, per-contract quote
// subscriptions, dedup, and volume-driven rebalancing.
package ingest

// wireMessage is one element of the JSON array the vendor pushes. The `ev`
// discriminator selects which fields are meaningful.
type wireMessage struct {
	Ev  string `json:"ev"`
	Sym string `json:"sym"`

	// ev == "T"
	Price      float64 `json:"p"`
	Size       int64   `json:"s"`
	Exchange   int     `json:"x"`
	Conditions []int   `json:"c"`
	Sequence   int64   `json:"q"`

	// ev == "Q"
	Bid     float64 `json:"bp"`
	Ask     float64 `json:"ap"`
	BidSize int64   `json:"bs"`
	AskSize int64   `json:"as"`

	// Shared: nanosecond source timestamp.
	Timestamp int64 `json:"t"`

	// ev == "status"
	Status  string `json:"status"`
	Message string `json:"message"`
}

// clientFrame is the control message format the vendor accepts.
type clientFrame struct {
	Action string `json:"action"`
	Params string `json:"params"`
}
