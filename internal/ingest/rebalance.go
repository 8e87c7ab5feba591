package ingest

import (
	"sort"
	"strings"

	"flowscope/internal/occ"
)

// PlanSubscriptions partitions the observed contracts into per-session quote
// channel lists. Contracts on a static-tier underlying go to the first
// sessionsStatic sessions; the rest are ranked by volume and fill the dynamic
// sessions. No session receives more than quotesPerSession channels.
//
// The plan is deterministic for a given snapshot: ties rank by symbol, and
// assignment is round-robin over the sorted order.
func PlanSubscriptions(volumes map[string]int64, staticTickers []string, sessionsTotal, sessionsStatic, quotesPerSession int) [][]string {
	plan := make([][]string, sessionsTotal)

	static := make(map[string]struct{}, len(staticTickers))
	for _, t := range staticTickers {
		static[strings.ToUpper(t)] = struct{}{}
	}

	type ranked struct {
		symbol string
		volume int64
	}
	var staticSet, dynamic []ranked
	for sym, vol := range volumes {
		c, err := occ.Parse(sym)
		if err != nil {
			continue
		}
		r := ranked{symbol: sym, volume: vol}
		if _, ok := static[c.Underlying]; ok {
			staticSet = append(staticSet, r)
		} else {
			dynamic = append(dynamic, r)
		}
	}

	byVolume := func(set []ranked) {
		sort.Slice(set, func(i, j int) bool {
			if set[i].volume != set[j].volume {
				return set[i].volume > set[j].volume
			}
			return set[i].symbol < set[j].symbol
		})
	}
	byVolume(staticSet)
	byVolume(dynamic)

	sessionsDynamic := sessionsTotal - sessionsStatic
	if limit := sessionsStatic * quotesPerSession; len(staticSet) > limit {
		staticSet = staticSet[:limit]
	}
	if limit := sessionsDynamic * quotesPerSession; len(dynamic) > limit {
		dynamic = dynamic[:limit]
	}

	assign := func(set []ranked, base, count int) {
		if count == 0 {
			return
		}
		for i, r := range set {
			s := base + i%count
			plan[s] = append(plan[s], "Q."+r.symbol)
		}
	}
	assign(staticSet, 0, sessionsStatic)
	assign(dynamic, sessionsStatic, sessionsDynamic)

	for _, chans := range plan {
		sort.Strings(chans)
	}
	return plan
}
