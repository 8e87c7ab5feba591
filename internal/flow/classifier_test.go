package flow

import (
	"testing"
)

func classify(t *testing.T, symbol string, price float64, size int64, v Verdict, q Quote, conds ...int) ClassifiedTrade {
	t.Helper()
	tr := rawTrade(symbol, price, size, 302, conds...)
	return NewClassifier().Classify(tr, v, q)
}

func TestExecutionLevels(t *testing.T) {
	q := Quote{Bid: 4.30, Ask: 4.45}
	cases := []struct {
		price float64
		want  ExecutionLevel
	}{
		{4.50, AboveAsk},
		{4.45, AtAsk},
		{4.44, AtAsk},
		{4.375, Mid},
		{4.38, Mid},
		{4.30, AtBid},
		{4.31, AtBid},
		{4.20, BelowBid},
		// Inside the spread, outside every tolerance: snaps toward mid side.
		{4.42, AtAsk},
		{4.33, AtBid},
	}
	for _, tc := range cases {
		if got := executionLevel(tc.price, q); got != tc.want {
			t.Errorf("executionLevel(%.3f) = %s, want %s", tc.price, got, tc.want)
		}
	}
}

func TestExecutionLevelUnknown(t *testing.T) {
	for _, q := range []Quote{
		{},                          // absent
		{Bid: 0, Ask: 4.45},         // no bid
		{Bid: 4.30, Ask: 0},         // no ask
		{Bid: 4.45, Ask: 4.30},      // crossed
		{Bid: -1, Ask: 4.45},        // negative
	} {
		if got := executionLevel(4.40, q); got != Unknown {
			t.Errorf("executionLevel with quote %+v = %s, want UNKNOWN", q, got)
		}
	}
}

func TestPriorityTable(t *testing.T) {
	cases := []struct {
		tt        TradeType
		level     ExecutionLevel
		premium   float64
		priority  int
		highlight bool
	}{
		{TypeSweep, AboveAsk, 10_000, 1, true},
		{TypeBlock, AboveAsk, 10_000, 1, true},
		{TypeSweep, AtAsk, 99_000, 2, false},
		{TypeSweep, AtAsk, 100_000, 2, true},
		{TypeBlock, AtBid, 249_000, 3, false},
		{TypeBlock, AtBid, 250_000, 3, true},
		{TypeSweep, Mid, 1_000_000, 4, false},
		{TypeSweep, BelowBid, 1_000_000, 4, false},
		{TypeFlow, AboveAsk, 200_000, 3, true},
		{TypeFlow, AtAsk, 199_000, 3, false},
		{TypeFlow, AtBid, 300_000, 4, true},
		{TypeFlow, Mid, 299_000, 4, false},
		{TypeFlow, BelowBid, 300_000, 4, true},
		{TypeSweep, Unknown, 1_000_000, 4, false},
		{TypeFlow, Unknown, 1_000_000, 4, false},
	}
	for _, tc := range cases {
		p, h := priority(tc.tt, tc.level, tc.premium)
		if p != tc.priority || h != tc.highlight {
			t.Errorf("priority(%s, %s, %.0f) = (%d, %v), want (%d, %v)",
				tc.tt, tc.level, tc.premium, p, h, tc.priority, tc.highlight)
		}
	}
}

// Degrading execution level never lowers the numeric priority for
// institutional trade types.
func TestPriorityMonotonic(t *testing.T) {
	ladder := []ExecutionLevel{AboveAsk, AtAsk, AtBid}
	for _, tt := range []TradeType{TypeSweep, TypeBlock} {
		prev := 0
		for _, level := range ladder {
			p, _ := priority(tt, level, 50_000)
			if p < prev {
				t.Errorf("%s: priority at %s = %d dropped below %d", tt, level, p, prev)
			}
			prev = p
		}
	}
}

func TestUrgencyScoring(t *testing.T) {
	// Sweep across four venues with a seven-figure premium and an
	// aggressive condition code pegs the scale.
	ct := classify(t, testSymbol, 25, 500,
		Verdict{Type: TypeSweep, SweepID: "x", SweepExchangeCount: 4, SweepSize: 500},
		Quote{Bid: 24.90, Ask: 25.00}, 229)
	if ct.Urgency.Score != 95 {
		t.Errorf("score = %d, want 95", ct.Urgency.Score) // 30+15+30+20
	}
	if ct.Urgency.Level != "EXTREME" {
		t.Errorf("level = %s, want EXTREME", ct.Urgency.Level)
	}

	// Plain flow print scores low.
	ct = classify(t, testSymbol, 1.00, 10, Verdict{Type: TypeFlow}, Quote{})
	if ct.Urgency.Score != 0 || ct.Urgency.Level != "LOW" {
		t.Errorf("flow urgency = %+v, want score 0 LOW", ct.Urgency)
	}

	// Block base plus premium band.
	ct = classify(t, testSymbol, 10, 300,
		Verdict{Type: TypeBlock, BlockReason: BlockLargeIsolated}, Quote{})
	if ct.Urgency.Score != 25 { // 10 block + 15 premium (300k)
		t.Errorf("block urgency = %d, want 25", ct.Urgency.Score)
	}
}

func TestDirection(t *testing.T) {
	call := testSymbol
	put := "O:SPY251115P00580000"
	atAsk := Quote{Bid: 5.40, Ask: 5.50}

	cases := []struct {
		name    string
		symbol  string
		price   float64
		size    int64
		verdict Verdict
		quote   Quote
		want    Direction
	}{
		{"call sweep", call, 5.50, 40, Verdict{Type: TypeSweep, SweepID: "x", SweepExchangeCount: 2}, atAsk, Bullish},
		{"put sweep", put, 5.50, 40, Verdict{Type: TypeSweep, SweepID: "x", SweepExchangeCount: 2}, atAsk, Bearish},
		{"call block big", call, 10, 250, Verdict{Type: TypeBlock, BlockReason: BlockLargeIsolated}, Quote{}, Bullish},
		{"call block small", call, 10, 100, Verdict{Type: TypeBlock, BlockReason: BlockLargeIsolated}, Quote{}, Neutral},
		{"put block big", put, 10, 250, Verdict{Type: TypeBlock, BlockReason: BlockLargeIsolated}, Quote{}, Bearish},
		{"call aggressive flow", call, 5.50, 200, Verdict{Type: TypeFlow}, atAsk, Bullish},
		{"call passive flow", call, 5.40, 200, Verdict{Type: TypeFlow}, atAsk, Neutral},
		{"flow no quote", call, 6.40, 50, Verdict{Type: TypeFlow}, Quote{}, Neutral},
		{"sweep no quote", put, 6.40, 50, Verdict{Type: TypeSweep, SweepID: "x", SweepExchangeCount: 1}, Quote{}, Bearish},
	}
	for _, tc := range cases {
		ct := classify(t, tc.symbol, tc.price, tc.size, tc.verdict, tc.quote)
		if ct.Direction != tc.want {
			t.Errorf("%s: direction = %s, want %s", tc.name, ct.Direction, tc.want)
		}
	}
}

// Scenario: isolated 800-lot SPY put at the ask.
func TestClassifyIsolatedBlock(t *testing.T) {
	ct := classify(t, "O:SPY251115P00580000", 8.25, 800,
		Verdict{Type: TypeBlock, BlockReason: BlockLargeIsolated},
		Quote{Bid: 8.10, Ask: 8.25})

	if ct.Type != TypeBlock || !ct.IsBlock || ct.BlockReason != BlockLargeIsolated {
		t.Errorf("block fields wrong: %+v", ct)
	}
	if ct.ExecutionLevel != AtAsk {
		t.Errorf("execution level = %s, want AT_ASK", ct.ExecutionLevel)
	}
	if ct.Priority != 2 {
		t.Errorf("priority = %d, want 2", ct.Priority)
	}
	if ct.Premium != 8.25*800*100 {
		t.Errorf("premium = %.2f", ct.Premium)
	}
}

// Scenario: small flow print below the bid.
func TestClassifyFlowBelowBid(t *testing.T) {
	ct := classify(t, testSymbol, 4.20, 50, Verdict{Type: TypeFlow},
		Quote{Bid: 4.30, Ask: 4.45})

	if ct.Type != TypeFlow || ct.ExecutionLevel != BelowBid {
		t.Errorf("got %s/%s, want FLOW/BELOW_BID", ct.Type, ct.ExecutionLevel)
	}
	if ct.Priority != 4 || ct.Highlight {
		t.Errorf("priority/highlight = %d/%v, want 4/false", ct.Priority, ct.Highlight)
	}
}

// Scenario: no cached quote at all.
func TestClassifyUnknownQuote(t *testing.T) {
	ct := classify(t, testSymbol, 6.40, 50, Verdict{Type: TypeFlow}, Quote{})

	if ct.ExecutionLevel != Unknown {
		t.Errorf("execution level = %s, want UNKNOWN", ct.ExecutionLevel)
	}
	if ct.Priority != 4 {
		t.Errorf("priority = %d, want 4", ct.Priority)
	}
	if ct.Direction != Neutral {
		t.Errorf("direction = %s, want NEUTRAL", ct.Direction)
	}
}

// Sweep fields only populate for sweeps; block fields only for blocks.
func TestClassifyFieldInvariants(t *testing.T) {
	sweep := classify(t, testSymbol, 5.50, 40,
		Verdict{Type: TypeSweep, SweepID: "abc", SweepSize: 120, SweepExchangeCount: 3,
			SweepExchanges: []string{"MIAX OPTIONS", "MEMX", "CBOE"}},
		Quote{Bid: 5.45, Ask: 5.50})
	if sweep.SweepID == "" || sweep.SweepExchangeCount < 1 {
		t.Errorf("sweep invariant violated: %+v", sweep)
	}
	if sweep.IsBlock || sweep.BlockReason != "" {
		t.Errorf("sweep carries block fields: %+v", sweep)
	}

	flow := classify(t, testSymbol, 5.50, 40, Verdict{Type: TypeFlow}, Quote{})
	if flow.SweepID != "" || flow.IsBlock {
		t.Errorf("flow carries sweep/block fields: %+v", flow)
	}
}
