// Package flow classifies options trades into sweeps, blocks, and ordinary
// flow, and derives execution level, priority, urgency, and direction.
package flow

import (
	"flowscope/internal/occ"
)

// TradeType labels how a print executed relative to its neighbours.
type TradeType string

const (
	TypeSweep TradeType = "SWEEP"
	TypeBlock TradeType = "BLOCK"
	TypeFlow  TradeType = "FLOW"
)

// ExecutionLevel places a print against the NBBO at execution time.
type ExecutionLevel string

const (
	AboveAsk ExecutionLevel = "ABOVE_ASK"
	AtAsk    ExecutionLevel = "AT_ASK"
	Mid      ExecutionLevel = "MID"
	AtBid    ExecutionLevel = "AT_BID"
	BelowBid ExecutionLevel = "BELOW_BID"
	Unknown  ExecutionLevel = "UNKNOWN"
)

// Direction is the inferred flow direction of a classified trade.
type Direction string

const (
	Bullish Direction = "BULLISH"
	Bearish Direction = "BEARISH"
	Neutral Direction = "NEUTRAL"
)

// BlockReason records which block predicate admitted a trade.
type BlockReason string

const (
	BlockLargeIsolated BlockReason = "LARGE_ISOLATED"
	BlockOPRACode      BlockReason = "OPRA_BLOCK_CODE"
	BlockDarkVenue     BlockReason = "DARK_VENUE"
)

// RawTrade is a single options print after ingress normalisation. Timestamp
// is milliseconds since epoch; the nanosecond feed value is converted once
// at ingress.
type RawTrade struct {
	Symbol     string       `json:"symbol"`
	Contract   occ.Contract `json:"contract"`
	Price      float64      `json:"price"`
	Size       int64        `json:"size"`
	Exchange   int          `json:"exchange"`
	Conditions []int        `json:"conditions"`
	Timestamp  int64        `json:"timestamp"`
	Sequence   int64        `json:"sequence"`
}

// Premium is the notional dollar amount of the print (100 share multiplier).
func (t *RawTrade) Premium() float64 {
	return t.Price * float64(t.Size) * 100
}

// Quote is the last known NBBO for a contract.
type Quote struct {
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	BidSize   int64   `json:"bid_size"`
	AskSize   int64   `json:"ask_size"`
	Timestamp int64   `json:"timestamp"`
}

// Valid reports whether the quote can anchor an execution level.
func (q Quote) Valid() bool {
	return q.Bid > 0 && q.Ask > 0 && q.Ask >= q.Bid
}

// Urgency is the 0-100 urgency score with its display attributes.
type Urgency struct {
	Score int    `json:"score"`
	Level string `json:"level"`
	Label string `json:"label"`
	Color string `json:"color"`
}

// ClassifiedTrade is a RawTrade plus everything the pipeline derives from
// the aggregator verdict and the quote context. Published exactly once to
// the store (when premium clears the threshold) and once to the hub.
type ClassifiedTrade struct {
	RawTrade

	Premium        float64        `json:"premium"`
	Type           TradeType      `json:"trade_type"`
	ExecutionLevel ExecutionLevel `json:"execution_level"`
	Priority       int            `json:"priority"`
	Highlight      bool           `json:"highlight"`
	Urgency        Urgency        `json:"urgency"`
	Direction      Direction      `json:"flow_direction"`

	SweepID            string   `json:"sweep_id,omitempty"`
	SweepSize          int64    `json:"sweep_size,omitempty"`
	SweepExchangeCount int      `json:"sweep_exchange_count,omitempty"`
	SweepExchanges     []string `json:"sweep_exchanges,omitempty"`

	IsBlock     bool        `json:"is_block"`
	BlockReason BlockReason `json:"block_reason,omitempty"`

	// Spot annotation, advisory: zero when no underlying close is cached.
	SpotPrice  float64 `json:"spot_price,omitempty"`
	PercentOTM float64 `json:"percent_otm,omitempty"`
}
