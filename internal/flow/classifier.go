package flow

import (
	"math"

	"flowscope/internal/occ"
)

// priceTolerance is the NBBO bucketing tolerance in dollars.
const priceTolerance = 0.01

// aggressiveConditions are OPRA codes that add the urgency aggression bonus.
var aggressiveConditions = map[int]struct{}{
	220: {},
	229: {},
	230: {},
}

// Classifier combines an aggregator verdict with quote context to produce
// the downstream fields of a classified trade. It is stateless and safe for
// concurrent use.
type Classifier struct{}

// NewClassifier returns a classifier.
func NewClassifier() *Classifier { return &Classifier{} }

// Classify derives execution level, priority, urgency, and direction for a
// released trade. quote may be the zero value when no NBBO is cached; the
// execution level then falls back to UNKNOWN and direction is inferred from
// the trade type alone.
func (c *Classifier) Classify(t RawTrade, v Verdict, quote Quote) ClassifiedTrade {
	premium := t.Premium()
	level := executionLevel(t.Price, quote)
	priority, highlight := priority(v.Type, level, premium)

	ct := ClassifiedTrade{
		RawTrade:       t,
		Premium:        premium,
		Type:           v.Type,
		ExecutionLevel: level,
		Priority:       priority,
		Highlight:      highlight,
		Direction:      direction(t, v.Type, level, premium),
	}

	switch v.Type {
	case TypeSweep:
		ct.SweepID = v.SweepID
		ct.SweepSize = v.SweepSize
		ct.SweepExchangeCount = v.SweepExchangeCount
		ct.SweepExchanges = v.SweepExchanges
	case TypeBlock:
		ct.IsBlock = true
		ct.BlockReason = v.BlockReason
	}

	ct.Urgency = urgency(&ct)
	return ct
}

// executionLevel places the trade price against the NBBO. An absent or
// invalid quote yields UNKNOWN; a price inside the spread that matches no
// tolerance bucket snaps to the side of the mid it sits on.
func executionLevel(price float64, q Quote) ExecutionLevel {
	if !q.Valid() {
		return Unknown
	}
	mid := (q.Bid + q.Ask) / 2

	switch {
	case price > q.Ask+priceTolerance:
		return AboveAsk
	case math.Abs(price-q.Ask) <= priceTolerance:
		return AtAsk
	case math.Abs(price-mid) <= priceTolerance:
		return Mid
	case math.Abs(price-q.Bid) <= priceTolerance:
		return AtBid
	case price < q.Bid-priceTolerance:
		return BelowBid
	case price > mid:
		return AtAsk
	default:
		return AtBid
	}
}

// priority looks up the numeric priority (1 is highest) and whether the
// trade clears its highlight premium threshold.
func priority(tt TradeType, level ExecutionLevel, premium float64) (int, bool) {
	if level == Unknown {
		return 4, false
	}

	institutional := tt == TypeSweep || tt == TypeBlock
	if institutional {
		switch level {
		case AboveAsk:
			return 1, true
		case AtAsk:
			return 2, premium >= 100_000
		case AtBid:
			return 3, premium >= 250_000
		default: // BELOW_BID, MID
			return 4, false
		}
	}

	switch level {
	case AboveAsk, AtAsk:
		return 3, premium >= 200_000
	default: // AT_BID, MID, BELOW_BID
		return 4, premium >= 300_000
	}
}

// urgency scores the trade 0-100 and attaches the display band.
func urgency(ct *ClassifiedTrade) Urgency {
	score := 0

	if ct.Type == TypeSweep {
		score += 30
		bonus := (ct.SweepExchangeCount - 1) * 5
		if bonus > 15 {
			bonus = 15
		}
		if bonus > 0 {
			score += bonus
		}
	}
	if ct.Type == TypeBlock {
		score += 10
	}

	switch {
	case ct.Premium >= 1_000_000:
		score += 30
	case ct.Premium >= 500_000:
		score += 22
	case ct.Premium >= 250_000:
		score += 15
	case ct.Premium >= 100_000:
		score += 8
	}

	for _, cond := range ct.Conditions {
		if _, ok := aggressiveConditions[cond]; ok {
			score += 20
			break
		}
	}

	if score > 100 {
		score = 100
	}

	level, label, color := urgencyBand(score)
	return Urgency{Score: score, Level: level, Label: label, Color: color}
}

func urgencyBand(score int) (level, label, color string) {
	switch {
	case score >= 80:
		return "EXTREME", "Extreme", "#d32f2f"
	case score >= 60:
		return "HIGH", "High", "#f57c00"
	case score >= 40:
		return "MODERATE", "Moderate", "#fbc02d"
	default:
		return "LOW", "Low", "#9e9e9e"
	}
}

// direction infers flow direction. Call-side institutional pressure reads
// bullish, put-side bearish; everything else is neutral. A trade with an
// UNKNOWN execution level can still pick up a direction via trade type.
func direction(t RawTrade, tt TradeType, level ExecutionLevel, premium float64) Direction {
	aggressive := level == AboveAsk || level == AtAsk

	bullish := tt == TypeSweep ||
		(tt == TypeBlock && premium >= 200_000) ||
		(aggressive && premium >= 100_000)

	if !bullish {
		return Neutral
	}
	if t.Contract.Side == occ.Put {
		return Bearish
	}
	return Bullish
}
