// Package store persists classified trades and their daily aggregates, and
// archives expired days to Parquet.
package store

import (
	"context"

	"flowscope/internal/flow"
)

// TradeStore is the persistence surface the sink and the HTTP façade use.
type TradeStore interface {
	// InsertTrade upserts one classified trade. The bool reports whether the
	// row was actually inserted; a duplicate (contract_symbol, sequence) is
	// a silent no-op.
	InsertTrade(ctx context.Context, t *flow.ClassifiedTrade) (bool, error)

	// RecentTrades returns the newest stored trades, newest first.
	RecentTrades(ctx context.Context, limit int) ([]flow.ClassifiedTrade, error)

	// DailyStats returns the aggregate row for a date (YYYY-MM-DD) with the
	// derived ratios computed on read.
	DailyStats(ctx context.Context, date string) (*DailyStats, error)

	// TradesForDate returns every stored trade for a date, oldest first.
	TradesForDate(ctx context.Context, date string) ([]flow.ClassifiedTrade, error)

	// DatesBefore lists the distinct trade dates strictly before the given
	// date, ascending. Used by the rollover task to archive before purging.
	DatesBefore(ctx context.Context, date string) ([]string, error)

	// Purge deletes trades and aggregates dated strictly before the given
	// date and reports how many trade rows went away.
	Purge(ctx context.Context, before string) (int64, error)

	Close() error
}

// DailyStats is one day's aggregate row. Ratios are derived, never stored.
type DailyStats struct {
	Date         string  `json:"date"`
	TotalTrades  int64   `json:"total_trades"`
	TotalPremium float64 `json:"total_premium"`

	CallCount   int64   `json:"call_count"`
	CallPremium float64 `json:"call_premium"`
	PutCount    int64   `json:"put_count"`
	PutPremium  float64 `json:"put_premium"`

	SweepCount   int64   `json:"sweep_count"`
	SweepPremium float64 `json:"sweep_premium"`
	BlockCount   int64   `json:"block_count"`
	BlockPremium float64 `json:"block_premium"`

	PriorityCounts   [4]int64   `json:"priority_counts"`
	PriorityPremiums [4]float64 `json:"priority_premiums"`

	// Derived on read.
	CallPutRatio       float64 `json:"call_put_ratio"`
	InstitutionalShare float64 `json:"institutional_share"`
}

// derive fills the computed ratio fields from the stored counters.
func (d *DailyStats) derive() {
	if d.PutCount > 0 {
		d.CallPutRatio = float64(d.CallCount) / float64(d.PutCount)
	}
	if d.TotalPremium > 0 {
		d.InstitutionalShare = (d.SweepPremium + d.BlockPremium) / d.TotalPremium
	}
}
