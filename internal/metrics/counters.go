// Package metrics holds the process-wide event counters. Every subsystem
// reports through these instead of panicking or blocking; the supervisor
// logs them periodically and the HTTP façade exposes them.
package metrics

import "sync/atomic"

// Counters is a set of monotonically increasing event counts. All methods
// are safe for concurrent use.
type Counters struct {
	TradesSeen     atomic.Int64
	QuotesSeen     atomic.Int64
	Malformed      atomic.Int64
	DedupDropped   atomic.Int64
	Sweeps         atomic.Int64
	Blocks         atomic.Int64
	StoredTrades   atomic.Int64
	StoreErrors    atomic.Int64
	HubPublished   atomic.Int64
	HubDropped     atomic.Int64
	Reconnects     atomic.Int64
	RebalanceTicks atomic.Int64
}

// Snapshot is a plain-value copy for logging and the health endpoint.
type Snapshot struct {
	TradesSeen     int64 `json:"trades_seen"`
	QuotesSeen     int64 `json:"quotes_seen"`
	Malformed      int64 `json:"malformed"`
	DedupDropped   int64 `json:"dedup_dropped"`
	Sweeps         int64 `json:"sweeps"`
	Blocks         int64 `json:"blocks"`
	StoredTrades   int64 `json:"stored_trades"`
	StoreErrors    int64 `json:"store_errors"`
	HubPublished   int64 `json:"hub_published"`
	HubDropped     int64 `json:"hub_dropped"`
	Reconnects     int64 `json:"reconnects"`
	RebalanceTicks int64 `json:"rebalance_ticks"`
}

// Snapshot copies the current counter values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		TradesSeen:     c.TradesSeen.Load(),
		QuotesSeen:     c.QuotesSeen.Load(),
		Malformed:      c.Malformed.Load(),
		DedupDropped:   c.DedupDropped.Load(),
		Sweeps:         c.Sweeps.Load(),
		Blocks:         c.Blocks.Load(),
		StoredTrades:   c.StoredTrades.Load(),
		StoreErrors:    c.StoreErrors.Load(),
		HubPublished:   c.HubPublished.Load(),
		HubDropped:     c.HubDropped.Load(),
		Reconnects:     c.Reconnects.Load(),
		RebalanceTicks: c.RebalanceTicks.Load(),
	}
}
