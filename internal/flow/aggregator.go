package flow

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"time"
)

// AggregatorConfig carries the sweep/block tunables and window bounds.
type AggregatorConfig struct {
	SweepWindow       time.Duration // cluster half-width around each trade
	SweepPriceDelta   float64       // max price spread across a cluster
	SweepMinTotal     int64         // min total contracts when mean price > $5
	SweepMinExchanges int
	BlockMinSize      int64
	BlockIsolation    time.Duration
	BlockConditions   []int
	DarkVenues        []int
	BufferMaxSize     int
	BufferMaxAge      time.Duration
}

func (c AggregatorConfig) withDefaults() AggregatorConfig {
	if c.SweepWindow == 0 {
		c.SweepWindow = 750 * time.Millisecond
	}
	if c.SweepPriceDelta == 0 {
		c.SweepPriceDelta = 0.10
	}
	if c.SweepMinTotal == 0 {
		c.SweepMinTotal = 100
	}
	if c.SweepMinExchanges == 0 {
		c.SweepMinExchanges = 2
	}
	if c.BlockMinSize == 0 {
		c.BlockMinSize = 500
	}
	if c.BlockIsolation == 0 {
		c.BlockIsolation = 100 * time.Millisecond
	}
	if c.BlockConditions == nil {
		c.BlockConditions = []int{229, 230, 233, 234, 235, 236}
	}
	if c.DarkVenues == nil {
		c.DarkVenues = []int{4, 21, 66}
	}
	if c.BufferMaxSize == 0 {
		c.BufferMaxSize = 10_000
	}
	if c.BufferMaxAge == 0 {
		c.BufferMaxAge = 5 * time.Second
	}
	return c
}

// sweepConditions are OPRA codes that mark a print as part of a sweep on
// their own. 233 (complex ISO sweep) also appears in the default block code
// list; sweep precedence claims it first.
var sweepConditions = map[int]struct{}{
	233: {},
}

// Verdict is the aggregator's label for one released trade.
type Verdict struct {
	Type               TradeType
	SweepID            string
	SweepSize          int64
	SweepExchangeCount int
	SweepExchanges     []string
	BlockReason        BlockReason
}

// Emission pairs a raw trade with its final verdict. Trades are emitted once,
// after the sweep window behind them has closed.
type Emission struct {
	Trade   RawTrade
	Verdict Verdict
}

type windowEntry struct {
	trade       RawTrade
	processedAt int64 // ms, monotonic process clock
	emitted     bool
}

// Aggregator clusters near-simultaneous prints per contract inside a bounded
// ring and labels each as sweep, block, or flow.
//
// Trades are held until their sweep window closes so the verdict sees the
// whole cluster, including prints that arrive after them. The ring is an
// arena indexed by a per-symbol id list; ids are monotonically increasing,
// and the slot for id i is i mod capacity. Not safe for concurrent use: one
// aggregator per pipeline shard, single goroutine each.
type Aggregator struct {
	cfg   AggregatorConfig
	nowMS func() int64

	arena  []windowEntry
	headID uint64 // oldest live id
	nextID uint64 // next id to assign; live ids are [headID, nextID)
	index  map[string][]uint64

	blockConds map[int]struct{}
	darkVenues map[int]struct{}
}

// NewAggregator builds an aggregator with the given tunables, zero values
// replaced by defaults.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	cfg = cfg.withDefaults()

	blockConds := make(map[int]struct{}, len(cfg.BlockConditions))
	for _, c := range cfg.BlockConditions {
		blockConds[c] = struct{}{}
	}
	dark := make(map[int]struct{}, len(cfg.DarkVenues))
	for _, v := range cfg.DarkVenues {
		dark[v] = struct{}{}
	}

	start := time.Now()
	base := start.UnixMilli()

	return &Aggregator{
		cfg:        cfg,
		nowMS:      func() int64 { return base + time.Since(start).Milliseconds() },
		arena:      make([]windowEntry, cfg.BufferMaxSize),
		index:      make(map[string][]uint64),
		blockConds: blockConds,
		darkVenues: dark,
	}
}

// SetClock replaces the process clock. Test hook.
func (a *Aggregator) SetClock(nowMS func() int64) { a.nowMS = nowMS }

// Len returns the number of live window entries.
func (a *Aggregator) Len() int { return int(a.nextID - a.headID) }

// OldestAge returns now minus the oldest entry's processed_at, zero when the
// window is empty.
func (a *Aggregator) OldestAge() time.Duration {
	if a.Len() == 0 {
		return 0
	}
	oldest := a.arena[a.slot(a.headID)].processedAt
	return time.Duration(a.nowMS()-oldest) * time.Millisecond
}

func (a *Aggregator) slot(id uint64) int { return int(id % uint64(len(a.arena))) }

// Process stamps and buffers one trade, then releases every buffered trade
// whose sweep window has closed. The released trades carry their final
// verdicts; the aggregator never fails a trade.
func (a *Aggregator) Process(t RawTrade) []Emission {
	now := a.nowMS()

	out := a.evict(now, 1)

	id := a.nextID
	a.nextID++
	a.arena[a.slot(id)] = windowEntry{trade: t, processedAt: now}
	a.index[t.Symbol] = append(a.index[t.Symbol], id)

	return append(out, a.release(now)...)
}

// Flush releases buffered trades whose window has closed without adding a
// new trade. Call it periodically so quiet contracts still emit promptly.
func (a *Aggregator) Flush() []Emission {
	now := a.nowMS()
	out := a.evict(now, 0)
	return append(out, a.release(now)...)
}

// Drain releases everything still buffered, regardless of window age. Used
// on shutdown.
func (a *Aggregator) Drain() []Emission {
	var out []Emission
	for id := a.headID; id < a.nextID; id++ {
		e := &a.arena[a.slot(id)]
		if !e.emitted {
			e.emitted = true
			out = append(out, Emission{Trade: e.trade, Verdict: a.classify(e)})
		}
	}
	return out
}

// evict drops entries older than the max age, then drops oldest entries
// until the ring has room for `incoming` more. Un-emitted evictees are still
// emitted: capacity pressure silently sheds history, never trades.
func (a *Aggregator) evict(now int64, incoming int) []Emission {
	var out []Emission
	cutoff := now - a.cfg.BufferMaxAge.Milliseconds()

	pop := func() {
		e := &a.arena[a.slot(a.headID)]
		if !e.emitted {
			e.emitted = true
			out = append(out, Emission{Trade: e.trade, Verdict: a.classify(e)})
		}
		a.pruneIndex(e.trade.Symbol, a.headID)
		a.arena[a.slot(a.headID)] = windowEntry{}
		a.headID++
	}

	for a.headID < a.nextID && a.arena[a.slot(a.headID)].processedAt < cutoff {
		pop()
	}
	for int(a.nextID-a.headID)+incoming > len(a.arena) {
		pop()
	}
	return out
}

// pruneIndex removes ids at or below popped from the front of a symbol's id
// list. The popped entry is always the ring's oldest, so this stays O(1)
// amortized.
func (a *Aggregator) pruneIndex(symbol string, popped uint64) {
	l := a.index[symbol]
	i := 0
	for i < len(l) && l[i] <= popped {
		i++
	}
	if i == len(l) {
		delete(a.index, symbol)
		return
	}
	if i > 0 {
		a.index[symbol] = l[i:]
	}
}

// release emits every live entry whose sweep window has fully closed.
func (a *Aggregator) release(now int64) []Emission {
	windowMS := a.cfg.SweepWindow.Milliseconds()
	var out []Emission
	for id := a.headID; id < a.nextID; id++ {
		e := &a.arena[a.slot(id)]
		if e.emitted {
			continue
		}
		if now-e.processedAt < windowMS {
			break // entries are in processedAt order
		}
		e.emitted = true
		out = append(out, Emission{Trade: e.trade, Verdict: a.classify(e)})
	}
	return out
}

// classify derives the verdict for one entry from its now-visible cluster.
// Precedence: sweep, then block, then flow. Exactly one label.
func (a *Aggregator) classify(e *windowEntry) Verdict {
	cluster := a.cluster(e)

	if v, ok := a.sweepVerdict(e, cluster); ok {
		return v
	}
	if reason, ok := a.blockVerdict(e, cluster); ok {
		return Verdict{Type: TypeBlock, BlockReason: reason}
	}
	return Verdict{Type: TypeFlow}
}

// cluster collects live same-symbol entries within the sweep window on
// either side of e, including e itself.
func (a *Aggregator) cluster(e *windowEntry) []*windowEntry {
	windowMS := a.cfg.SweepWindow.Milliseconds()
	ids := a.index[e.trade.Symbol]
	cluster := make([]*windowEntry, 0, len(ids))
	for _, id := range ids {
		if id < a.headID {
			continue // evicted, index prune pending
		}
		m := &a.arena[a.slot(id)]
		d := m.processedAt - e.processedAt
		if d < -windowMS || d > windowMS {
			continue
		}
		cluster = append(cluster, m)
	}
	return cluster
}

// sweepVerdict applies the hybrid admission rule: a qualifying multi-print
// cluster (tight price band, enough total contracts, multiple venues or a
// 3+ burst on one venue), or a print carrying a sweep condition code.
func (a *Aggregator) sweepVerdict(e *windowEntry, cluster []*windowEntry) (Verdict, bool) {
	condSweep := false
	for _, c := range e.trade.Conditions {
		if _, ok := sweepConditions[c]; ok {
			condSweep = true
			break
		}
	}

	minPrice, maxPrice := e.trade.Price, e.trade.Price
	var totalSize int64
	var sumPrice float64
	exchanges := make(map[int]struct{}, len(cluster))
	earliest := e.processedAt
	for _, m := range cluster {
		if m.trade.Price < minPrice {
			minPrice = m.trade.Price
		}
		if m.trade.Price > maxPrice {
			maxPrice = m.trade.Price
		}
		totalSize += m.trade.Size
		sumPrice += m.trade.Price
		exchanges[m.trade.Exchange] = struct{}{}
		if m.processedAt < earliest {
			earliest = m.processedAt
		}
	}

	if !condSweep {
		if maxPrice-minPrice > a.cfg.SweepPriceDelta {
			return Verdict{}, false
		}
		minContracts := a.cfg.SweepMinTotal
		if sumPrice/float64(len(cluster)) <= 5 {
			minContracts = a.cfg.SweepMinTotal / 2
		}
		if totalSize < minContracts {
			return Verdict{}, false
		}
		if len(exchanges) < a.cfg.SweepMinExchanges && len(cluster) < 3 {
			return Verdict{}, false
		}
	}

	names := make([]string, 0, len(exchanges))
	for x := range exchanges {
		names = append(names, ExchangeName(x))
	}

	return Verdict{
		Type:               TypeSweep,
		SweepID:            SweepID(e.trade.Symbol, earliest),
		SweepSize:          totalSize,
		SweepExchangeCount: len(exchanges),
		SweepExchanges:     names,
	}, true
}

// blockVerdict checks the single-print block predicates in order: large
// isolated print, OPRA block condition code, dark-venue large print.
func (a *Aggregator) blockVerdict(e *windowEntry, cluster []*windowEntry) (BlockReason, bool) {
	isolationMS := a.cfg.BlockIsolation.Milliseconds()
	isolated := true
	for _, m := range cluster {
		if m == e {
			continue
		}
		d := m.processedAt - e.processedAt
		if d >= -isolationMS && d <= isolationMS {
			isolated = false
			break
		}
	}

	if e.trade.Size >= a.cfg.BlockMinSize && isolated {
		return BlockLargeIsolated, true
	}
	for _, c := range e.trade.Conditions {
		if _, ok := a.blockConds[c]; ok {
			return BlockOPRACode, true
		}
	}
	if _, dark := a.darkVenues[e.trade.Exchange]; dark && e.trade.Size >= a.cfg.BlockMinSize {
		return BlockDarkVenue, true
	}
	return "", false
}

// SweepID mints the deterministic sweep identifier for a burst: FNV-1a of
// the contract symbol and the 100 ms bucket of the cluster's earliest
// processed_at. Colliding prints across the burst share an ID.
func SweepID(symbol string, processedAtMS int64) string {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(processedAtMS/100, 10)))
	return fmt.Sprintf("%016x", h.Sum64())
}
