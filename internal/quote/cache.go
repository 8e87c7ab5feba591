// Package quote keeps the last known NBBO per contract symbol in a sharded
// in-memory cache.
package quote

import (
	"hash/fnv"
	"sort"
	"sync"

	"flowscope/internal/flow"
)

const defaultShards = 16

type entry struct {
	quote   flow.Quote
	touched uint64 // store sequence, for least-recently-updated eviction
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   uint64
	max     int
}

// Cache maps contract symbols to their latest quote. Reads are concurrent;
// writes come from the farm's dispatcher only. Entries are advisory: a miss
// downstream just means an UNKNOWN execution level, so eviction is a soft
// cap per shard, shedding the least recently updated symbols.
type Cache struct {
	shards []*shard
}

// NewCache builds a cache with the given total entry cap spread across
// shards. maxEntries <= 0 selects a 200k default.
func NewCache(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 200_000
	}
	perShard := maxEntries / defaultShards
	if perShard < 1 {
		perShard = 1
	}
	shards := make([]*shard, defaultShards)
	for i := range shards {
		shards[i] = &shard{
			entries: make(map[string]entry),
			max:     perShard,
		}
	}
	return &Cache{shards: shards}
}

func (c *Cache) shardFor(symbol string) *shard {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Store overwrites the cached quote for a symbol. When the shard exceeds
// its cap, roughly the oldest tenth is shed in one pass.
func (c *Cache) Store(symbol string, q flow.Quote) {
	s := c.shardFor(symbol)
	s.mu.Lock()
	s.clock++
	s.entries[symbol] = entry{quote: q, touched: s.clock}
	if len(s.entries) > s.max {
		s.evictLocked()
	}
	s.mu.Unlock()
}

// Lookup returns the last quote for a symbol, if any.
func (c *Cache) Lookup(symbol string) (flow.Quote, bool) {
	s := c.shardFor(symbol)
	s.mu.RLock()
	e, ok := s.entries[symbol]
	s.mu.RUnlock()
	return e.quote, ok
}

// Len returns the total number of cached quotes.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// evictLocked sheds the least recently updated entries until the shard sits
// a tenth under its cap. One sort per overflow, not one scan per eviction.
// Caller holds the shard lock.
func (s *shard) evictLocked() {
	target := s.max - s.max/10
	if target < 1 {
		target = 1
	}
	drop := len(s.entries) - target
	if drop <= 0 {
		return
	}

	type aged struct {
		key     string
		touched uint64
	}
	all := make([]aged, 0, len(s.entries))
	for k, e := range s.entries {
		all = append(all, aged{k, e.touched})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].touched < all[j].touched })
	for _, a := range all[:drop] {
		delete(s.entries, a.key)
	}
}
