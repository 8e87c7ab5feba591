package ingest

import "sync"

// volumeTable tracks contract trade volume between rebalances. Writes come
// from the dispatcher; the rebalancer takes snapshots. Counters are halved
// at each snapshot so stale bursts age out of the ranking.
type volumeTable struct {
	mu      sync.Mutex
	volumes map[string]int64
}

func newVolumeTable() *volumeTable {
	return &volumeTable{volumes: make(map[string]int64)}
}

// Add accumulates traded size for a contract symbol.
func (v *volumeTable) Add(symbol string, size int64) {
	v.mu.Lock()
	v.volumes[symbol] += size
	v.mu.Unlock()
}

// Snapshot freezes a copy of the table for the rebalancer and decays the
// live counters.
func (v *volumeTable) Snapshot() map[string]int64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	snap := make(map[string]int64, len(v.volumes))
	for sym, n := range v.volumes {
		snap[sym] = n
		half := n / 2
		if half == 0 {
			delete(v.volumes, sym)
		} else {
			v.volumes[sym] = half
		}
	}
	return snap
}
