package ingest

// dedupKey identifies a print by contract symbol and feed sequence. The
// same sequence can repeat across contracts, so both fields are needed.
type dedupKey struct {
	symbol   string
	sequence int64
}

// dedupSet suppresses repeated (symbol, sequence) pairs across sessions.
// Single-writer: only the farm's dispatcher touches it. The set exists to
// squash bursts, not to be a durable record, so overflow is handled by a
// bulk clear.
type dedupSet struct {
	seen map[dedupKey]struct{}
	max  int
}

func newDedupSet(max int) *dedupSet {
	if max <= 0 {
		max = 100_000
	}
	return &dedupSet{
		seen: make(map[dedupKey]struct{}, max/4),
		max:  max,
	}
}

// Seen records the pair and reports whether it was already present.
func (d *dedupSet) Seen(symbol string, sequence int64) bool {
	k := dedupKey{symbol, sequence}
	if _, dup := d.seen[k]; dup {
		return true
	}
	if len(d.seen) >= d.max {
		d.seen = make(map[dedupKey]struct{}, d.max/4)
	}
	d.seen[k] = struct{}{}
	return false
}

// Len returns the current set size.
func (d *dedupSet) Len() int { return len(d.seen) }
