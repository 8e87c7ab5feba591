package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"flowscope/internal/flow"
	"flowscope/internal/occ"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), time.UTC)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// classified builds a stored-shape trade. ts is Unix ms and drives the
// trade_date bucket (UTC in tests).
func classified(t *testing.T, symbol string, seq int64, ts int64, price float64, size int64, tt flow.TradeType) *flow.ClassifiedTrade {
	t.Helper()
	contract, err := occ.Parse(symbol)
	if err != nil {
		t.Fatalf("parsing %s: %v", symbol, err)
	}
	ct := &flow.ClassifiedTrade{
		RawTrade: flow.RawTrade{
			Symbol:     symbol,
			Contract:   contract,
			Price:      price,
			Size:       size,
			Exchange:   65,
			Conditions: []int{0},
			Timestamp:  ts,
			Sequence:   seq,
		},
		Type:           tt,
		ExecutionLevel: flow.AtAsk,
		Priority:       2,
		Direction:      flow.Bullish,
		Urgency:        flow.Urgency{Score: 50, Level: "HIGH"},
	}
	ct.Premium = ct.RawTrade.Premium()
	return ct
}

const (
	day1 = int64(1765800000000) // 2025-12-15 UTC
	day2 = day1 + 24*60*60*1000
)

func TestInsertTradeIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ct := classified(t, "O:AMD251219C00155000", 9001, day1, 5.50, 120, flow.TypeSweep)
	inserted, err := s.InsertTrade(ctx, ct)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !inserted {
		t.Fatal("first insert reported as duplicate")
	}

	// Same (contract_symbol, sequence): dropped, aggregates untouched.
	inserted, err = s.InsertTrade(ctx, ct)
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if inserted {
		t.Fatal("duplicate insert reported as new")
	}

	got, err := s.RecentTrades(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("stored %d trades, want 1", len(got))
	}
	r := got[0]
	if r.Symbol != ct.Symbol || r.Sequence != ct.Sequence || r.Type != flow.TypeSweep {
		t.Errorf("round trip mismatch: %+v", r)
	}
	if r.Contract.Underlying != "AMD" || r.Contract.Side != occ.Call || r.Contract.Strike != 155 {
		t.Errorf("contract mismatch: %+v", r.Contract)
	}
	if len(r.Conditions) != 1 || r.Conditions[0] != 0 {
		t.Errorf("conditions mismatch: %v", r.Conditions)
	}

	stats, err := s.DailyStats(ctx, "2025-12-15")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalTrades != 1 || stats.SweepCount != 1 {
		t.Errorf("aggregates counted the duplicate: %+v", stats)
	}
}

func TestDailyAggregateConsistency(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Mixed calls and puts across types on one date.
	trades := []*flow.ClassifiedTrade{
		classified(t, "O:AMD251219C00155000", 1, day1, 5.50, 120, flow.TypeSweep),
		classified(t, "O:AMD251219C00160000", 2, day1+1000, 3.20, 50, flow.TypeFlow),
		classified(t, "O:SPY251219P00580000", 3, day1+2000, 8.25, 800, flow.TypeBlock),
		classified(t, "O:SPY251219P00575000", 4, day1+3000, 6.10, 30, flow.TypeFlow),
		classified(t, "O:NVDA251219C00200000", 5, day1+4000, 12.80, 600, flow.TypeSweep),
	}
	for _, ct := range trades {
		if _, err := s.InsertTrade(ctx, ct); err != nil {
			t.Fatalf("insert %s: %v", ct.Symbol, err)
		}
	}

	stats, err := s.DailyStats(ctx, "2025-12-15")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	if stats.TotalTrades != 5 {
		t.Errorf("total_trades = %d, want 5", stats.TotalTrades)
	}
	if stats.CallCount != 3 || stats.PutCount != 2 {
		t.Errorf("call/put counts = %d/%d, want 3/2", stats.CallCount, stats.PutCount)
	}
	if diff := math.Abs(stats.CallPremium + stats.PutPremium - stats.TotalPremium); diff > 0.01 {
		t.Errorf("call+put premium differs from total by %f", diff)
	}
	if stats.SweepCount != 2 || stats.BlockCount != 1 {
		t.Errorf("sweep/block counts = %d/%d, want 2/1", stats.SweepCount, stats.BlockCount)
	}
	if want := 3.0 / 2.0; stats.CallPutRatio != want {
		t.Errorf("call_put_ratio = %f, want %f", stats.CallPutRatio, want)
	}
	wantShare := (stats.SweepPremium + stats.BlockPremium) / stats.TotalPremium
	if stats.InstitutionalShare != wantShare {
		t.Errorf("institutional_share = %f, want %f", stats.InstitutionalShare, wantShare)
	}
	if n := stats.PriorityCounts[1]; n != 5 {
		t.Errorf("priority-2 count = %d, want 5", n)
	}
}

func TestDailyStatsEmptyDate(t *testing.T) {
	s := openTestStore(t)
	stats, err := s.DailyStats(context.Background(), "2025-01-01")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalTrades != 0 || stats.CallPutRatio != 0 {
		t.Errorf("empty date yielded %+v", stats)
	}
}

func TestPurgeKeepsCurrentDay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := classified(t, "O:AMD251219C00155000", 1, day1, 5.50, 120, flow.TypeSweep)
	cur := classified(t, "O:AMD251219C00155000", 2, day2, 5.60, 40, flow.TypeFlow)
	for _, ct := range []*flow.ClassifiedTrade{old, cur} {
		if _, err := s.InsertTrade(ctx, ct); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	n, err := s.Purge(ctx, "2025-12-16")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d rows, want 1", n)
	}

	left, err := s.RecentTrades(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(left) != 1 || left[0].Sequence != 2 {
		t.Fatalf("wrong survivor: %+v", left)
	}
	stats, err := s.DailyStats(ctx, "2025-12-15")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalTrades != 0 {
		t.Errorf("purged date still has aggregates: %+v", stats)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		ct := classified(t, "O:AMD251219C00155000", i, day1+i*1000, 5.50, 40, flow.TypeSweep)
		if _, err := s.InsertTrade(ctx, ct); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	trades, err := s.TradesForDate(ctx, "2025-12-15")
	if err != nil {
		t.Fatalf("trades for date: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("got %d trades for date, want 3", len(trades))
	}

	w := NewArchiveWriter(t.TempDir())
	path, err := w.WriteDay("2025-12-15", trades)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if path == "" {
		t.Fatal("archive path empty for non-empty day")
	}

	records, err := w.ReadDay("2025-12-15")
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("archive has %d records, want 3", len(records))
	}
	if records[0].Symbol != "O:AMD251219C00155000" || records[0].TradeType != "SWEEP" {
		t.Errorf("archive record mismatch: %+v", records[0])
	}

	// An empty day is a no-op.
	if path, err := w.WriteDay("2025-12-16", nil); err != nil || path != "" {
		t.Errorf("empty day: path=%q err=%v", path, err)
	}
}
