package occ

import (
	"errors"
	"testing"
	"time"
)

func TestParseValid(t *testing.T) {
	cases := []struct {
		symbol     string
		underlying string
		expiry     string
		side       Side
		strike     float64
	}{
		{"O:AMD251219C00155000", "AMD", "2025-12-19", Call, 155},
		{"O:SPY251115P00580000", "SPY", "2025-11-15", Put, 580},
		{"O:NVDA251122C00145000", "NVDA", "2025-11-22", Call, 145},
		{"O:F260116C00012500", "F", "2026-01-16", Call, 12.5},
		{"O:BRKB250620P00400000", "BRKB", "2025-06-20", Put, 400},
		// Seven-digit date form.
		{"O:SPX1251219C05800000", "SPX", "2125-12-19", Call, 5800},
	}

	for _, tc := range cases {
		c, err := Parse(tc.symbol)
		if err != nil {
			t.Errorf("Parse(%q) error: %v", tc.symbol, err)
			continue
		}
		if c.Underlying != tc.underlying {
			t.Errorf("Parse(%q).Underlying = %q, want %q", tc.symbol, c.Underlying, tc.underlying)
		}
		if got := c.Expiry.Format("2006-01-02"); got != tc.expiry {
			t.Errorf("Parse(%q).Expiry = %s, want %s", tc.symbol, got, tc.expiry)
		}
		if c.Side != tc.side {
			t.Errorf("Parse(%q).Side = %q, want %q", tc.symbol, c.Side, tc.side)
		}
		if c.Strike != tc.strike {
			t.Errorf("Parse(%q).Strike = %v, want %v", tc.symbol, c.Strike, tc.strike)
		}
	}
}

func TestParseMalformed(t *testing.T) {
	bad := []string{
		"",
		"AMD251219C00155000",     // no O: prefix
		"O:251219C00155000",      // no ticker
		"O:AMD25121C00155000",    // five-digit date
		"O:AMD251219X00155000",   // bad side letter
		"O:AMD251219C0015500",    // seven-digit strike
		"O:AMD251219C00000000",   // zero strike
		"O:AMD251319C00155000",   // month 13
		"O:AMD25121900155000",    // missing side
		"O:amd251219C00155000",   // lowercase ticker
		"O:AMD2512x9C00155000",   // non-digit in date
	}
	for _, s := range bad {
		if _, err := Parse(s); !errors.Is(err, ErrMalformedSymbol) {
			t.Errorf("Parse(%q) = %v, want ErrMalformedSymbol", s, err)
		}
	}
}

// Round-trip: encoding then parsing yields the original tuple for strikes
// that are multiples of $0.001.
func TestSymbolRoundTrip(t *testing.T) {
	tickers := []string{"A", "GM", "AMD", "NVDA", "GOOGL"}
	strikes := []float64{0.5, 12.5, 155, 580, 99999.999}
	sides := []Side{Call, Put}
	expiry := time.Date(2025, 12, 19, 0, 0, 0, 0, time.UTC)

	for _, tk := range tickers {
		for _, st := range strikes {
			for _, sd := range sides {
				orig := Contract{Underlying: tk, Expiry: expiry, Side: sd, Strike: st}
				parsed, err := Parse(orig.Symbol())
				if err != nil {
					t.Fatalf("Parse(%q): %v", orig.Symbol(), err)
				}
				if parsed != orig {
					t.Errorf("round trip %q: got %+v, want %+v", orig.Symbol(), parsed, orig)
				}
			}
		}
	}
}

func TestDTE(t *testing.T) {
	c := Contract{Expiry: time.Date(2025, 12, 19, 0, 0, 0, 0, time.UTC)}
	now := time.Date(2025, 12, 9, 15, 30, 0, 0, time.UTC)
	if got := c.DTE(now); got != 10 {
		t.Errorf("DTE = %d, want 10", got)
	}
	past := time.Date(2025, 12, 25, 0, 0, 0, 0, time.UTC)
	if got := c.DTE(past); got != -6 {
		t.Errorf("DTE after expiry = %d, want -6", got)
	}
}

func BenchmarkParse(b *testing.B) {
	for i := 0; i < b.N; i++ {
		if _, err := Parse("O:NVDA251122C00145000"); err != nil {
			b.Fatal(err)
		}
	}
}
