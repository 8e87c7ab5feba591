// Package occ parses OCC-style option contract symbols of the form
// O:<TICKER><YYMMDD><C|P><STRIKE8>, as carried on the vendor options feed.
package occ

import (
	"errors"
	"fmt"
	"time"
)

// Side is the option side of a contract.
type Side string

const (
	Call Side = "CALL"
	Put  Side = "PUT"
)

// ErrMalformedSymbol is returned when a symbol does not match the expected
// O:<TICKER><YYMMDD|YYYMMDD><C|P><STRIKE8> layout.
var ErrMalformedSymbol = errors.New("malformed option symbol")

// Contract is the immutable identity decoded from an option symbol.
type Contract struct {
	Underlying string
	Expiry     time.Time // midnight UTC on the expiration date
	Side       Side
	Strike     float64
}

// DTE returns whole days from now (UTC date) to expiration. Expired
// contracts yield negative values.
func (c Contract) DTE(now time.Time) int {
	nowDate := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 0, 0, 0, 0, time.UTC)
	return int(c.Expiry.Sub(nowDate) / (24 * time.Hour))
}

// Symbol encodes the contract back into its canonical vendor symbol with a
// six-digit date.
func (c Contract) Symbol() string {
	side := byte('C')
	if c.Side == Put {
		side = 'P'
	}
	return fmt.Sprintf("O:%s%02d%02d%02d%c%08d",
		c.Underlying,
		c.Expiry.Year()%100, int(c.Expiry.Month()), c.Expiry.Day(),
		side,
		int64(c.Strike*1000+0.5),
	)
}

// Parse decodes a vendor option symbol. It runs on every trade, so the hot
// path avoids regexp and allocates only the underlying substring.
func Parse(symbol string) (Contract, error) {
	// Minimum: "O:" + 1 ticker char + 6 date digits + side + 8 strike digits.
	if len(symbol) < 2+1+6+1+8 || symbol[0] != 'O' || symbol[1] != ':' {
		return Contract{}, fmt.Errorf("%w: %q", ErrMalformedSymbol, symbol)
	}

	// The ticker is alphabetic and runs until the first digit.
	i := 2
	for i < len(symbol) && symbol[i] >= 'A' && symbol[i] <= 'Z' {
		i++
	}
	if i == 2 {
		return Contract{}, fmt.Errorf("%w: missing ticker in %q", ErrMalformedSymbol, symbol)
	}

	sideIdx := len(symbol) - 9
	if sideIdx < i {
		return Contract{}, fmt.Errorf("%w: %q", ErrMalformedSymbol, symbol)
	}
	var side Side
	switch symbol[sideIdx] {
	case 'C':
		side = Call
	case 'P':
		side = Put
	default:
		return Contract{}, fmt.Errorf("%w: bad side in %q", ErrMalformedSymbol, symbol)
	}

	dateDigits := symbol[i:sideIdx]
	if len(dateDigits) != 6 && len(dateDigits) != 7 {
		return Contract{}, fmt.Errorf("%w: bad date in %q", ErrMalformedSymbol, symbol)
	}
	dateVal, ok := atoui(dateDigits)
	if !ok {
		return Contract{}, fmt.Errorf("%w: bad date in %q", ErrMalformedSymbol, symbol)
	}
	day := int(dateVal % 100)
	month := int(dateVal / 100 % 100)
	year := 2000 + int(dateVal/10_000)
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return Contract{}, fmt.Errorf("%w: bad date in %q", ErrMalformedSymbol, symbol)
	}

	strikeVal, ok := atoui(symbol[len(symbol)-8:])
	if !ok || strikeVal == 0 {
		return Contract{}, fmt.Errorf("%w: bad strike in %q", ErrMalformedSymbol, symbol)
	}

	return Contract{
		Underlying: symbol[2:i],
		Expiry:     time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC),
		Side:       side,
		Strike:     float64(strikeVal) / 1000,
	}, nil
}

// atoui parses an unsigned decimal string without allocating. Returns false
// on any non-digit byte or empty input.
func atoui(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	var n uint64
	for j := 0; j < len(s); j++ {
		c := s[j]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + uint64(c-'0')
	}
	return n, true
}
