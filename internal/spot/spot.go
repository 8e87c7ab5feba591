// Package spot caches last daily closes for the static-tier underlyings so
// classified trades can carry a moneyness annotation. The cache is advisory:
// a cold or unconfigured cache just means trades publish without spot fields.
package spot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"flowscope/internal/occ"
	"flowscope/internal/util"
)

// barFetcher is the slice of the market-data client the cache needs.
type barFetcher interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// Cache holds last known closes per underlying ticker.
type Cache struct {
	client  barFetcher
	tickers []string
	refresh time.Duration
	log     *slog.Logger

	mu     sync.RWMutex
	closes map[string]float64
}

// NewCache builds a cache for the given underlyings. Empty credentials
// return a disabled cache whose Last always misses.
func NewCache(apiKey, apiSecret, dataURL string, tickers []string, refresh time.Duration, log *slog.Logger) *Cache {
	c := &Cache{
		tickers: tickers,
		refresh: refresh,
		log:     log,
		closes:  make(map[string]float64),
	}
	if apiKey == "" || apiSecret == "" || len(tickers) == 0 {
		return c
	}
	opts := marketdata.ClientOpts{APIKey: apiKey, APISecret: apiSecret}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	c.client = marketdata.NewClient(opts)
	return c
}

// Enabled reports whether the cache has a market-data client.
func (c *Cache) Enabled() bool { return c.client != nil }

// Last returns the cached close for an underlying ticker.
func (c *Cache) Last(ticker string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	px, ok := c.closes[strings.ToUpper(ticker)]
	return px, ok
}

// Closes returns a copy of every cached close by ticker.
func (c *Cache) Closes() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.closes))
	for k, v := range c.closes {
		out[k] = v
	}
	return out
}

// PercentOTM returns how far out of the money a contract is against the
// cached spot, as a signed fraction. Positive is out of the money. The bool
// is false when no spot is cached for the underlying.
func (c *Cache) PercentOTM(contract occ.Contract) (spot, pct float64, ok bool) {
	spot, ok = c.Last(contract.Underlying)
	if !ok || spot <= 0 {
		return 0, 0, false
	}
	if contract.Side == occ.Put {
		pct = (spot - contract.Strike) / spot
	} else {
		pct = (contract.Strike - spot) / spot
	}
	return spot, pct, true
}

// Refresh fetches the latest daily closes for every configured ticker.
func (c *Cache) Refresh(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	end := time.Now()
	bars, err := c.client.GetMultiBars(c.tickers, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     end.AddDate(0, 0, -7),
		End:       end,
		Feed:      "iex",
	})
	if err != nil {
		return fmt.Errorf("GetMultiBars: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for symbol, dailyBars := range bars {
		if len(dailyBars) == 0 {
			continue
		}
		c.closes[strings.ToUpper(symbol)] = dailyBars[len(dailyBars)-1].Close
	}
	c.log.Debug("spot cache refreshed", "tickers", len(c.closes))
	return nil
}

// Run refreshes immediately and then on the configured interval until ctx
// is cancelled. A disabled cache returns right away.
func (c *Cache) Run(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	err := util.Retry(ctx, 3, time.Second, 10*time.Second, func() error { return c.Refresh(ctx) })
	if err != nil {
		c.log.Warn("initial spot refresh failed", "err", err)
	}

	ticker := time.NewTicker(c.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.log.Warn("spot refresh failed", "err", err)
			}
		}
	}
}
