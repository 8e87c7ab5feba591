// Package supervisor wires the quote cache, aggregation pipeline, ingestion
// farm, store, and broadcast hub together and owns the process lifecycle.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"flowscope/internal/config"
	"flowscope/internal/flow"
	"flowscope/internal/httpapi"
	"flowscope/internal/hub"
	"flowscope/internal/ingest"
	"flowscope/internal/metrics"
	"flowscope/internal/quote"
	"flowscope/internal/spot"
	"flowscope/internal/store"
)

// Supervisor owns every subsystem and runs them under one errgroup. Loss of
// the upstream feed degrades the health status; only credential rejection or
// an unusable store terminates the process.
type Supervisor struct {
	cfg      *config.Config
	log      *slog.Logger
	counters *metrics.Counters
	loc      *time.Location

	store   *store.SQLiteStore
	archive *store.ArchiveWriter
	hub     *hub.Hub
	quotes  *quote.Cache
	spots   *spot.Cache
	pipe    *pipeline
	farm    *ingest.Farm
	api     *httpapi.Server

	connected atomic.Bool
}

// New builds and wires all subsystems. An unreachable store is a fatal
// configuration error.
func New(cfg *config.Config, log *slog.Logger) (*Supervisor, error) {
	loc, err := time.LoadLocation(cfg.Storage.RolloverTimezone)
	if err != nil {
		return nil, fmt.Errorf("loading rollover timezone: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath, loc)
	if err != nil {
		return nil, fmt.Errorf("opening trade store: %w", err)
	}

	counters := &metrics.Counters{}
	h := hub.NewHub(cfg.Server.FrontendOrigin, counters, log)
	quotes := quote.NewCache(0)
	spots := spot.NewCache(
		cfg.Spot.APIKey, cfg.Spot.APISecret, cfg.Spot.DataURL,
		cfg.Farm.StaticTierTickers,
		time.Duration(cfg.Spot.RefreshMin)*time.Minute, log,
	)

	pipe := newPipeline(flow.AggregatorConfig{
		SweepWindow:       time.Duration(cfg.Sweep.WindowMS) * time.Millisecond,
		SweepPriceDelta:   cfg.Sweep.PriceDelta,
		SweepMinTotal:     cfg.Sweep.MinTotal,
		SweepMinExchanges: cfg.Sweep.MinExchanges,
		BlockMinSize:      cfg.Block.MinSize,
		BlockIsolation:    time.Duration(cfg.Block.IsolationMS) * time.Millisecond,
		BlockConditions:   cfg.Block.Conditions,
		DarkVenues:        cfg.Block.DarkVenues,
	}, quotes, spots, counters)

	farm := ingest.New(ingest.Config{
		SocketURL:        cfg.Upstream.SocketURL,
		APIKey:           cfg.Upstream.APIKey,
		SessionsTotal:    cfg.Farm.SessionsTotal,
		SessionsStatic:   cfg.Farm.SessionsStatic,
		QuotesPerSession: cfg.Farm.QuotesPerSession,
		StaticTickers:    cfg.Farm.StaticTierTickers,
		ReconnectCap:     cfg.ReconnectInterval(),
		MaxReconnects:    cfg.Farm.MaxReconnects,
		AuthGrace:        cfg.AuthGrace(),
	}, ingest.Handlers{
		OnTrade: pipe.Submit,
		OnQuote: quotes.Store,
	}, counters, log)

	s := &Supervisor{
		cfg:      cfg,
		log:      log,
		counters: counters,
		loc:      loc,
		store:    st,
		hub:      h,
		quotes:   quotes,
		spots:    spots,
		pipe:     pipe,
		farm:     farm,
	}
	if cfg.Storage.ArchiveDir != "" {
		s.archive = store.NewArchiveWriter(cfg.Storage.ArchiveDir)
	}
	s.connected.Store(true)

	s.api = httpapi.NewServer(st, h, counters, loc, cfg.Server.FrontendOrigin, log)
	s.api.Connected = s.connected.Load
	s.api.Sessions = farm.SessionStates
	s.api.Spots = spots.Closes

	return s, nil
}

// Run starts every subsystem and blocks until ctx is cancelled or a fatal
// error occurs. In-flight trades are drained and pending inserts completed
// before it returns.
func (s *Supervisor) Run(ctx context.Context) error {
	s.log.Info("starting",
		"sessions", s.cfg.Farm.SessionsTotal,
		"static_sessions", s.cfg.Farm.SessionsStatic,
		"quotes_per_session", s.cfg.Farm.QuotesPerSession,
		"listen", fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCancel(s.hub.Run(gctx)) })
	g.Go(func() error { return ignoreCancel(s.spots.Run(gctx)) })

	g.Go(func() error {
		err := s.farm.Run(gctx)
		s.connected.Store(false)
		if gctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ingest.ErrAuthRejected) {
			return err
		}
		// Out of reconnect budget: keep serving the API and the stored
		// history, report degraded health.
		s.log.Error("ingestion stopped", "err", err)
		return nil
	})

	g.Go(func() error { return s.pipe.Run(gctx) })
	g.Go(func() error { s.runSink(); return nil })

	g.Go(func() error { return s.serveHTTP(gctx) })
	g.Go(func() error { s.runRebalance(gctx); return nil })
	g.Go(func() error { s.runRollover(gctx); return nil })
	g.Go(func() error { s.runStatsLog(gctx); return nil })

	err := g.Wait()
	if cerr := s.store.Close(); cerr != nil {
		s.log.Warn("closing store", "err", cerr)
	}
	return err
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runSink consumes classified trades until the pipeline closes its output.
// It deliberately takes no context: shutdown reaches it as channel closure,
// after the pipeline has drained, so pending inserts always complete.
func (s *Supervisor) runSink() {
	for ct := range s.pipe.Out() {
		s.hub.Publish(ct)

		if ct.Premium < s.cfg.Storage.StoreThreshold {
			continue
		}
		inserted, err := s.store.InsertTrade(context.Background(), &ct)
		if err != nil {
			s.counters.StoreErrors.Add(1)
			s.log.Warn("storing trade", "symbol", ct.Symbol, "err", err)
			continue
		}
		if inserted {
			s.counters.StoredTrades.Add(1)
		}
	}
}

func (s *Supervisor) serveHTTP(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler: s.api.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// runRebalance redistributes quote subscriptions on the configured interval.
// The first run is deliberately one interval after startup so the volume
// table has data. Each tick carries a deadline so runs cannot overlap.
func (s *Supervisor) runRebalance(ctx context.Context) {
	interval := s.cfg.RebalanceInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, interval)
			s.farm.Rebalance(tickCtx)
			cancel()
		}
	}
}

// runRollover archives and purges expired days at the configured local hour.
func (s *Supervisor) runRollover(ctx context.Context) {
	for {
		next := nextRollover(time.Now().In(s.loc), s.cfg.Storage.RolloverHourLocal)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			s.rollover(ctx)
		}
	}
}

// nextRollover returns the next occurrence of the rollover hour after now.
func nextRollover(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s *Supervisor) rollover(ctx context.Context) {
	today := time.Now().In(s.loc).Format("2006-01-02")

	dates, err := s.store.DatesBefore(ctx, today)
	if err != nil {
		s.log.Error("listing expired dates", "err", err)
		return
	}

	// A day that fails to archive stays in the store; the purge cutoff
	// stops at the first failure so it is retried at the next rollover.
	cutoff := today
	if s.archive != nil {
		for _, date := range dates {
			if err := s.archiveDay(ctx, date); err != nil {
				s.log.Error("archiving expired trades", "date", date, "err", err)
				cutoff = date
				break
			}
		}
	}

	n, err := s.store.Purge(ctx, cutoff)
	if err != nil {
		s.log.Error("purging expired trades", "err", err)
		return
	}
	s.log.Info("purged expired trades", "before", cutoff, "rows", n, "dates", len(dates))
}

func (s *Supervisor) archiveDay(ctx context.Context, date string) error {
	trades, err := s.store.TradesForDate(ctx, date)
	if err != nil {
		return fmt.Errorf("loading trades: %w", err)
	}
	path, err := s.archive.WriteDay(date, trades)
	if err != nil {
		return err
	}
	if path != "" {
		s.log.Info("archived trades", "date", date, "rows", len(trades), "path", path)
	}
	return nil
}

// runStatsLog periodically reports the counter snapshot.
func (s *Supervisor) runStatsLog(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.counters.Snapshot()
			s.log.Info("pipeline stats",
				"trades", snap.TradesSeen,
				"quotes", snap.QuotesSeen,
				"sweeps", snap.Sweeps,
				"blocks", snap.Blocks,
				"stored", snap.StoredTrades,
				"dedup_dropped", snap.DedupDropped,
				"malformed", snap.Malformed,
				"hub_dropped", snap.HubDropped,
				"subscribers", s.hub.SubscriberCount(),
				"connected", s.connected.Load(),
			)
		}
	}
}
