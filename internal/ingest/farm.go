package ingest

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"flowscope/internal/flow"
	"flowscope/internal/metrics"
	"flowscope/internal/occ"
)

// dedupMax bounds the (symbol, sequence) dedup set before a bulk clear.
const dedupMax = 100_000

// eventQueueSize buffers decoded messages between the session readers and
// the dispatcher.
const eventQueueSize = 4096

// Config holds the farm tunables.
type Config struct {
	SocketURL        string
	APIKey           string
	SessionsTotal    int
	SessionsStatic   int
	QuotesPerSession int
	StaticTickers    []string
	ReconnectCap     time.Duration
	MaxReconnects    int
	AuthGrace        time.Duration
}

// Handlers receive normalized events from the dispatcher. Both are invoked
// from a single goroutine, in per-session arrival order.
type Handlers struct {
	OnTrade func(flow.RawTrade)
	OnQuote func(symbol string, q flow.Quote)
}

// Farm owns the upstream WebSocket sessions and the single dispatcher that
// normalizes, dedups, and fans events out to the handlers. Session 0 carries
// the global trade firehose; quote channels are spread over all sessions by
// the rebalancer.
type Farm struct {
	cfg      Config
	handlers Handlers
	log      *slog.Logger
	counters *metrics.Counters

	sessions []*session
	events   chan envelope
	dedup    *dedupSet
	volume   *volumeTable
}

// New builds a farm. Run must be called before Rebalance.
func New(cfg Config, handlers Handlers, counters *metrics.Counters, log *slog.Logger) *Farm {
	f := &Farm{
		cfg:      cfg,
		handlers: handlers,
		log:      log,
		counters: counters,
		events:   make(chan envelope, eventQueueSize),
		dedup:    newDedupSet(dedupMax),
		volume:   newVolumeTable(),
	}
	for i := 0; i < cfg.SessionsTotal; i++ {
		f.sessions = append(f.sessions, newSession(
			i, cfg.SocketURL, cfg.APIKey,
			cfg.AuthGrace, cfg.ReconnectCap, cfg.MaxReconnects,
			f.events, counters, log,
		))
	}
	return f
}

// Run opens all sessions, waits for the authentication barrier, pins the
// trade firehose on session 0, and dispatches events until ctx is cancelled
// or a session exhausts its reconnect budget.
func (f *Farm) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, s := range f.sessions {
		g.Go(func() error { return s.Run(ctx) })
	}
	g.Go(func() error { return f.dispatch(ctx) })
	g.Go(func() error {
		for _, s := range f.sessions {
			select {
			case <-s.Authenticated():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		f.log.Info("all sessions authenticated", "sessions", len(f.sessions))
		return f.sessions[0].Pin("T.*")
	})

	return g.Wait()
}

// Rebalance snapshots the volume table, plans the quote channel partition,
// and applies the per-session set differences. Session errors are logged
// and skipped; the session restores its set on reconnect.
func (f *Farm) Rebalance(ctx context.Context) {
	f.counters.RebalanceTicks.Add(1)

	snap := f.volume.Snapshot()
	plan := PlanSubscriptions(snap, f.cfg.StaticTickers,
		f.cfg.SessionsTotal, f.cfg.SessionsStatic, f.cfg.QuotesPerSession)

	total := 0
	for i, s := range f.sessions {
		if ctx.Err() != nil {
			return
		}
		if err := s.SetSubscriptions(plan[i]); err != nil {
			f.log.Warn("rebalance apply failed", "session", i, "err", err)
			continue
		}
		total += len(plan[i])
	}
	f.log.Info("rebalanced quote subscriptions",
		"contracts", len(snap), "subscribed", total)
}

// SessionState describes one upstream session for the health endpoint.
type SessionState struct {
	ID            int  `json:"id"`
	Connected     bool `json:"connected"`
	Authenticated bool `json:"authenticated"`
	Pinned        int  `json:"pinned"`
	Subscriptions int  `json:"subscriptions"`
}

// SessionStates snapshots every session.
func (f *Farm) SessionStates() []SessionState {
	out := make([]SessionState, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s.State())
	}
	return out
}

// dispatch is the single consumer of the event queue. It owns the dedup set
// and the volume table.
func (f *Farm) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-f.events:
			switch env.msg.Ev {
			case "T":
				f.handleTrade(env.msg)
			case "Q":
				f.handleQuote(env.msg)
			}
		}
	}
}

func (f *Farm) handleTrade(m wireMessage) {
	f.counters.TradesSeen.Add(1)

	// Invalid numeric fields are dropped here so they never reach the
	// volume table, the pipeline, or subscribers.
	if m.Price <= 0 || m.Size <= 0 {
		f.counters.Malformed.Add(1)
		return
	}
	if f.dedup.Seen(m.Sym, m.Sequence) {
		f.counters.DedupDropped.Add(1)
		return
	}
	contract, err := occ.Parse(m.Sym)
	if err != nil {
		f.counters.Malformed.Add(1)
		return
	}
	f.volume.Add(m.Sym, m.Size)

	t := flow.RawTrade{
		Symbol:     m.Sym,
		Contract:   contract,
		Price:      m.Price,
		Size:       m.Size,
		Exchange:   m.Exchange,
		Conditions: m.Conditions,
		Timestamp:  m.Timestamp / int64(time.Millisecond), // feed sends ns
		Sequence:   m.Sequence,
	}
	if f.handlers.OnTrade != nil {
		f.handlers.OnTrade(t)
	}
}

func (f *Farm) handleQuote(m wireMessage) {
	f.counters.QuotesSeen.Add(1)

	q := flow.Quote{
		Bid:       m.Bid,
		Ask:       m.Ask,
		BidSize:   m.BidSize,
		AskSize:   m.AskSize,
		Timestamp: m.Timestamp / int64(time.Millisecond),
	}
	if f.handlers.OnQuote != nil {
		f.handlers.OnQuote(m.Sym, q)
	}
}
