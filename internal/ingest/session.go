package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"flowscope/internal/metrics"
)

// ErrAuthRejected reports a permanent credential failure from the vendor.
// Reconnecting cannot fix it, so the session gives up immediately.
var ErrAuthRejected = errors.New("upstream auth rejected")

// subscribeBatch is the max number of channels packed into one control frame.
const subscribeBatch = 100

// reconnectBase is the first reconnect delay; it doubles per attempt up to
// the configured cap.
const reconnectBase = 500 * time.Millisecond

// envelope carries one decoded feed message from a session reader to the
// farm's dispatcher.
type envelope struct {
	session int
	msg     wireMessage
}

// session is one upstream WebSocket connection. The reader goroutine owns
// conn reads; control writes (auth, subscribe) are serialized by mu so the
// rebalancer and the reconnect path never interleave frames.
type session struct {
	id       int
	url      string
	key      string
	grace    time.Duration
	cap      time.Duration
	maxTries int
	out      chan<- envelope
	log      *slog.Logger
	counters *metrics.Counters

	authOnce sync.Once
	authed   chan struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	pinned map[string]struct{} // survives rebalance, e.g. the trade firehose
	subs   map[string]struct{} // rewritten by each rebalance
}

func newSession(id int, url, key string, grace, backoffCap time.Duration, maxTries int, out chan<- envelope, counters *metrics.Counters, log *slog.Logger) *session {
	return &session{
		id:       id,
		url:      url,
		key:      key,
		grace:    grace,
		cap:      backoffCap,
		maxTries: maxTries,
		out:      out,
		log:      log.With("session", id),
		counters: counters,
		authed:   make(chan struct{}),
		pinned:   make(map[string]struct{}),
		subs:     make(map[string]struct{}),
	}
}

// Authenticated is closed once the session has survived its auth grace
// window on the first connection.
func (s *session) Authenticated() <-chan struct{} { return s.authed }

func (s *session) markAuthed() {
	s.authOnce.Do(func() { close(s.authed) })
}

// Run dials, authenticates, and pumps frames until ctx is cancelled,
// reconnecting with doubling backoff. Attempts reset whenever a connection
// survives the auth grace window.
func (s *session) Run(ctx context.Context) error {
	attempts := 0
	delay := reconnectBase

	for {
		ok, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrAuthRejected) {
			return err
		}
		if ok {
			attempts = 0
			delay = reconnectBase
		}

		attempts++
		if attempts > s.maxTries {
			return fmt.Errorf("session %d: giving up after %d attempts: %w", s.id, attempts-1, err)
		}
		s.counters.Reconnects.Add(1)
		s.log.Warn("session closed, reconnecting",
			"attempt", attempts, "delay", delay, "err", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > s.cap {
			delay = s.cap
		}
	}
}

// runOnce runs a single connection to failure. The bool reports whether the
// connection authenticated, which resets the caller's attempt budget.
func (s *session) runOnce(ctx context.Context) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.mu.Lock()
	s.conn = conn
	err = conn.WriteJSON(clientFrame{Action: "auth", Params: s.key})
	if err == nil {
		err = s.writeChannelsLocked("subscribe", s.channelsLocked())
	}
	s.mu.Unlock()
	if err != nil {
		s.detach()
		return false, fmt.Errorf("session %d handshake: %w", s.id, err)
	}

	// The vendor acks auth with a status frame, but silence within the grace
	// window also counts as authenticated.
	authTimer := time.AfterFunc(s.grace, s.markAuthed)
	defer authTimer.Stop()
	survived := false
	graceDeadline := time.Now().Add(s.grace)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.detach()
			return survived, err
		}
		if !survived && time.Now().After(graceDeadline) {
			survived = true
		}

		var msgs []wireMessage
		if err := json.Unmarshal(data, &msgs); err != nil {
			s.counters.Malformed.Add(1)
			continue
		}
		for _, m := range msgs {
			if m.Ev == "status" {
				if strings.Contains(m.Status, "auth_failed") {
					s.detach()
					return false, fmt.Errorf("session %d: %w: %s", s.id, ErrAuthRejected, m.Message)
				}
				if strings.Contains(m.Status, "auth_success") {
					survived = true
				}
				continue
			}
			select {
			case s.out <- envelope{session: s.id, msg: m}:
			case <-ctx.Done():
				s.detach()
				return survived, ctx.Err()
			}
		}
	}
}

func (s *session) detach() {
	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()
}

// Pin subscribes a channel that survives rebalances, such as the global
// trade firehose on session 0.
func (s *session) Pin(channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pinned[channel]; ok {
		return nil
	}
	s.pinned[channel] = struct{}{}
	return s.writeChannelsLocked("subscribe", []string{channel})
}

// SetSubscriptions rewrites the rebalanced channel set, sending only the
// difference against the current set. Pinned channels are untouched. When
// the session is between connections the desired set is recorded and
// restored by the next handshake.
func (s *session) SetSubscriptions(channels []string) error {
	want := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		want[ch] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var add, del []string
	for ch := range want {
		if _, ok := s.subs[ch]; !ok {
			add = append(add, ch)
		}
	}
	for ch := range s.subs {
		if _, ok := want[ch]; !ok {
			del = append(del, ch)
		}
	}
	s.subs = want

	if err := s.writeChannelsLocked("unsubscribe", del); err != nil {
		return err
	}
	return s.writeChannelsLocked("subscribe", add)
}

// SubscriptionCount returns the number of rebalanced channels.
func (s *session) SubscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// State snapshots the session for health reporting.
func (s *session) State() SessionState {
	authed := false
	select {
	case <-s.authed:
		authed = true
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionState{
		ID:            s.id,
		Connected:     s.conn != nil,
		Authenticated: authed,
		Pinned:        len(s.pinned),
		Subscriptions: len(s.subs),
	}
}

func (s *session) channelsLocked() []string {
	all := make([]string, 0, len(s.pinned)+len(s.subs))
	for ch := range s.pinned {
		all = append(all, ch)
	}
	for ch := range s.subs {
		all = append(all, ch)
	}
	return all
}

// writeChannelsLocked sends subscribe or unsubscribe frames in batches.
// Callers hold mu. A nil conn is not an error: the set is applied on the
// next handshake instead.
func (s *session) writeChannelsLocked(action string, channels []string) error {
	if s.conn == nil || len(channels) == 0 {
		return nil
	}
	for start := 0; start < len(channels); start += subscribeBatch {
		end := start + subscribeBatch
		if end > len(channels) {
			end = len(channels)
		}
		frame := clientFrame{Action: action, Params: strings.Join(channels[start:end], ",")}
		if err := s.conn.WriteJSON(frame); err != nil {
			return fmt.Errorf("session %d %s: %w", s.id, action, err)
		}
	}
	return nil
}
