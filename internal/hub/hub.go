// Package hub fans classified trades out to WebSocket subscribers. Delivery
// is at-most-once per subscriber: a full outbox drops the event for that
// subscriber only, never the connection and never the producer.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"flowscope/internal/metrics"
)

const (
	// sendBuffer is each subscriber's outbox depth.
	sendBuffer = 256
	// broadcastBuffer absorbs publish bursts ahead of the fan-out loop.
	broadcastBuffer = 1024

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

// Client is one WebSocket subscriber. The hub tracks nothing about it beyond
// its connection id and outbox.
type Client struct {
	id   int64
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub manages the subscriber set and the fan-out loop.
type Hub struct {
	log      *slog.Logger
	counters *metrics.Counters
	upgrader websocket.Upgrader

	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	nextID atomic.Int64
	count  atomic.Int64
}

// NewHub creates a hub. An empty allowedOrigin accepts any origin.
func NewHub(allowedOrigin string, counters *metrics.Counters, log *slog.Logger) *Hub {
	return &Hub{
		log:      log,
		counters: counters,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" {
					return true
				}
				return r.Header.Get("Origin") == allowedOrigin
			},
		},
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, broadcastBuffer),
	}
}

// SubscriberCount returns the current number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	return int(h.count.Load())
}

// Publish marshals the event and offers it to the fan-out loop without
// blocking. An overloaded hub sheds the event.
func (h *Hub) Publish(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("encoding broadcast event", "err", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.counters.HubDropped.Add(1)
	}
}

// Run is the hub's event loop. It returns after ctx is cancelled, closing
// every subscriber.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.count.Store(0)
			return ctx.Err()
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			h.log.Info("subscriber connected", "conn", c.id, "subscribers", len(h.clients))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.count.Store(int64(len(h.clients)))
				h.log.Info("subscriber disconnected", "conn", c.id, "subscribers", len(h.clients))
			}
		case data := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- data:
					h.counters.HubPublished.Add(1)
				default:
					h.counters.HubDropped.Add(1)
				}
			}
		}
	}
}

// ServeHTTP upgrades the connection and runs the subscriber pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &Client{
		id:   h.nextID.Add(1),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

// readPump discards inbound frames and unregisters on close.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains the outbox to the socket and keeps the connection alive
// with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
