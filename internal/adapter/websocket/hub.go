// Package websocket pushes accepted anomalies to connected proctor dashboards.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sudarshansudarshan/cal-sub001/internal/adapter/metrics"
	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxInbound     = 512
	sendBufferSize = 16
)

// Message is the envelope of every frame sent on the feed.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks dashboard connections and fans messages out to them. A client
// that cannot keep up is disconnected rather than allowed to stall the rest.
type Hub struct {
	upgrader  websocket.Upgrader
	wsMetrics *metrics.WebSocketMetrics
	limits    *ConnectionLimits

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a feed hub. limits may be nil for no connection limits.
func NewHub(checkOrigin func(r *http.Request) bool, wsMetrics *metrics.WebSocketMetrics, limits *ConnectionLimits) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		wsMetrics: wsMetrics,
		limits:    limits,
		clients:   make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the feed until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.limits != nil {
		ip := remoteIP(r)
		if ok, reason := h.limits.Acquire(ip); !ok {
			if h.wsMetrics != nil {
				h.wsMetrics.ConnectionsRejected.WithLabelValues(string(reason)).Inc()
			}
			slog.Warn("Dashboard connection rejected", "remote_addr", r.RemoteAddr, "reason", reason)
			w.Header().Set("Retry-After", "5")
			http.Error(w, string(reason), http.StatusTooManyRequests)
			return
		}
		defer h.limits.Release(ip)
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		slog.Debug("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if h.wsMetrics != nil {
		h.wsMetrics.ActiveConnections.Inc()
	}
	slog.Debug("Dashboard connected", "remote_addr", c.conn.RemoteAddr().String(), "clients", len(h.clients))
	return true
}

// unregister closes c's send channel exactly once.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	if h.wsMetrics != nil {
		h.wsMetrics.ActiveConnections.Dec()
	}
	slog.Debug("Dashboard disconnected", "clients", len(h.clients))
}

// readPump only services control frames; dashboards never send data.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInbound)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast sends one message to every connected dashboard.
func (h *Hub) Broadcast(msgType string, data any) error {
	payload, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msgType, err)
	}

	h.mu.Lock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		slog.Warn("Dashboard too slow, disconnecting", "remote_addr", c.conn.RemoteAddr().String())
		h.unregister(c)
	}
	if h.wsMetrics != nil {
		h.wsMetrics.MessagesPublished.Inc()
	}
	return nil
}

func (h *Hub) Name() string { return "websocket" }

// OnAnomalyAccepted makes the hub a domain.Reporter.
func (h *Hub) OnAnomalyAccepted(_ context.Context, snap domain.Snapshot) error {
	return h.Broadcast("anomaly", snap)
}

// Clients returns the number of connected dashboards.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every dashboard and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
}
