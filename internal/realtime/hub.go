// Package realtime carries generation events over websockets. Hub is the
// server side mounted at /socket; Client is the reconnecting client side.
package realtime

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kiranshivaraju/cadence/internal/generation"
)

var (
	ErrDisconnected     = errors.New("realtime channel is disconnected")
	ErrConnectionClosed = errors.New("connection closed")
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 10
)

// Starter is the part of the job registry the hub drives.
type Starter interface {
	Start(owner, id, prompt string, sink generation.Sink) error
	CancelOwner(owner string) int
}

// Hub upgrades HTTP requests and runs one conn per client.
type Hub struct {
	starter    Starter
	upgrader   websocket.Upgrader
	sendBuffer int
	origins    map[string]bool

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithAllowedOrigins restricts browser origins allowed to connect. Requests
// with no Origin header (non-browser clients) are always accepted. An empty
// list or "*" allows every origin.
func WithAllowedOrigins(origins []string) HubOption {
	return func(h *Hub) {
		h.origins = make(map[string]bool)
		for _, o := range origins {
			h.origins[strings.TrimRight(strings.TrimSpace(o), "/")] = true
		}
	}
}

// WithSendBuffer sets the per-connection outbound queue length.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// NewHub creates a Hub that starts generations through starter.
func NewHub(starter Starter, opts ...HubOption) *Hub {
	h := &Hub{
		starter:    starter,
		sendBuffer: 256,
		conns:      make(map[string]*conn),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.origins) == 0 || h.origins["*"] {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return h.origins[u.Scheme+"://"+u.Host]
}

// ServeHTTP upgrades the request and blocks until the connection ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		slog.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	c := newConn(uuid.NewString(), ws, h.sendBuffer, h.starter)
	if !h.register(c) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}
	slog.Info("client connected", "conn_id", c.id, "remote_addr", r.RemoteAddr)

	go c.writePump()
	c.readPump()

	h.unregister(c)
	stopped := h.starter.CancelOwner(c.id)
	slog.Info("client disconnected", "conn_id", c.id, "cancelled_generations", stopped)
}

func (h *Hub) register(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c.id] = c
	return true
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	c.close()
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close stops accepting connections and closes the open ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}
