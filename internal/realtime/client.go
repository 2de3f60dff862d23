package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiranshivaraju/cadence/pkg/models"
)

// UpdateHandler receives every generation-update from the server, in order.
type UpdateHandler func(models.GenerationUpdate)

// Client keeps a websocket open to a Hub, redialling with capped exponential
// backoff whenever the connection drops.
type Client struct {
	url       string
	dialer    *websocket.Dialer
	header    http.Header
	onUpdate  UpdateHandler
	onConnect func()
	baseDelay time.Duration
	maxDelay  time.Duration

	mu    sync.Mutex
	ws    *websocket.Conn
	ready chan struct{} // closed while connected

	writeMu sync.Mutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithUpdateHandler(h UpdateHandler) ClientOption {
	return func(c *Client) { c.onUpdate = h }
}

// WithOnConnect registers a hook run after every successful (re)connect.
// It runs on its own goroutine so it may call back into the Client.
func WithOnConnect(fn func()) ClientOption {
	return func(c *Client) { c.onConnect = fn }
}

func WithBackoff(base, max time.Duration) ClientOption {
	return func(c *Client) {
		c.baseDelay = base
		c.maxDelay = max
	}
}

func WithHeader(h http.Header) ClientOption {
	return func(c *Client) { c.header = h }
}

// NewClient creates a Client for the websocket endpoint at url (ws:// or wss://).
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:       url,
		dialer:    websocket.DefaultDialer,
		onUpdate:  func(models.GenerationUpdate) {},
		baseDelay: 500 * time.Millisecond,
		maxDelay:  10 * time.Second,
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run dials and serves the connection until ctx is cancelled, reconnecting
// after every failure. It always returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		ws, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			delay := c.backoff(attempt)
			slog.Debug("realtime dial failed", "url", c.url, "attempt", attempt, "retry_in", delay, "error", err)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		attempt = 0
		c.setConn(ws)
		slog.Debug("realtime connected", "url", c.url)
		if c.onConnect != nil {
			go c.onConnect()
		}

		stop := context.AfterFunc(ctx, func() {
			c.writeMu.Lock()
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
			_ = ws.Close()
		})
		c.readLoop(ws)
		stop()

		c.clearConn(ws)
		_ = ws.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Debug("realtime disconnected, reconnecting", "url", c.url)
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.baseDelay << (attempt - 1)
	if d > c.maxDelay || d <= 0 {
		d = c.maxDelay
	}
	return d
}

func (c *Client) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("malformed frame from server", "error", err)
			continue
		}
		if env.Event != models.EventGenerationUpdate {
			slog.Debug("ignoring unknown event", "event", env.Event)
			continue
		}
		var u models.GenerationUpdate
		if err := json.Unmarshal(env.Data, &u); err != nil {
			slog.Warn("malformed generation-update", "error", err)
			continue
		}
		c.onUpdate(u)
	}
}

func (c *Client) setConn(ws *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws = ws
	close(c.ready)
}

func (c *Client) clearConn(ws *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != ws {
		return
	}
	c.ws = nil
	c.ready = make(chan struct{})
}

// IsConnected reports whether a connection is currently open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// WaitConnected blocks until the client is connected or ctx is done.
func (c *Client) WaitConnected(ctx context.Context) error {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartGeneration asks the server to stream progress for id.
func (c *Client) StartGeneration(id, prompt string) error {
	env, err := models.NewEnvelope(models.EventStartGeneration, models.StartGeneration{ID: id, Prompt: prompt})
	if err != nil {
		return err
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrDisconnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(env); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}
