package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiranshivaraju/cadence/internal/generation"
	"github.com/kiranshivaraju/cadence/pkg/models"
)

// conn is one server-side client. All writes go through send and are
// performed by writePump, so frames leave in the order they were queued.
type conn struct {
	id      string
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	starter Starter
}

func newConn(id string, ws *websocket.Conn, buffer int, starter Starter) *conn {
	return &conn{
		id:      id,
		ws:      ws,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		starter: starter,
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// Send implements generation.Sink. It blocks while the queue is full until
// ctx is cancelled or the connection closes.
func (c *conn) Send(ctx context.Context, u models.GenerationUpdate) error {
	env, err := models.NewEnvelope(models.EventGenerationUpdate, u)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrConnectionClosed
	}
}

func (c *conn) readPump() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.Warn("websocket read failed", "conn_id", c.id, "error", err)
			}
			return
		}
		c.handle(data)
	}
}

// handle dispatches one inbound frame. Bad frames are logged and dropped;
// they never end the connection.
func (c *conn) handle(data []byte) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("malformed frame", "conn_id", c.id, "error", err)
		return
	}

	switch env.Event {
	case models.EventStartGeneration:
		var req models.StartGeneration
		if err := json.Unmarshal(env.Data, &req); err != nil {
			slog.Warn("malformed start-generation", "conn_id", c.id, "error", err)
			return
		}
		if err := c.starter.Start(c.id, req.ID, req.Prompt, c); err != nil {
			if errors.Is(err, generation.ErrInvalidStart) {
				slog.Warn("start-generation rejected", "conn_id", c.id, "error", err)
				return
			}
			slog.Error("failed to start generation", "conn_id", c.id, "job_id", req.ID, "error", err)
		}
	default:
		slog.Debug("ignoring unknown event", "conn_id", c.id, "event", env.Event)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Debug("websocket write failed", "conn_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
