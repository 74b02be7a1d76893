package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/af-corp/persona-gateway/internal/auth"
)

// errConnClosed is returned when a frame is queued on a closed connection.
var errConnClosed = errors.New("connection closed")

// inboundBuffer bounds frames read ahead of dispatch.
const inboundBuffer = 16

// Conn is one WebSocket client. The read and write pumps run in their own
// goroutines; dispatch runs on the goroutine that called Server.ServeHTTP.
type Conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	opts   connOptions
	logger *slog.Logger

	// Only touched by the dispatch goroutine.
	identity      auth.Identity
	authenticated bool
}

type connOptions struct {
	readLimit    int64
	pingPeriod   time.Duration
	pongWait     time.Duration
	writeTimeout time.Duration
	sendBuffer   int
}

func newConn(id string, ws *websocket.Conn, opts connOptions, logger *slog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, opts.sendBuffer),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		opts:   opts,
		logger: logger.With("conn_id", id),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Close tears the connection down. It is safe to call more than once and
// from any goroutine. In-flight work bound to the connection context is cancelled.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		c.cancel()
		c.ws.Close()
	})
}

// closeWith sends a close frame before closing.
func (c *Conn) closeWith(code int, text string) {
	deadline := time.Now().Add(c.opts.writeTimeout)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	c.Close()
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// reply queues v, waiting for room in the send queue. It fails only when
// the connection is closed.
func (c *Conn) reply(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errConnClosed
	}
}

// trySend queues data without waiting. It reports false when the queue is
// full or the connection is closed.
func (c *Conn) trySend(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writePump drains the send queue and keeps the peer alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("ws write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ws ping failed", "error", err)
				return
			}
		}
	}
}

// readPump feeds client frames into inbound until the peer goes away. It
// closes inbound on return.
func (c *Conn) readPump(inbound chan<- []byte) {
	defer func() {
		close(inbound)
		c.Close()
	}()

	c.ws.SetReadLimit(c.opts.readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.pongWait))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("ws read error", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.pongWait))

		select {
		case inbound <- msg:
		case <-c.done:
			return
		}
	}
}
