// Package ws implements the multiplexed WebSocket protocol: one envelope per
// frame, ops dispatched in arrival order per connection, room presence
// broadcasts and streamed AI replies.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/af-corp/persona-gateway/internal/auth"
	"github.com/af-corp/persona-gateway/internal/config"
	"github.com/af-corp/persona-gateway/internal/rooms"
	"github.com/af-corp/persona-gateway/internal/router"
	"github.com/af-corp/persona-gateway/internal/router/adapters"
	"github.com/af-corp/persona-gateway/internal/telemetry"
	"github.com/af-corp/persona-gateway/internal/types"
)

const (
	defaultReadLimit    = 64 << 10
	defaultPingPeriod   = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultSendBuffer   = 64
)

// ChatRouter executes AI requests. *router.Holder satisfies it.
type ChatRouter interface {
	Chat(ctx context.Context, p router.ChatParams) (*types.ChatResponse, error)
	Stream(ctx context.Context, p router.ChatParams) (adapters.TextStream, error)
}

// Authenticator validates tokens. *auth.Authenticator satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Identity, error)
}

// Limiter enforces per-subject budgets. *ratelimit.Limiter satisfies it.
type Limiter interface {
	Enforce(ctx context.Context, subject, scope string) error
}

// Options configures a Server. Limiter, Rooms, Metrics and Logger are optional.
type Options struct {
	Router        ChatRouter
	Auth          Authenticator
	Limiter       Limiter
	Rooms         *rooms.Registry
	Metrics       *telemetry.Metrics
	Logger        *slog.Logger
	Config        config.WebSocketConfig
	StreamEnabled bool
}

// Server upgrades HTTP requests and serves the protocol on each connection.
type Server struct {
	router        ChatRouter
	auth          Authenticator
	limiter       Limiter
	rooms         *rooms.Registry
	metrics       *telemetry.Metrics
	logger        *slog.Logger
	upgrader      websocket.Upgrader
	connOpts      connOptions
	streamEnabled atomic.Bool

	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Rooms == nil {
		opts.Rooms = rooms.NewRegistry()
	}
	s := &Server{
		router:   opts.Router,
		auth:     opts.Auth,
		limiter:  opts.Limiter,
		rooms:    opts.Rooms,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		upgrader: makeUpgrader(opts.Config.AllowedOrigins),
		connOpts: connOptionsFrom(opts.Config),
		conns:    make(map[string]*Conn),
	}
	s.streamEnabled.Store(opts.StreamEnabled)
	return s
}

func connOptionsFrom(cfg config.WebSocketConfig) connOptions {
	o := connOptions{
		readLimit:    cfg.ReadLimit,
		pingPeriod:   cfg.PingPeriod,
		writeTimeout: cfg.WriteTimeout,
		sendBuffer:   cfg.SendBuffer,
	}
	if o.readLimit <= 0 {
		o.readLimit = defaultReadLimit
	}
	if o.pingPeriod <= 0 {
		o.pingPeriod = defaultPingPeriod
	}
	if o.writeTimeout <= 0 {
		o.writeTimeout = defaultWriteTimeout
	}
	if o.sendBuffer <= 0 {
		o.sendBuffer = defaultSendBuffer
	}
	// Pings go out at 9/10 of the pong wait.
	o.pongWait = o.pingPeriod * 10 / 9
	return o
}

// makeUpgrader returns an upgrader that accepts the listed origins. An empty
// list or "*" accepts any origin. Requests without an Origin header are
// non-browser clients and always accepted.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return originSet[origin]
		},
	}
}

// SetStreamEnabled toggles ai.stream at runtime.
func (s *Server) SetStreamEnabled(enabled bool) {
	s.streamEnabled.Store(enabled)
}

// ConnectionCount returns the number of registered connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// A token at upgrade time authenticates the connection up front. A bad
	// one just leaves it unauthenticated.
	var identity auth.Identity
	authenticated := false
	if token := auth.TokenFromRequest(r); token != "" {
		id, err := s.auth.Authenticate(r.Context(), token)
		if err == nil {
			identity, authenticated = id, true
		} else {
			s.logger.Debug("ws pre-auth rejected", "error", err)
		}
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(uuid.NewString(), wsConn, s.connOpts, s.logger)
	c.identity, c.authenticated = identity, authenticated
	s.register(c)
	defer s.unregister(c)

	c.logger.Info("client connected", "remote_addr", r.RemoteAddr, "authenticated", authenticated)

	inbound := make(chan []byte, inboundBuffer)
	go c.writePump()
	go c.readPump(inbound)

	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			s.dispatch(c, msg)
		}
	}
}

// Shutdown sends a going-away close frame to every connection.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.RLock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		if ctx.Err() != nil {
			c.Close()
			continue
		}
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}

func (s *Server) register(c *Conn) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	s.metrics.ConnectionOpened()
}

// unregister removes every trace of c. It runs however the connection ended.
func (s *Server) unregister(c *Conn) {
	c.Close()
	left := s.rooms.LeaveAll(c.id)

	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()

	s.metrics.ConnectionClosed()
	c.logger.Info("client disconnected", "rooms_left", len(left))
}

// broadcast sends data to every member of room except the sender. Slow or
// dead peers are skipped.
func (s *Server) broadcast(room, except string, data []byte) int {
	sent := 0
	for _, id := range s.rooms.Members(room) {
		if id == except {
			continue
		}
		s.mu.RLock()
		peer, ok := s.conns[id]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		if !peer.trySend(data) {
			s.metrics.RecordBroadcastDrop()
			s.logger.Debug("broadcast dropped", "room", room, "conn_id", id)
			continue
		}
		sent++
	}
	return sent
}
