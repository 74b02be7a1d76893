package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/af-corp/persona-gateway/internal/auth"
	"github.com/af-corp/persona-gateway/internal/httputil"
	"github.com/af-corp/persona-gateway/internal/ratelimit"
)

// RouterDeps are the pieces mounted by NewRouter. WS and Metrics may be nil.
type RouterDeps struct {
	Handler     *Handler
	WS          http.Handler
	Auth        *auth.Authenticator
	Limiter     *ratelimit.Limiter
	Metrics     http.Handler
	MetricsPath string
	Version     string
}

// NewRouter mounts the public HTTP surface.
//
//	GET  /health       unauthenticated
//	GET  /metrics      unauthenticated
//	GET  /ws           WebSocket; authenticates in-band
//	POST /chat         authenticated, rate limited
//	POST /streamchat   authenticated, rate limited
//	GET  /aliases      authenticated
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	r.Get("/health", healthHandler(d.Version))
	if d.Metrics != nil {
		path := d.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, d.Metrics)
	}
	if d.WS != nil {
		r.Method(http.MethodGet, "/ws", d.WS)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(d.Auth))
		r.With(ratelimit.Middleware(d.Limiter, ratelimit.ScopeHTTPChat)).Post("/chat", d.Handler.Chat)
		r.With(ratelimit.Middleware(d.Limiter, ratelimit.ScopeHTTPStream)).Post("/streamchat", d.Handler.StreamChat)
		r.Get("/aliases", d.Handler.ListAliases)
	})
	return r
}

func healthHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"version": version,
		})
	}
}

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDFromContext returns the id assigned by the request-id middleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func generateRequestID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}
