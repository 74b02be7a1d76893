package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/af-corp/persona-gateway/internal/httputil"
	"github.com/af-corp/persona-gateway/internal/types"
)

// TokenFromRequest extracts a credential from, in order, the Authorization
// Bearer header, the X-API-Key header and the api_key or token query parameters.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if k := strings.TrimSpace(r.Header.Get("X-API-Key")); k != "" {
		return k
	}
	q := r.URL.Query()
	if k := q.Get("api_key"); k != "" {
		return k
	}
	return q.Get("token")
}

// Middleware returns a chi middleware that authenticates requests and stores
// the Identity in the request context.
func Middleware(authn *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")

			token := TokenFromRequest(r)
			if token == "" {
				httputil.WriteAuthError(w, reqID, "Missing credentials. Use: Authorization: Bearer <token>")
				return
			}

			id, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, types.ErrUnauthorized) {
					httputil.WriteAuthError(w, reqID, "Invalid token")
					return
				}
				slog.Error("token lookup failed", "request_id", reqID, "error", err, "token_prefix", TokenPrefix(token))
				httputil.WriteInternalError(w, reqID, "Internal error during authentication")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}
