package auth

import "context"

type contextKey string

const identityContextKey contextKey = "persona_identity"

// Authentication methods reported on an Identity.
const (
	MethodStatic = "static"
	MethodStored = "stored"
	MethodDebug  = "debug"
)

// Identity is an authenticated caller. Subject is an opaque, stable
// identifier derived from the token; it is what rate limits are billed to.
type Identity struct {
	Subject string
	Method  string
	// TokenID is set for stored tokens.
	TokenID string
}

func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok
}
