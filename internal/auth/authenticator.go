package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"

	"github.com/af-corp/persona-gateway/internal/config"
	"github.com/af-corp/persona-gateway/internal/types"
)

// Authenticator validates tokens against the configured allow-set and,
// when present, the stored-token database.
type Authenticator struct {
	allowed    [][]byte
	permissive bool
	store      TokenStore
	logger     *slog.Logger
}

// NewAuthenticator builds an authenticator from cfg. store may be nil.
func NewAuthenticator(cfg config.AuthConfig, store TokenStore, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	tokens := cfg.AllowedTokens()
	a := &Authenticator{
		allowed:    make([][]byte, len(tokens)),
		permissive: cfg.PermissiveAuth(),
		store:      store,
		logger:     logger,
	}
	for i, t := range tokens {
		a.allowed[i] = []byte(t)
	}
	if a.permissive {
		logger.Warn("permissive auth enabled: any non-empty token is accepted")
	}
	return a
}

// Authenticate returns the identity for token. Unknown or empty tokens yield
// types.ErrUnauthorized; store failures are returned wrapped.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing token", types.ErrUnauthorized)
	}
	subject := HashKey(token)

	// Every entry is compared so timing does not reveal the match position.
	tokenBytes := []byte(token)
	matched := 0
	for _, allowed := range a.allowed {
		matched |= subtle.ConstantTimeCompare(tokenBytes, allowed)
	}
	if matched == 1 {
		return Identity{Subject: subject, Method: MethodStatic}, nil
	}

	if a.store != nil {
		rec, err := a.store.Lookup(ctx, subject)
		if err != nil {
			return Identity{}, fmt.Errorf("token lookup: %w", err)
		}
		if rec != nil {
			return Identity{Subject: subject, Method: MethodStored, TokenID: rec.ID}, nil
		}
	}

	if a.permissive {
		return Identity{Subject: subject, Method: MethodDebug}, nil
	}
	a.logger.Debug("auth failed: token not allowed", "token_prefix", TokenPrefix(token))
	return Identity{}, fmt.Errorf("%w: invalid token", types.ErrUnauthorized)
}
