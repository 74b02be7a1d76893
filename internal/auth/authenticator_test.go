package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/af-corp/persona-gateway/internal/config"
	"github.com/af-corp/persona-gateway/internal/types"
)

// mockTokenStore implements TokenStore for testing.
type mockTokenStore struct {
	records map[string]*TokenRecord
	err     error
}

func (m *mockTokenStore) Lookup(_ context.Context, tokenHash string) (*TokenRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.records[tokenHash], nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuthenticate(t *testing.T) {
	store := &mockTokenStore{records: map[string]*TokenRecord{
		HashKey("pgw-prod-stored"): {ID: "tok-1", Name: "ci"},
	}}

	tests := []struct {
		name       string
		cfg        config.AuthConfig
		store      TokenStore
		token      string
		wantMethod string
		wantErr    error
	}{
		{
			name:       "default dev token",
			cfg:        config.AuthConfig{},
			token:      "dev-token",
			wantMethod: MethodStatic,
		},
		{
			name:       "configured csv token",
			cfg:        config.AuthConfig{TokensRaw: "alpha, beta"},
			token:      "beta",
			wantMethod: MethodStatic,
		},
		{
			name:    "dev token not allowed once tokens are configured",
			cfg:     config.AuthConfig{TokensRaw: `["alpha"]`},
			token:   "dev-token",
			wantErr: types.ErrUnauthorized,
		},
		{
			name:    "empty token",
			cfg:     config.AuthConfig{},
			token:   "  ",
			wantErr: types.ErrUnauthorized,
		},
		{
			name:       "stored token",
			cfg:        config.AuthConfig{Tokens: []string{"alpha"}},
			store:      store,
			token:      "pgw-prod-stored",
			wantMethod: MethodStored,
		},
		{
			name:    "unknown token with store",
			cfg:     config.AuthConfig{Tokens: []string{"alpha"}},
			store:   store,
			token:   "pgw-prod-unknown",
			wantErr: types.ErrUnauthorized,
		},
		{
			name:       "permissive debug mode",
			cfg:        config.AuthConfig{Tokens: []string{"alpha"}, Debug: true, AllowAnyTokenInDebug: true},
			token:      "anything",
			wantMethod: MethodDebug,
		},
		{
			name:    "debug without allow-any is strict",
			cfg:     config.AuthConfig{Tokens: []string{"alpha"}, Debug: true},
			token:   "anything",
			wantErr: types.ErrUnauthorized,
		},
		{
			name:    "permissive mode still rejects empty",
			cfg:     config.AuthConfig{Debug: true, AllowAnyTokenInDebug: true},
			token:   "",
			wantErr: types.ErrUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAuthenticator(tt.cfg, tt.store, quietLogger())
			id, err := a.Authenticate(context.Background(), tt.token)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id.Method != tt.wantMethod {
				t.Errorf("method: want %s, got %s", tt.wantMethod, id.Method)
			}
			if id.Subject != HashKey(tt.token) {
				t.Errorf("subject should be the token hash, got %s", id.Subject)
			}
		})
	}
}

func TestAuthenticate_StoreFailure(t *testing.T) {
	a := NewAuthenticator(config.AuthConfig{Tokens: []string{"alpha"}}, &mockTokenStore{err: errors.New("db down")}, quietLogger())

	_, err := a.Authenticate(context.Background(), "other")
	if err == nil || errors.Is(err, types.ErrUnauthorized) {
		t.Fatalf("expected a lookup error distinct from unauthorized, got %v", err)
	}

	// Static tokens never touch the store.
	if _, err := a.Authenticate(context.Background(), "alpha"); err != nil {
		t.Fatalf("static token should pass without store: %v", err)
	}
}

func TestAuthenticate_StoredTokenID(t *testing.T) {
	store := &mockTokenStore{records: map[string]*TokenRecord{
		HashKey("pgw-prod-stored"): {ID: "tok-42"},
	}}
	a := NewAuthenticator(config.AuthConfig{}, store, quietLogger())

	id, err := a.Authenticate(context.Background(), "pgw-prod-stored")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.TokenID != "tok-42" {
		t.Errorf("expected token id tok-42, got %q", id.TokenID)
	}
}
