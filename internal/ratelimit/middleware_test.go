package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/af-corp/persona-gateway/internal/auth"
	"github.com/af-corp/persona-gateway/internal/config"
	"github.com/af-corp/persona-gateway/internal/httputil"
)

func configDisabled() config.RateLimitConfig {
	return config.RateLimitConfig{Enabled: false, Requests: 10, Window: time.Minute}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func authedRequest(subject string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/chat", nil)
	return req.WithContext(auth.ContextWithIdentity(req.Context(), auth.Identity{Subject: subject, Method: auth.MethodStatic}))
}

func TestMiddleware_AllowsThenLimits(t *testing.T) {
	l, _ := newTestLimiter(nil, 2, time.Minute, nil)
	handler := Middleware(l, ScopeHTTPChat)(okHandler())

	for i := 1; i <= 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, authedRequest("subj"))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
		if h := rec.Header().Get(headerRateLimitLimit); h != "2" {
			t.Errorf("expected %s=2, got %q", headerRateLimitLimit, h)
		}
	}

	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-ID", "req-1")
	handler.ServeHTTP(rec, authedRequest("subj"))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if h := rec.Header().Get(headerRateLimitRemaining); h != "0" {
		t.Errorf("expected remaining 0, got %q", h)
	}
	if h := rec.Header().Get(headerRetryAfter); h != "60" {
		t.Errorf("expected Retry-After 60, got %q", h)
	}

	var resp httputil.APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error.Code != "rate_limit_exceeded" {
		t.Errorf("expected rate_limit_exceeded, got %q", resp.Error.Code)
	}
}

func TestMiddleware_FallsBackToClientAddress(t *testing.T) {
	l, _ := newTestLimiter(nil, 1, time.Minute, nil)
	handler := Middleware(l, ScopeHTTPStream)(okHandler())

	first := httptest.NewRequest(http.MethodPost, "/streamchat", nil)
	first.RemoteAddr = "10.0.0.1:5000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	// Same host, different port shares the budget.
	second := httptest.NewRequest(http.MethodPost, "/streamchat", nil)
	second.RemoteAddr = "10.0.0.1:6000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, second)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	other := httptest.NewRequest(http.MethodPost, "/streamchat", nil)
	other.RemoteAddr = "10.0.0.2:5000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected other client to pass, got %d", rec.Code)
	}
}

func TestMiddleware_DisabledSetsNoHeaders(t *testing.T) {
	l := NewLimiter(nil, configDisabled(), nil, quietLogger())
	handler := Middleware(l, ScopeHTTPChat)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("subj"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if h := rec.Header().Get(headerRateLimitLimit); h != "" {
		t.Errorf("expected no rate limit headers, got %q", h)
	}
}
