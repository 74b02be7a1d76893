package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/af-corp/persona-gateway/internal/config"
	"github.com/af-corp/persona-gateway/internal/telemetry"
	"github.com/af-corp/persona-gateway/internal/types"
)

// Scopes used by the gateway. Each draws from its own budget per subject.
const (
	ScopeWSChat     = "ws:ai.chat"
	ScopeWSStream   = "ws:ai.stream"
	ScopeHTTPChat   = "http:chat"
	ScopeHTTPStream = "http:stream"
)

// LimitResult is the outcome of a rate limit check.
type LimitResult struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter is a fixed-window request counter per (scope, subject). Counters
// live in Redis; when Redis is nil or failing the same window is kept in
// process. Bursts of up to twice the limit across a window boundary are
// accepted.
type Limiter struct {
	rdb     redis.Cmdable
	local   *memoryWindows
	enabled bool
	limit   int64
	window  time.Duration
	now     func() time.Time
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// NewLimiter creates a limiter. rdb may be nil.
func NewLimiter(rdb redis.Cmdable, cfg config.RateLimitConfig, metrics *telemetry.Metrics, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		rdb:     rdb,
		local:   newMemoryWindows(),
		enabled: cfg.Enabled && cfg.Requests > 0,
		limit:   cfg.Requests,
		window:  window,
		now:     time.Now,
		metrics: metrics,
		logger:  logger,
	}
}

// fixedWindowScript atomically increments the counter and starts the window
// on the first hit. A key left without expiry is repaired.
// KEYS[1] = counter key
// ARGV[1] = window in milliseconds
// Returns: [count, ttl_ms]
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if count == 1 or ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// Key returns the counter key for scope and subject.
func Key(scope, subject string) string {
	return fmt.Sprintf("rl:%s:%s", scope, subject)
}

// Check counts one request for subject under scope.
func (l *Limiter) Check(ctx context.Context, subject, scope string) LimitResult {
	if !l.enabled {
		return LimitResult{Allowed: true, Limit: l.limit, Remaining: l.limit}
	}

	key := Key(scope, subject)
	now := l.now()
	count, resetAt := l.increment(ctx, key, now)

	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	result := LimitResult{
		Allowed:   count <= l.limit,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !result.Allowed {
		result.RetryAfter = resetAt.Sub(now)
	}
	return result
}

// Enforce counts one request and returns types.ErrRateLimited when the
// window's budget is exhausted.
func (l *Limiter) Enforce(ctx context.Context, subject, scope string) error {
	result := l.Check(ctx, subject, scope)
	if result.Allowed {
		return nil
	}
	l.metrics.RecordRateLimitHit(scope)
	l.logger.Warn("rate limit exceeded", "scope", scope, "subject", subject, "limit", l.limit)
	return fmt.Errorf("%w: %d requests per %s", types.ErrRateLimited, l.limit, l.window)
}

func (l *Limiter) increment(ctx context.Context, key string, now time.Time) (int64, time.Time) {
	if l.rdb != nil {
		res, err := fixedWindowScript.Run(ctx, l.rdb, []string{key}, l.window.Milliseconds()).Int64Slice()
		if err == nil && len(res) == 2 {
			return res[0], now.Add(time.Duration(res[1]) * time.Millisecond)
		}
		l.metrics.RecordRateLimitFallback()
		l.logger.Debug("rate limit store unavailable, using in-process window", "key", key, "error", err)
	}
	return l.local.increment(key, now, l.window)
}

// Run sweeps expired in-process windows until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.local.sweep(l.now()); n > 0 {
				l.logger.Debug("swept expired rate limit windows", "count", n)
			}
		}
	}
}
