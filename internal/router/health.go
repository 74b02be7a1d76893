package router

import (
	"sync"
	"time"
)

// HealthTracker manages circuit breakers for all providers. A nil
// *HealthTracker reports every provider available and records nothing.
type HealthTracker struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	failureThreshold      int
	recoveryProbeInterval time.Duration
	now                   func() time.Time
}

// NewHealthTracker creates a health tracker with the given circuit breaker
// config. A non-positive threshold disables tracking and returns nil.
func NewHealthTracker(failureThreshold int, recoveryProbeInterval time.Duration) *HealthTracker {
	if failureThreshold <= 0 {
		return nil
	}
	return &HealthTracker{
		breakers:              make(map[string]*CircuitBreaker),
		failureThreshold:      failureThreshold,
		recoveryProbeInterval: recoveryProbeInterval,
		now:                   time.Now,
	}
}

// GetBreaker returns (or lazily creates) the circuit breaker for a provider.
func (ht *HealthTracker) GetBreaker(provider string) *CircuitBreaker {
	ht.mu.RLock()
	cb, ok := ht.breakers[provider]
	ht.mu.RUnlock()
	if ok {
		return cb
	}

	ht.mu.Lock()
	defer ht.mu.Unlock()
	// Double-check after acquiring write lock
	if cb, ok := ht.breakers[provider]; ok {
		return cb
	}
	cb = newCircuitBreaker(ht.failureThreshold, ht.recoveryProbeInterval, ht.now)
	ht.breakers[provider] = cb
	return cb
}

// IsAvailable returns true if the provider's circuit breaker allows requests.
func (ht *HealthTracker) IsAvailable(provider string) bool {
	if ht == nil {
		return true
	}
	return ht.GetBreaker(provider).Allow()
}

// RecordSuccess records a successful request for the provider.
func (ht *HealthTracker) RecordSuccess(provider string) {
	if ht == nil {
		return
	}
	ht.GetBreaker(provider).RecordSuccess()
}

// RecordFailure records a failed request for the provider.
func (ht *HealthTracker) RecordFailure(provider string) {
	if ht == nil {
		return
	}
	ht.GetBreaker(provider).RecordFailure()
}

// States returns a snapshot of every tracked provider's circuit state.
func (ht *HealthTracker) States() map[string]CircuitState {
	if ht == nil {
		return nil
	}
	ht.mu.RLock()
	defer ht.mu.RUnlock()
	out := make(map[string]CircuitState, len(ht.breakers))
	for name, cb := range ht.breakers {
		out[name] = cb.State()
	}
	return out
}
