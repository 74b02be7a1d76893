package router

import (
	"testing"
	"time"
)

func TestHealthTracker_DisabledIsNil(t *testing.T) {
	ht := NewHealthTracker(0, time.Second)
	if ht != nil {
		t.Fatal("expected nil tracker for zero threshold")
	}
	// Nil trackers are usable.
	ht.RecordFailure("openai")
	ht.RecordSuccess("openai")
	if !ht.IsAvailable("openai") {
		t.Error("nil tracker must report providers available")
	}
	if ht.States() != nil {
		t.Error("nil tracker must report no states")
	}
}

func TestHealthTracker_LazyCreation(t *testing.T) {
	ht := NewHealthTracker(3, 5*time.Second)
	if !ht.IsAvailable("openai") {
		t.Error("expected new provider to be available")
	}
}

func TestHealthTracker_RecordFailureOpensCircuit(t *testing.T) {
	ht := NewHealthTracker(2, 5*time.Second)

	ht.RecordFailure("openai")
	ht.RecordFailure("openai")

	if ht.IsAvailable("openai") {
		t.Error("expected openai to be unavailable after 2 failures")
	}
	if got := ht.States()["openai"]; got != StateOpen {
		t.Errorf("expected open state in snapshot, got %s", got)
	}
}

func TestHealthTracker_RecoversAfterProbe(t *testing.T) {
	clock := newFakeClock()
	ht := NewHealthTracker(1, 10*time.Second)
	ht.now = clock.Now

	ht.RecordFailure("openai")
	if ht.IsAvailable("openai") {
		t.Error("expected openai to be unavailable")
	}

	clock.Advance(10 * time.Second)
	if !ht.IsAvailable("openai") {
		t.Error("expected openai to be available for a probe")
	}

	ht.RecordSuccess("openai")
	if !ht.IsAvailable("openai") {
		t.Error("expected openai to be available after success")
	}
}

func TestHealthTracker_IndependentProviders(t *testing.T) {
	ht := NewHealthTracker(1, 5*time.Second)

	ht.RecordFailure("openai")

	if ht.IsAvailable("openai") {
		t.Error("expected openai to be unavailable")
	}
	if !ht.IsAvailable("anthropic") {
		t.Error("expected anthropic to be available (independent)")
	}
}
