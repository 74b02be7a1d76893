package ratelimit

import (
	"sync"
	"time"
)

type memoryWindow struct {
	count     int64
	expiresAt time.Time
}

// memoryWindows is the in-process counterpart of the Redis counters.
type memoryWindows struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
}

func newMemoryWindows() *memoryWindows {
	return &memoryWindows{windows: make(map[string]*memoryWindow)}
}

// increment counts one hit, starting a new window when the stored one has expired.
func (m *memoryWindows) increment(key string, now time.Time, window time.Duration) (int64, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = &memoryWindow{expiresAt: now.Add(window)}
		m.windows[key] = w
	}
	w.count++
	return w.count, w.expiresAt
}

// sweep drops expired windows and returns how many were removed.
func (m *memoryWindows) sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, w := range m.windows {
		if !now.Before(w.expiresAt) {
			delete(m.windows, key)
			n++
		}
	}
	return n
}

func (m *memoryWindows) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
