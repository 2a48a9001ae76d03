package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window is the accounting period for the fixed-window algorithm.
const Window = 60 * time.Second

// window is the admission state for one rate-limit key.
type window struct {
	start time.Time
	count int
}

// MemoryLimiter implements Limiter using an in-memory fixed 60-second
// window per key.
//
// Each key gets an independent window created lazily on first sight. When
// the current time passes start+Window the window restarts. A background
// goroutine evicts windows idle longer than three window lengths to bound
// memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window

	now func() time.Time // injectable clock for tests

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a fixed-window limiter. Call Close to stop the
// eviction goroutine.
func NewMemoryLimiter() *MemoryLimiter {
	m := &MemoryLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Admit performs the check-and-increment for key under the given ceiling.
// The critical section covers both the check and the increment, so two
// concurrent callers sharing a key can never jointly exceed the ceiling
// within one window.
func (m *MemoryLimiter) Admit(_ context.Context, key string, ceiling int) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) >= Window {
		w = &window{start: now}
		m.windows[key] = w
	}

	if w.count >= ceiling {
		return Decision{
			Allowed:    false,
			RetryAfter: w.start.Add(Window).Sub(now),
		}, nil
	}

	w.count++
	return Decision{Allowed: true, Remaining: ceiling - w.count}, nil
}

// Close stops the eviction goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

const staleThreshold = 3 * Window

// cleanup periodically evicts windows whose start time is long past.
func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-staleThreshold)
	for key, w := range m.windows {
		if w.start.Before(cutoff) {
			delete(m.windows, key)
		}
	}
}
