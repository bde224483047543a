package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultCleanupInterval = 5 * time.Minute

type window struct {
	attempts int
	start    time.Time
}

// MemoryLimiter is a fixed-window limiter held in process memory. State is
// not shared between instances, so it only limits correctly when a single
// server instance is running. Use RedisLimiter otherwise.
type MemoryLimiter struct {
	max     int
	window  time.Duration
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]*window
	stopCh  chan struct{}
	once    sync.Once
}

// NewMemoryLimiter allows max attempts per key in each window and starts a
// goroutine that evicts stale windows until Stop is called.
func NewMemoryLimiter(max int, win time.Duration) *MemoryLimiter {
	l := &MemoryLimiter{
		max:     max,
		window:  win,
		now:     time.Now,
		entries: make(map[string]*window),
		stopCh:  make(chan struct{}),
	}
	go l.cleanup(defaultCleanupInterval)
	return l
}

var _ Limiter = (*MemoryLimiter)(nil)

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.entries[key]
	if !ok || now.Sub(w.start) >= l.window {
		l.entries[key] = &window{attempts: 1, start: now}
		return Decision{Allowed: true, Remaining: l.max - 1}, nil
	}

	if w.attempts >= l.max {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: l.window - now.Sub(w.start)}, nil
	}

	w.attempts++
	return Decision{Allowed: true, Remaining: l.max - w.attempts}, nil
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (l *MemoryLimiter) Stop() {
	l.once.Do(func() { close(l.stopCh) })
}

func (l *MemoryLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evict()
		case <-l.stopCh:
			return
		}
	}
}

func (l *MemoryLimiter) evict() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, w := range l.entries {
		if now.Sub(w.start) >= l.window {
			delete(l.entries, key)
		}
	}
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
