package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps counters in process. It is only correct for a single
// instance; multi-instance deployments use RedisLimiter.
type MemoryLimiter struct {
	mu          sync.Mutex
	windows     map[string]*window
	now         func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewMemoryLimiter creates an in-memory limiter and starts a cleanup routine
// that drops expired windows every minute.
func NewMemoryLimiter() *MemoryLimiter {
	l := &MemoryLimiter{
		windows:     make(map[string]*window),
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.cleanup()
			case <-l.stopCleanup:
				return
			}
		}
	}()

	return l
}

// Stop stops the cleanup routine
func (l *MemoryLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
}

func (l *MemoryLimiter) CheckAndConsume(_ context.Context, key string, limit int, d time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(d)}
		l.windows[key] = w
	}
	w.count++
	return w.count <= limit, nil
}

func (l *MemoryLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}
