package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether one more hit for key fits in the current window
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter keeps one token bucket per key, local to one process. A key
// may spend maxHits at once and earns them back evenly over window. Keys idle
// for a full window are dropped by a background sweep until Close is called.
type MemoryLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	lastAccess map[string]time.Time
	limit      rate.Limit
	burst      int
	idleAfter  time.Duration
	now        func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func NewMemoryLimiter(window time.Duration, maxHits int) *MemoryLimiter {
	l := &MemoryLimiter{
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
		limit:      rate.Every(window / time.Duration(maxHits)),
		burst:      maxHits,
		idleAfter:  window,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	go l.sweepLoop(window)
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	l.lastAccess[key] = now

	return limiter.AllowN(now, 1), nil
}

// Len returns the number of keys currently tracked
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Close stops the background sweep
func (l *MemoryLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	return nil
}

func (l *MemoryLimiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

// sweep drops keys that have been idle for at least a window. Their buckets
// are full again by then, so forgetting them changes no decision.
func (l *MemoryLimiter) sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idleAfter)
	evicted := 0
	for key, last := range l.lastAccess {
		if !last.After(cutoff) {
			delete(l.limiters, key)
			delete(l.lastAccess, key)
			evicted++
		}
	}
	return evicted
}

// Counter increments a shared counter that expires after window
type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// SharedLimiter is a fixed-window limiter backed by a Counter, so every relay
// instance sharing the counter enforces one budget
type SharedLimiter struct {
	counter Counter
	prefix  string
	window  time.Duration
	maxHits int
}

func NewSharedLimiter(counter Counter, prefix string, window time.Duration, maxHits int) *SharedLimiter {
	return &SharedLimiter{
		counter: counter,
		prefix:  prefix,
		window:  window,
		maxHits: maxHits,
	}
}

func (l *SharedLimiter) Allow(ctx context.Context, key string) (bool, error) {
	n, err := l.counter.IncrWindow(ctx, l.prefix+key, l.window)
	if err != nil {
		return false, err
	}
	return n <= int64(l.maxHits), nil
}
