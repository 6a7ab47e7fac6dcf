package service

import (
	"sync"
	"time"
)

type circuitStat struct {
	count       int
	windowStart time.Time
}

// Breaker limits how many times each action may auto-execute within a
// fixed window.
type Breaker struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	stats  map[string]*circuitStat
}

// NewBreaker creates a breaker allowing limit executions per window.
func NewBreaker(limit int, window time.Duration) *Breaker {
	return &Breaker{
		limit:  limit,
		window: window,
		now:    time.Now,
		stats:  make(map[string]*circuitStat),
	}
}

// Allow reports whether action may run now and, if so, counts the run.
// Checking and counting happen under one lock so concurrent callers cannot
// exceed the limit.
func (b *Breaker) Allow(action string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	st, ok := b.stats[action]
	if !ok || now.Sub(st.windowStart) > b.window {
		b.stats[action] = &circuitStat{count: 1, windowStart: now}
		return true
	}
	if st.count >= b.limit {
		return false
	}
	st.count++
	return true
}
