/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/RussellLuo/slidingwindow"
)

// SlidingWindowLimiter implements sliding window rate limiting algorithm.
// Every key (e.g. remote host) gets its own window.
type SlidingWindowLimiter struct {
	maxRate Rate
	now     func() time.Time

	mu       sync.Mutex
	limiters map[string]*slidingwindow.Limiter
}

// NewSlidingWindowLimiter creates a new sliding window rate limiter.
func NewSlidingWindowLimiter(maxRate Rate) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{maxRate: maxRate, now: time.Now, limiters: make(map[string]*slidingwindow.Limiter)}
}

func (l *SlidingWindowLimiter) getLimiter(key string) *slidingwindow.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim, _ = slidingwindow.NewLimiter(
			l.maxRate.Duration, int64(l.maxRate.Count), func() (slidingwindow.Window, slidingwindow.StopFunc) {
				return slidingwindow.NewLocalWindow()
			})
		l.limiters[key] = lim
	}
	return lim
}

// Allow checks if the request should be allowed based on the rate limit.
func (l *SlidingWindowLimiter) Allow(_ context.Context, key string) (allow bool, retryAfter time.Duration, err error) {
	if l.getLimiter(key).Allow() {
		return true, 0, nil
	}
	now := l.now()
	retryAfter = now.Truncate(l.maxRate.Duration).Add(l.maxRate.Duration).Sub(now)
	return false, retryAfter, nil
}
