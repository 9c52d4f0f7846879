/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package retry

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
)

// Executor runs operations with retries. The zero value retries any error
// using JitteredExponentialBackoffPolicy with default settings.
type Executor struct {
	// Policy defines delays between attempts and the attempts limit.
	Policy Policy

	// IsRetryable defines which errors lead to a retry. Nil means any error is retried.
	IsRetryable IsRetryable

	// Notify is called before every delay with the failed attempt's error and the delay.
	Notify backoff.Notify

	// NewTimer creates a timer for waiting between attempts. It's called once per Do,
	// so concurrent calls never share a timer. Nil means a real-time timer.
	NewTimer func() backoff.Timer
}

// Do executes fn until it succeeds, fails with a non-retryable error, or the policy stops retrying.
// The last error is returned in the latter case.
func (e Executor) Do(ctx context.Context, fn RetryableFunc) error {
	p := e.Policy
	if p == nil {
		p = JitteredExponentialBackoffPolicy{}
	}
	var timer backoff.Timer
	if e.NewTimer != nil {
		timer = e.NewTimer()
	}
	return doWithRetry(ctx, p, e.IsRetryable, e.Notify, timer, fn)
}

// WithRetry wraps op so that every call is executed by the given executor.
func WithRetry[A, V any](op func(ctx context.Context, arg A) (V, error), e Executor) func(ctx context.Context, arg A) (V, error) {
	return func(ctx context.Context, arg A) (V, error) {
		var res V
		err := e.Do(ctx, func(ctx context.Context) error {
			v, opErr := op(ctx, arg)
			if opErr != nil {
				return opErr
			}
			res = v
			return nil
		})
		return res, err
	}
}

// NewClockTimer returns a backoff.Timer that uses the given clock.
// It allows driving retry delays with a mocked clock. The timer is stateful and serves a single retry loop.
func NewClockTimer(c clock.Clock) backoff.Timer {
	return &clockTimer{clock: c}
}

// NewClockTimerFunc returns a factory of clock timers suitable for Executor.NewTimer.
func NewClockTimerFunc(c clock.Clock) func() backoff.Timer {
	return func() backoff.Timer { return NewClockTimer(c) }
}

type clockTimer struct {
	clock clock.Clock
	timer *clock.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.Timer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C
}
