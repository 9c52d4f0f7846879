/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package taskqueue

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/acronis/go-quotakit/retry"
)

// LimitOptions represents options for WithConcurrencyLimit.
type LimitOptions struct {
	// MaxConcurrent is the maximum number of simultaneously running calls. Default is DefaultMaxConcurrent.
	MaxConcurrent int

	// Timeout limits every attempt. Zero means no timeout.
	Timeout time.Duration

	// MaxRetries is the maximum number of retries of a failed call. Zero means no retries.
	MaxRetries int

	// RetryDelay is a flat delay between attempts. Default is DefaultRetryDelay.
	RetryDelay time.Duration

	// Clock is used for retry delays. Default is the real-time clock.
	Clock clock.Clock
}

// WithConcurrencyLimit wraps op so that no more than MaxConcurrent calls run at the same time.
// A slot is held only while an attempt runs, a call waiting for a retry does not occupy it.
// A call waiting for a slot is aborted when its context is done.
func WithConcurrencyLimit[A, V any](
	op func(ctx context.Context, arg A) (V, error), opts LimitOptions,
) func(ctx context.Context, arg A) (V, error) {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	var policy retry.Policy = retry.PolicyFunc(func() backoff.BackOff { return &backoff.StopBackOff{} })
	if opts.MaxRetries > 0 {
		policy = retry.NewConstantBackoffPolicy(opts.RetryDelay, opts.MaxRetries)
	}
	sem := semaphore.NewWeighted(int64(opts.MaxConcurrent))

	attempt := func(ctx context.Context, arg A) (V, error) {
		if err := sem.Acquire(ctx, 1); err != nil {
			var zero V
			return zero, backoff.Permanent(err)
		}
		defer sem.Release(1)
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = opts.Clock.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}
		return op(ctx, arg)
	}

	return func(ctx context.Context, arg A) (V, error) {
		return retry.WithRetry(attempt, retry.Executor{Policy: policy, NewTimer: retry.NewClockTimerFunc(opts.Clock)})(ctx, arg)
	}
}
