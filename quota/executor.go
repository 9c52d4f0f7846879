/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package quota

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/acronis/go-quotakit/log"
	"github.com/acronis/go-quotakit/retry"
	"github.com/acronis/go-quotakit/session"
)

// ExecutorOpts represents options for Executor.
type ExecutorOpts struct {
	// Policy defines delays between attempts and the attempts limit.
	// Default is retry.JitteredExponentialBackoffPolicy with 6 attempts and 1s base interval.
	Policy retry.Policy

	// IsRetryable defines which failures are retried. Default is IsRateLimit.
	IsRetryable retry.IsRetryable

	// Timeout limits every attempt. Zero means no timeout: a hung call blocks the attempt
	// unless the transport enforces its own timeout.
	Timeout time.Duration

	// Signal is notified when a query fails because of rate limiting after all attempts.
	Signal *Signal

	// SessionProvider enables a single session refresh and retry of the query when it fails
	// with expired credentials. The refresh is not governed by the backoff loop.
	// It's skipped if the transport has already refreshed the session within the same query
	// (see session.WithSingleRefresh).
	SessionProvider session.Provider

	// Clock is used for waiting between attempts and for parsing HTTP date retry-after hints.
	// Default is the real-time clock.
	Clock clock.Clock

	// NewTimer creates a timer for waiting between attempts of a single query.
	// Default creates a timer driven by Clock.
	NewTimer func() backoff.Timer

	// Logger is used for reporting retries and failures.
	Logger log.FieldLogger

	// MetricsCollector collects metrics of queries.
	MetricsCollector MetricsCollector
}

// Executor runs queries to a rate-limited remote API.
type Executor struct {
	opts ExecutorOpts
}

// NewExecutor creates a new Executor with default options.
func NewExecutor() *Executor {
	return NewExecutorWithOpts(ExecutorOpts{})
}

// NewExecutorWithOpts creates a new Executor with the given options.
func NewExecutorWithOpts(opts ExecutorOpts) *Executor {
	if opts.Policy == nil {
		opts.Policy = retry.JitteredExponentialBackoffPolicy{}
	}
	if opts.IsRetryable == nil {
		opts.IsRetryable = IsRateLimit
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.NewTimer == nil {
		opts.NewTimer = retry.NewClockTimerFunc(opts.Clock)
	}
	opts.Logger = log.NewComponentLogger(opts.Logger, "quota")
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetricsCollector
	}
	return &Executor{opts: opts}
}

// Signal returns the quota exceeded signal notified by the executor (may be nil).
func (e *Executor) Signal() *Signal {
	return e.opts.Signal
}

// Execute runs op with retries of rate-limited failures.
// On failure, *QueryError is returned and passed to onError (if it's not nil).
func (e *Executor) Execute(
	ctx context.Context, op func(ctx context.Context) error, label string, onError func(err *QueryError),
) error {
	logger := e.opts.Logger.With(log.String("query", label))

	ctx = session.WithSingleRefresh(ctx)
	attempts, err := e.runWithRetry(ctx, op, label, logger)
	kind := Classify(err)
	if err != nil && kind == KindAuthExpired && e.opts.SessionProvider != nil && ctx.Err() == nil &&
		session.TryAcquireRefresh(ctx) {
		if _, refreshErr := session.Refresh(ctx, e.opts.SessionProvider, e.opts.Clock.Now); refreshErr != nil {
			logger.Error("session refresh failed", log.Error(refreshErr))
			err, kind = refreshErr, KindAuthExpired
		} else {
			logger.Info("session refreshed, retrying query")
			var moreAttempts int
			moreAttempts, err = e.runWithRetry(ctx, op, label, logger)
			attempts += moreAttempts
			kind = Classify(err)
		}
	}
	if err == nil {
		return nil
	}

	var retryAfter time.Duration
	if kind == KindRateLimited {
		retryAfter, _ = ParseRetryAfter(err, e.opts.Clock.Now())
		e.opts.MetricsCollector.IncRateLimited(label)
		if e.opts.Signal != nil {
			e.opts.Signal.Set(true, retryAfter)
		}
		logger.Error("query failed because of rate limiting",
			log.Int("attempts", attempts), log.Duration("retry_after", retryAfter), log.Error(err))
	} else {
		logger.Warn("query failed", log.String("kind", kind.String()),
			log.Int("attempts", attempts), log.Error(err))
	}

	qe := newQueryError(label, err, kind, retryAfter, attempts)
	if onError != nil {
		onError(qe)
	}
	return qe
}

func (e *Executor) runWithRetry(
	ctx context.Context, op func(ctx context.Context) error, label string, logger log.FieldLogger,
) (attempts int, err error) {
	notify := func(err error, delay time.Duration) {
		e.opts.MetricsCollector.IncRetries(label)
		logger.Warn("query attempt failed, retrying",
			log.Int("attempt", attempts), log.Duration("delay", delay), log.Error(err))
	}
	err = retry.Executor{
		Policy:      e.opts.Policy,
		IsRetryable: e.opts.IsRetryable,
		Notify:      notify,
		NewTimer:    e.opts.NewTimer,
	}.Do(ctx, func(ctx context.Context) error {
		attempts++
		if e.opts.Timeout <= 0 {
			return op(ctx)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
		return op(attemptCtx)
	})
	return attempts, err
}

// Query runs op by the executor and returns its result. See Executor.Execute for details.
func Query[T any](
	ctx context.Context, e *Executor, op func(ctx context.Context) (T, error), label string, onError func(err *QueryError),
) (T, error) {
	var res T
	err := e.Execute(ctx, func(ctx context.Context) error {
		v, opErr := op(ctx)
		if opErr != nil {
			return opErr
		}
		res = v
		return nil
	}, label, onError)
	return res, err
}
