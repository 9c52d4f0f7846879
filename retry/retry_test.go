/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

var (
	errRetryable = errors.New("too many requests")
	errFatal     = errors.New("validation failed")
)

func isRetryableTestErr(err error) bool {
	return errors.Is(err, errRetryable)
}

type recordingTimer struct {
	delays []time.Duration
	c      chan time.Time
}

func newRecordingTimer() *recordingTimer {
	return &recordingTimer{c: make(chan time.Time, 1)}
}

func (t *recordingTimer) Start(d time.Duration) {
	t.delays = append(t.delays, d)
	t.c <- time.Time{}
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time {
	return t.c
}

func (t *recordingTimer) factory() func() backoff.Timer {
	return func() backoff.Timer { return t }
}

func TestExecutor_Do(t *testing.T) {
	const base = 100 * time.Millisecond

	t.Run("retryable failures then success", func(t *testing.T) {
		const failures = 3
		timer := newRecordingTimer()
		e := Executor{
			Policy:      JitteredExponentialBackoffPolicy{BaseInterval: base},
			IsRetryable: isRetryableTestErr,
			NewTimer:    timer.factory(),
		}
		attempts := 0
		err := e.Do(context.Background(), func(ctx context.Context) error {
			attempts++
			if attempts <= failures {
				return errRetryable
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, failures+1, attempts)
		require.Len(t, timer.delays, failures)
		for i, d := range timer.delays {
			expected := base << i
			require.GreaterOrEqual(t, d, expected)
			require.Less(t, d, expected+expected/10)
			if i > 0 {
				require.GreaterOrEqual(t, d, timer.delays[i-1])
			}
		}
	})

	t.Run("non-retryable failure consumes no retry", func(t *testing.T) {
		timer := newRecordingTimer()
		e := Executor{IsRetryable: isRetryableTestErr, NewTimer: timer.factory()}
		attempts := 0
		err := e.Do(context.Background(), func(ctx context.Context) error {
			attempts++
			return errFatal
		})
		require.ErrorIs(t, err, errFatal)
		require.Equal(t, 1, attempts)
		require.Empty(t, timer.delays)
	})

	t.Run("exhausts default attempts", func(t *testing.T) {
		timer := newRecordingTimer()
		var notified []time.Duration
		e := Executor{
			Policy:      JitteredExponentialBackoffPolicy{BaseInterval: base, Rand: func() float64 { return 0 }},
			IsRetryable: isRetryableTestErr,
			Notify: func(err error, d time.Duration) {
				require.ErrorIs(t, err, errRetryable)
				notified = append(notified, d)
			},
			NewTimer: timer.factory(),
		}
		attempts := 0
		err := e.Do(context.Background(), func(ctx context.Context) error {
			attempts++
			return errRetryable
		})
		require.ErrorIs(t, err, errRetryable)
		require.Equal(t, DefaultMaxAttempts, attempts)
		require.Equal(t, []time.Duration{base, 2 * base, 4 * base, 8 * base, 16 * base}, timer.delays)
		require.Equal(t, timer.delays, notified)
	})

	t.Run("context canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		e := Executor{NewTimer: newRecordingTimer().factory()}
		attempts := 0
		err := e.Do(ctx, func(ctx context.Context) error {
			attempts++
			cancel()
			return errRetryable
		})
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 1, attempts)
	})
}

func TestJitteredExponentialBackoffPolicy(t *testing.T) {
	t.Run("max interval", func(t *testing.T) {
		p := JitteredExponentialBackoffPolicy{BaseInterval: time.Second, MaxInterval: 5 * time.Second}
		require.Equal(t, time.Second, p.Delay(0))
		require.Equal(t, 4*time.Second, p.Delay(2))
		require.Equal(t, 5*time.Second, p.Delay(3))
		require.Equal(t, 5*time.Second, p.Delay(100))
	})

	t.Run("jitter bounds", func(t *testing.T) {
		p := JitteredExponentialBackoffPolicy{BaseInterval: time.Second, MaxAttempts: 3, Rand: func() float64 { return 0.999 }}
		b := p.NewBackOff()
		d := b.NextBackOff()
		require.Greater(t, d, time.Second)
		require.Less(t, d, 1100*time.Millisecond)
		d = b.NextBackOff()
		require.Greater(t, d, 2*time.Second)
		require.Less(t, d, 2200*time.Millisecond)
		require.Equal(t, time.Duration(-1), b.NextBackOff())
		b.Reset()
		require.Greater(t, b.NextBackOff(), time.Second)
	})

	t.Run("jitter disabled", func(t *testing.T) {
		b := JitteredExponentialBackoffPolicy{BaseInterval: time.Second, JitterFactor: -1}.NewBackOff()
		require.Equal(t, time.Second, b.NextBackOff())
		require.Equal(t, 2*time.Second, b.NextBackOff())
	})
}

func TestWithRetry(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context, id string) (string, error) {
		calls++
		if calls == 1 {
			return "", errRetryable
		}
		return "entity " + id, nil
	}
	wrapped := WithRetry(fetch, Executor{IsRetryable: isRetryableTestErr, NewTimer: newRecordingTimer().factory()})
	res, err := wrapped(context.Background(), "C1")
	require.NoError(t, err)
	require.Equal(t, "entity C1", res)
	require.Equal(t, 2, calls)
}

func TestDoWithRetry(t *testing.T) {
	attempts := 0
	err := DoWithRetry(context.Background(), NewConstantBackoffPolicy(time.Millisecond, 2), nil, nil,
		func(ctx context.Context) error {
			attempts++
			return errFatal
		})
	require.ErrorIs(t, err, errFatal)
	require.Equal(t, 3, attempts)

	attempts = 0
	err = DoWithRetry(context.Background(), NewExponentialBackoffPolicy(time.Millisecond, 5), isRetryableTestErr, nil,
		func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return errRetryable
			}
			return nil
		})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestNewClockTimer(t *testing.T) {
	mock := clock.NewMock()
	e := Executor{
		Policy:      JitteredExponentialBackoffPolicy{BaseInterval: time.Second, MaxAttempts: 3, JitterFactor: -1},
		IsRetryable: isRetryableTestErr,
		NewTimer:    NewClockTimerFunc(mock),
	}
	attempts := atomic.NewInt32(0)
	done := make(chan error, 1)
	go func() {
		done <- e.Do(context.Background(), func(ctx context.Context) error {
			attempts.Inc()
			return errRetryable
		})
	}()

	require.Eventually(t, func() bool {
		select {
		case err := <-done:
			require.ErrorIs(t, err, errRetryable)
			return true
		default:
			mock.Add(time.Second)
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(3), attempts.Load())
}

func TestWithRetry_ConcurrentCalls(t *testing.T) {
	const callsNum = 20
	fetch := func(ctx context.Context, attempts *atomic.Int32) (int32, error) {
		if attempts.Inc() == 1 {
			return 0, errRetryable
		}
		return attempts.Load(), nil
	}
	wrapped := WithRetry(fetch, Executor{
		Policy:   NewConstantBackoffPolicy(time.Millisecond, 3),
		NewTimer: NewClockTimerFunc(clock.New()),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var eg errgroup.Group
	for i := 0; i < callsNum; i++ {
		eg.Go(func() error {
			res, err := wrapped(ctx, atomic.NewInt32(0))
			if err != nil {
				return err
			}
			require.Equal(t, int32(2), res)
			return nil
		})
	}
	require.NoError(t, eg.Wait())
}
