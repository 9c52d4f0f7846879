/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package quota

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSignal(t *testing.T) {
	t.Run("set and clear", func(t *testing.T) {
		mockClock := clock.NewMock()
		s := NewSignalWithOpts(SignalOpts{Clock: mockClock})
		require.Equal(t, State{}, s.State())

		s.Set(true, 30*time.Second)
		state := s.State()
		require.True(t, state.Active)
		require.Equal(t, 30*time.Second, state.RetryAfter)
		require.Equal(t, mockClock.Now(), state.SetAt)
		require.Equal(t, mockClock.Now().Add(30*time.Second), state.Until())

		mockClock.Add(10 * time.Second)
		require.Equal(t, 20*time.Second, state.Remaining(mockClock.Now()))
		mockClock.Add(time.Minute)
		require.Zero(t, state.Remaining(mockClock.Now()))

		s.Clear()
		state = s.State()
		require.False(t, state.Active)
		require.Zero(t, state.RetryAfter)
		require.True(t, state.Until().IsZero())
	})

	t.Run("unknown hint", func(t *testing.T) {
		s := NewSignal()
		s.Set(true, -time.Second)
		state := s.State()
		require.True(t, state.Active)
		require.Zero(t, state.RetryAfter)
		require.True(t, state.Until().IsZero())
	})

	t.Run("inactive state drops the hint", func(t *testing.T) {
		s := NewSignal()
		s.Set(false, time.Minute)
		require.Equal(t, time.Duration(0), s.State().RetryAfter)
	})

	t.Run("subscriber receives current state immediately", func(t *testing.T) {
		s := NewSignal()
		s.Set(true, 5*time.Second)
		ch, cancel := s.Subscribe()
		defer cancel()
		st := <-ch
		require.True(t, st.Active)
		require.Equal(t, 5*time.Second, st.RetryAfter)
	})

	t.Run("slow subscriber gets the latest state", func(t *testing.T) {
		s := NewSignal()
		ch, cancel := s.Subscribe()
		defer cancel()

		s.Set(true, time.Second)
		s.Set(true, 2*time.Second)
		s.Set(true, 3*time.Second)

		st := <-ch
		require.Equal(t, 3*time.Second, st.RetryAfter)
		select {
		case st = <-ch:
			t.Fatalf("unexpected state %+v", st)
		default:
		}
	})

	t.Run("every subscriber is notified", func(t *testing.T) {
		s := NewSignal()
		ch1, cancel1 := s.Subscribe()
		defer cancel1()
		ch2, cancel2 := s.Subscribe()
		defer cancel2()
		<-ch1
		<-ch2

		s.Set(true, time.Minute)
		require.True(t, (<-ch1).Active)
		require.True(t, (<-ch2).Active)
	})

	t.Run("cancel closes the channel", func(t *testing.T) {
		s := NewSignal()
		ch, cancel := s.Subscribe()
		<-ch
		cancel()
		cancel()
		_, ok := <-ch
		require.False(t, ok)
		s.Set(true, time.Second) // must not panic on the closed channel
	})

	t.Run("metrics", func(t *testing.T) {
		promMetrics := NewPrometheusMetrics()
		s := NewSignalWithOpts(SignalOpts{MetricsCollector: promMetrics})
		s.Set(true, 90*time.Second)
		require.Equal(t, 1.0, testutil.ToFloat64(promMetrics.CooldownActive))
		require.Equal(t, 90.0, testutil.ToFloat64(promMetrics.CooldownRetryAfter))
		s.Clear()
		require.Equal(t, 0.0, testutil.ToFloat64(promMetrics.CooldownActive))
		require.Equal(t, 0.0, testutil.ToFloat64(promMetrics.CooldownRetryAfter))
	})
}
