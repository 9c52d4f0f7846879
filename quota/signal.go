/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package quota

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// State is a snapshot of the quota exceeded signal.
type State struct {
	Active bool

	// RetryAfter is the hint provided with the last Set call. Zero means the hint is unknown.
	RetryAfter time.Duration

	// SetAt is the moment of the last change.
	SetAt time.Time
}

// Until returns the moment after which the next attempt is expected to succeed.
// It's zero if the signal is not active or the hint is unknown.
func (s State) Until() time.Time {
	if !s.Active || s.RetryAfter <= 0 {
		return time.Time{}
	}
	return s.SetAt.Add(s.RetryAfter)
}

// Remaining returns the remaining cooldown at the given moment.
func (s State) Remaining(now time.Time) time.Duration {
	until := s.Until()
	if until.IsZero() || !now.Before(until) {
		return 0
	}
	return until.Sub(now)
}

// SignalOpts represents options for Signal.
type SignalOpts struct {
	// Clock is used for timestamps. Default is the real-time clock.
	Clock clock.Clock

	// MetricsCollector receives cooldown changes.
	MetricsCollector MetricsCollector
}

// Signal is an observable "quota exceeded" state shared by reference between executors and subscribers.
// Notifications are fire-and-forget: every Set overwrites the previous state,
// and a subscriber which hasn't consumed the previous state gets only the latest one.
type Signal struct {
	clock   clock.Clock
	metrics MetricsCollector

	mu     sync.Mutex
	state  State
	subs   map[uint64]chan State
	nextID uint64
}

// NewSignal creates a new inactive Signal.
func NewSignal() *Signal {
	return NewSignalWithOpts(SignalOpts{})
}

// NewSignalWithOpts creates a new inactive Signal with options.
func NewSignalWithOpts(opts SignalOpts) *Signal {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetricsCollector
	}
	return &Signal{clock: opts.Clock, metrics: opts.MetricsCollector, subs: make(map[uint64]chan State)}
}

// Set changes the state of the signal. A zero retryAfter means the hint is unknown.
// Set(false, ...) is equivalent to Clear.
func (s *Signal) Set(active bool, retryAfter time.Duration) {
	if !active || retryAfter < 0 {
		retryAfter = 0
	}
	s.publish(State{Active: active, RetryAfter: retryAfter, SetAt: s.clock.Now()})
}

// Clear deactivates the signal.
func (s *Signal) Clear() {
	s.Set(false, 0)
}

// State returns the current state.
func (s *Signal) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe returns a channel which receives every state change and the function to stop the subscription.
// The current state is delivered immediately.
func (s *Signal) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	ch <- s.state
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Signal) publish(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	s.metrics.SetCooldown(st.Active, st.RetryAfter)
	for _, ch := range s.subs {
		select {
		case ch <- st:
		default:
			// Replace the unconsumed state with the latest one.
			select {
			case <-ch:
			default:
			}
			ch <- st
		}
	}
}
