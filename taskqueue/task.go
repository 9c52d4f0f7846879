/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package taskqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
)

// Task is a unit of work to be executed by Queue.
type Task struct {
	// Type is used for grouping statistics and metrics (e.g. "lookup", "fetch").
	Type string

	// Priority defines the scheduling order. A task with a higher priority is started sooner.
	Priority int

	// Work does the job. A returned error leads to a retry after a delay while the retry budget is not exhausted.
	Work func(ctx context.Context) error
}

// State is a state of the task.
type State int

// Task states.
const (
	StatePending State = iota
	StateRunning
	StateRetrying
	StateCompleted
	StateFailed
	StateCleared
)

var stateNames = map[State]string{
	StatePending:   "pending",
	StateRunning:   "running",
	StateRetrying:  "retrying",
	StateCompleted: "completed",
	StateFailed:    "failed",
	StateCleared:   "cleared",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the task will not change its state anymore.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCleared
}

// Outcome is a snapshot of the task state.
type Outcome struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Priority   int       `json:"priority"`
	State      State     `json:"state"`
	Attempts   int       `json:"attempts"`
	Err        error     `json:"-"`
	ErrMessage string    `json:"error,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	StartedAt  time.Time `json:"startedAt,omitempty"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// Handle allows waiting for the task result.
type Handle struct {
	id   string
	done chan struct{}
	err  error
}

// ID returns the unique identifier of the task.
func (h *Handle) ID() string {
	return h.id
}

// Done returns a channel which is closed when the task reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the result of the task. It's valid only after Done is closed.
func (h *Handle) Err() error {
	return h.err
}

// Wait blocks until the task reaches a terminal state or ctx is done.
// The returned error is nil for a completed task, ErrCleared or ErrQueueClosed for a rejected one,
// *TaskError for a failed one, or ctx.Err().
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type task struct {
	Task
	id         string
	seq        uint64
	state      State
	attempts   int
	backOff    backoff.BackOff
	lastErr    error
	enqueuedAt time.Time
	startedAt  time.Time
	finishedAt time.Time
	retryTimer *clock.Timer
	heapIndex  int
	handle     *Handle
}

func (t *task) outcome() Outcome {
	o := Outcome{
		ID:         t.id,
		Type:       t.Type,
		Priority:   t.Priority,
		State:      t.state,
		Attempts:   t.attempts,
		EnqueuedAt: t.enqueuedAt,
		StartedAt:  t.startedAt,
		FinishedAt: t.finishedAt,
	}
	if t.state.Terminal() {
		o.Err = t.handle.err
	} else {
		o.Err = t.lastErr
	}
	if o.Err != nil {
		o.ErrMessage = o.Err.Error()
	}
	return o
}

// taskHeap implements heap.Interface. Higher priority goes first, then lower arrival sequence.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *taskHeap) Push(x interface{}) {
	t := x.(*task)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}

// history keeps outcomes of the finished tasks. The oldest outcome is dropped when the size limit is reached.
type history struct {
	size     int
	order    []string
	outcomes map[string]Outcome
}

func newHistory(size int) *history {
	return &history{size: size, outcomes: make(map[string]Outcome)}
}

func (h *history) add(o Outcome) {
	if h.size <= 0 {
		return
	}
	if len(h.order) >= h.size {
		delete(h.outcomes, h.order[0])
		h.order = h.order[1:]
	}
	h.order = append(h.order, o.ID)
	h.outcomes[o.ID] = o
}

func (h *history) get(id string) (Outcome, bool) {
	o, ok := h.outcomes[id]
	return o, ok
}
