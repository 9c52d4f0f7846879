/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package taskqueue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/xid"
	"go.uber.org/atomic"

	"github.com/acronis/go-quotakit/log"
	"github.com/acronis/go-quotakit/retry"
)

// Default values of the queue options.
const (
	DefaultName          = "default"
	DefaultMaxConcurrent = 3
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = time.Second
	DefaultHistorySize   = 1000
)

// Options represents options for Queue.
type Options struct {
	// Name identifies the queue in logs, metrics and diagnostics. Default is DefaultName.
	Name string

	// MaxConcurrent is the maximum number of simultaneously running tasks. Default is DefaultMaxConcurrent.
	MaxConcurrent int

	// MaxRetries is the maximum number of retries of a failed task. Default is DefaultMaxRetries.
	// Negative value disables retries.
	MaxRetries int

	// RetryDelay is a flat delay before a failed task returns to the pending set. Default is DefaultRetryDelay.
	RetryDelay time.Duration

	// RetryPolicy overrides MaxRetries and RetryDelay if it's set.
	RetryPolicy retry.Policy

	// MaxPending limits the number of pending and retrying tasks. Zero means no limit.
	MaxPending int

	// TaskTimeout limits every attempt of a task. Zero means no timeout.
	TaskTimeout time.Duration

	// HistorySize is the number of finished tasks whose outcomes are kept for Queue.Outcome.
	// Default is DefaultHistorySize, negative value disables the history.
	HistorySize int

	// Clock is used for retry delays, timeouts and execution time measurement. Default is the real-time clock.
	Clock clock.Clock

	// Logger is used for logging task failures and queue lifecycle events.
	Logger log.FieldLogger

	// MetricsCollector collects metrics of the queue.
	MetricsCollector MetricsCollector
}

// Queue executes the enqueued tasks so that no more than MaxConcurrent of them run at the same time.
type Queue struct {
	opts        Options
	retryPolicy retry.Policy
	logger      log.FieldLogger
	metrics     MetricsCollector

	mu       sync.Mutex
	pending  taskHeap
	retrying map[string]*task
	live     map[string]*task
	running  int
	nextSeq  uint64
	closed   bool
	history  *history
	totals   counters
	byType   map[string]*counters

	peakRunning atomic.Int64
	runningWG   sync.WaitGroup
}

type counters struct {
	enqueued  int
	completed int
	failed    int
	cleared   int
	execTotal time.Duration
}

func (c *counters) avgExecutionMillis() float64 {
	if c.completed == 0 {
		return 0
	}
	return float64(c.execTotal.Microseconds()) / 1000 / float64(c.completed)
}

// New creates a new Queue with default options.
func New() *Queue {
	return NewWithOpts(Options{})
}

// NewWithOpts creates a new Queue with the given options.
func NewWithOpts(opts Options) *Queue {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.HistorySize == 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetricsCollector
	}

	retryPolicy := opts.RetryPolicy
	if retryPolicy == nil {
		if opts.MaxRetries < 0 {
			retryPolicy = retry.PolicyFunc(func() backoff.BackOff { return &backoff.StopBackOff{} })
		} else {
			retryPolicy = retry.NewConstantBackoffPolicy(opts.RetryDelay, opts.MaxRetries)
		}
	}

	return &Queue{
		opts:        opts,
		retryPolicy: retryPolicy,
		logger:      log.NewComponentLogger(opts.Logger, opts.Name),
		metrics:     opts.MetricsCollector,
		retrying:    make(map[string]*task),
		live:        make(map[string]*task),
		history:     newHistory(opts.HistorySize),
		byType:      make(map[string]*counters),
	}
}

// Name returns the name of the queue.
func (q *Queue) Name() string {
	return q.opts.Name
}

// Enqueue adds the task to the queue and starts it as soon as a slot is free.
func (q *Queue) Enqueue(t Task) (*Handle, error) {
	if t.Work == nil {
		return nil, errors.New("task work function is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}
	if q.opts.MaxPending > 0 && len(q.pending)+len(q.retrying) >= q.opts.MaxPending {
		q.logger.Warn("task rejected, queue is full", log.String("task_type", t.Type))
		return nil, ErrQueueFull
	}

	qt := &task{
		Task:       t,
		id:         xid.New().String(),
		seq:        q.nextSeq,
		state:      StatePending,
		backOff:    q.retryPolicy.NewBackOff(),
		enqueuedAt: q.opts.Clock.Now(),
	}
	qt.handle = &Handle{id: qt.id, done: make(chan struct{})}
	q.nextSeq++

	q.live[qt.id] = qt
	heap.Push(&q.pending, qt)
	q.totals.enqueued++
	q.typeCounters(t.Type).enqueued++
	q.metrics.IncEnqueued(t.Type)
	q.logger.Debug("task enqueued", log.String("task_id", qt.id), log.String("task_type", t.Type), log.Int("priority", t.Priority))

	q.schedule()
	return qt.handle, nil
}

// Outcome returns the state of the task with the given ID.
// Outcomes of finished tasks are available while they are kept in the bounded history.
func (q *Queue) Outcome(id string) (Outcome, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.live[id]; ok {
		return t.outcome(), true
	}
	return q.history.get(id)
}

// Clear rejects every pending task (including the ones waiting for a retry) with ErrCleared
// and returns their number. Running tasks are not affected.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.rejectWaiting(ErrCleared)
	if n > 0 {
		q.logger.Info("queue cleared", log.Int("cleared", n))
	}
	return n
}

// Close stops accepting new tasks, rejects the pending ones with ErrQueueClosed
// and waits until the running tasks finish or ctx is done.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		n := q.rejectWaiting(ErrQueueClosed)
		q.logger.Info("queue closed", log.Int("rejected", n), log.Int("running", q.running))
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.runningWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns statistics of the queue.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{
		Name:                   q.opts.Name,
		MaxConcurrent:          q.opts.MaxConcurrent,
		TotalEnqueued:          q.totals.enqueued,
		Completed:              q.totals.completed,
		Failed:                 q.totals.failed,
		Cleared:                q.totals.cleared,
		PeakRunning:            int(q.peakRunning.Load()),
		AverageExecutionMillis: q.totals.avgExecutionMillis(),
		ByType:                 make(map[string]TypeStats, len(q.byType)),
	}
	for typ, c := range q.byType {
		stats.ByType[typ] = TypeStats{
			Enqueued:               c.enqueued,
			Completed:              c.completed,
			Failed:                 c.failed,
			Cleared:                c.cleared,
			AverageExecutionMillis: c.avgExecutionMillis(),
		}
	}
	for _, t := range q.live {
		ts := stats.ByType[t.Type]
		switch t.state {
		case StatePending:
			stats.Pending++
			ts.Pending++
		case StateRunning:
			stats.Running++
			ts.Running++
		case StateRetrying:
			stats.Retrying++
			ts.Retrying++
		}
		stats.ByType[t.Type] = ts
	}
	return stats
}

// PeakRunning returns the maximum number of simultaneously running tasks observed so far.
func (q *Queue) PeakRunning() int {
	return int(q.peakRunning.Load())
}

// schedule starts pending tasks while there are free slots. q.mu must be held.
func (q *Queue) schedule() {
	for q.running < q.opts.MaxConcurrent && len(q.pending) > 0 {
		t := heap.Pop(&q.pending).(*task)
		t.state = StateRunning
		t.attempts++
		t.startedAt = q.opts.Clock.Now()
		q.running++
		if int64(q.running) > q.peakRunning.Load() {
			q.peakRunning.Store(int64(q.running))
		}
		q.runningWG.Add(1)
		go q.run(t)
	}
	q.updateGauges()
}

func (q *Queue) run(t *task) {
	defer q.runningWG.Done()

	err := q.execute(t)

	q.mu.Lock()
	defer q.mu.Unlock()

	q.running--
	q.updateGauges()
	logger := q.logger.With(log.String("task_id", t.id), log.String("task_type", t.Type), log.Int("attempt", t.attempts))

	if err == nil {
		elapsed := q.opts.Clock.Since(t.startedAt)
		q.totals.execTotal += elapsed
		q.typeCounters(t.Type).execTotal += elapsed
		q.metrics.IncCompleted(t.Type, elapsed)
		logger.Debug("task completed", log.DurationIn(elapsed, time.Millisecond))
		q.finish(t, StateCompleted, nil)
		q.schedule()
		return
	}

	t.lastErr = err
	delay := backoff.Stop
	if !q.closed {
		delay = t.backOff.NextBackOff()
	}
	if delay == backoff.Stop {
		q.metrics.IncFailed(t.Type)
		logger.Error("task failed", log.Error(err))
		q.finish(t, StateFailed, &TaskError{TaskID: t.id, TaskType: t.Type, Attempts: t.attempts, Inner: err})
		q.schedule()
		return
	}

	t.state = StateRetrying
	q.retrying[t.id] = t
	q.metrics.IncRetried(t.Type)
	logger.Warn("task failed, retrying", log.Duration("delay", delay), log.Error(err))
	t.retryTimer = q.opts.Clock.AfterFunc(delay, func() { q.requeue(t) })
	q.schedule()
}

func (q *Queue) execute(t *task) (err error) {
	ctx := context.Background()
	if q.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = q.opts.Clock.WithTimeout(ctx, q.opts.TaskTimeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			q.logger.Error("task panicked", log.String("task_id", t.id), log.String("task_type", t.Type), log.Any("panic", p))
			err = &PanicError{Value: p}
		}
	}()
	return t.Work(ctx)
}

func (q *Queue) requeue(t *task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.retrying[t.id] != t {
		return // cleared while waiting for the retry
	}
	delete(q.retrying, t.id)
	t.retryTimer = nil
	t.state = StatePending
	heap.Push(&q.pending, t)
	q.schedule()
}

// rejectWaiting finishes all pending and retrying tasks with the given error. q.mu must be held.
func (q *Queue) rejectWaiting(err error) int {
	n := 0
	for _, t := range q.pending {
		t.heapIndex = -1
		q.finish(t, StateCleared, err)
		n++
	}
	q.pending = nil
	for id, t := range q.retrying {
		if t.retryTimer != nil {
			t.retryTimer.Stop()
		}
		delete(q.retrying, id)
		q.finish(t, StateCleared, err)
		n++
	}
	q.updateGauges()
	return n
}

// finish moves the task to a terminal state and releases its waiters. q.mu must be held.
func (q *Queue) finish(t *task, state State, err error) {
	t.state = state
	t.finishedAt = q.opts.Clock.Now()
	delete(q.live, t.id)

	c := q.typeCounters(t.Type)
	switch state {
	case StateCompleted:
		q.totals.completed++
		c.completed++
	case StateFailed:
		q.totals.failed++
		c.failed++
	case StateCleared:
		q.totals.cleared++
		c.cleared++
		q.metrics.IncCleared(t.Type)
	}

	t.handle.err = err
	close(t.handle.done)
	q.history.add(t.outcome())
}

func (q *Queue) typeCounters(typ string) *counters {
	c, ok := q.byType[typ]
	if !ok {
		c = &counters{}
		q.byType[typ] = c
	}
	return c
}

func (q *Queue) updateGauges() {
	q.metrics.SetPending(len(q.pending) + len(q.retrying))
	q.metrics.SetRunning(q.running)
}
