/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package taskqueue

import (
	"errors"
	"fmt"
)

var (
	// ErrCleared is returned for a task which was removed from the queue by Queue.Clear before it has run to the end.
	ErrCleared = errors.New("task cleared from the queue")

	// ErrQueueFull is returned by Queue.Enqueue when the number of waiting tasks has reached the limit.
	ErrQueueFull = errors.New("queue is full")

	// ErrQueueClosed is returned by Queue.Enqueue after Queue.Close and for the tasks rejected by Queue.Close.
	ErrQueueClosed = errors.New("queue is closed")
)

// TaskError is returned for a task that has exhausted its retry budget.
type TaskError struct {
	TaskID   string
	TaskType string
	Attempts int
	Inner    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s of type %q failed after %d attempt(s): %v", e.TaskID, e.TaskType, e.Attempts, e.Inner)
}

// Unwrap returns the next error in the error chain.
func (e *TaskError) Unwrap() error {
	return e.Inner
}

// PanicError is the failure of a task whose work function panicked.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}
