/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package dedup collapses concurrent calls with the same key into a single execution.
//
// Unlike a cache, a Group keeps nothing once a call settles:
// the key is removed right before the waiting callers are resumed,
// so the next call with the same key starts a new execution.
package dedup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/atomic"
)

// ErrGoexit is returned to waiters when the executing goroutine calls runtime.Goexit.
var ErrGoexit = errors.New("runtime.Goexit was called")

type call[V any] struct {
	done    chan struct{}
	waiters atomic.Int32
	val     V
	err     error
}

// Group represents a class of work and forms a namespace in which
// units of work can be executed with duplicate suppression.
// The zero value is ready to use.
type Group[K comparable, V any] struct {
	mu    sync.Mutex
	calls map[K]*call[V]
}

// Do executes fn and returns its results, making sure that only one execution
// is in-flight for a given key at a time. If a duplicate comes in, the duplicate caller
// waits for the original one to complete and receives the same results (shared is true then).
//
// A waiting caller stops waiting when its ctx is done, the execution itself is not affected.
// If fn panics, the panic is propagated on the executing goroutine and waiters receive *PanicError.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (val V, shared bool, err error) {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[K]*call[V])
	}
	if c, ok := g.calls[key]; ok {
		c.waiters.Inc()
		g.mu.Unlock()
		defer c.waiters.Dec()
		select {
		case <-c.done:
			return c.val, true, c.err
		case <-ctx.Done():
			return val, true, ctx.Err()
		}
	}
	c := &call[V]{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	val, err = g.doCall(c, key, fn)
	return val, false, err
}

func (g *Group[K, V]) doCall(c *call[V], key K, fn func() (V, error)) (val V, err error) {
	normalReturn := false
	recovered := false

	// double-defer to distinguish panic from runtime.Goexit
	defer func() {
		if !normalReturn && !recovered {
			c.err = ErrGoexit
		}

		g.mu.Lock()
		delete(g.calls, key)
		g.mu.Unlock()
		close(c.done)

		if recovered {
			panic(c.err.(*PanicError).Value) // re-panic on the same goroutine
		}

		val, err = c.val, c.err
	}()

	defer func() {
		if !normalReturn {
			if v := recover(); v != nil {
				c.err = newPanicError(v)
				recovered = true
			}
		}
	}()
	c.val, c.err = fn()
	normalReturn = true

	return c.val, c.err // will be set in the defer
}

// InFlight returns the number of keys being executed right now.
func (g *Group[K, V]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// Waiters returns the number of duplicate callers waiting for the in-flight execution of the key.
// The second result is false if there is no in-flight execution for the key.
func (g *Group[K, V]) Waiters(key K) (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.calls[key]
	if !ok {
		return 0, false
	}
	return int(c.waiters.Load()), true
}

// PanicError is an error that represents a panic value and stack trace.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("%v\n\n%s", p.Value, p.Stack)
}

// Unwrap returns the panic value if it's an error.
func (p *PanicError) Unwrap() error {
	err, ok := p.Value.(error)
	if !ok {
		return nil
	}
	return err
}

func newPanicError(v interface{}) error {
	stack := debug.Stack()

	// The first line of the stack trace is of the form "goroutine N [status]:"
	// but by the time the panic reaches Do the goroutine may no longer exist
	// and its status will have changed. Trim out the misleading line.
	if line := bytes.IndexByte(stack, '\n'); line >= 0 {
		stack = stack[line+1:]
	}
	return &PanicError{Value: v, Stack: stack}
}
