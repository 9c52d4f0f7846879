/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package memoize turns a function into a memoized one whose results are kept in a ttlstore.Store.
//
// Concurrent calls with the same arguments are collapsed into a single execution (see package dedup),
// so the store prevents duplicate calls across time and deduplication prevents duplicate concurrent calls.
// Store failures never fail a call: a failed read is treated as a miss and a failed write is only logged.
// Failed calls are never memoized.
package memoize

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/acronis/go-quotakit/dedup"
	"github.com/acronis/go-quotakit/log"
	"github.com/acronis/go-quotakit/ttlstore"
)

// DefaultTTL is used when Options.TTL is not set.
const DefaultTTL = time.Hour

// Op is a function that can be memoized.
type Op[A, V any] func(ctx context.Context, args A) (V, error)

// Options represents options for Wrap.
type Options[A any] struct {
	// Store keeps memoized results. Required.
	Store ttlstore.Store

	// Prefix is prepended to every key ("<prefix>_<argsKey>"). Required.
	Prefix string

	// TTL is a time-to-live of memoized results. Default is DefaultTTL.
	TTL time.Duration

	// KeyFunc builds the arguments part of the key. Default is CanonicalKey.
	KeyFunc func(args A) (string, error)

	// Codec converts results for the store. Default is JSONCodec.
	Codec Codec

	// Logger is used for logging store failures and cache hits/misses.
	Logger log.FieldLogger
}

// Func is a memoized function.
type Func[A, V any] struct {
	op     Op[A, V]
	opts   Options[A]
	group  dedup.Group[string, V]
	logger log.FieldLogger

	loadsMu sync.Mutex
	loads   map[string]*sharedLoad
}

// sharedLoad is the context of a deduplicated execution.
// It's canceled when no caller waits for the execution anymore.
type sharedLoad struct {
	ctx    context.Context
	cancel context.CancelFunc
	refs   int
}

// Wrap returns a memoized version of op.
func Wrap[A, V any](op Op[A, V], opts Options[A]) (*Func[A, V], error) {
	if op == nil {
		return nil, errors.New("op must be specified")
	}
	if opts.Store == nil {
		return nil, errors.New("store must be specified")
	}
	if opts.Prefix == "" {
		return nil, errors.New("prefix must be specified")
	}
	if opts.TTL < 0 {
		return nil, errors.New("ttl must be greater than 0")
	}
	if opts.TTL == 0 {
		opts.TTL = DefaultTTL
	}
	if opts.KeyFunc == nil {
		opts.KeyFunc = func(args A) (string, error) { return CanonicalKey(args) }
	}
	if opts.Codec == nil {
		opts.Codec = JSONCodec{}
	}
	logger := log.NewComponentLogger(opts.Logger, "memoize").With(log.String("prefix", opts.Prefix))
	return &Func[A, V]{op: op, opts: opts, logger: logger, loads: make(map[string]*sharedLoad)}, nil
}

// MustWrap is like Wrap but panics on invalid options.
func MustWrap[A, V any](op Op[A, V], opts Options[A]) *Func[A, V] {
	f, err := Wrap(op, opts)
	if err != nil {
		panic(err)
	}
	return f
}

// WithCache wraps op so that its results are memoized according to opts.
func WithCache[A, V any](op Op[A, V], opts Options[A]) (Op[A, V], error) {
	f, err := Wrap(op, opts)
	if err != nil {
		return nil, err
	}
	return f.Call, nil
}

// Key returns the store key for the given arguments.
func (f *Func[A, V]) Key(args A) (string, error) {
	argsKey, err := f.opts.KeyFunc(args)
	if err != nil {
		return "", err
	}
	return MakeKey(f.opts.Prefix, argsKey), nil
}

// Call returns the memoized result for args or calls the underlying function.
//
// Concurrent calls with the same arguments share one execution. It keeps the values of the ctx
// of the call that started it, but it's canceled only when the contexts of all callers are done,
// so a canceled caller doesn't fail the others. The caller that started the execution returns
// when the execution completes.
func (f *Func[A, V]) Call(ctx context.Context, args A) (V, error) {
	key, err := f.Key(args)
	if err != nil {
		f.logger.Warn("failed to build key, calling without memoization", log.Error(err))
		return f.op(ctx, args)
	}

	sl := f.acquireLoad(ctx, key)
	stop := context.AfterFunc(ctx, func() { f.releaseLoad(key, sl) })
	val, _, err := f.group.Do(ctx, key, func() (V, error) {
		return f.load(sl.ctx, key, args)
	})
	if stop() {
		f.releaseLoad(key, sl)
	}
	return val, err
}

func (f *Func[A, V]) acquireLoad(ctx context.Context, key string) *sharedLoad {
	f.loadsMu.Lock()
	defer f.loadsMu.Unlock()
	sl, ok := f.loads[key]
	if !ok {
		loadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		sl = &sharedLoad{ctx: loadCtx, cancel: cancel}
		f.loads[key] = sl
	}
	sl.refs++
	return sl
}

func (f *Func[A, V]) releaseLoad(key string, sl *sharedLoad) {
	f.loadsMu.Lock()
	defer f.loadsMu.Unlock()
	sl.refs--
	if sl.refs > 0 {
		return
	}
	sl.cancel()
	if f.loads[key] == sl {
		delete(f.loads, key)
	}
}

// Invalidate removes the memoized result for args.
func (f *Func[A, V]) Invalidate(ctx context.Context, args A) error {
	key, err := f.Key(args)
	if err != nil {
		return err
	}
	return f.opts.Store.Delete(ctx, key)
}

// InvalidateAll removes all memoized results of this function and returns their number.
func (f *Func[A, V]) InvalidateAll(ctx context.Context) (int, error) {
	return f.opts.Store.ClearPrefix(ctx, f.opts.Prefix+"_")
}

func (f *Func[A, V]) load(ctx context.Context, key string, args A) (V, error) {
	if val, ok := f.lookup(ctx, key); ok {
		return val, nil
	}

	val, err := f.op(ctx, args)
	if err != nil {
		return val, err
	}

	data, err := f.opts.Codec.Marshal(val)
	if err != nil {
		f.logger.Warn("failed to encode result", log.String("key", key), log.Error(err))
		return val, nil
	}
	if err = f.opts.Store.Set(ctx, key, data, f.opts.TTL); err != nil {
		f.logger.Warn("failed to store result", log.String("key", key), log.Error(err))
	}
	return val, nil
}

func (f *Func[A, V]) lookup(ctx context.Context, key string) (val V, ok bool) {
	data, found, err := f.opts.Store.Get(ctx, key)
	if err != nil {
		f.logger.Warn("failed to read from store, treating as miss", log.String("key", key), log.Error(err))
		return val, false
	}
	if !found {
		f.logger.Debug("miss", log.String("key", key))
		return val, false
	}
	if err = f.opts.Codec.Unmarshal(data, &val); err != nil {
		f.logger.Warn("failed to decode stored result, treating as miss", log.String("key", key), log.Error(err))
		var zero V
		return zero, false
	}
	f.logger.Debug("hit", log.String("key", key))
	return val, true
}
