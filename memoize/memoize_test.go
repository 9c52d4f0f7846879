/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package memoize

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/acronis/go-quotakit/log/logtest"
	"github.com/acronis/go-quotakit/ttlstore"
)

type customer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type failingStore struct {
	ttlstore.Store
	getErr error
	setErr error
}

func (s *failingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	return s.Store.Get(ctx, key)
}

func (s *failingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.setErr != nil {
		return s.setErr
	}
	return s.Store.Set(ctx, key, value, ttl)
}

func newCustomerFetcher(calls *atomic.Int32) Op[string, customer] {
	return func(ctx context.Context, id string) (customer, error) {
		calls.Inc()
		return customer{ID: id, Name: "Customer " + id}, nil
	}
}

func TestFunc_Call(t *testing.T) {
	t.Run("identical arguments within ttl", func(t *testing.T) {
		mockClock := clock.NewMock()
		store := ttlstore.NewMemoryStoreWithOpts(ttlstore.MemoryStoreOptions{Options: ttlstore.Options{Clock: mockClock}})
		calls := atomic.NewInt32(0)
		f := MustWrap(newCustomerFetcher(calls), Options[string]{Store: store, Prefix: "customer", TTL: time.Minute})

		for i := 0; i < 3; i++ {
			c, err := f.Call(context.Background(), "C1")
			require.NoError(t, err)
			require.Equal(t, customer{ID: "C1", Name: "Customer C1"}, c)
		}
		require.Equal(t, int32(1), calls.Load())

		_, err := f.Call(context.Background(), "C2")
		require.NoError(t, err)
		require.Equal(t, int32(2), calls.Load())

		mockClock.Add(time.Minute)
		_, err = f.Call(context.Background(), "C1")
		require.NoError(t, err)
		require.Equal(t, int32(3), calls.Load())
	})

	t.Run("key layout", func(t *testing.T) {
		store := ttlstore.NewMemoryStore()
		calls := atomic.NewInt32(0)
		f := MustWrap(newCustomerFetcher(calls), Options[string]{
			Store:   store,
			Prefix:  "customer",
			KeyFunc: func(id string) (string, error) { return id, nil },
		})
		_, err := f.Call(context.Background(), "C1")
		require.NoError(t, err)

		data, found, err := store.Get(context.Background(), "customer_C1")
		require.NoError(t, err)
		require.True(t, found)
		require.JSONEq(t, `{"id":"C1","name":"Customer C1"}`, string(data))
	})

	t.Run("concurrent identical calls", func(t *testing.T) {
		store := ttlstore.NewMemoryStore()
		calls := atomic.NewInt32(0)
		release := make(chan struct{})
		started := make(chan struct{}, 1)
		f := MustWrap(func(ctx context.Context, id string) (customer, error) {
			calls.Inc()
			started <- struct{}{}
			<-release
			return customer{ID: id}, nil
		}, Options[string]{Store: store, Prefix: "customer"})

		const numCallers = 5
		results := make([]customer, numCallers)
		errs := make([]error, numCallers)
		var wg sync.WaitGroup
		wg.Add(numCallers)
		for i := 0; i < numCallers; i++ {
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = f.Call(context.Background(), "C1")
			}(i)
		}
		<-started
		key, err := f.Key("C1")
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			w, _ := f.group.Waiters(key)
			return w == numCallers-1
		}, 5*time.Second, time.Millisecond)
		close(release)
		wg.Wait()

		require.Equal(t, int32(1), calls.Load())
		for i := range results {
			require.NoError(t, errs[i])
			require.Equal(t, customer{ID: "C1"}, results[i])
		}
	})

	t.Run("failures are not memoized", func(t *testing.T) {
		store := ttlstore.NewMemoryStore()
		calls := 0
		remoteErr := errors.New("remote failed")
		f := MustWrap(func(ctx context.Context, id string) (customer, error) {
			calls++
			if calls == 1 {
				return customer{}, remoteErr
			}
			return customer{ID: id}, nil
		}, Options[string]{Store: store, Prefix: "customer"})

		_, err := f.Call(context.Background(), "C1")
		require.ErrorIs(t, err, remoteErr)
		stats, err := store.Stats(context.Background())
		require.NoError(t, err)
		require.Equal(t, 0, stats.Count)

		c, err := f.Call(context.Background(), "C1")
		require.NoError(t, err)
		require.Equal(t, "C1", c.ID)
		require.Equal(t, 2, calls)
	})

	t.Run("store failures are not fatal", func(t *testing.T) {
		logRecorder := logtest.NewRecorder()
		store := &failingStore{
			Store:  ttlstore.NewMemoryStore(),
			getErr: errors.New("read rejected"),
			setErr: ttlstore.ErrStoreFull,
		}
		calls := atomic.NewInt32(0)
		f := MustWrap(newCustomerFetcher(calls), Options[string]{Store: store, Prefix: "customer", Logger: logRecorder})

		for i := 0; i < 2; i++ {
			c, err := f.Call(context.Background(), "C1")
			require.NoError(t, err)
			require.Equal(t, "C1", c.ID)
		}
		require.Equal(t, int32(2), calls.Load())
		_, found := logRecorder.FindEntry("[memoize] failed to store result")
		require.True(t, found)
		_, found = logRecorder.FindEntry("[memoize] failed to read from store, treating as miss")
		require.True(t, found)
	})

	t.Run("undecodable stored value is a miss", func(t *testing.T) {
		store := ttlstore.NewMemoryStore()
		calls := atomic.NewInt32(0)
		f := MustWrap(newCustomerFetcher(calls), Options[string]{Store: store, Prefix: "customer"})
		key, err := f.Key("C1")
		require.NoError(t, err)
		require.NoError(t, store.Set(context.Background(), key, []byte("garbage"), time.Minute))

		c, err := f.Call(context.Background(), "C1")
		require.NoError(t, err)
		require.Equal(t, "C1", c.ID)
		require.Equal(t, int32(1), calls.Load())
	})
}

func TestFunc_Invalidate(t *testing.T) {
	ctx := context.Background()
	store := ttlstore.NewMemoryStore()
	calls := atomic.NewInt32(0)
	f := MustWrap(newCustomerFetcher(calls), Options[string]{Store: store, Prefix: "customer"})
	require.NoError(t, store.Set(ctx, "invoice_I1", []byte(`{}`), time.Minute))

	for _, id := range []string{"C1", "C2"} {
		_, err := f.Call(ctx, id)
		require.NoError(t, err)
	}

	require.NoError(t, f.Invalidate(ctx, "C1"))
	_, err := f.Call(ctx, "C1")
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())

	removed, err := f.InvalidateAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	_, found, err := store.Get(ctx, "invoice_I1")
	require.NoError(t, err)
	require.True(t, found)
}

func TestWrap_InvalidOptions(t *testing.T) {
	op := func(ctx context.Context, id string) (int, error) { return 0, nil }
	_, err := Wrap[string, int](nil, Options[string]{Store: ttlstore.NewMemoryStore(), Prefix: "p"})
	require.Error(t, err)
	_, err = Wrap(op, Options[string]{Prefix: "p"})
	require.Error(t, err)
	_, err = Wrap(op, Options[string]{Store: ttlstore.NewMemoryStore()})
	require.Error(t, err)
	_, err = Wrap(op, Options[string]{Store: ttlstore.NewMemoryStore(), Prefix: "p", TTL: -time.Second})
	require.Error(t, err)
}

func TestWithCache(t *testing.T) {
	calls := atomic.NewInt32(0)
	cached, err := WithCache(newCustomerFetcher(calls), Options[string]{Store: ttlstore.NewMemoryStore(), Prefix: "customer"})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = cached(context.Background(), "C1")
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), calls.Load())
}

func TestFunc_Call_Cancellation(t *testing.T) {
	t.Run("canceled caller doesn't fail joined callers", func(t *testing.T) {
		started := make(chan struct{})
		release := make(chan struct{})
		var loadCtx context.Context
		f := MustWrap(func(ctx context.Context, id string) (customer, error) {
			loadCtx = ctx
			close(started)
			select {
			case <-release:
				return customer{ID: id}, nil
			case <-ctx.Done():
				return customer{}, ctx.Err()
			}
		}, Options[string]{Store: ttlstore.NewMemoryStore(), Prefix: "customer"})
		key, err := f.Key("C1")
		require.NoError(t, err)

		firstCtx, cancelFirst := context.WithCancel(context.Background())
		defer cancelFirst()
		firstDone := make(chan error, 1)
		go func() {
			_, callErr := f.Call(firstCtx, "C1")
			firstDone <- callErr
		}()
		<-started

		secondDone := make(chan error, 1)
		var second customer
		go func() {
			var callErr error
			second, callErr = f.Call(context.Background(), "C1")
			secondDone <- callErr
		}()
		require.Eventually(t, func() bool {
			n, ok := f.group.Waiters(key)
			return ok && n == 1
		}, time.Second, time.Millisecond)

		cancelFirst()
		require.Never(t, func() bool { return loadCtx.Err() != nil }, 50*time.Millisecond, 5*time.Millisecond)

		close(release)
		require.NoError(t, <-secondDone)
		require.Equal(t, "C1", second.ID)
		require.NoError(t, <-firstDone)
	})

	t.Run("execution is canceled when all callers are gone", func(t *testing.T) {
		started := make(chan struct{})
		f := MustWrap(func(ctx context.Context, id string) (customer, error) {
			close(started)
			<-ctx.Done()
			return customer{}, ctx.Err()
		}, Options[string]{Store: ttlstore.NewMemoryStore(), Prefix: "customer"})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			_, callErr := f.Call(ctx, "C1")
			done <- callErr
		}()
		<-started
		cancel()

		select {
		case err := <-done:
			require.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			require.FailNow(t, "call is not finished after cancellation")
		}
		f.loadsMu.Lock()
		defer f.loadsMu.Unlock()
		require.Empty(t, f.loads)
	})
}
