/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package ttlstore

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/pebble/v2/vfs"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-quotakit/testutil"
)

type storeFactory func(t *testing.T, opts Options) Store

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, opts Options) Store {
			return NewMemoryStoreWithOpts(MemoryStoreOptions{Options: opts})
		},
		"pebble": func(t *testing.T, opts Options) Store {
			s, err := OpenPebbleStoreWithOpts("", PebbleStoreOptions{Options: opts, FS: vfs.NewMem(), NoSync: true})
			require.NoError(t, err)
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store, mockClock *clock.Mock, metrics *PrometheusMetrics)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			mockClock := clock.NewMock()
			metrics := NewPrometheusMetrics()
			s := factory(t, Options{Clock: mockClock, MetricsCollector: metrics})
			defer func() { require.NoError(t, s.Close()) }()
			fn(t, s, mockClock, metrics)
		})
	}
}

func TestStore_TTL(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, mockClock *clock.Mock, metrics *PrometheusMetrics) {
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, "k", []byte("42"), 1000*time.Millisecond))

		mockClock.Add(500 * time.Millisecond)
		val, found, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, []byte("42"), val)

		mockClock.Add(1000 * time.Millisecond)
		_, found, err = s.Get(ctx, "k")
		require.NoError(t, err)
		require.False(t, found)

		// Expired entry is removed on read.
		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		require.Equal(t, 0, stats.Count)

		testutil.RequireSamplesCountInCounter(t, metrics.HitsTotal.With(nil), 1)
		testutil.RequireSamplesCountInCounter(t, metrics.MissesTotal.With(nil), 1)
		testutil.RequireSamplesCountInCounter(t, metrics.ExpirationsTotal.With(nil), 1)
	})
}

func TestStore_ExpiresExactlyAtDeadline(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, mockClock *clock.Mock, _ *PrometheusMetrics) {
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Second))

		mockClock.Add(time.Second - time.Nanosecond)
		_, found, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, found)

		mockClock.Add(time.Nanosecond)
		_, found, err = s.Get(ctx, "k")
		require.NoError(t, err)
		require.False(t, found)
	})
}

func TestStore_SetOverwritesAndRejectsInvalidTTL(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, mockClock *clock.Mock, _ *PrometheusMetrics) {
		ctx := context.Background()
		require.ErrorIs(t, s.Set(ctx, "k", []byte("v"), 0), ErrInvalidTTL)
		require.ErrorIs(t, s.Set(ctx, "k", []byte("v"), -time.Second), ErrInvalidTTL)

		require.NoError(t, s.Set(ctx, "k", []byte("v1"), time.Second))
		mockClock.Add(900 * time.Millisecond)
		require.NoError(t, s.Set(ctx, "k", []byte("v2"), time.Second))
		mockClock.Add(900 * time.Millisecond)

		val, found, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, []byte("v2"), val)
	})
}

func TestStore_DeleteAndClear(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *clock.Mock, _ *PrometheusMetrics) {
		ctx := context.Background()
		for _, k := range []string{"a", "b", "c"} {
			require.NoError(t, s.Set(ctx, k, []byte(k), time.Minute))
		}

		require.NoError(t, s.Delete(ctx, "a"))
		require.NoError(t, s.Delete(ctx, "missing"))
		_, found, err := s.Get(ctx, "a")
		require.NoError(t, err)
		require.False(t, found)

		require.NoError(t, s.Clear(ctx))
		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		require.Equal(t, 0, stats.Count)
	})
}

func TestStore_ClearPrefixAndMatching(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *clock.Mock, _ *PrometheusMetrics) {
		ctx := context.Background()
		keys := []string{"customer_C1", "customer_C2", "invoice_I1", "invoice_I2", "invoice_archive_I3"}
		for _, k := range keys {
			require.NoError(t, s.Set(ctx, k, []byte(k), time.Minute))
		}

		removed, err := s.ClearPrefix(ctx, "customer_")
		require.NoError(t, err)
		require.Equal(t, 2, removed)

		removed, err = s.ClearMatching(ctx, "invoice_*_I3")
		require.NoError(t, err)
		require.Equal(t, 1, removed)

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, stats.Count)

		for _, k := range []string{"invoice_I1", "invoice_I2"} {
			_, found, getErr := s.Get(ctx, k)
			require.NoError(t, getErr)
			require.True(t, found, k)
		}
	})
}

func TestStore_SweepExpired(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, mockClock *clock.Mock, metrics *PrometheusMetrics) {
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "short1", []byte("1"), time.Second))
		require.NoError(t, s.Set(ctx, "short2", []byte("2"), 2*time.Second))
		require.NoError(t, s.Set(ctx, "long", []byte("3"), time.Hour))

		mockClock.Add(2 * time.Second)
		removed, err := s.SweepExpired(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, removed)

		removed, err = s.SweepExpired(ctx)
		require.NoError(t, err)
		require.Equal(t, 0, removed)

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, stats.Count)
		testutil.RequireSamplesCountInCounter(t, metrics.ExpirationsTotal.With(nil), 2)
	})
}

func TestStore_Stats(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, mockClock *clock.Mock, _ *PrometheusMetrics) {
		ctx := context.Background()
		first := mockClock.Now()
		require.NoError(t, s.Set(ctx, "a", []byte("123"), time.Minute))
		mockClock.Add(time.Second)
		require.NoError(t, s.Set(ctx, "bb", []byte("4567"), time.Minute))

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, stats.Count)
		require.Equal(t, int64(len("a")+len("123")+len("bb")+len("4567")), stats.TotalSize)
		require.True(t, first.Equal(stats.OldestTimestamp))
		require.Equal(t, "10B", stats.HumanSize())
	})
}

func TestStore_Closed(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t, Options{})
			require.NoError(t, s.Close())
			require.NoError(t, s.Close())
			_, _, err := s.Get(ctx, "k")
			require.ErrorIs(t, err, ErrStoreClosed)
			require.ErrorIs(t, s.Set(ctx, "k", []byte("v"), time.Second), ErrStoreClosed)
		})
	}
}

func TestMemoryStore_MaxEntries(t *testing.T) {
	ctx := context.Background()
	metrics := NewPrometheusMetrics()
	s := NewMemoryStoreWithOpts(MemoryStoreOptions{MaxEntries: 2, Options: Options{MetricsCollector: metrics}})
	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Minute))
	require.ErrorIs(t, s.Set(ctx, "c", []byte("3"), time.Minute), ErrStoreFull)
	// Overwriting an existing key does not need a new slot.
	require.NoError(t, s.Set(ctx, "a", []byte("11"), time.Minute))
	testutil.RequireSamplesCountInCounter(t, metrics.WriteFailuresTotal.With(nil), 1)
}

func TestPebbleStore_Persistence(t *testing.T) {
	ctx := context.Background()
	fs := vfs.NewMem()
	mockClock := clock.NewMock()

	s, err := OpenPebbleStoreWithOpts("db", PebbleStoreOptions{FS: fs, Options: Options{Clock: mockClock}})
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "customer_C1", []byte(`{"id":"C1"}`), time.Hour))
	require.NoError(t, s.Close())

	s, err = OpenPebbleStoreWithOpts("db", PebbleStoreOptions{FS: fs, Options: Options{Clock: mockClock}})
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()
	val, found, err := s.Get(ctx, "customer_C1")
	require.NoError(t, err)
	require.True(t, found)
	require.JSONEq(t, `{"id":"C1"}`, string(val))
}

func TestPebbleStore_UndecodableEntry(t *testing.T) {
	ctx := context.Background()
	s, err := OpenPebbleStoreWithOpts("", PebbleStoreOptions{InMemory: true})
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	require.NoError(t, s.db.Set(makeDBKey("broken"), []byte("not json"), nil))
	require.NoError(t, s.db.Set(makeDBKey("broken2"), []byte("{"), nil))
	_, found, err := s.Get(ctx, "broken")
	require.NoError(t, err)
	require.False(t, found)

	removed, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
}

func TestPrefixUpperBound(t *testing.T) {
	require.Equal(t, []byte("cache0"), prefixUpperBound([]byte("cache/")))
	require.Equal(t, []byte("b"), prefixUpperBound([]byte{'a', 0xff}))
	require.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
}
