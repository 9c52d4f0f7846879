/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package ttlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"
	"github.com/vasayxtx/go-glob"

	"github.com/acronis/go-quotakit/log"
)

const entryKeyPrefix = "cache/"

// PebbleStoreOptions represents options for PebbleStore.
type PebbleStoreOptions struct {
	Options

	// InMemory makes the store use an in-memory file system. The path is ignored in this case.
	InMemory bool

	// FS overrides the file system used by Pebble. It takes precedence over InMemory.
	FS vfs.FS

	// NoSync disables fsync on every write.
	NoSync bool
}

// PebbleStore is a durable Store implementation backed by a Pebble database.
// Every entry is kept as JSON document under the "cache/<key>" database key.
type PebbleStore struct {
	opts      PebbleStoreOptions
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
	closed    atomic.Bool
}

var _ Store = (*PebbleStore)(nil)

// OpenPebbleStore opens (or creates) a Pebble database at the given path.
func OpenPebbleStore(path string) (*PebbleStore, error) {
	return OpenPebbleStoreWithOpts(path, PebbleStoreOptions{})
}

// OpenPebbleStoreWithOpts opens (or creates) a Pebble database at the given path with the given options.
func OpenPebbleStoreWithOpts(path string, opts PebbleStoreOptions) (*PebbleStore, error) {
	opts.Options = opts.Options.withDefaults()
	pebbleOpts := &pebble.Options{FS: opts.FS}
	if pebbleOpts.FS == nil && opts.InMemory {
		pebbleOpts.FS = vfs.NewMem()
	}
	if path == "" {
		if pebbleOpts.FS == nil {
			return nil, fmt.Errorf("path must be specified for on-disk store")
		}
		path = "ttlstore"
	}
	db, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("open pebble database %q: %w", path, err)
	}
	writeOpts := pebble.Sync
	if opts.NoSync {
		writeOpts = pebble.NoSync
	}
	return &PebbleStore{opts: opts, db: db, writeOpts: writeOpts}, nil
}

// Get returns the value stored under the key if it has not expired yet.
// Undecodable entries are removed and reported as absent.
func (s *PebbleStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrStoreClosed
	}
	dbKey := makeDBKey(key)
	data, closer, err := s.db.Get(dbKey)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			s.opts.MetricsCollector.IncMisses()
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	var entry Entry
	decodeErr := json.Unmarshal(data, &entry)
	_ = closer.Close()

	if decodeErr != nil {
		s.opts.Logger.Warn("undecodable entry, removing", log.String("key", key), log.Error(decodeErr))
		s.deleteQuietly(dbKey, key)
		s.opts.MetricsCollector.IncMisses()
		return nil, false, nil
	}
	if !entry.Valid(s.opts.Clock.Now()) {
		s.deleteQuietly(dbKey, key)
		s.opts.MetricsCollector.AddExpirations(1)
		s.opts.MetricsCollector.IncMisses()
		s.opts.Logger.Debug("expired entry removed on read", log.String("key", key))
		return nil, false, nil
	}
	s.opts.MetricsCollector.IncHits()
	return entry.Value, true, nil
}

// Set stores the value under the key for ttl.
func (s *PebbleStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	entry, err := newEntry(key, value, ttl, s.opts.Clock.Now())
	if err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry %q: %w", key, err)
	}
	if err = s.db.Set(makeDBKey(key), data, s.writeOpts); err != nil {
		s.opts.MetricsCollector.IncWriteFailures()
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Delete removes the entry under the key.
func (s *PebbleStore) Delete(_ context.Context, key string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := s.db.Delete(makeDBKey(key), s.writeOpts); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Clear removes all entries.
func (s *PebbleStore) Clear(_ context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	lower := []byte(entryKeyPrefix)
	if err := s.db.DeleteRange(lower, prefixUpperBound(lower), s.writeOpts); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	s.opts.MetricsCollector.SetAmount(0)
	return nil
}

// ClearPrefix removes all entries whose keys start with the prefix.
func (s *PebbleStore) ClearPrefix(ctx context.Context, prefix string) (int, error) {
	return s.removeIf(ctx, prefix, func(e *Entry) bool { return strings.HasPrefix(e.Key, prefix) }, false)
}

// ClearMatching removes all entries whose keys match the glob pattern.
func (s *PebbleStore) ClearMatching(ctx context.Context, pattern string) (int, error) {
	match := glob.Compile(pattern)
	return s.removeIf(ctx, "", func(e *Entry) bool { return match(e.Key) }, false)
}

// SweepExpired removes all expired entries.
func (s *PebbleStore) SweepExpired(ctx context.Context) (int, error) {
	now := s.opts.Clock.Now()
	return s.removeIf(ctx, "", func(e *Entry) bool { return !e.Valid(now) }, true)
}

// Stats scans all entries and returns aggregated statistics.
func (s *PebbleStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.scan(ctx, "", func(_ []byte, e *Entry) error {
		if e != nil {
			stats.add(e)
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	s.opts.MetricsCollector.SetAmount(stats.Count)
	return stats, nil
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func (s *PebbleStore) deleteQuietly(dbKey []byte, key string) {
	if err := s.db.Delete(dbKey, s.writeOpts); err != nil {
		s.opts.Logger.Warn("failed to remove entry", log.String("key", key), log.Error(err))
	}
}

// removeIf deletes, in a single batch, the entries under the key prefix that satisfy pred.
func (s *PebbleStore) removeIf(ctx context.Context, keyPrefix string, pred func(e *Entry) bool, expirations bool) (int, error) {
	batch := s.db.NewBatch()
	defer func() { _ = batch.Close() }()

	removed, kept := 0, 0
	err := s.scan(ctx, keyPrefix, func(dbKey []byte, e *Entry) error {
		if e == nil && !expirations {
			return nil
		}
		if e != nil && !pred(e) {
			kept++
			return nil
		}
		removed++
		return batch.Delete(dbKey, nil)
	})
	if err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}
	if err = batch.Commit(s.writeOpts); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	if expirations {
		s.opts.MetricsCollector.AddExpirations(removed)
	}
	if keyPrefix == "" {
		s.opts.MetricsCollector.SetAmount(kept)
	}
	return removed, nil
}

// scan calls fn for every stored entry whose key starts with keyPrefix.
// Undecodable entries are passed as nil, SweepExpired removes them.
func (s *PebbleStore) scan(ctx context.Context, keyPrefix string, fn func(dbKey []byte, e *Entry) error) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	lower := makeDBKey(keyPrefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: prefixUpperBound(lower)})
	if err != nil {
		return fmt.Errorf("create iterator: %w", err)
	}
	defer func() { _ = iter.Close() }()

	for iter.First(); iter.Valid(); iter.Next() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		dbKey := append([]byte(nil), iter.Key()...)
		var entry Entry
		if decodeErr := json.Unmarshal(iter.Value(), &entry); decodeErr != nil {
			s.opts.Logger.Warn("undecodable entry", log.String("key", string(dbKey)), log.Error(decodeErr))
			if err = fn(dbKey, nil); err != nil {
				return err
			}
			continue
		}
		if err = fn(dbKey, &entry); err != nil {
			return err
		}
	}
	return iter.Error()
}

func makeDBKey(key string) []byte {
	return []byte(entryKeyPrefix + key)
}

// prefixUpperBound returns the smallest key greater than every key having the given prefix.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}
