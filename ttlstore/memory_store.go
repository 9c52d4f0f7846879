/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package ttlstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vasayxtx/go-glob"

	"github.com/acronis/go-quotakit/log"
)

// MemoryStoreOptions represents options for MemoryStore.
type MemoryStoreOptions struct {
	Options

	// MaxEntries limits the number of stored entries. Set fails with ErrStoreFull
	// when a new key would exceed the limit. Zero means no limit.
	MaxEntries int
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	opts MemoryStoreOptions

	mu      sync.Mutex
	entries map[string]*Entry
	closed  bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new MemoryStore with default options.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithOpts(MemoryStoreOptions{})
}

// NewMemoryStoreWithOpts creates a new MemoryStore with the given options.
func NewMemoryStoreWithOpts(opts MemoryStoreOptions) *MemoryStore {
	opts.Options = opts.Options.withDefaults()
	return &MemoryStore{opts: opts, entries: make(map[string]*Entry)}
}

// Get returns the value stored under the key if it has not expired yet.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrStoreClosed
	}

	entry, ok := s.entries[key]
	if !ok {
		s.opts.MetricsCollector.IncMisses()
		return nil, false, nil
	}
	if !entry.Valid(s.opts.Clock.Now()) {
		delete(s.entries, key)
		s.opts.MetricsCollector.AddExpirations(1)
		s.opts.MetricsCollector.SetAmount(len(s.entries))
		s.opts.MetricsCollector.IncMisses()
		s.opts.Logger.Debug("expired entry removed on read", log.String("key", key))
		return nil, false, nil
	}
	s.opts.MetricsCollector.IncHits()
	return entry.Value, true, nil
}

// Set stores the value under the key for ttl.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry, err := newEntry(key, append([]byte(nil), value...), ttl, s.opts.Clock.Now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.entries[key]; !exists && s.opts.MaxEntries > 0 && len(s.entries) >= s.opts.MaxEntries {
		s.opts.MetricsCollector.IncWriteFailures()
		return ErrStoreFull
	}
	s.entries[key] = entry
	s.opts.MetricsCollector.SetAmount(len(s.entries))
	return nil
}

// Delete removes the entry under the key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.entries, key)
	s.opts.MetricsCollector.SetAmount(len(s.entries))
	return nil
}

// Clear removes all entries.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.entries = make(map[string]*Entry)
	s.opts.MetricsCollector.SetAmount(0)
	return nil
}

// ClearPrefix removes all entries whose keys start with the prefix.
func (s *MemoryStore) ClearPrefix(_ context.Context, prefix string) (int, error) {
	return s.removeIf(func(e *Entry) bool {
		return strings.HasPrefix(e.Key, prefix)
	}, false)
}

// ClearMatching removes all entries whose keys match the glob pattern.
func (s *MemoryStore) ClearMatching(_ context.Context, pattern string) (int, error) {
	match := glob.Compile(pattern)
	return s.removeIf(func(e *Entry) bool {
		return match(e.Key)
	}, false)
}

// SweepExpired removes all expired entries.
func (s *MemoryStore) SweepExpired(_ context.Context) (int, error) {
	now := s.opts.Clock.Now()
	return s.removeIf(func(e *Entry) bool {
		return !e.Valid(now)
	}, true)
}

// Stats returns aggregated statistics about stored entries (including not yet swept expired ones).
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Stats{}, ErrStoreClosed
	}
	var stats Stats
	for _, e := range s.entries {
		stats.add(e)
	}
	return stats, nil
}

// Close makes the store unusable. All entries are dropped.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}

func (s *MemoryStore) removeIf(pred func(e *Entry) bool, expirations bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	removed := 0
	for key, e := range s.entries {
		if pred(e) {
			delete(s.entries, key)
			removed++
		}
	}
	if expirations {
		s.opts.MetricsCollector.AddExpirations(removed)
	}
	s.opts.MetricsCollector.SetAmount(len(s.entries))
	return removed, nil
}
