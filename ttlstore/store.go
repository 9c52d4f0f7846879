/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package ttlstore

import (
	"context"
	"errors"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/benbjohnson/clock"

	"github.com/acronis/go-quotakit/log"
)

var (
	// ErrInvalidTTL is returned by Set when ttl is not positive.
	ErrInvalidTTL = errors.New("ttl must be greater than 0")

	// ErrStoreClosed is returned when the store is used after Close.
	ErrStoreClosed = errors.New("store is closed")

	// ErrStoreFull is returned by Set when the backing medium cannot accept a new entry.
	ErrStoreFull = errors.New("store is full")
)

// Store is a key-value store where every entry has an expiration time.
// A single Store is shared by all its users. Concurrent writes to the same key race and the last one wins.
type Store interface {
	// Get returns the value stored under the key if it has not expired yet.
	// An expired entry is removed and reported as absent.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores the value under the key, overwriting any previous entry. The entry expires after ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the entry under the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// ClearPrefix removes all entries whose keys start with the prefix and returns their number.
	ClearPrefix(ctx context.Context, prefix string) (int, error)

	// ClearMatching removes all entries whose keys match the glob pattern ("*" matches any sequence)
	// and returns their number.
	ClearMatching(ctx context.Context, pattern string) (int, error)

	// Stats scans all entries and returns aggregated statistics. It's intended for diagnostics only.
	Stats(ctx context.Context) (Stats, error)

	// SweepExpired removes all entries with expiresAt <= now and returns their number.
	SweepExpired(ctx context.Context) (int, error)

	// Close releases resources held by the store.
	Close() error
}

// Entry is a stored value together with its creation and expiration times.
type Entry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Valid reports whether the entry has not expired at the given moment.
func (e *Entry) Valid(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Stats contains aggregated information about stored entries.
type Stats struct {
	Count           int       `json:"count"`
	TotalSize       int64     `json:"totalSize"`
	OldestTimestamp time.Time `json:"oldestTimestamp,omitempty"`
}

// HumanSize returns TotalSize in a human-readable form (e.g. "1.5K").
func (s Stats) HumanSize() string {
	return bytefmt.ByteSize(uint64(s.TotalSize))
}

func (s *Stats) add(e *Entry) {
	s.Count++
	s.TotalSize += int64(len(e.Key) + len(e.Value))
	if s.OldestTimestamp.IsZero() || e.Timestamp.Before(s.OldestTimestamp) {
		s.OldestTimestamp = e.Timestamp
	}
}

// Options contains settings shared by all store implementations.
type Options struct {
	// Clock is used to determine creation and expiration times. Default is the real-time clock.
	Clock clock.Clock

	// Logger is used for logging non-fatal problems (e.g. failed removal of an expired entry).
	Logger log.FieldLogger

	// MetricsCollector collects store usage metrics. Metrics are disabled if nil.
	MetricsCollector MetricsCollector
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	o.Logger = log.NewComponentLogger(o.Logger, "ttlstore")
	if o.MetricsCollector == nil {
		o.MetricsCollector = disabledMetricsCollector
	}
	return o
}

func newEntry(key string, value []byte, ttl time.Duration, now time.Time) (*Entry, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	return &Entry{Key: key, Value: value, Timestamp: now, ExpiresAt: now.Add(ttl)}, nil
}
