/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package ttlstore provides a persistent key-value store with per-entry expiration.
//
// Expired entries are removed lazily when they are read, or in bulk by SweepExpired
// (see also RunPeriodicSweep). Two implementations are available:
// PebbleStore keeps entries on disk (or in an in-memory file system) using github.com/cockroachdb/pebble/v2,
// and MemoryStore keeps them in a map and may be limited by the number of entries.
package ttlstore
