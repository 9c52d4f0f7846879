/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package quotakit assembles the client-side resilience components into a single Kit:
// a TTL store for memoized results, a rate-limit-aware query executor with the shared quota exceeded signal,
// named bounded-concurrency task queues, an HTTP client for the remote API and an optional diagnostics server.
//
// A read call wrapped by Cached goes through the following steps:
// the store is checked first; on a miss, concurrent callers with the same key share one execution;
// the execution is retried with exponential backoff while the API reports rate limiting;
// a successful result is written to the store with the configured time-to-live.
package quotakit
