/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package quota runs calls to a rate-limited remote API.
//
// Executor retries rate-limited failures (HTTP 429, or 403 with a quota marker in the message or body) with
// jittered exponential backoff, never retries other failures, and turns the final failure into *QueryError.
// When the retries are exhausted because of rate limiting, the retry-after hint is extracted from the failure
// and published to a Signal, so that unrelated consumers (e.g. a UI cooldown banner) can show the same countdown.
package quota
