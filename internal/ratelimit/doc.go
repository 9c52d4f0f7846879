/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ratelimit provides client-side rate limiting algorithms for outgoing requests.
//
// Limiters never block: Allow reports whether a request with the given key may be sent now
// and, if not, how long the caller should wait before the next attempt.
// Available algorithms are leaky bucket (GCRA, github.com/throttled/throttled/v2)
// and sliding window (github.com/RussellLuo/slidingwindow).
package ratelimit
