/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Rate describes the frequency of requests.
type Rate struct {
	Count    int
	Duration time.Duration
}

// Limiter interface defines the rate limiting contract.
type Limiter interface {
	Allow(ctx context.Context, key string) (allow bool, retryAfter time.Duration, err error)
}

// Algorithm is a name of a rate limiting algorithm.
type Algorithm string

// Rate limiting algorithms.
const (
	AlgorithmLeakyBucket   Algorithm = "leaky_bucket"
	AlgorithmSlidingWindow Algorithm = "sliding_window"
)

// NewLimiter creates a limiter implementing the given algorithm.
// maxBurst is used by the leaky bucket algorithm only.
func NewLimiter(alg Algorithm, maxRate Rate, maxBurst int) (Limiter, error) {
	if maxRate.Count <= 0 || maxRate.Duration <= 0 {
		return nil, fmt.Errorf("rate must be positive, got %d per %s", maxRate.Count, maxRate.Duration)
	}
	switch alg {
	case AlgorithmLeakyBucket:
		return NewLeakyBucketLimiter(maxRate, maxBurst, 0)
	case AlgorithmSlidingWindow:
		return NewSlidingWindowLimiter(maxRate), nil
	}
	return nil, fmt.Errorf("unknown rate limiting algorithm %q", alg)
}
