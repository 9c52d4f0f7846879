/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// SlidingWindowLimiterTestSuite contains tests for SlidingWindowLimiter
type SlidingWindowLimiterTestSuite struct {
	suite.Suite
}

func TestSlidingWindowLimiter(t *testing.T) {
	suite.Run(t, new(SlidingWindowLimiterTestSuite))
}

func (ts *SlidingWindowLimiterTestSuite) TestAllowSequential() {
	limiter := NewSlidingWindowLimiter(Rate{Count: 2, Duration: time.Minute})

	ctx := context.Background()
	key := "api.example.com"

	for i := 0; i < 2; i++ {
		allow, retryAfter, err := limiter.Allow(ctx, key)
		ts.NoError(err)
		ts.True(allow)
		ts.Equal(time.Duration(0), retryAfter)
	}

	allow, retryAfter, err := limiter.Allow(ctx, key)
	ts.NoError(err)
	ts.False(allow)
	ts.Greater(retryAfter, time.Duration(0))
	ts.LessOrEqual(retryAfter, time.Minute)

	// Another key has its own window.
	allow, _, err = limiter.Allow(ctx, "other.example.com")
	ts.NoError(err)
	ts.True(allow)
}

func (ts *SlidingWindowLimiterTestSuite) TestRetryAfterCalculation() {
	limiter := NewSlidingWindowLimiter(Rate{Count: 1, Duration: time.Minute})
	limiter.now = func() time.Time {
		return time.Date(2024, 1, 1, 10, 0, 45, 0, time.UTC)
	}

	ctx := context.Background()
	allow, _, err := limiter.Allow(ctx, "key")
	ts.NoError(err)
	ts.True(allow)

	allow, retryAfter, err := limiter.Allow(ctx, "key")
	ts.NoError(err)
	ts.False(allow)
	ts.Equal(15*time.Second, retryAfter)
}
