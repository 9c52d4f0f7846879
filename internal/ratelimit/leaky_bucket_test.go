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

// LeakyBucketLimiterTestSuite contains tests for LeakyBucketLimiter
type LeakyBucketLimiterTestSuite struct {
	suite.Suite
}

func TestLeakyBucketLimiter(t *testing.T) {
	suite.Run(t, new(LeakyBucketLimiterTestSuite))
}

func (ts *LeakyBucketLimiterTestSuite) TestAllowSequential() {
	limiter, err := NewLeakyBucketLimiter(Rate{Count: 2, Duration: time.Second}, 1, 100)
	ts.Require().NoError(err)

	ctx := context.Background()
	key := "api.example.com"

	// Burst capacity allows two requests.
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
	ts.LessOrEqual(retryAfter, time.Second)
}

func (ts *LeakyBucketLimiterTestSuite) TestKeysAreIndependent() {
	limiter, err := NewLeakyBucketLimiter(Rate{Count: 1, Duration: time.Second}, 0, 0)
	ts.Require().NoError(err)

	ctx := context.Background()
	allow, _, err := limiter.Allow(ctx, "a")
	ts.NoError(err)
	ts.True(allow)
	allow, _, err = limiter.Allow(ctx, "a")
	ts.NoError(err)
	ts.False(allow)
	allow, _, err = limiter.Allow(ctx, "b")
	ts.NoError(err)
	ts.True(allow)
}
