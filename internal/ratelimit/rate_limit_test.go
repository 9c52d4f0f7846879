/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewLimiter(t *testing.T) {
	lim, err := NewLimiter(AlgorithmLeakyBucket, Rate{Count: 10, Duration: time.Second}, 5)
	require.NoError(t, err)
	require.IsType(t, &LeakyBucketLimiter{}, lim)

	lim, err = NewLimiter(AlgorithmSlidingWindow, Rate{Count: 10, Duration: time.Second}, 0)
	require.NoError(t, err)
	require.IsType(t, &SlidingWindowLimiter{}, lim)

	_, err = NewLimiter("token_bucket", Rate{Count: 10, Duration: time.Second}, 0)
	require.ErrorContains(t, err, "unknown rate limiting algorithm")

	_, err = NewLimiter(AlgorithmSlidingWindow, Rate{}, 0)
	require.Error(t, err)
}
