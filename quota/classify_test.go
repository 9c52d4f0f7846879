/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package quota

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-quotakit/httpclient"
	"github.com/acronis/go-quotakit/session"
	"github.com/acronis/go-quotakit/taskqueue"
	"github.com/acronis/go-quotakit/ttlstore"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindTransient},
		{"429", &httpclient.APIError{StatusCode: http.StatusTooManyRequests}, KindRateLimited},
		{"wrapped 429", fmt.Errorf("list invoices: %w", &httpclient.APIError{StatusCode: 429}), KindRateLimited},
		{
			"403 with quota message",
			&httpclient.APIError{StatusCode: http.StatusForbidden, Message: "Out of call volume quota. Quota will be replenished in 00:00:12."},
			KindRateLimited,
		},
		{
			"403 with marker in body",
			&httpclient.APIError{StatusCode: http.StatusForbidden, Body: []byte(`{"code":"QuotaExceeded"}`)},
			KindRateLimited,
		},
		{"403 without marker", &httpclient.APIError{StatusCode: http.StatusForbidden, Message: "access denied"}, KindTransient},
		{"401", &httpclient.APIError{StatusCode: http.StatusUnauthorized}, KindAuthExpired},
		{"not authenticated", fmt.Errorf("call: %w", session.ErrNotAuthenticated), KindAuthExpired},
		{"400", &httpclient.APIError{StatusCode: http.StatusBadRequest, Message: "too many requests in batch"}, KindTransient},
		{"500", &httpclient.APIError{StatusCode: http.StatusInternalServerError}, KindTransient},
		{"network error", errors.New("dial tcp: connection refused"), KindTransient},
		{"message marker without status", errors.New("throttled"), KindTransient},
		{"client throttled", &httpclient.ClientThrottledError{}, KindRateLimited},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"store full", fmt.Errorf("set: %w", ttlstore.ErrStoreFull), KindStoreFailure},
		{"queue cleared", taskqueue.ErrCleared, KindQueueRejected},
		{"queue full", taskqueue.ErrQueueFull, KindQueueRejected},
		{"query error", &QueryError{FailureKind: KindAuthExpired, OriginalError: errors.New("x")}, KindAuthExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Classify(tt.err))
			require.Equal(t, tt.want == KindRateLimited, IsRateLimit(tt.err))
		})
	}
}

func TestKind_String(t *testing.T) {
	require.Equal(t, "rate_limited", KindRateLimited.String())
	require.Equal(t, "auth_expired", KindAuthExpired.String())
	require.Equal(t, "transient", KindTransient.String())
	require.Equal(t, "store_failure", KindStoreFailure.String())
	require.Equal(t, "queue_rejected", KindQueueRejected.String())
	require.Equal(t, "unknown", Kind(100).String())
}

func TestContainsRateLimitMarker(t *testing.T) {
	require.True(t, ContainsRateLimitMarker("Rate Limit is exceeded. Try again in 5 seconds."))
	require.True(t, ContainsRateLimitMarker(`{"error":{"code":"TooManyRequests"}}`))
	require.True(t, ContainsRateLimitMarker("request was THROTTLED"))
	require.False(t, ContainsRateLimitMarker("access denied"))
	require.False(t, ContainsRateLimitMarker(""))
}
