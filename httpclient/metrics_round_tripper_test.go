/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-quotakit/testutil"
)

func TestNewMetricsRoundTripper(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()
	host := strings.TrimPrefix(server.URL, "http://")

	collector := NewPrometheusMetricsCollector("")

	metricsRoundTripper := NewMetricsRoundTripperWithOpts(http.DefaultTransport, MetricsRoundTripperOpts{
		RequestType: "test-request",
		Collector:   collector,
	})
	client := &http.Client{Transport: metricsRoundTripper}

	doRequest := func(ctx context.Context) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, server.URL, nil)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}

	doRequest(context.Background())
	hist := collector.Durations.WithLabelValues("test-request", host, "POST test-request", "418").(prometheus.Histogram)
	testutil.RequireSamplesCountInHistogram(t, hist, 1)

	doRequest(NewContextWithRequestType(context.Background(), "customers"))
	hist = collector.Durations.WithLabelValues("customers", host, "POST customers", "418").(prometheus.Histogram)
	testutil.RequireSamplesCountInHistogram(t, hist, 1)
}

func TestNewMetricsRoundTripper_DefaultRequestType(t *testing.T) {
	rt := NewMetricsRoundTripper(http.DefaultTransport, nil).(*MetricsRoundTripper)
	require.Equal(t, DefaultRequestType, rt.RequestType)
}
