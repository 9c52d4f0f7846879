/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-quotakit/log"
	"github.com/acronis/go-quotakit/log/logtest"
)

func TestLoggingRoundTripper(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/teapot" {
			rw.WriteHeader(http.StatusTeapot)
			return
		}
		rw.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	doRequest := func(rt http.RoundTripper, path string) {
		req, err := http.NewRequest(http.MethodGet, server.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set(RequestIDHeader, "req-42")
		resp, err := (&http.Client{Transport: rt}).Do(req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}

	t.Run("all", func(t *testing.T) {
		logger := logtest.NewRecorder()
		rt := NewLoggingRoundTripperWithOpts(http.DefaultTransport, "test-request", LoggingRoundTripperOpts{Logger: logger})
		doRequest(rt, "/ok")
		doRequest(rt, "/teapot")

		require.Len(t, logger.Entries(), 2)
		require.Equal(t, log.LevelInfo, logger.Entries()[0].Level)
		require.Equal(t, log.LevelWarn, logger.Entries()[1].Level)
		require.Len(t, logger.FindAllEntriesByField("request_type", "test-request"), 2)
		require.Len(t, logger.FindAllEntriesByField("request_id", "req-42"), 2)
		statusField, ok := logger.Entries()[1].FindField("status")
		require.True(t, ok)
		require.EqualValues(t, http.StatusTeapot, statusField.Int)
	})

	t.Run("failed only", func(t *testing.T) {
		logger := logtest.NewRecorder()
		rt := NewLoggingRoundTripperWithOpts(http.DefaultTransport, "test-request",
			LoggingRoundTripperOpts{Logger: logger, Mode: LoggingModeFailed})
		doRequest(rt, "/ok")
		doRequest(rt, "/teapot")
		require.Len(t, logger.Entries(), 1)
		require.Equal(t, log.LevelWarn, logger.Entries()[0].Level)
	})

	t.Run("none", func(t *testing.T) {
		logger := logtest.NewRecorder()
		rt := NewLoggingRoundTripperWithOpts(http.DefaultTransport, "test-request",
			LoggingRoundTripperOpts{Logger: logger, Mode: LoggingModeNone})
		doRequest(rt, "/teapot")
		require.Empty(t, logger.Entries())
	})

	t.Run("logger provider and request type from context", func(t *testing.T) {
		logger := logtest.NewRecorder()
		rt := NewLoggingRoundTripperWithOpts(http.DefaultTransport, "test-request", LoggingRoundTripperOpts{
			LoggerProvider: func(ctx context.Context) log.FieldLogger { return logger },
		})
		ctx := NewContextWithRequestType(context.Background(), "invoices")
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
		require.NoError(t, err)
		resp, err := (&http.Client{Transport: rt}).Do(req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		require.Len(t, logger.FindAllEntriesByField("request_type", "invoices"), 1)
	})
}

func TestLoggingRoundTripper_Error(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	serverURL := "http://" + ln.Addr().String()
	_ = ln.Close()

	logger := logtest.NewRecorder()
	rt := NewLoggingRoundTripperWithOpts(http.DefaultTransport, "test-request", LoggingRoundTripperOpts{Logger: logger})
	req, err := http.NewRequest(http.MethodPost, serverURL, nil)
	require.NoError(t, err)

	resp, err := (&http.Client{Transport: rt}).Do(req)
	require.Error(t, err)
	require.Nil(t, resp)

	entry, ok := logger.FindEntry("client http request failed")
	require.True(t, ok)
	require.Equal(t, log.LevelError, entry.Level)
	_, hasStatus := entry.FindField("status")
	require.False(t, hasStatus)
}
