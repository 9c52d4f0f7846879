/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-quotakit/config"
	"github.com/acronis/go-quotakit/log/logtest"
	"github.com/acronis/go-quotakit/session"
)

type customer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func TestClient_DoJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/customers/C1":
			require.Equal(t, "Bearer token", r.Header.Get("Authorization"))
			require.Equal(t, "sub", r.Header.Get(DefaultSubscriptionKeyHeader))
			require.NotEmpty(t, r.Header.Get(RequestIDHeader))
			require.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "go-quotakit/"))
			rw.Header().Set("Content-Type", "application/json")
			_, _ = rw.Write([]byte(`{"id":"C1","name":"Contoso"}`))
		case "/api/customers":
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "application/json", r.Header.Get("Content-Type"))
			var c customer
			require.NoError(t, json.NewDecoder(r.Body).Decode(&c))
			rw.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(rw).Encode(c)
		case "/api/throttled":
			rw.Header().Set("Retry-After", "7")
			rw.WriteHeader(http.StatusTooManyRequests)
			_, _ = rw.Write([]byte(`{"error":{"code":"TooManyRequests","message":"Rate limit is exceeded. Try again in 7 seconds."}}`))
		case "/api/empty":
			rw.WriteHeader(http.StatusNoContent)
		default:
			rw.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	cfg := NewDefaultConfig()
	cfg.BaseURL = server.URL + "/api"
	logger := logtest.NewRecorder()
	provider := session.NewStaticProvider(session.Session{Authenticated: true, AccessToken: "token", SubscriptionKey: "sub"})
	client, err := NewClient(cfg, Opts{SessionProvider: provider, Logger: logger, RequestType: "customers"})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("get", func(t *testing.T) {
		var c customer
		require.NoError(t, client.DoJSON(ctx, http.MethodGet, "/customers/C1", nil, &c))
		require.Equal(t, customer{ID: "C1", Name: "Contoso"}, c)
		require.NotEmpty(t, logger.FindAllEntriesByField("request_type", "customers"))
	})

	t.Run("post", func(t *testing.T) {
		var c customer
		require.NoError(t, client.DoJSON(ctx, http.MethodPost, "customers", customer{ID: "C2", Name: "Fabrikam"}, &c))
		require.Equal(t, "Fabrikam", c.Name)
	})

	t.Run("no content", func(t *testing.T) {
		var c customer
		require.NoError(t, client.DoJSON(ctx, http.MethodDelete, "empty", nil, &c))
		require.Equal(t, customer{}, c)
	})

	t.Run("api error", func(t *testing.T) {
		err := client.DoJSON(ctx, http.MethodGet, "throttled", nil, nil)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusTooManyRequests, apiErr.HTTPStatusCode())
		require.Equal(t, "TooManyRequests", apiErr.Code)
		require.Equal(t, "Rate limit is exceeded. Try again in 7 seconds.", apiErr.Message)
		require.Equal(t, "7", apiErr.ResponseHeader().Get("Retry-After"))
		require.False(t, apiErr.AuthExpired())
		require.EqualError(t, err,
			"api responded with status 429 (TooManyRequests): Rate limit is exceeded. Try again in 7 seconds.")
	})

	t.Run("not found", func(t *testing.T) {
		err := client.DoJSON(ctx, http.MethodGet, "unknown", nil, nil)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
		require.EqualError(t, err, "api responded with status 404")
	})

	t.Run("absolute url", func(t *testing.T) {
		var c customer
		require.NoError(t, client.DoJSON(ctx, http.MethodGet, server.URL+"/api/customers/C1", nil, &c))
		require.Equal(t, "C1", c.ID)
	})
}

func TestAPIError_AuthExpired(t *testing.T) {
	err := error(&APIError{StatusCode: http.StatusUnauthorized})
	require.True(t, session.IsAuthExpired(err))
	require.False(t, session.IsAuthExpired(&APIError{StatusCode: http.StatusForbidden}))
}

func TestNewWithOpts(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Timeout = 0
		client, err := New(cfg)
		require.NoError(t, err)
		require.Equal(t, time.Duration(0), client.Timeout)
		require.Equal(t, DefaultClientWaitTimeout, Must(NewDefaultConfig()).Timeout)
	})

	t.Run("invalid rate limits", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.RateLimits = RateLimitConfig{Enabled: true, Count: 0}
		_, err := New(cfg)
		require.EqualError(t, err, "create rate limiting round tripper: rate limit must be positive")
	})

	t.Run("client throttled", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			rw.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		cfg := NewDefaultConfig()
		cfg.RateLimits = RateLimitConfig{
			Enabled: true, Algorithm: RateLimitingAlgorithmLeakyBucket, Count: 1, Period: config.TimeDuration(time.Minute),
		}
		client, err := NewClient(cfg, Opts{})
		require.NoError(t, err)
		require.NoError(t, client.DoJSON(context.Background(), http.MethodGet, server.URL, nil, nil))
		err = client.DoJSON(context.Background(), http.MethodGet, server.URL, nil, nil)
		require.True(t, errors.Is(err, ErrClientThrottled))
	})
}

func TestCloneHTTPRequest(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)
	req.Header.Set("X-Foo", "bar")
	clone := CloneHTTPRequest(req)
	clone.Header.Set("X-Foo", "baz")
	require.Equal(t, "bar", req.Header.Get("X-Foo"))
	require.Equal(t, "baz", clone.Header.Get("X-Foo"))
}
