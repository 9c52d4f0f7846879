/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package httpclient provides the HTTP transport for calling the remote API:
// session based authorization with a single refresh-and-retry on 401, client side rate limiting,
// request ID, User-Agent, logging and metrics round trippers, and a JSON client which turns non-2xx responses
// into *APIError.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/acronis/go-quotakit/log"
	"github.com/acronis/go-quotakit/session"
)

// MaxResponseBodySize limits the size of the response body read by Client.DoJSON.
const MaxResponseBodySize = 16 << 20

// CloneHTTPRequest creates a shallow copy of the request along with a deep copy of the Headers.
func CloneHTTPRequest(req *http.Request) *http.Request {
	r := new(http.Request)
	*r = *req
	r.Header = CloneHTTPHeader(req.Header)
	return r
}

// CloneHTTPHeader creates a deep copy of an http.Header.
func CloneHTTPHeader(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for key, values := range in {
		newValues := make([]string, len(values))
		copy(newValues, values)
		out[key] = newValues
	}
	return out
}

// Opts provides options for NewWithOpts and NewClient functions.
type Opts struct {
	// RequestType is a type of request. e.g. service 'auth-service', an action 'login' or specific information to correlate.
	RequestType string

	// Delegate is the next RoundTripper in the chain. A clone of http.DefaultTransport is used by default.
	Delegate http.RoundTripper

	// SessionProvider enables AuthRoundTripper if set.
	SessionProvider session.Provider

	// Logger is used by the logging round tripper.
	Logger log.FieldLogger

	// LoggerProvider is a function that provides a context-specific logger.
	LoggerProvider func(ctx context.Context) log.FieldLogger

	// RequestIDProvider is a function that provides a request ID.
	RequestIDProvider func(ctx context.Context) string

	// Collector is a metrics collector. Metrics are not collected if it's nil.
	Collector MetricsCollector
}

// New creates an HTTP client with the round trippers enabled in the configuration.
func New(cfg *Config) (*http.Client, error) {
	return NewWithOpts(cfg, Opts{})
}

// Must creates an HTTP client and panics if any error occurs.
func Must(cfg *Config) *http.Client {
	client, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

// NewWithOpts creates an HTTP client with options. The chain of round trippers (from outer to inner) is:
// request id, user agent, auth, rate limiting, metrics, logging.
func NewWithOpts(cfg *Config, opts Opts) (*http.Client, error) {
	delegate := opts.Delegate
	if delegate == nil {
		delegate = http.DefaultTransport.(*http.Transport).Clone()
	}

	if cfg.Log.Enabled {
		logOpts := cfg.Log.TransportOpts()
		logOpts.Logger = opts.Logger
		logOpts.LoggerProvider = opts.LoggerProvider
		delegate = NewLoggingRoundTripperWithOpts(delegate, opts.RequestType, logOpts)
	}

	if cfg.Metrics.Enabled && opts.Collector != nil {
		delegate = NewMetricsRoundTripperWithOpts(delegate, MetricsRoundTripperOpts{
			RequestType: opts.RequestType,
			Collector:   opts.Collector,
		})
	}

	if cfg.RateLimits.Enabled {
		var err error
		if delegate, err = NewRateLimitingRoundTripperWithOpts(
			delegate, cfg.RateLimits.Count, cfg.RateLimits.TransportOpts(),
		); err != nil {
			return nil, fmt.Errorf("create rate limiting round tripper: %w", err)
		}
	}

	if opts.SessionProvider != nil {
		delegate = NewAuthRoundTripperWithOpts(delegate, opts.SessionProvider, AuthRoundTripperOpts{Logger: opts.Logger})
	}

	delegate = NewUserAgentRoundTripper(delegate, cfg.UserAgent)

	delegate = NewRequestIDRoundTripperWithOpts(delegate, RequestIDRoundTripperOpts{
		RequestIDProvider: opts.RequestIDProvider,
	})

	return &http.Client{Transport: delegate, Timeout: time.Duration(cfg.Timeout)}, nil
}

// Client calls JSON endpoints of the remote API.
type Client struct {
	HTTPClient *http.Client
	BaseURL    *url.URL
}

// NewClient creates a new Client.
func NewClient(cfg *Config, opts Opts) (*Client, error) {
	httpClient, err := NewWithOpts(cfg, opts)
	if err != nil {
		return nil, err
	}
	c := &Client{HTTPClient: httpClient}
	if cfg.BaseURL != "" {
		if c.BaseURL, err = url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/"); err != nil {
			return nil, fmt.Errorf("parse base URL: %w", err)
		}
	}
	return c, nil
}

// DoJSON sends the request with reqBody encoded as JSON (if not nil) and decodes the response body into respBody
// (if not nil). A non-2xx response is returned as *APIError.
// The path is resolved against BaseURL unless it's an absolute URL.
func (c *Client) DoJSON(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	reqURL, err := c.resolveURL(path)
	if err != nil {
		return err
	}

	var bodyReader io.Reader
	if reqBody != nil {
		data, marshalErr := json.Marshal(reqBody)
		if marshalErr != nil {
			return fmt.Errorf("encode request body: %w", marshalErr)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBodySize))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp, data)
	}
	if respBody == nil || len(data) == 0 {
		return nil
	}
	if err = json.Unmarshal(data, respBody); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

func (c *Client) resolveURL(path string) (string, error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse request path: %w", err)
	}
	if u.IsAbs() || c.BaseURL == nil {
		return u.String(), nil
	}
	return c.BaseURL.ResolveReference(&url.URL{Path: strings.TrimPrefix(u.Path, "/"), RawQuery: u.RawQuery}).String(), nil
}
