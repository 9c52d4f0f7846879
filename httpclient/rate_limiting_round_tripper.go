/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/acronis/go-quotakit/internal/ratelimit"
)

// Default parameter values for RateLimitingRoundTripper.
const (
	DefaultRateLimitingBurst       = 1
	DefaultRateLimitingWaitTimeout = 15 * time.Second
	DefaultRateLimitingPeriod      = time.Second
)

// RateLimitingAlgorithm is an algorithm of client side rate limiting.
type RateLimitingAlgorithm string

// Client side rate limiting algorithms.
// With the token bucket the request waits for its turn (at most WaitTimeout),
// the other algorithms reject the request immediately with ClientThrottledError.
const (
	RateLimitingAlgorithmTokenBucket   RateLimitingAlgorithm = "token_bucket"
	RateLimitingAlgorithmLeakyBucket   RateLimitingAlgorithm = RateLimitingAlgorithm(ratelimit.AlgorithmLeakyBucket)
	RateLimitingAlgorithmSlidingWindow RateLimitingAlgorithm = RateLimitingAlgorithm(ratelimit.AlgorithmSlidingWindow)
)

// IsValid checks if the algorithm is known.
func (a RateLimitingAlgorithm) IsValid() bool {
	switch a {
	case RateLimitingAlgorithmTokenBucket, RateLimitingAlgorithmLeakyBucket, RateLimitingAlgorithmSlidingWindow:
		return true
	}
	return false
}

// RateLimitingRoundTripperAdaptation represents a params to adapt rate limiting in accordance with value in response.
type RateLimitingRoundTripperAdaptation struct {
	ResponseHeaderName string
	SlackPercent       int
}

// RateLimitingRoundTripperOpts represents an options for RateLimitingRoundTripper.
type RateLimitingRoundTripperOpts struct {
	// Algorithm is RateLimitingAlgorithmTokenBucket by default.
	Algorithm RateLimitingAlgorithm

	// Period is a duration for which the rate limit is set (DefaultRateLimitingPeriod by default).
	Period time.Duration

	Burst       int
	WaitTimeout time.Duration

	// Adaptation is supported by the token bucket algorithm only.
	Adaptation RateLimitingRoundTripperAdaptation

	// KeyProvider returns a key by which requests are limited independently. By default, the request host is used.
	// It's not used by the token bucket algorithm.
	KeyProvider func(r *http.Request) string
}

// RateLimitingRoundTripper wraps implementing http.RoundTripper interface object
// and provides adaptive (can use limit from response's HTTP header) rate limiting mechanism for outgoing requests.
type RateLimitingRoundTripper struct {
	Delegate http.RoundTripper

	rateLimiter   *rate.Limiter
	rejectLimiter ratelimit.Limiter
	keyProvider   func(r *http.Request) string
	baseLimit     rate.Limit

	Algorithm   RateLimitingAlgorithm
	RateLimit   int
	Period      time.Duration
	Burst       int
	WaitTimeout time.Duration
	Adaptation  RateLimitingRoundTripperAdaptation
}

// NewRateLimitingRoundTripper creates a new RateLimitingRoundTripper with specified rate limit (requests per second).
func NewRateLimitingRoundTripper(delegate http.RoundTripper, rateLimit int) (*RateLimitingRoundTripper, error) {
	return NewRateLimitingRoundTripperWithOpts(delegate, rateLimit, RateLimitingRoundTripperOpts{})
}

// NewRateLimitingRoundTripperWithOpts creates a new RateLimitingRoundTripper with specified rate limit and options.
// For options that are not presented, the default values will be used.
func NewRateLimitingRoundTripperWithOpts(
	delegate http.RoundTripper, rateLimit int, opts RateLimitingRoundTripperOpts,
) (*RateLimitingRoundTripper, error) {
	if rateLimit <= 0 {
		return nil, fmt.Errorf("rate limit must be positive")
	}

	if opts.Burst < 0 {
		return nil, fmt.Errorf("burst must be positive")
	}
	if opts.Burst == 0 {
		opts.Burst = DefaultRateLimitingBurst
	}

	if opts.WaitTimeout == 0 {
		opts.WaitTimeout = DefaultRateLimitingWaitTimeout
	}

	if opts.Adaptation.SlackPercent < 0 || opts.Adaptation.SlackPercent > 100 {
		return nil, fmt.Errorf("slack percent must be in range [0..100]")
	}

	if opts.Algorithm == "" {
		opts.Algorithm = RateLimitingAlgorithmTokenBucket
	}
	if !opts.Algorithm.IsValid() {
		return nil, fmt.Errorf("unknown rate limiting algorithm %q", opts.Algorithm)
	}
	if opts.Period < 0 {
		return nil, fmt.Errorf("period must be positive")
	}
	if opts.Period == 0 {
		opts.Period = DefaultRateLimitingPeriod
	}
	if opts.KeyProvider == nil {
		opts.KeyProvider = func(r *http.Request) string { return r.URL.Host }
	}

	rt := &RateLimitingRoundTripper{
		Delegate:    delegate,
		keyProvider: opts.KeyProvider,
		Algorithm:   opts.Algorithm,
		RateLimit:   rateLimit,
		Period:      opts.Period,
		Burst:       opts.Burst,
		WaitTimeout: opts.WaitTimeout,
		Adaptation:  opts.Adaptation,
	}
	if opts.Algorithm == RateLimitingAlgorithmTokenBucket {
		rt.baseLimit = rate.Limit(float64(rateLimit) / opts.Period.Seconds())
		rt.rateLimiter = rate.NewLimiter(rt.baseLimit, opts.Burst)
		return rt, nil
	}
	var err error
	maxRate := ratelimit.Rate{Count: rateLimit, Duration: opts.Period}
	if rt.rejectLimiter, err = ratelimit.NewLimiter(ratelimit.Algorithm(opts.Algorithm), maxRate, opts.Burst-1); err != nil {
		return nil, err
	}
	return rt, nil
}

// RoundTrip executes a single HTTP transaction, returning a Response for the provided Request.
func (rt *RateLimitingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Body != nil {
		defer func() {
			_ = r.Body.Close() // Per RoundTripper contract.
		}()
	}

	if rt.rejectLimiter != nil {
		allow, retryAfter, err := rt.rejectLimiter.Allow(r.Context(), rt.keyProvider(r))
		if err != nil {
			return nil, fmt.Errorf("check client side rate limit: %w", err)
		}
		if !allow {
			return nil, &ClientThrottledError{Delay: retryAfter}
		}
		return rt.Delegate.RoundTrip(r)
	}

	ctx, cancel := context.WithTimeout(r.Context(), rt.WaitTimeout)
	defer cancel()

	if err := rt.rateLimiter.Wait(ctx); err != nil {
		if errors.Is(r.Context().Err(), context.Canceled) {
			return nil, r.Context().Err()
		}
		return nil, &RateLimitingWaitError{Inner: err}
	}

	resp, err := rt.Delegate.RoundTrip(r)
	if err != nil {
		return resp, err
	}

	if rt.Adaptation.ResponseHeaderName != "" {
		rt.updateRateLimitIfNeeded(rt.getRateLimitFromResponse(resp))
	}

	return resp, nil
}

func (rt *RateLimitingRoundTripper) getRateLimitFromResponse(resp *http.Response) int {
	respLimitStr := resp.Header.Get(rt.Adaptation.ResponseHeaderName)
	if respLimitStr == "" {
		return 0
	}

	respLimit, err := strconv.Atoi(respLimitStr)
	if err != nil || respLimit < 0 {
		return 0
	}

	respLimit = (respLimit * (100 - rt.Adaptation.SlackPercent)) / 100
	if respLimit == 0 {
		return 1 // Send 1 request per second instead of stopping at all.
	}
	return respLimit
}

func (rt *RateLimitingRoundTripper) updateRateLimitIfNeeded(newRateLimit int) {
	// If rate limit was changed and in last HTTP response we didn't receive rate limiting header (newRateLimit is 0),
	// it would be better to restore default value.
	newLimit := rate.Limit(float64(newRateLimit) / rt.Period.Seconds())
	if newRateLimit == 0 || newLimit > rt.baseLimit {
		newLimit = rt.baseLimit
	}

	if rt.rateLimiter.Limit() != newLimit {
		rt.rateLimiter.SetLimit(newLimit)
	}
}
