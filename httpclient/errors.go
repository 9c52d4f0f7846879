/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrClientThrottled is matched by errors.Is for requests rejected by the client side rate limiter.
var ErrClientThrottled = errors.New("request throttled on client side")

// APIError is returned by Client.DoJSON when the remote API responds with a non-2xx status code.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       []byte
	Header     http.Header
}

// newAPIError builds APIError from the response. The body is expected to be already read.
// Both {"code": "...", "message": "..."} and {"error": {"code": "...", "message": "..."}} layouts are recognized.
func newAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: body, Header: resp.Header}
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if len(body) != 0 && json.Unmarshal(body, &payload) == nil {
		apiErr.Code, apiErr.Message = payload.Code, payload.Message
		if payload.Error != nil {
			if apiErr.Code == "" {
				apiErr.Code = payload.Error.Code
			}
			if apiErr.Message == "" {
				apiErr.Message = payload.Error.Message
			}
		}
	}
	return apiErr
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("api responded with status %d", e.StatusCode)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// HTTPStatusCode returns the status code of the response.
func (e *APIError) HTTPStatusCode() int {
	return e.StatusCode
}

// ResponseHeader returns headers of the response.
func (e *APIError) ResponseHeader() http.Header {
	return e.Header
}

// ResponseBody returns the raw body of the response.
func (e *APIError) ResponseBody() []byte {
	return e.Body
}

// AuthExpired reports whether the remote API rejected the credentials.
func (e *APIError) AuthExpired() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// ClientThrottledError is returned by RateLimitingRoundTripper when the outbound request is rejected
// by the leaky bucket or sliding window limiter.
type ClientThrottledError struct {
	Delay time.Duration
}

func (e *ClientThrottledError) Error() string {
	return fmt.Sprintf("%s, retry after %s", ErrClientThrottled.Error(), e.Delay)
}

// Is makes errors.Is(err, ErrClientThrottled) work.
func (e *ClientThrottledError) Is(target error) bool {
	return target == ErrClientThrottled
}

// RetryAfter returns the delay after which the request is expected to pass the limiter.
func (e *ClientThrottledError) RetryAfter() (time.Duration, bool) {
	return e.Delay, e.Delay > 0
}

// AuthRoundTripperError is returned in RoundTrip method of AuthRoundTripper
// when the session cannot be obtained or refreshed.
type AuthRoundTripperError struct {
	Inner error
}

func (e *AuthRoundTripperError) Error() string {
	return fmt.Sprintf("auth round trip: %s", e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *AuthRoundTripperError) Unwrap() error {
	return e.Inner
}

// RateLimitingWaitError is returned in RoundTrip method of RateLimitingRoundTripper when rate limit is exceeded.
type RateLimitingWaitError struct {
	Inner error
}

func (e *RateLimitingWaitError) Error() string {
	return fmt.Sprintf("wait due to client side rate limiting: %s", e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *RateLimitingWaitError) Unwrap() error {
	return e.Inner
}
