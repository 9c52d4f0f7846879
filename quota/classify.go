/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package quota

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/cloudflare/ahocorasick"

	"github.com/acronis/go-quotakit/httpclient"
	"github.com/acronis/go-quotakit/session"
	"github.com/acronis/go-quotakit/taskqueue"
	"github.com/acronis/go-quotakit/ttlstore"
)

// Kind is a class of a failure.
type Kind int

// Failure kinds.
const (
	// KindTransient is any failure which is not recognized as one of the other kinds. It's not retried.
	KindTransient Kind = iota

	// KindRateLimited is a quota or throttling failure. It's retried with backoff.
	KindRateLimited

	// KindAuthExpired is a credentials failure. It's handled by a single session refresh.
	KindAuthExpired

	// KindStoreFailure is a rejected cache read or write. It never escapes the memoizing wrapper.
	KindStoreFailure

	// KindQueueRejected is a task which could not be scheduled or was cleared from the queue.
	KindQueueRejected
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindAuthExpired:
		return "auth_expired"
	case KindStoreFailure:
		return "store_failure"
	case KindQueueRejected:
		return "queue_rejected"
	}
	return "unknown"
}

// rateLimitMarkers are searched (case-insensitively) in the message and the body of 403 responses.
var rateLimitMarkers = []string{
	"quota exceeded",
	"quotaexceeded",
	"out of call volume quota",
	"too many requests",
	"toomanyrequests",
	"throttled",
	"rate limit",
}

var rateLimitMarkersMatcher = ahocorasick.NewStringMatcher(rateLimitMarkers)

// ContainsRateLimitMarker reports whether s mentions quota exhaustion or throttling.
func ContainsRateLimitMarker(s string) bool {
	if s == "" {
		return false
	}
	return len(rateLimitMarkersMatcher.MatchThreadSafe([]byte(strings.ToLower(s)))) > 0
}

// Classify returns the kind of the failure.
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}

	var kindErr interface{ Kind() Kind }
	if errors.As(err, &kindErr) {
		return kindErr.Kind()
	}

	if errors.Is(err, httpclient.ErrClientThrottled) {
		return KindRateLimited
	}
	if errors.Is(err, ttlstore.ErrStoreFull) || errors.Is(err, ttlstore.ErrStoreClosed) {
		return KindStoreFailure
	}
	if errors.Is(err, taskqueue.ErrCleared) || errors.Is(err, taskqueue.ErrQueueFull) ||
		errors.Is(err, taskqueue.ErrQueueClosed) {
		return KindQueueRejected
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	switch statusCode(err) {
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusForbidden:
		if ContainsRateLimitMarker(err.Error()) || ContainsRateLimitMarker(string(responseBody(err))) {
			return KindRateLimited
		}
		return KindTransient
	case http.StatusUnauthorized:
		return KindAuthExpired
	}

	if session.IsAuthExpired(err) {
		return KindAuthExpired
	}
	return KindTransient
}

// IsRateLimit reports whether the failure is caused by quota exhaustion or throttling.
// It's the default retry condition of Executor.
func IsRateLimit(err error) bool {
	return Classify(err) == KindRateLimited
}

func statusCode(err error) int {
	var sc interface{ HTTPStatusCode() int }
	if errors.As(err, &sc) {
		return sc.HTTPStatusCode()
	}
	return 0
}

func responseBody(err error) []byte {
	var rb interface{ ResponseBody() []byte }
	if errors.As(err, &rb) {
		return rb.ResponseBody()
	}
	return nil
}

func responseHeader(err error) http.Header {
	var rh interface{ ResponseHeader() http.Header }
	if errors.As(err, &rh) {
		return rh.ResponseHeader()
	}
	return nil
}
