/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package quota

import (
	"fmt"
	"math"
	"time"
)

// QueryError is returned by Executor when the query fails.
// The original failure is available via errors.Unwrap, errors.Is and errors.As.
type QueryError struct {
	// Label is a context label of the query (e.g. "load customers").
	Label string

	// Message is a human-readable description of the failure.
	Message string

	// OriginalError is the last failure of the query.
	OriginalError error

	// IsRateLimit is true if the query failed because of quota exhaustion or throttling.
	IsRateLimit bool

	// RetryAfter is the estimated time after which the query is expected to succeed.
	// Zero means the estimate is unknown.
	RetryAfter time.Duration

	// FailureKind is the class of OriginalError.
	FailureKind Kind

	// Attempts is the number of performed attempts.
	Attempts int
}

func newQueryError(label string, err error, kind Kind, retryAfter time.Duration, attempts int) *QueryError {
	qe := &QueryError{
		Label:         label,
		OriginalError: err,
		IsRateLimit:   kind == KindRateLimited,
		RetryAfter:    retryAfter,
		FailureKind:   kind,
		Attempts:      attempts,
	}
	switch kind {
	case KindRateLimited:
		if retryAfter > 0 {
			qe.Message = fmt.Sprintf("rate limit exceeded, retry in %ds", RetryAfterSeconds(retryAfter))
		} else {
			qe.Message = "rate limit exceeded, retry later"
		}
	case KindAuthExpired:
		qe.Message = "authentication expired: " + err.Error()
	default:
		qe.Message = err.Error()
	}
	if label != "" {
		qe.Message = label + ": " + qe.Message
	}
	return qe
}

func (e *QueryError) Error() string {
	return e.Message
}

// Unwrap returns the next error in the error chain.
func (e *QueryError) Unwrap() error {
	return e.OriginalError
}

// Kind returns the class of the failure.
func (e *QueryError) Kind() Kind {
	return e.FailureKind
}

// RetryAfterSeconds rounds the duration up to whole seconds.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
