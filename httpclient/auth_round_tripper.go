/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"fmt"
	"net/http"
	"time"

	"github.com/acronis/go-quotakit/log"
	"github.com/acronis/go-quotakit/session"
)

// DefaultSubscriptionKeyHeader is the HTTP header which carries the subscription key of the session.
const DefaultSubscriptionKeyHeader = "Ocp-Apim-Subscription-Key"

// AuthRoundTripperOpts is options for AuthRoundTripper.
type AuthRoundTripperOpts struct {
	// SubscriptionKeyHeader is a name of the header for Session.SubscriptionKey.
	// DefaultSubscriptionKeyHeader is used by default.
	SubscriptionKeyHeader string

	// Now returns the current time. Default is time.Now.
	Now func() time.Time

	// Logger is used for reporting failures that don't affect the result of the request.
	Logger log.FieldLogger
}

// AuthRoundTripper implements http.RoundTripper interface
// and sets Authorization and subscription key HTTP headers in all outgoing requests.
// If the remote API responds with 401, the session is refreshed (when the provider implements session.Refresher)
// and the request is retried exactly once. The refresh consumes the budget of session.WithSingleRefresh
// when the request context carries one.
type AuthRoundTripper struct {
	Delegate http.RoundTripper
	Provider session.Provider
	opts     AuthRoundTripperOpts
}

// NewAuthRoundTripper creates a new AuthRoundTripper.
func NewAuthRoundTripper(delegate http.RoundTripper, provider session.Provider) *AuthRoundTripper {
	return NewAuthRoundTripperWithOpts(delegate, provider, AuthRoundTripperOpts{})
}

// NewAuthRoundTripperWithOpts creates a new AuthRoundTripper with options.
func NewAuthRoundTripperWithOpts(
	delegate http.RoundTripper, provider session.Provider, opts AuthRoundTripperOpts,
) *AuthRoundTripper {
	if opts.SubscriptionKeyHeader == "" {
		opts.SubscriptionKeyHeader = DefaultSubscriptionKeyHeader
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	return &AuthRoundTripper{delegate, provider, opts}
}

// RoundTrip executes a single HTTP transaction, returning a Response for the provided Request.
func (rt *AuthRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		origBody := req.Body
		defer func() {
			_ = origBody.Close() // Per RoundTripper contract.
		}()
	}
	if req.Header.Get("Authorization") != "" {
		return rt.Delegate.RoundTrip(req)
	}

	ctx := req.Context()
	req = req.Clone(ctx) // Body may be replaced below, the caller's request stays untouched.
	sess, err := rt.Provider.CurrentSession(ctx)
	if err != nil {
		return nil, &AuthRoundTripperError{Inner: fmt.Errorf("get current session: %w", err)}
	}
	sess = sess.WithExpiryFromToken()
	refreshed := false
	if !sess.Valid(rt.opts.Now()) {
		if !session.TryAcquireRefresh(ctx) {
			return nil, &AuthRoundTripperError{Inner: fmt.Errorf("%w: session is not valid", session.ErrNotAuthenticated)}
		}
		if sess, err = session.Refresh(ctx, rt.Provider, rt.opts.Now); err != nil {
			return nil, &AuthRoundTripperError{Inner: err}
		}
		refreshed = true
	}

	_, canRefresh := rt.Provider.(session.Refresher)
	canRetry := canRefresh && !refreshed

	var rewindReqBody func(r *http.Request) error
	if canRetry && req.Body != nil && req.Body != http.NoBody {
		if rewindReqBody, err = makeRequestBodyRewindable(req); err != nil {
			return nil, &AuthRoundTripperError{Inner: err}
		}
	}

	resp, err := rt.Delegate.RoundTrip(rt.authorize(req, sess))
	if err != nil || resp.StatusCode != http.StatusUnauthorized || !canRetry || !session.TryAcquireRefresh(ctx) {
		return resp, err
	}

	newSess, refreshErr := session.Refresh(ctx, rt.Provider, rt.opts.Now)
	if refreshErr != nil {
		rt.opts.Logger.Warn("failed to refresh session after 401 response", log.Error(refreshErr))
		return resp, nil
	}
	if rewindReqBody != nil {
		if rewindErr := rewindReqBody(req); rewindErr != nil {
			rt.opts.Logger.Warn("failed to rewind request body for retry", log.Error(rewindErr))
			return resp, nil
		}
	}
	drainResponseBody(resp, rt.opts.Logger)
	return rt.Delegate.RoundTrip(rt.authorize(req, newSess))
}

func (rt *AuthRoundTripper) authorize(req *http.Request, sess session.Session) *http.Request {
	req = req.Clone(req.Context()) // Per RoundTripper contract.
	req.Header.Set("Authorization", sess.AuthorizationHeader())
	if sess.SubscriptionKey != "" && req.Header.Get(rt.opts.SubscriptionKeyHeader) == "" {
		req.Header.Set(rt.opts.SubscriptionKeyHeader, sess.SubscriptionKey)
	}
	return req
}
