/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/atomic"
)

type refreshBudgetKey struct{}

// WithSingleRefresh returns a context in which at most one session refresh may be made
// by all layers consulting TryAcquireRefresh (the query executor, the HTTP transport, WithAuthRefresh).
// If ctx already carries a budget, it's returned unchanged and the budget is shared.
func WithSingleRefresh(ctx context.Context) context.Context {
	if _, ok := ctx.Value(refreshBudgetKey{}).(*atomic.Bool); ok {
		return ctx
	}
	return context.WithValue(ctx, refreshBudgetKey{}, atomic.NewBool(false))
}

// TryAcquireRefresh reports whether a session refresh may be made within ctx and consumes the budget if so.
// A context without a budget (see WithSingleRefresh) doesn't limit refreshes.
func TryAcquireRefresh(ctx context.Context) bool {
	used, ok := ctx.Value(refreshBudgetKey{}).(*atomic.Bool)
	if !ok {
		return true
	}
	return !used.Swap(true)
}

// RefreshOptions represents options for WithAuthRefresh.
type RefreshOptions struct {
	// IsAuthExpired tells whether the operation failed because of invalid credentials.
	// Default recognizes ErrNotAuthenticated and errors implementing interface{ AuthExpired() bool }.
	IsAuthExpired func(err error) bool

	// Now returns the current time. Default is time.Now.
	Now func() time.Time
}

// IsAuthExpired is the default classifier of credential failures.
func IsAuthExpired(err error) bool {
	if errors.Is(err, ErrNotAuthenticated) {
		return true
	}
	var ae interface{ AuthExpired() bool }
	return errors.As(err, &ae) && ae.AuthExpired()
}

// WithAuthRefresh calls op with the current valid session.
// If there is no valid session, or op fails with expired credentials, the session is refreshed
// (if the provider implements Refresher) and op is retried. The refresh happens at most once per call,
// and not at all if the refresh budget of ctx has been already spent.
func WithAuthRefresh[V any](
	ctx context.Context, p Provider, opts RefreshOptions, op func(ctx context.Context, s Session) (V, error),
) (V, error) {
	if opts.IsAuthExpired == nil {
		opts.IsAuthExpired = IsAuthExpired
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	var zero V

	ctx = WithSingleRefresh(ctx)
	s, err := p.CurrentSession(ctx)
	if err != nil {
		return zero, fmt.Errorf("get current session: %w", err)
	}
	s = s.WithExpiryFromToken()
	if !s.Valid(opts.Now()) {
		if !TryAcquireRefresh(ctx) {
			return zero, fmt.Errorf("%w: session is not valid", ErrNotAuthenticated)
		}
		if s, err = Refresh(ctx, p, opts.Now); err != nil {
			return zero, err
		}
	}

	val, err := op(ctx, s)
	if err == nil || !opts.IsAuthExpired(err) || !TryAcquireRefresh(ctx) {
		return val, err
	}
	if s, err = Refresh(ctx, p, opts.Now); err != nil {
		return zero, err
	}
	return op(ctx, s)
}

// Refresh obtains a new session from p if it implements Refresher.
// The returned error always matches ErrNotAuthenticated.
func Refresh(ctx context.Context, p Provider, now func() time.Time) (Session, error) {
	if now == nil {
		now = time.Now
	}
	r, ok := p.(Refresher)
	if !ok {
		return Session{}, ErrNotAuthenticated
	}
	s, err := r.RefreshSession(ctx)
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("%w: refresh session: %w", ErrNotAuthenticated, err)
	}
	s = s.WithExpiryFromToken()
	if !s.Valid(now()) {
		return Session{}, fmt.Errorf("%w: refreshed session is not valid", ErrNotAuthenticated)
	}
	return s, nil
}
