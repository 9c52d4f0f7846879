/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stretchr/testify/require"
)

// RequireNoErrorInChannel asserts that the buffered channel holds no error right now
// (it's empty or the received value is nil). It doesn't wait.
func RequireNoErrorInChannel(t require.TestingT, c <-chan error, msgAndArgs ...interface{}) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	var err error
	select {
	case err = <-c:
	default:
	}
	require.NoError(t, err, msgAndArgs...)
}

// RequireErrorInChannel waits up to timeout for a non-nil error in the channel and returns it.
// It's handy for fatal error channels of servers started in the background.
func RequireErrorInChannel(t require.TestingT, c <-chan error, timeout time.Duration, msgAndArgs ...interface{}) error {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	select {
	case err := <-c:
		require.Error(t, err, msgAndArgs...)
		return err
	case <-time.After(timeout):
		require.FailNow(t, fmt.Sprintf("No error received in %s", timeout), msgAndArgs...)
		return nil
	}
}

// RequireErrorIsAny asserts that at least one of the errors in err's tree matches at least one target.
// The tree is walked by errors.Is, so errors combined by errors.Join are matched too.
func RequireErrorIsAny(t require.TestingT, err error, targets []error, msgAndArgs ...interface{}) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	expected := make([]string, 0, len(targets))
	for _, target := range targets {
		if errors.Is(err, target) {
			return
		}
		expected = append(expected, fmt.Sprintf("%q", target.Error()))
	}
	require.FailNow(t, fmt.Sprintf("At least one target error should be in err chain:\n"+
		"expected: [%s]\n"+
		"in chain: %s", strings.Join(expected, "; "), buildErrorChainString(err),
	), msgAndArgs...)
}

// buildErrorChainString renders err and everything it wraps, one error per line,
// indenting errors that are wrapped by a joined error.
func buildErrorChainString(err error) string {
	var sb strings.Builder
	var walk func(e error, depth int)
	walk = func(e error, depth int) {
		for e != nil {
			if sb.Len() != 0 {
				sb.WriteString("\n" + strings.Repeat("\t", depth+1))
			}
			sb.WriteString(fmt.Sprintf("%q", e.Error()))
			if joined, ok := e.(interface{ Unwrap() []error }); ok {
				for _, inner := range joined.Unwrap() {
					walk(inner, depth+1)
				}
				return
			}
			e = errors.Unwrap(e)
		}
	}
	walk(err, 0)
	return sb.String()
}
