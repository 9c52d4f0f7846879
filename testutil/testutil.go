/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package testutil contains assertion helpers shared by tests of quotakit packages:
// error chains, Prometheus collectors and JSON responses of the diagnostics router.
package testutil

type tHelper interface {
	Helper()
}
