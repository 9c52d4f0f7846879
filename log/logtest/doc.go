/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package logtest provides log.FieldLogger implementations for tests:
// a Recorder that keeps every entry in memory and a JSON logger that writes to an arbitrary io.Writer.
package logtest
