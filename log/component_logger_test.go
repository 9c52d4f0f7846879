/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package log_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-quotakit/log"
	"github.com/acronis/go-quotakit/log/logtest"
)

func TestNewComponentLogger(t *testing.T) {
	rec := logtest.NewRecorder()
	logger := log.NewComponentLogger(rec, "ttlstore")

	logger.Info("entry expired", log.String("key", "cache/a"))
	logger.Errorf("sweep failed: %v", "boom")

	entries := rec.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, "[ttlstore] entry expired", entries[0].Text)
	require.Equal(t, "[ttlstore] sweep failed: boom", entries[1].Text)
	require.Len(t, rec.FindAllEntriesByField("component", "ttlstore"), 2)
}

func TestNewComponentLogger_NilDelegate(t *testing.T) {
	logger := log.NewComponentLogger(nil, "dedup")
	require.NotPanics(t, func() {
		logger.Info("ignored")
		logger.With(log.Int("n", 1)).Warn("ignored too")
	})
}
