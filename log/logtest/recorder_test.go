/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-quotakit/log"
)

func TestRecorder(t *testing.T) {
	rec := NewRecorder()
	logger := rec.With(log.String("component", "taskqueue"))

	logger.Info("task started", log.String("task", "a"))
	logger.Warnf("task %s failed", "b")
	rec.WithLevel(log.LevelError).Info("suppressed")

	require.Len(t, rec.Entries(), 2)

	entry, found := rec.FindEntry("task started")
	require.True(t, found)
	require.Equal(t, log.LevelInfo, entry.Level)
	f, ok := entry.FindField("task")
	require.True(t, ok)
	require.Equal(t, "a", string(f.Bytes))

	require.Len(t, rec.FindAllEntriesByField("component", "taskqueue"), 2)
	require.Equal(t, 1, rec.CountByLevel(log.LevelWarn))

	_, found = rec.FindEntry("suppressed")
	require.False(t, found)

	rec.Reset()
	require.Empty(t, rec.Entries())
}
