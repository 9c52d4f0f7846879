/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package diag

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-quotakit/config"
)

func TestConfigWithLoader(t *testing.T) {
	yamlData := []byte(`
diag:
  enabled: true
  address: 0.0.0.0:8081
  shutdownTimeout: 10s
`)
	actualConfig := NewConfig("")
	err := config.NewDefaultLoader("").LoadFromReader(bytes.NewReader(yamlData), config.DataTypeYAML, actualConfig)
	require.NoError(t, err, "load configuration")
	require.Equal(t, &Config{
		Enabled:         true,
		Address:         "0.0.0.0:8081",
		ShutdownTimeout: config.TimeDuration(10 * time.Second),
	}, actualConfig)
}

func TestConfigDefaults(t *testing.T) {
	actualConfig := NewConfig("")
	err := config.NewDefaultLoader("").LoadFromReader(bytes.NewReader(nil), config.DataTypeYAML, actualConfig)
	require.NoError(t, err)
	require.Equal(t, NewDefaultConfig(), actualConfig)
}

func TestConfigErrors(t *testing.T) {
	cfg := NewConfig("")
	err := config.NewDefaultLoader("").LoadFromReader(
		bytes.NewReader([]byte("diag:\n  enabled: true\n  address: \"\"\n")), config.DataTypeYAML, cfg)
	require.EqualError(t, err, "diag.address: must not be empty")

	cfg = NewConfig("")
	err = config.NewDefaultLoader("").LoadFromReader(
		bytes.NewReader([]byte("diag:\n  shutdownTimeout: -1s\n")), config.DataTypeYAML, cfg)
	require.EqualError(t, err, "diag.shutdownTimeout: can not be negative")
}
