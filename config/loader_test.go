/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testQueueConfig struct {
	MaxConcurrent int
	RetryDelay    time.Duration
}

func (c *testQueueConfig) KeyPrefix() string {
	return "queue"
}

func (c *testQueueConfig) SetProviderDefaults(dp DataProvider) {
	dp.SetDefault("maxConcurrent", 3)
	dp.SetDefault("retryDelay", time.Second)
}

func (c *testQueueConfig) Set(dp DataProvider) (err error) {
	if c.MaxConcurrent, err = dp.GetInt("maxConcurrent"); err != nil {
		return err
	}
	if c.RetryDelay, err = dp.GetDuration("retryDelay"); err != nil {
		return err
	}
	return nil
}

type testStoreConfig struct {
	MaxSize ByteSize
}

func (c *testStoreConfig) SetProviderDefaults(dp DataProvider) {
	dp.SetDefault("store.maxSize", "1MB")
}

func (c *testStoreConfig) Set(dp DataProvider) (err error) {
	c.MaxSize, err = dp.GetByteSize("store.maxSize")
	return err
}

func TestLoader_LoadFromReader(t *testing.T) {
	t.Run("load config, use defaults", func(t *testing.T) {
		queueCfg := &testQueueConfig{}
		storeCfg := &testStoreConfig{}
		err := NewLoader(NewViperAdapter()).LoadFromReader(bytes.NewBufferString(`{}`), DataTypeJSON, queueCfg, storeCfg)
		require.NoError(t, err)
		require.Equal(t, 3, queueCfg.MaxConcurrent)
		require.Equal(t, time.Second, queueCfg.RetryDelay)
		require.Equal(t, ByteSize(1024*1024), storeCfg.MaxSize)
	})

	t.Run("load config, use key prefix", func(t *testing.T) {
		queueCfg := &testQueueConfig{}
		err := NewLoader(NewViperAdapter()).LoadFromReader(
			bytes.NewBufferString("queue:\n  maxConcurrent: 8\n  retryDelay: 250ms\n"), DataTypeYAML, queueCfg)
		require.NoError(t, err)
		require.Equal(t, 8, queueCfg.MaxConcurrent)
		require.Equal(t, 250*time.Millisecond, queueCfg.RetryDelay)
	})

	t.Run("invalid value", func(t *testing.T) {
		queueCfg := &testQueueConfig{}
		err := NewLoader(NewViperAdapter()).LoadFromReader(
			bytes.NewBufferString(`{"queue":{"maxConcurrent":"many"}}`), DataTypeJSON, queueCfg)
		require.ErrorContains(t, err, "queue.maxConcurrent")
	})
}

func TestViperAdapter_GetStringFromSet(t *testing.T) {
	va := NewViperAdapter()
	va.Set("algorithm", "Sliding_Window")

	got, err := va.GetStringFromSet("algorithm", []string{"token_bucket", "sliding_window"}, true)
	require.NoError(t, err)
	require.Equal(t, "Sliding_Window", got)

	_, err = va.GetStringFromSet("algorithm", []string{"token_bucket"}, false)
	require.ErrorContains(t, err, `unknown value "Sliding_Window"`)
}

func TestTimeDuration_UnmarshalJSON(t *testing.T) {
	var d TimeDuration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	require.Equal(t, TimeDuration(90*time.Second), d)
	require.NoError(t, d.UnmarshalJSON([]byte(`1000`)))
	require.Equal(t, TimeDuration(1000), d)
	require.Error(t, d.UnmarshalJSON([]byte(`"-5"`)))
	require.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))
}

func TestByteSize_UnmarshalJSON(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalJSON([]byte(`"10MB"`)))
	require.Equal(t, ByteSize(10*1024*1024), b)
	require.NoError(t, b.UnmarshalJSON([]byte(`"2Ki"`)))
	require.Equal(t, ByteSize(2048), b)
	require.Error(t, b.UnmarshalJSON([]byte(`"lots"`)))
}
