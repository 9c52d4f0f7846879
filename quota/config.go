/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package quota

import (
	"errors"
	"time"

	"github.com/acronis/go-quotakit/config"
	"github.com/acronis/go-quotakit/retry"
)

const cfgDefaultKeyPrefix = "query"

const (
	cfgKeyRetryMaxAttempts  = "retry.maxAttempts"
	cfgKeyRetryBaseInterval = "retry.baseInterval"
	cfgKeyRetryJitterFactor = "retry.jitterFactor"
	cfgKeyRetryMaxInterval  = "retry.maxInterval"
	cfgKeyTimeout           = "timeout"
)

// RetryConfig represents configuration of the backoff between attempts.
type RetryConfig struct {
	// MaxAttempts is a total number of attempts including the initial one.
	MaxAttempts int `mapstructure:"maxAttempts" yaml:"maxAttempts" json:"maxAttempts"`

	// BaseInterval is a delay before the first retry. It's doubled on every next retry.
	BaseInterval config.TimeDuration `mapstructure:"baseInterval" yaml:"baseInterval" json:"baseInterval"`

	// JitterFactor is an upper bound of the random jitter relative to the delay.
	JitterFactor float64 `mapstructure:"jitterFactor" yaml:"jitterFactor" json:"jitterFactor"`

	// MaxInterval caps the delay. Zero means no cap.
	MaxInterval config.TimeDuration `mapstructure:"maxInterval" yaml:"maxInterval" json:"maxInterval"`
}

// Policy returns the backoff policy.
func (c *RetryConfig) Policy() retry.JitteredExponentialBackoffPolicy {
	jitterFactor := c.JitterFactor
	if jitterFactor == 0 {
		jitterFactor = -1 // explicit zero in the configuration disables jitter
	}
	return retry.JitteredExponentialBackoffPolicy{
		BaseInterval: time.Duration(c.BaseInterval),
		MaxAttempts:  c.MaxAttempts,
		JitterFactor: jitterFactor,
		MaxInterval:  time.Duration(c.MaxInterval),
	}
}

// Config represents a set of configuration parameters for Executor.
type Config struct {
	Retry RetryConfig `mapstructure:"retry" yaml:"retry" json:"retry"`

	// Timeout limits every attempt. Zero means no timeout.
	Timeout config.TimeDuration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config.
func NewConfig(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{Retry: RetryConfig{
		MaxAttempts:  retry.DefaultMaxAttempts,
		BaseInterval: config.TimeDuration(retry.DefaultBaseInterval),
		JitterFactor: retry.DefaultJitterFactor,
	}}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyRetryMaxAttempts, retry.DefaultMaxAttempts)
	dp.SetDefault(cfgKeyRetryBaseInterval, retry.DefaultBaseInterval.String())
	dp.SetDefault(cfgKeyRetryJitterFactor, retry.DefaultJitterFactor)
}

// Set sets executor configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.Retry.MaxAttempts, err = dp.GetInt(cfgKeyRetryMaxAttempts); err != nil {
		return err
	}
	if c.Retry.MaxAttempts < 1 {
		return dp.WrapKeyErr(cfgKeyRetryMaxAttempts, errors.New("must be >= 1"))
	}

	var d time.Duration
	if d, err = dp.GetDuration(cfgKeyRetryBaseInterval); err != nil {
		return err
	}
	if d <= 0 {
		return dp.WrapKeyErr(cfgKeyRetryBaseInterval, errors.New("must be positive"))
	}
	c.Retry.BaseInterval = config.TimeDuration(d)

	if c.Retry.JitterFactor, err = dp.GetFloat64(cfgKeyRetryJitterFactor); err != nil {
		return err
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		return dp.WrapKeyErr(cfgKeyRetryJitterFactor, errors.New("must be in range [0..1]"))
	}

	if d, err = dp.GetDuration(cfgKeyRetryMaxInterval); err != nil {
		return err
	}
	if d < 0 {
		return dp.WrapKeyErr(cfgKeyRetryMaxInterval, errors.New("can not be negative"))
	}
	c.Retry.MaxInterval = config.TimeDuration(d)

	if d, err = dp.GetDuration(cfgKeyTimeout); err != nil {
		return err
	}
	if d < 0 {
		return dp.WrapKeyErr(cfgKeyTimeout, errors.New("can not be negative"))
	}
	c.Timeout = config.TimeDuration(d)
	return nil
}

// ExecutorOpts returns executor options filled from the configuration.
func (c *Config) ExecutorOpts() ExecutorOpts {
	return ExecutorOpts{Policy: c.Retry.Policy(), Timeout: time.Duration(c.Timeout)}
}
