/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package taskqueue

import (
	"errors"
	"time"

	"github.com/acronis/go-quotakit/config"
)

const cfgDefaultKeyPrefix = "queue"

const (
	cfgKeyMaxConcurrent = "maxConcurrent"
	cfgKeyMaxRetries    = "maxRetries"
	cfgKeyRetryDelay    = "retryDelay"
	cfgKeyMaxPending    = "maxPending"
	cfgKeyTaskTimeout   = "taskTimeout"
)

// Config represents a set of configuration parameters for Queue.
type Config struct {
	MaxConcurrent int                 `mapstructure:"maxConcurrent" yaml:"maxConcurrent" json:"maxConcurrent"`
	MaxRetries    int                 `mapstructure:"maxRetries" yaml:"maxRetries" json:"maxRetries"`
	RetryDelay    config.TimeDuration `mapstructure:"retryDelay" yaml:"retryDelay" json:"retryDelay"`
	MaxPending    int                 `mapstructure:"maxPending" yaml:"maxPending" json:"maxPending"`
	TaskTimeout   config.TimeDuration `mapstructure:"taskTimeout" yaml:"taskTimeout" json:"taskTimeout"`

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
	return &Config{
		MaxConcurrent: DefaultMaxConcurrent,
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    config.TimeDuration(DefaultRetryDelay),
	}
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
	dp.SetDefault(cfgKeyMaxConcurrent, DefaultMaxConcurrent)
	dp.SetDefault(cfgKeyMaxRetries, DefaultMaxRetries)
	dp.SetDefault(cfgKeyRetryDelay, DefaultRetryDelay.String())
}

// Set sets queue configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.MaxConcurrent, err = dp.GetInt(cfgKeyMaxConcurrent); err != nil {
		return err
	}
	if c.MaxConcurrent < 1 {
		return dp.WrapKeyErr(cfgKeyMaxConcurrent, errors.New("must be >= 1"))
	}
	if c.MaxRetries, err = dp.GetInt(cfgKeyMaxRetries); err != nil {
		return err
	}
	if c.MaxRetries < 0 {
		return dp.WrapKeyErr(cfgKeyMaxRetries, errors.New("can not be negative"))
	}
	if c.MaxPending, err = dp.GetInt(cfgKeyMaxPending); err != nil {
		return err
	}
	if c.MaxPending < 0 {
		return dp.WrapKeyErr(cfgKeyMaxPending, errors.New("can not be negative"))
	}

	var d time.Duration
	if d, err = dp.GetDuration(cfgKeyRetryDelay); err != nil {
		return err
	}
	if d <= 0 {
		return dp.WrapKeyErr(cfgKeyRetryDelay, errors.New("must be positive"))
	}
	c.RetryDelay = config.TimeDuration(d)

	if d, err = dp.GetDuration(cfgKeyTaskTimeout); err != nil {
		return err
	}
	if d < 0 {
		return dp.WrapKeyErr(cfgKeyTaskTimeout, errors.New("can not be negative"))
	}
	c.TaskTimeout = config.TimeDuration(d)
	return nil
}

// Options returns queue options filled from the configuration.
func (c *Config) Options(name string) Options {
	maxRetries := c.MaxRetries
	if maxRetries == 0 {
		maxRetries = -1 // explicit zero in the configuration disables retries
	}
	return Options{
		Name:          name,
		MaxConcurrent: c.MaxConcurrent,
		MaxRetries:    maxRetries,
		RetryDelay:    time.Duration(c.RetryDelay),
		MaxPending:    c.MaxPending,
		TaskTimeout:   time.Duration(c.TaskTimeout),
	}
}
