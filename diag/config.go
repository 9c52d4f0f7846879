/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package diag

import (
	"errors"
	"time"

	"github.com/acronis/go-quotakit/config"
)

const cfgDefaultKeyPrefix = "diag"

const (
	cfgKeyEnabled         = "enabled"
	cfgKeyAddress         = "address"
	cfgKeyShutdownTimeout = "shutdownTimeout"
)

// Default values of the diagnostics server configuration.
const (
	DefaultAddress         = "127.0.0.1:9090"
	DefaultShutdownTimeout = 5 * time.Second
)

// Config represents a set of configuration parameters for the diagnostics HTTP server.
type Config struct {
	Enabled         bool                `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Address         string              `mapstructure:"address" yaml:"address" json:"address"`
	ShutdownTimeout config.TimeDuration `mapstructure:"shutdownTimeout" yaml:"shutdownTimeout" json:"shutdownTimeout"`

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
	return &Config{Address: DefaultAddress, ShutdownTimeout: config.TimeDuration(DefaultShutdownTimeout)}
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
	dp.SetDefault(cfgKeyAddress, DefaultAddress)
	dp.SetDefault(cfgKeyShutdownTimeout, DefaultShutdownTimeout.String())
}

// Set sets diagnostics server configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.Enabled, err = dp.GetBool(cfgKeyEnabled); err != nil {
		return err
	}
	if c.Address, err = dp.GetString(cfgKeyAddress); err != nil {
		return err
	}
	if c.Enabled && c.Address == "" {
		return dp.WrapKeyErr(cfgKeyAddress, errors.New("must not be empty"))
	}
	var d time.Duration
	if d, err = dp.GetDuration(cfgKeyShutdownTimeout); err != nil {
		return err
	}
	if d < 0 {
		return dp.WrapKeyErr(cfgKeyShutdownTimeout, errors.New("can not be negative"))
	}
	c.ShutdownTimeout = config.TimeDuration(d)
	return nil
}
