/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package ttlstore

import (
	"fmt"
	"time"

	"github.com/acronis/go-quotakit/config"
)

const cfgDefaultKeyPrefix = "store"

const (
	cfgKeyPath          = "path"
	cfgKeyInMemory      = "inMemory"
	cfgKeyMaxEntries    = "maxEntries"
	cfgKeySweepInterval = "sweepInterval"
	cfgKeyDefaultTTL    = "defaultTTL"
)

// Default values of the store configuration.
const (
	DefaultSweepInterval = 5 * time.Minute
	DefaultTTL           = time.Hour
)

// Config represents a set of configuration parameters for the store.
// An empty Path with InMemory=false selects MemoryStore, otherwise PebbleStore is used.
type Config struct {
	Path          string              `mapstructure:"path" yaml:"path" json:"path"`
	InMemory      bool                `mapstructure:"inMemory" yaml:"inMemory" json:"inMemory"`
	MaxEntries    int                 `mapstructure:"maxEntries" yaml:"maxEntries" json:"maxEntries"`
	SweepInterval config.TimeDuration `mapstructure:"sweepInterval" yaml:"sweepInterval" json:"sweepInterval"`
	DefaultTTL    config.TimeDuration `mapstructure:"defaultTTL" yaml:"defaultTTL" json:"defaultTTL"`

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
		SweepInterval: config.TimeDuration(DefaultSweepInterval),
		DefaultTTL:    config.TimeDuration(DefaultTTL),
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
	dp.SetDefault(cfgKeySweepInterval, DefaultSweepInterval.String())
	dp.SetDefault(cfgKeyDefaultTTL, DefaultTTL.String())
}

// Set sets store configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.Path, err = dp.GetString(cfgKeyPath); err != nil {
		return err
	}
	if c.InMemory, err = dp.GetBool(cfgKeyInMemory); err != nil {
		return err
	}
	if c.MaxEntries, err = dp.GetInt(cfgKeyMaxEntries); err != nil {
		return err
	}
	if c.MaxEntries < 0 {
		return dp.WrapKeyErr(cfgKeyMaxEntries, fmt.Errorf("should be >= 0"))
	}
	var d time.Duration
	if d, err = dp.GetDuration(cfgKeySweepInterval); err != nil {
		return err
	}
	if d < 0 {
		return dp.WrapKeyErr(cfgKeySweepInterval, fmt.Errorf("should be >= 0"))
	}
	c.SweepInterval = config.TimeDuration(d)
	if d, err = dp.GetDuration(cfgKeyDefaultTTL); err != nil {
		return err
	}
	if d <= 0 {
		return dp.WrapKeyErr(cfgKeyDefaultTTL, fmt.Errorf("should be > 0"))
	}
	c.DefaultTTL = config.TimeDuration(d)
	return nil
}

// NewStoreFromConfig creates a store according to the configuration.
func NewStoreFromConfig(cfg *Config, opts Options) (Store, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return NewMemoryStoreWithOpts(MemoryStoreOptions{Options: opts, MaxEntries: cfg.MaxEntries}), nil
	}
	store, err := OpenPebbleStoreWithOpts(cfg.Path, PebbleStoreOptions{Options: opts, InMemory: cfg.InMemory})
	if err != nil {
		return nil, err
	}
	return store, nil
}
