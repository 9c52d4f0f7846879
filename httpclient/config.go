/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/acronis/go-quotakit/config"
)

// DefaultClientWaitTimeout is a default timeout for a client to wait for a request.
const DefaultClientWaitTimeout = 10 * time.Second

const cfgDefaultKeyPrefix = "http"

// configuration properties
const (
	cfgKeyBaseURL                    = "baseURL"
	cfgKeyTimeout                    = "timeout"
	cfgKeyUserAgent                  = "userAgent"
	cfgKeyRateLimitsEnabled          = "rateLimits.enabled"
	cfgKeyRateLimitsAlgorithm        = "rateLimits.algorithm"
	cfgKeyRateLimitsCount            = "rateLimits.count"
	cfgKeyRateLimitsPeriod           = "rateLimits.period"
	cfgKeyRateLimitsBurst            = "rateLimits.burst"
	cfgKeyRateLimitsWaitTimeout      = "rateLimits.waitTimeout"
	cfgKeyLoggerEnabled              = "logger.enabled"
	cfgKeyLoggerMode                 = "logger.mode"
	cfgKeyLoggerSlowRequestThreshold = "logger.slowRequestThreshold"
	cfgKeyMetricsEnabled             = "metrics.enabled"
)

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// RateLimitConfig represents configuration options for HTTP client rate limits.
type RateLimitConfig struct {
	// Enabled is a flag that enables rate limiting.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Algorithm is one of token_bucket (default), leaky_bucket, sliding_window.
	Algorithm RateLimitingAlgorithm `mapstructure:"algorithm" yaml:"algorithm" json:"algorithm"`

	// Count is the maximum number of requests that can be made during Period.
	Count int `mapstructure:"count" yaml:"count" json:"count"`

	// Period is 1s by default.
	Period config.TimeDuration `mapstructure:"period" yaml:"period" json:"period"`

	// Burst allow temporary spikes in request rate.
	Burst int `mapstructure:"burst" yaml:"burst" json:"burst"`

	// WaitTimeout is the maximum time to wait for a request to be made (token_bucket only).
	WaitTimeout config.TimeDuration `mapstructure:"waitTimeout" yaml:"waitTimeout" json:"waitTimeout"`
}

func (c *RateLimitConfig) set(dp config.DataProvider) (err error) {
	if c.Enabled, err = dp.GetBool(cfgKeyRateLimitsEnabled); err != nil {
		return err
	}
	if !c.Enabled {
		return nil
	}

	alg, err := dp.GetStringFromSet(cfgKeyRateLimitsAlgorithm, []string{
		string(RateLimitingAlgorithmTokenBucket),
		string(RateLimitingAlgorithmLeakyBucket),
		string(RateLimitingAlgorithmSlidingWindow),
	}, true)
	if err != nil {
		return err
	}
	c.Algorithm = RateLimitingAlgorithm(alg)

	if c.Count, err = dp.GetInt(cfgKeyRateLimitsCount); err != nil {
		return err
	}
	if c.Count <= 0 {
		return dp.WrapKeyErr(cfgKeyRateLimitsCount, errors.New("must be positive"))
	}

	period, err := dp.GetDuration(cfgKeyRateLimitsPeriod)
	if err != nil {
		return err
	}
	if period <= 0 {
		return dp.WrapKeyErr(cfgKeyRateLimitsPeriod, errors.New("must be positive"))
	}
	c.Period = config.TimeDuration(period)

	if c.Burst, err = dp.GetInt(cfgKeyRateLimitsBurst); err != nil {
		return err
	}
	if c.Burst < 0 {
		return dp.WrapKeyErr(cfgKeyRateLimitsBurst, errors.New("must be positive"))
	}

	waitTimeout, err := dp.GetDuration(cfgKeyRateLimitsWaitTimeout)
	if err != nil {
		return err
	}
	if waitTimeout < 0 {
		return dp.WrapKeyErr(cfgKeyRateLimitsWaitTimeout, errors.New("must be positive"))
	}
	c.WaitTimeout = config.TimeDuration(waitTimeout)

	return nil
}

// TransportOpts returns transport options.
func (c *RateLimitConfig) TransportOpts() RateLimitingRoundTripperOpts {
	return RateLimitingRoundTripperOpts{
		Algorithm:   c.Algorithm,
		Period:      time.Duration(c.Period),
		Burst:       c.Burst,
		WaitTimeout: time.Duration(c.WaitTimeout),
	}
}

// LoggerConfig represents configuration options for HTTP client logs.
type LoggerConfig struct {
	// Enabled is a flag that enables logging.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// SlowRequestThreshold is a threshold for slow requests.
	SlowRequestThreshold config.TimeDuration `mapstructure:"slowRequestThreshold" yaml:"slowRequestThreshold" json:"slowRequestThreshold"`

	// Mode of logging: [all, failed]. 'all' by default.
	Mode LoggingMode `mapstructure:"mode" yaml:"mode" json:"mode"`
}

func (c *LoggerConfig) set(dp config.DataProvider) (err error) {
	if c.Enabled, err = dp.GetBool(cfgKeyLoggerEnabled); err != nil {
		return err
	}
	if !c.Enabled {
		return nil
	}

	threshold, err := dp.GetDuration(cfgKeyLoggerSlowRequestThreshold)
	if err != nil {
		return err
	}
	if threshold < 0 {
		return dp.WrapKeyErr(cfgKeyLoggerSlowRequestThreshold, errors.New("can not be negative"))
	}
	c.SlowRequestThreshold = config.TimeDuration(threshold)

	mode, err := dp.GetStringFromSet(cfgKeyLoggerMode,
		[]string{string(LoggingModeAll), string(LoggingModeFailed)}, true)
	if err != nil {
		return err
	}
	c.Mode = LoggingMode(mode)

	return nil
}

// TransportOpts returns transport options.
func (c *LoggerConfig) TransportOpts() LoggingRoundTripperOpts {
	return LoggingRoundTripperOpts{
		Mode:                 c.Mode,
		SlowRequestThreshold: time.Duration(c.SlowRequestThreshold),
	}
}

// MetricsConfig represents configuration options for HTTP client metrics.
type MetricsConfig struct {
	// Enabled is a flag that enables metrics.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}

// Config represents options for HTTP client configuration.
type Config struct {
	// BaseURL is prepended to relative paths passed to Client.DoJSON.
	BaseURL string `mapstructure:"baseURL" yaml:"baseURL" json:"baseURL"`

	// Timeout is the maximum time to wait for a request to be made.
	Timeout config.TimeDuration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`

	// UserAgent is sent in the User-Agent header. Default is "go-quotakit/<version>".
	UserAgent string `mapstructure:"userAgent" yaml:"userAgent" json:"userAgent"`

	// RateLimits is a configuration for client side rate limiting.
	RateLimits RateLimitConfig `mapstructure:"rateLimits" yaml:"rateLimits" json:"rateLimits"`

	// Log is a configuration for logging.
	Log LoggerConfig `mapstructure:"logger" yaml:"logger" json:"logger"`

	// Metrics is a configuration for metrics.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics" json:"metrics"`

	keyPrefix string
}

// NewConfig creates a new instance of the Config.
func NewConfig(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Timeout: config.TimeDuration(DefaultClientWaitTimeout),
		Log:     LoggerConfig{Enabled: true, Mode: LoggingModeAll},
		Metrics: MetricsConfig{Enabled: true},
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
	dp.SetDefault(cfgKeyTimeout, DefaultClientWaitTimeout.String())
	dp.SetDefault(cfgKeyRateLimitsAlgorithm, string(RateLimitingAlgorithmTokenBucket))
	dp.SetDefault(cfgKeyRateLimitsPeriod, DefaultRateLimitingPeriod.String())
	dp.SetDefault(cfgKeyRateLimitsBurst, DefaultRateLimitingBurst)
	dp.SetDefault(cfgKeyRateLimitsWaitTimeout, DefaultRateLimitingWaitTimeout.String())
	dp.SetDefault(cfgKeyLoggerEnabled, true)
	dp.SetDefault(cfgKeyLoggerMode, string(LoggingModeAll))
	dp.SetDefault(cfgKeyMetricsEnabled, true)
}

// Set sets HTTP client configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) (err error) {
	if c.BaseURL, err = dp.GetString(cfgKeyBaseURL); err != nil {
		return err
	}
	if c.BaseURL != "" {
		if u, parseErr := url.Parse(c.BaseURL); parseErr != nil || u.Scheme == "" || u.Host == "" {
			return dp.WrapKeyErr(cfgKeyBaseURL, fmt.Errorf("must be an absolute URL, got %q", c.BaseURL))
		}
	}

	timeout, err := dp.GetDuration(cfgKeyTimeout)
	if err != nil {
		return err
	}
	if timeout < 0 {
		return dp.WrapKeyErr(cfgKeyTimeout, errors.New("can not be negative"))
	}
	c.Timeout = config.TimeDuration(timeout)

	if c.UserAgent, err = dp.GetString(cfgKeyUserAgent); err != nil {
		return err
	}
	if err = c.RateLimits.set(dp); err != nil {
		return err
	}
	if err = c.Log.set(dp); err != nil {
		return err
	}
	if c.Metrics.Enabled, err = dp.GetBool(cfgKeyMetricsEnabled); err != nil {
		return err
	}
	return nil
}
