/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package quotakit

import (
	"sort"

	"github.com/acronis/go-quotakit/config"
	"github.com/acronis/go-quotakit/diag"
	"github.com/acronis/go-quotakit/httpclient"
	"github.com/acronis/go-quotakit/log"
	"github.com/acronis/go-quotakit/quota"
	"github.com/acronis/go-quotakit/taskqueue"
	"github.com/acronis/go-quotakit/ttlstore"
)

// EnvVarsPrefix is a prefix of environment variables that override configuration values
// (e.g. QUOTAKIT_STORE_PATH overrides "store.path").
const EnvVarsPrefix = "QUOTAKIT"

const cfgKeyQueues = "queues"

// Config aggregates configurations of all Kit components.
//
// Queues are configured under the "queues" key, one section per queue name:
//
//	queues:
//	  lookups:
//	    maxConcurrent: 2
//	  fetches:
//	    maxConcurrent: 8
//	    maxRetries: 0
//
// Queue names are case-insensitive and are lowercased while loading.
type Config struct {
	Log    *log.Config                  `mapstructure:"log" yaml:"log" json:"log"`
	Store  *ttlstore.Config             `mapstructure:"store" yaml:"store" json:"store"`
	Query  *quota.Config                `mapstructure:"query" yaml:"query" json:"query"`
	HTTP   *httpclient.Config           `mapstructure:"http" yaml:"http" json:"http"`
	Diag   *diag.Config                 `mapstructure:"diag" yaml:"diag" json:"diag"`
	Queues map[string]*taskqueue.Config `mapstructure:"queues" yaml:"queues" json:"queues"`
}

var _ config.Config = (*Config)(nil)

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return &Config{
		Log:    log.NewConfig(""),
		Store:  ttlstore.NewConfig(""),
		Query:  quota.NewConfig(""),
		HTTP:   httpclient.NewConfig(""),
		Diag:   diag.NewConfig(""),
		Queues: map[string]*taskqueue.Config{},
	}
}

// NewDefaultConfig creates a new instance of the Config with default values and the single default queue.
func NewDefaultConfig() *Config {
	return &Config{
		Log:    log.NewDefaultConfig(),
		Store:  ttlstore.NewDefaultConfig(),
		Query:  quota.NewDefaultConfig(),
		HTTP:   httpclient.NewDefaultConfig(),
		Diag:   diag.NewDefaultConfig(),
		Queues: map[string]*taskqueue.Config{taskqueue.DefaultName: taskqueue.NewDefaultConfig()},
	}
}

func (c *Config) components() []config.Config {
	return []config.Config{c.Log, c.Store, c.Query, c.HTTP, c.Diag}
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	for _, cfg := range c.components() {
		cfg.SetProviderDefaults(config.DataProviderFor(dp, cfg))
	}
}

// Set sets configuration values of all components from config.DataProvider.
// If no queues are configured, the default queue is created.
func (c *Config) Set(dp config.DataProvider) error {
	for _, cfg := range c.components() {
		if err := cfg.Set(config.DataProviderFor(dp, cfg)); err != nil {
			return err
		}
	}

	queues, err := dp.GetStringMap(cfgKeyQueues)
	if err != nil {
		return err
	}
	c.Queues = make(map[string]*taskqueue.Config, len(queues))
	if len(queues) == 0 {
		c.Queues[taskqueue.DefaultName] = taskqueue.NewDefaultConfig()
		return nil
	}
	for _, name := range sortedKeys(queues) {
		queueCfg := taskqueue.NewConfig(cfgKeyQueues + "." + name)
		queueDP := config.DataProviderFor(dp, queueCfg)
		queueCfg.SetProviderDefaults(queueDP)
		if err = queueCfg.Set(queueDP); err != nil {
			return err
		}
		c.Queues[name] = queueCfg
	}
	return nil
}

// LoadConfigFromFile loads the configuration from the file.
// Values may be overridden by environment variables with the EnvVarsPrefix prefix.
func LoadConfigFromFile(path string, dataType config.DataType) (*Config, error) {
	cfg := NewConfig()
	if err := config.NewDefaultLoader(EnvVarsPrefix).LoadFromFile(path, dataType, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
