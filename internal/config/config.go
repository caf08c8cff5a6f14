package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// IdentityConfig names this bridge within the bus.
type IdentityConfig struct {
	Node string `mapstructure:"node"`
}

type EthConfig struct {
	// RPCURL must use a ws:// or wss:// scheme; checked again at dial time.
	RPCURL string `mapstructure:"rpc_url"`
}

type NATSConfig struct {
	URL              string `mapstructure:"url"`
	SubjectPrefix    string `mapstructure:"subject_prefix"`
	DedupeTTLSeconds int    `mapstructure:"dedupe_ttl_seconds"`
	DedupeMax        int    `mapstructure:"dedupe_max"`
}

func (c NATSConfig) DedupeTTL() time.Duration {
	return time.Duration(c.DedupeTTLSeconds) * time.Second
}

type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"` // e.g., 0.0.0.0:9095
}

type StorageConfig struct {
	// LevelDBPath enables the relayed-event journal when non-empty.
	LevelDBPath string `mapstructure:"leveldb_path"`
}

type AppConfig struct {
	LogLevel string         `mapstructure:"log_level"`
	Identity IdentityConfig `mapstructure:"identity"`
	Eth      EthConfig      `mapstructure:"eth"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// Load reads a YAML config file, applies defaults and validates it.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills in defaults for optional settings.
func (c *AppConfig) Normalize() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "bus"
	}
	if c.NATS.DedupeTTLSeconds <= 0 {
		c.NATS.DedupeTTLSeconds = 60
	}
	if c.NATS.DedupeMax <= 0 {
		c.NATS.DedupeMax = 4096
	}
}

// Validate checks the settings the bridge cannot run without.
func (c *AppConfig) Validate() error {
	if c.Identity.Node == "" {
		return fmt.Errorf("config: identity.node is required")
	}
	if c.Eth.RPCURL == "" {
		return fmt.Errorf("config: eth.rpc_url is required")
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("config: nats.url is required")
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("config: metrics.listen_addr is required when metrics are enabled")
	}
	return nil
}
