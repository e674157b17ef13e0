/*
Package config loads server configuration from file and environment.

PURPOSE:
  Centralizes every tunable of the server binary: listen address, storage
  path, cache backend selection, TTLs, and the background sweep interval.
  Values come from an optional YAML file plus FEATURE_ENGINE_* environment
  overrides, with working defaults for local development.

PRECEDENCE (highest wins):
  1. Environment variables (FEATURE_ENGINE_SERVER_ADDR, ...)
  2. Config file (feature-engine.yaml in ./ or /etc/feature-engine/)
  3. Built-in defaults
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Cache backend selectors.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config is the fully resolved server configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Sweep   SweepConfig   `mapstructure:"sweep"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StorageConfig struct {
	// Path is the SQLite database file; ":memory:" runs fully in-process.
	Path string `mapstructure:"path"`
	// Timeout bounds every store call made from the evaluation path.
	Timeout time.Duration `mapstructure:"timeout"`
}

type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend   string        `mapstructure:"backend"`
	TTL       time.Duration `mapstructure:"ttl"`
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisDB   int           `mapstructure:"redis_db"`
}

type SweepConfig struct {
	// Enabled switches the planned-end-date sweeper on.
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Development switches to console encoding with stack traces.
	Development bool `mapstructure:"development"`
}

// Load reads configuration from the optional config file and environment.
// A missing config file is fine; a malformed one is not.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("storage.path", "./data/feature-engine.db")
	v.SetDefault("storage.timeout", 2*time.Second)
	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.interval", time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetConfigName("feature-engine")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/feature-engine/")

	v.SetEnvPrefix("FEATURE_ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case CacheMemory, CacheRedis:
	default:
		return fmt.Errorf("unknown cache backend %q (want %q or %q)",
			c.Cache.Backend, CacheMemory, CacheRedis)
	}
	if c.Cache.Backend == CacheRedis && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache backend %q requires cache.redis_addr", CacheRedis)
	}
	if c.Sweep.Enabled && c.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep.interval must be positive when sweep is enabled")
	}
	return nil
}
