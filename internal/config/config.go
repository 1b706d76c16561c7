package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	Allocation AllocationConfig
	Log        LogConfig
	Storage    BinConfig
	Wash       BinConfig
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	Path string
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Port            int
	RateLimitPerSec float64
	RateBurst       int
	CacheTTL        time.Duration
	ShutdownTimeout time.Duration
}

// AllocationConfig tunes retries of allocations that lose a race.
type AllocationConfig struct {
	MaxRetries   uint64
	RetryBackoff time.Duration
}

// LogConfig selects the zap level and encoder.
type LogConfig struct {
	Level  string
	Format string // json or console
}

// BinConfig holds defaults for newly created bins.
type BinConfig struct {
	DefaultCapacity int
}

// SetDefaults registers the default for every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "denimtrack.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_per_sec", 10.0)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.cache_ttl_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("allocation.max_retries", 3)
	v.SetDefault("allocation.retry_backoff_ms", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("storage.default_capacity", 10)
	v.SetDefault("wash.default_capacity", 50)
}

// Load reads configuration from v and returns a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			RateLimitPerSec: v.GetFloat64("server.rate_limit_per_sec"),
			RateBurst:       v.GetInt("server.rate_burst"),
			CacheTTL:        time.Duration(v.GetInt("server.cache_ttl_seconds")) * time.Second,
			ShutdownTimeout: time.Duration(v.GetInt("server.shutdown_timeout_seconds")) * time.Second,
		},
		Allocation: AllocationConfig{
			MaxRetries:   v.GetUint64("allocation.max_retries"),
			RetryBackoff: time.Duration(v.GetInt("allocation.retry_backoff_ms")) * time.Millisecond,
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Storage: BinConfig{DefaultCapacity: v.GetInt("storage.default_capacity")},
		Wash:    BinConfig{DefaultCapacity: v.GetInt("wash.default_capacity")},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.RateLimitPerSec <= 0 || c.Server.RateBurst <= 0 {
		return fmt.Errorf("server rate limit must be positive")
	}
	if c.Allocation.RetryBackoff <= 0 {
		return fmt.Errorf("allocation.retry_backoff_ms must be positive")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	if c.Storage.DefaultCapacity <= 0 || c.Wash.DefaultCapacity <= 0 {
		return fmt.Errorf("default bin capacities must be positive")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
