package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Arbiter    ArbiterConfig    `mapstructure:"arbiter"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Usage      UsageConfig      `mapstructure:"usage_tracking"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	BindAddress string `mapstructure:"bind_address"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "bolt" or "redis"
	Path  string      `mapstructure:"path"` // bolt database file
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ArbiterConfig defines override arbitration settings
type ArbiterConfig struct {
	SessionTTL          string `mapstructure:"session_ttl"`           // resolution window for pending decisions
	SweepInterval       string `mapstructure:"sweep_interval"`        // how often expired sessions are collected
	OverrideWindowDays  int    `mapstructure:"override_window_days"`  // trailing window for override frequency
	TrendWindowDays     int    `mapstructure:"trend_window_days"`     // trailing window for trend trust score
	DefaultDailyMinutes int    `mapstructure:"default_daily_minutes"` // daily budget when none configured
}

// ClassifierConfig defines justification classifier settings
type ClassifierConfig struct {
	Mode    string `mapstructure:"mode"` // "rules" or "remote"
	URL     string `mapstructure:"url"`  // remote classifier endpoint
	Timeout string `mapstructure:"timeout"`
}

// UsageConfig defines usage recording behavior
type UsageConfig struct {
	MaxDeltaMinutes int `mapstructure:"max_delta_minutes"` // largest single usage update accepted
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("SCREENWISE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.api_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.bind_address", "0.0.0.0")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/screenwise/screenwise.bolt")
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Arbiter defaults
	v.SetDefault("arbiter.session_ttl", "10m")
	v.SetDefault("arbiter.sweep_interval", "1m")
	v.SetDefault("arbiter.override_window_days", 7)
	v.SetDefault("arbiter.trend_window_days", 7)
	v.SetDefault("arbiter.default_daily_minutes", 360)

	// Classifier defaults
	v.SetDefault("classifier.mode", "rules")
	v.SetDefault("classifier.url", "")
	v.SetDefault("classifier.timeout", "5s")

	// Usage tracking defaults
	v.SetDefault("usage_tracking.max_delta_minutes", 240)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.Type {
	case "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for bolt storage")
		}
		// Ensure storage directory exists
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required for redis storage")
		}
		for name, value := range map[string]string{
			"dial_timeout":  cfg.Storage.Redis.DialTimeout,
			"read_timeout":  cfg.Storage.Redis.ReadTimeout,
			"write_timeout": cfg.Storage.Redis.WriteTimeout,
		} {
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("invalid redis %s: %w", name, err)
			}
		}
	default:
		return fmt.Errorf("unknown storage type: %q", cfg.Storage.Type)
	}

	switch cfg.Classifier.Mode {
	case "rules":
	case "remote":
		if cfg.Classifier.URL == "" {
			return fmt.Errorf("classifier url is required in remote mode")
		}
	default:
		return fmt.Errorf("unknown classifier mode: %q", cfg.Classifier.Mode)
	}
	if _, err := time.ParseDuration(cfg.Classifier.Timeout); err != nil {
		return fmt.Errorf("invalid classifier timeout: %w", err)
	}

	for name, value := range map[string]string{
		"session_ttl":    cfg.Arbiter.SessionTTL,
		"sweep_interval": cfg.Arbiter.SweepInterval,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid arbiter %s: %w", name, err)
		}
	}
	if cfg.Arbiter.OverrideWindowDays <= 0 {
		return fmt.Errorf("arbiter override_window_days must be positive")
	}
	if cfg.Arbiter.TrendWindowDays <= 0 {
		return fmt.Errorf("arbiter trend_window_days must be positive")
	}
	if cfg.Arbiter.DefaultDailyMinutes <= 0 {
		return fmt.Errorf("arbiter default_daily_minutes must be positive")
	}

	if cfg.Usage.MaxDeltaMinutes <= 0 {
		return fmt.Errorf("usage_tracking.max_delta_minutes must be positive")
	}

	return nil
}
