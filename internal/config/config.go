// Package config loads the service configuration.
//
// Sources, lowest precedence first:
//
//	defaults (below) → config.yaml (./ or ./config/, or --config) → CODERUNNER_* env
//
// Nested keys map to env vars with "." replaced by "_":
// sandbox.exec_timeout ⇔ CODERUNNER_SANDBOX_EXEC_TIMEOUT.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/coderscreen/coderunner/internal/sandbox"
)

// EnvPrefix prefixes every environment variable the service reads.
const EnvPrefix = "CODERUNNER"

// Config represents the application configuration.
type Config struct {
	Port      int    `mapstructure:"port"`
	DBPath    string `mapstructure:"db_path"`
	LogLevel  string `mapstructure:"log_level"`
	JWTSecret string `mapstructure:"jwt_secret"`

	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Retry     RetryConfig     `mapstructure:"retry"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

// SandboxConfig selects and sizes the sandbox backend.
type SandboxConfig struct {
	Backend     string        `mapstructure:"backend"` // docker | local
	Image       string        `mapstructure:"image"`
	MemoryMB    int64         `mapstructure:"memory_mb"`
	CPUs        float64       `mapstructure:"cpus"`
	ExecTimeout time.Duration `mapstructure:"exec_timeout"`
	PoolSize    int           `mapstructure:"pool_size"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	WorkDir     string        `mapstructure:"workdir"`
	LocalRoot   string        `mapstructure:"local_root"`
}

// RetryConfig tunes retries of sandbox transport failures.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// RateLimitConfig limits execute requests. Zero disables a bucket.
type RateLimitConfig struct {
	GlobalRPS float64 `mapstructure:"global_rps"`
	PerIPRPS  float64 `mapstructure:"per_ip_rps"`
	Burst     int     `mapstructure:"burst"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("db_path", "data/coderunner.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("jwt_secret", "")

	v.SetDefault("sandbox.backend", "docker")
	v.SetDefault("sandbox.image", "coderunner/polyglot:latest")
	v.SetDefault("sandbox.memory_mb", 512)
	v.SetDefault("sandbox.cpus", 1.0)
	v.SetDefault("sandbox.exec_timeout", "15s")
	v.SetDefault("sandbox.pool_size", 3)
	v.SetDefault("sandbox.idle_timeout", "30m")
	v.SetDefault("sandbox.workdir", "/workspace")
	v.SetDefault("sandbox.local_root", "")

	retry := sandbox.DefaultRetryPolicy()
	v.SetDefault("retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("retry.initial_interval", retry.InitialInterval)
	v.SetDefault("retry.max_interval", retry.MaxInterval)

	v.SetDefault("ratelimit.global_rps", 50)
	v.SetDefault("ratelimit.per_ip_rps", 2)
	v.SetDefault("ratelimit.burst", 5)
}

// Load reads the configuration. An empty path searches ./config.yaml and
// ./config/config.yaml; a missing file is not an error unless path names it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}
	return &cfg, nil
}

// validate ensures the configuration is usable.
func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got: %d", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("db_path is required")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		return errors.New("jwt_secret must be at least 16 characters when set")
	}

	switch c.Sandbox.Backend {
	case "docker":
		if c.Sandbox.Image == "" {
			return errors.New("sandbox.image is required for the docker backend")
		}
		if c.Sandbox.MemoryMB <= 0 {
			return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
		}
		if c.Sandbox.CPUs <= 0 {
			return fmt.Errorf("sandbox.cpus must be positive, got: %v", c.Sandbox.CPUs)
		}
		if c.Sandbox.PoolSize < 1 {
			return fmt.Errorf("sandbox.pool_size must be at least 1, got: %d", c.Sandbox.PoolSize)
		}
	case "local":
	default:
		return fmt.Errorf("unsupported sandbox.backend: %q, must be 'docker' or 'local'", c.Sandbox.Backend)
	}
	if c.Sandbox.ExecTimeout <= 0 {
		return fmt.Errorf("sandbox.exec_timeout must be positive, got: %s", c.Sandbox.ExecTimeout)
	}
	if c.Sandbox.IdleTimeout <= 0 {
		return fmt.Errorf("sandbox.idle_timeout must be positive, got: %s", c.Sandbox.IdleTimeout)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got: %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval < c.Retry.InitialInterval {
		return fmt.Errorf("retry intervals must satisfy 0 < initial_interval <= max_interval, got: %s, %s",
			c.Retry.InitialInterval, c.Retry.MaxInterval)
	}

	if c.RateLimit.GlobalRPS < 0 || c.RateLimit.PerIPRPS < 0 {
		return errors.New("ratelimit rates must not be negative")
	}
	if c.RateLimit.Burst < 1 {
		return fmt.Errorf("ratelimit.burst must be at least 1, got: %d", c.RateLimit.Burst)
	}
	return nil
}

// AuthEnabled reports whether room tokens are required.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}
