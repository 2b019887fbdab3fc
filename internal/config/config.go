// Package config provides Viper-based configuration loading for the relay server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RelayConfig holds the UDP relay settings.
type RelayConfig struct {
	// Host is the bind address for the UDP socket.
	Host string `mapstructure:"host"`
	// Port is the UDP port to listen on.
	Port int `mapstructure:"port"`
	// ActivityWindow is how long after its last datagram an endpoint still
	// receives broadcasts.
	ActivityWindow time.Duration `mapstructure:"activity_window"`
	// ExcludeSender drops the originating endpoint from its own broadcasts.
	ExcludeSender bool `mapstructure:"exclude_sender"`
	// Workers is the number of datagrams processed concurrently.
	// Zero processes each datagram on the receive goroutine.
	Workers int `mapstructure:"workers"`
	// MaxDatagramSize is the largest datagram relayed; longer datagrams are dropped.
	MaxDatagramSize int `mapstructure:"max_datagram_size"`
	// SweepInterval is the period of the registry eviction sweep. Zero disables it.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// Retention is the age after which an endpoint is removed from the registry.
	Retention time.Duration `mapstructure:"retention"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (r RelayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// Addr returns the "host:port" address of the metrics HTTP listener.
func (m MetricsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// Config is the top-level application configuration.
type Config struct {
	Relay   RelayConfig   `mapstructure:"relay"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateRelay(c.Relay); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateMetrics(c.Metrics); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRelay(r RelayConfig) error {
	var errs []string
	// Port 0 asks the kernel for an ephemeral port.
	if r.Port < 0 || r.Port > 65535 {
		errs = append(errs, fmt.Sprintf("relay.port must be 0-65535, got %d", r.Port))
	}
	if r.ActivityWindow <= 0 {
		errs = append(errs, fmt.Sprintf("relay.activity_window must be > 0, got %s", r.ActivityWindow))
	}
	if r.Workers < 0 {
		errs = append(errs, fmt.Sprintf("relay.workers must be >= 0, got %d", r.Workers))
	}
	if r.MaxDatagramSize < 64 || r.MaxDatagramSize > 65535 {
		errs = append(errs, fmt.Sprintf("relay.max_datagram_size must be 64-65535, got %d", r.MaxDatagramSize))
	}
	if r.SweepInterval < 0 {
		errs = append(errs, "relay.sweep_interval must not be negative")
	}
	if r.SweepInterval > 0 && r.Retention < r.ActivityWindow {
		errs = append(errs, "relay.retention must not be shorter than relay.activity_window")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateMetrics(m MetricsConfig) error {
	if !m.Enabled {
		return nil
	}
	var errs []string
	if m.Port < 1 || m.Port > 65535 {
		errs = append(errs, fmt.Sprintf("metrics.port must be 1-65535, got %d", m.Port))
	}
	if !strings.HasPrefix(m.Path, "/") {
		errs = append(errs, fmt.Sprintf("metrics.path must start with '/', got %q", m.Path))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path skips the file and uses
// defaults plus environment overrides.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()

	// Environment variable overrides with RELAY_ prefix
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := LoadFromViper(v)
	if err != nil {
		panic("config.Default: built-in defaults are invalid: " + err.Error())
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("relay.host", "0.0.0.0")
	v.SetDefault("relay.port", 9999)
	v.SetDefault("relay.activity_window", "2m")
	v.SetDefault("relay.exclude_sender", false)
	v.SetDefault("relay.workers", 0)
	v.SetDefault("relay.max_datagram_size", 65507)
	v.SetDefault("relay.sweep_interval", "1m")
	v.SetDefault("relay.retention", "10m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.host", "127.0.0.1")
	v.SetDefault("metrics.port", 9100)
	v.SetDefault("metrics.path", "/metrics")
}
