package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func validConfig() Config {
	return Config{
		Relay: RelayConfig{
			Host:            "0.0.0.0",
			Port:            9999,
			ActivityWindow:  2 * time.Minute,
			MaxDatagramSize: 2048,
			SweepInterval:   time.Minute,
			Retention:       10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    9100,
			Path:    "/metrics",
		},
	}
}

func TestValidConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestRelayAddr(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "0.0.0.0:9999", cfg.Relay.Addr())
}

func TestMetricsAddr(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr())
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 9999, cfg.Relay.Port)
	assert.Equal(t, 2*time.Minute, cfg.Relay.ActivityWindow)
	assert.False(t, cfg.Relay.ExcludeSender)
	assert.Equal(t, 0, cfg.Relay.Workers)
	assert.Equal(t, 65507, cfg.Relay.MaxDatagramSize, "largest UDP payload over IPv4")
	assert.Equal(t, 10*time.Minute, cfg.Relay.Retention)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	err := os.WriteFile(path, []byte(`
relay:
  host: 127.0.0.1
  port: 7777
  activity_window: 30s
  exclude_sender: true
  workers: 4
  sweep_interval: 10s
  retention: 1m
logging:
  level: debug
  format: console
metrics:
  enabled: false
`), 0644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Relay.Host)
	assert.Equal(t, 7777, cfg.Relay.Port)
	assert.Equal(t, 30*time.Second, cfg.Relay.ActivityWindow)
	assert.True(t, cfg.Relay.ExcludeSender)
	assert.Equal(t, 4, cfg.Relay.Workers)
	assert.Equal(t, 65507, cfg.Relay.MaxDatagramSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RELAY_RELAY_PORT", "12345")
	t.Setenv("RELAY_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 12345, cfg.Relay.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadInvalidPath(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestLoadFromViperRejectsInvalid(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("logging.format", "xml")
	_, err := LoadFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestValidateReportsAllViolations(t *testing.T) {
	cfg := validConfig()
	cfg.Relay.Port = -1
	cfg.Logging.Level = "trace"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay.port")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidateLoggingLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		cfg := validConfig()
		cfg.Logging.Level = level
		assert.NoError(t, cfg.Validate(), "level %q should be valid", level)
	}
	cfg := validConfig()
	cfg.Logging.Level = "trace"
	assert.Error(t, cfg.Validate())
}

func TestValidateLoggingFormat(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		cfg := validConfig()
		cfg.Logging.Format = format
		assert.NoError(t, cfg.Validate(), "format %q should be valid", format)
	}
	cfg := validConfig()
	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.Validate())
}

func TestValidateRelayPort(t *testing.T) {
	cfg := validConfig()
	cfg.Relay.Port = 0
	assert.NoError(t, cfg.Validate(), "port 0 selects an ephemeral port")

	cfg = validConfig()
	cfg.Relay.Port = 65536
	assert.Error(t, cfg.Validate())
}

func TestValidateActivityWindow(t *testing.T) {
	cfg := validConfig()
	cfg.Relay.ActivityWindow = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateWorkers(t *testing.T) {
	cfg := validConfig()
	cfg.Relay.Workers = -1
	assert.Error(t, cfg.Validate())
}

func TestValidateDatagramSize(t *testing.T) {
	cfg := validConfig()
	cfg.Relay.MaxDatagramSize = 10
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Relay.MaxDatagramSize = 70000
	assert.Error(t, cfg.Validate())
}

func TestValidateRetentionShorterThanWindow(t *testing.T) {
	cfg := validConfig()
	cfg.Relay.Retention = time.Minute
	assert.Error(t, cfg.Validate())

	cfg.Relay.SweepInterval = 0
	assert.NoError(t, cfg.Validate(), "retention is unused when sweeping is disabled")
}

func TestValidateMetrics(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics.Path = "metrics"
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Metrics.Port = 0
	assert.Error(t, cfg.Validate())

	cfg.Metrics.Enabled = false
	assert.NoError(t, cfg.Validate())
}

// Property-based tests

func TestPropertyValidPortRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.IntRange(0, 65535).Draw(t, "port")
		cfg := validConfig()
		cfg.Relay.Port = port
		if err := cfg.Validate(); err != nil {
			t.Fatalf("valid port %d rejected: %v", port, err)
		}
	})
}

func TestPropertyInvalidPortRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.OneOf(
			rapid.IntRange(-1000, -1),
			rapid.IntRange(65536, 100000),
		).Draw(t, "port")
		cfg := validConfig()
		cfg.Relay.Port = port
		if err := cfg.Validate(); err == nil {
			t.Fatalf("invalid port %d accepted", port)
		}
	})
}

func TestPropertyRetentionAtLeastWindow(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		window := time.Duration(rapid.Int64Range(1, 3600).Draw(t, "window_s")) * time.Second
		extra := time.Duration(rapid.Int64Range(0, 3600).Draw(t, "extra_s")) * time.Second
		cfg := validConfig()
		cfg.Relay.ActivityWindow = window
		cfg.Relay.Retention = window + extra
		if err := cfg.Validate(); err != nil {
			t.Fatalf("window=%s retention=%s rejected: %v", window, window+extra, err)
		}
	})
}
