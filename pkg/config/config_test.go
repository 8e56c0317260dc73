package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, BackendGoBLE, cfg.Backend)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 15*time.Second, cfg.DiscoveryTimeout)
	assert.Equal(t, 2*time.Second, cfg.AdapterPollInterval)
	assert.False(t, cfg.HeartRate.LittleEndian)
	assert.True(t, cfg.Sinks.Console)
	assert.Equal(t, 4096, cfg.Sinks.PTY.WriteCap)
	assert.Equal(t, "hci0", cfg.BlueZ.Adapter)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
backend: tinygo
connect_timeout: 5s
discovery_timeout: 0s
heart_rate:
  little_endian: true
sinks:
  console: false
  websocket:
    addr: ":8080"
bluez:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, BackendTinyGo, cfg.Backend)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Zero(t, cfg.DiscoveryTimeout)
	assert.True(t, cfg.HeartRate.LittleEndian)
	assert.False(t, cfg.Sinks.Console, "explicit false must survive defaults")
	assert.Equal(t, ":8080", cfg.Sinks.WebSocket.Addr)
	assert.True(t, cfg.BlueZ.Enabled)
	assert.Equal(t, "hci0", cfg.BlueZ.Adapter)
	assert.Equal(t, 2*time.Second, cfg.AdapterPollInterval)
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "connect_timeout: [nope"))
	assert.Error(t, err)
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"unknown backend", func(c *Config) { c.Backend = "corebluetooth" }, "backend"},
		{"negative device id", func(c *Config) { c.DeviceID = -1 }, "device_id"},
		{"negative connect timeout", func(c *Config) { c.ConnectTimeout = -time.Second }, "connect_timeout"},
		{"negative poll interval", func(c *Config) { c.AdapterPollInterval = -time.Second }, "adapter_poll_interval"},
		{"pty without capacity", func(c *Config) {
			c.Sinks.PTY.Enabled = true
			c.Sinks.PTY.WriteCap = 0
		}, "write_cap"},
		{"bluez with goble", func(c *Config) { c.BlueZ.Enabled = true }, "bluez.enabled"},
		{"bluez without adapter", func(c *Config) {
			c.Backend = BackendTinyGo
			c.BlueZ.Enabled = true
			c.BlueZ.Adapter = ""
		}, "bluez.adapter"},
		{"bluez with tinygo", func(c *Config) {
			c.Backend = BackendTinyGo
			c.BlueZ.Enabled = true
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"bogus", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}

			logger := cfg.NewLogger()

			assert.Equal(t, tt.want, logger.GetLevel())
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}
