// Package config loads the monitor configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	BackendGoBLE  = "goble"
	BackendTinyGo = "tinygo"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	// Backend selects the radio implementation: goble or tinygo.
	Backend     string `yaml:"backend" default:"goble"`
	DeviceID    int    `yaml:"device_id" default:"0"`
	DeviceModel string `yaml:"device_model"`

	ConnectTimeout      time.Duration `yaml:"connect_timeout" default:"30s"`
	DiscoveryTimeout    time.Duration `yaml:"discovery_timeout" default:"15s"`
	AdapterPollInterval time.Duration `yaml:"adapter_poll_interval" default:"2s"`
	DiscoverAllServices bool          `yaml:"discover_all_services"`

	HeartRate HeartRateConfig `yaml:"heart_rate"`
	Sinks     SinksConfig     `yaml:"sinks"`
	BlueZ     BlueZConfig     `yaml:"bluez"`
}

type HeartRateConfig struct {
	// LittleEndian reads 16-bit values in SIG byte order instead of most significant byte first.
	LittleEndian bool `yaml:"little_endian"`
}

type SinksConfig struct {
	Console   bool            `yaml:"console" default:"true"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Lua       LuaConfig       `yaml:"lua"`
	PTY       PTYConfig       `yaml:"pty"`
}

type WebSocketConfig struct {
	// Addr is the listen address, e.g. ":8080". Empty disables the hub.
	Addr string `yaml:"addr"`
}

type LuaConfig struct {
	Script string `yaml:"script"`
}

type PTYConfig struct {
	Enabled  bool `yaml:"enabled"`
	WriteCap int  `yaml:"write_cap" default:"4096"`
}

// BlueZConfig enables the D-Bus adapter power watcher (Linux, tinygo backend).
type BlueZConfig struct {
	Enabled bool   `yaml:"enabled"`
	Adapter string `yaml:"adapter" default:"hci0"`
}

// DefaultConfigPath returns ~/.config/hrmon/config.yaml, or an empty string without a home directory.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "hrmon", "config.yaml")
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(expandTilde(path))
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	cfg.Sinks.Lua.Script = expandTilde(cfg.Sinks.Lua.Script)
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	switch c.Backend {
	case BackendGoBLE, BackendTinyGo:
	default:
		return fmt.Errorf("backend must be %q or %q, got %q", BackendGoBLE, BackendTinyGo, c.Backend)
	}

	if c.DeviceID < 0 {
		return fmt.Errorf("device_id must be >= 0, got %d", c.DeviceID)
	}

	for name, d := range map[string]time.Duration{
		"connect_timeout":       c.ConnectTimeout,
		"discovery_timeout":     c.DiscoveryTimeout,
		"adapter_poll_interval": c.AdapterPollInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}

	if c.Sinks.PTY.Enabled && c.Sinks.PTY.WriteCap <= 0 {
		return fmt.Errorf("sinks.pty.write_cap must be > 0, got %d", c.Sinks.PTY.WriteCap)
	}

	if c.BlueZ.Enabled {
		if c.Backend != BackendTinyGo {
			return fmt.Errorf("bluez.enabled requires backend %q", BackendTinyGo)
		}
		if c.BlueZ.Adapter == "" {
			return fmt.Errorf("bluez.adapter must not be empty")
		}
	}
	return nil
}

// Level returns the parsed log level, InfoLevel when unset or invalid.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}

func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
