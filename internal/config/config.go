// Package config loads hub configuration from config.toml with
// environment variable overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// DefaultMaxMessageBytes bounds a single inbound WebSocket message.
// Screen frames arrive base64-encoded inside JSON, so the limit is
// generous.
const DefaultMaxMessageBytes = 16 * 1024 * 1024 // 16 MB

// Config is the top-level configuration loaded from config.toml.
type Config struct {
	// Listen is the HTTP listen address (default ":8080").
	Listen string `toml:"listen"`
	// HubURL is the base URL client commands talk to
	// (default "http://127.0.0.1:8080").
	HubURL string `toml:"hub_url"`
	// LogLevel is one of debug, info, warn, error (default "info").
	LogLevel string `toml:"log_level"`
	// MaxMessageBytes caps a single inbound message. Zero means no limit.
	MaxMessageBytes int64 `toml:"max_message_bytes"`
}

// Load reads config.toml from dataDir (if present), applies VNCHUB_*
// environment variable overrides, and validates the result. A missing
// file yields defaults.
func Load(dataDir string) (*Config, error) {
	cfg := &Config{
		Listen:          ":8080",
		HubURL:          "http://127.0.0.1:8080",
		LogLevel:        "info",
		MaxMessageBytes: DefaultMaxMessageBytes,
	}

	path := filepath.Join(dataDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if v := os.Getenv("VNCHUB_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("VNCHUB_URL"); v != "" {
		cfg.HubURL = v
	}
	if v := os.Getenv("VNCHUB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("VNCHUB_MAX_MESSAGE_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing VNCHUB_MAX_MESSAGE_BYTES: %w", err)
		}
		cfg.MaxMessageBytes = n
	}

	if _, err := cfg.SlogLevel(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SlogLevel maps LogLevel to a slog.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %q", c.LogLevel)
	}
}
