// Package config loads the camhal application configuration: which
// camera to open, where the platform tuning file lives, and how the
// observability surfaces (NATS trace, monitor HTTP) are reached.
//
// Configuration is layered: built-in defaults, then an optional JSON
// file, then CAMHAL_* environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/camstack/camhal/errors"
)

// Config is the complete application configuration.
type Config struct {
	Camera  CameraConfig  `json:"camera"`
	NATS    NATSConfig    `json:"nats"`
	Monitor MonitorConfig `json:"monitor"`
	Logging LoggingConfig `json:"logging"`
}

// CameraConfig selects the sensor and its tuning data.
type CameraConfig struct {
	// ID is the camera index passed to capability.Get.
	ID int `json:"id"`
	// PlatformFile points at the YAML tuning blob. Empty means the
	// built-in defaults for the camera ID.
	PlatformFile string `json:"platform_file,omitempty"`
}

// NATSConfig configures the trace event publisher. An empty URL
// disables tracing.
type NATSConfig struct {
	URL string `json:"url,omitempty"`
	// Name identifies the connection on the NATS server.
	Name string `json:"name,omitempty"`
}

// MonitorConfig configures the HTTP monitor server.
type MonitorConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// LoggingConfig configures the slog backend.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `json:"level"`
	// Format is "text" or "json".
	Format string `json:"format"`
}

// Defaults returns the built-in configuration: camera 0, monitor on
// 9090, info-level text logs, tracing disabled.
func Defaults() *Config {
	return &Config{
		Camera: CameraConfig{ID: 0},
		NATS:   NATSConfig{Name: "camhal"},
		Monitor: MonitorConfig{
			Enabled: true,
			Port:    9090,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, the optional file at
// path, and environment overrides. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "read config file")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "parse config file")
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if c.Camera.ID < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("camera id %d", c.Camera.ID),
			"config", "Validate", "camera id must be non-negative")
	}
	if c.Monitor.Enabled && (c.Monitor.Port < 1 || c.Monitor.Port > 65535) {
		return errors.WrapInvalid(
			fmt.Errorf("monitor port %d", c.Monitor.Port),
			"config", "Validate", "monitor port out of range")
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("log format %q", c.Logging.Format),
			"config", "Validate", "log format must be text or json")
	}
	return nil
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.WrapInvalid(
			fmt.Errorf("log level %q", l.Level),
			"config", "SlogLevel", "unknown log level")
	}
}

// NewLogger builds the application logger from the logging section.
func (l LoggingConfig) NewLogger() *slog.Logger {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// applyEnvOverrides lets deploy scripts tweak a config file without
// editing it.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CAMHAL_CAMERA_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.Camera.ID = id
		}
	}
	if v := os.Getenv("CAMHAL_PLATFORM_FILE"); v != "" {
		cfg.Camera.PlatformFile = v
	}
	if v := os.Getenv("CAMHAL_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("CAMHAL_MONITOR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Monitor.Port = port
			cfg.Monitor.Enabled = true
		}
	}
	if v := os.Getenv("CAMHAL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
