// Package config holds the runtime configuration: log level, scan and
// connect limits, protocol pacing and the command literals spoken to
// the scale.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	LogLevel       string        `yaml:"log_level" default:"info"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`

	Scan     Scan     `yaml:"scan"`
	Timing   Timing   `yaml:"timing"`
	Commands Commands `yaml:"commands"`
}

// Scan controls what the discovery registry publishes.
type Scan struct {
	// NameFilter drops advertisements from devices that never
	// reported a name.
	NameFilter bool `yaml:"name_filter" default:"false"`
}

// Timing paces the bootstrap sequence and the polling fallback. A BLE
// link carries one outstanding request at a time, so these gaps are
// floors, not targets.
type Timing struct {
	// Settle is the pause between the connect report and service
	// discovery, giving the link time to finish negotiation.
	Settle time.Duration `yaml:"settle" default:"300ms"`
	// CommandGap separates consecutive command writes.
	CommandGap time.Duration `yaml:"command_gap" default:"150ms"`
	// PollBackstop is the delay before polling starts even though
	// notifications were enabled successfully.
	PollBackstop time.Duration `yaml:"poll_backstop" default:"2s"`
	// PollInterval separates polling cycles.
	PollInterval time.Duration `yaml:"poll_interval" default:"5s"`
}

// Commands are the literals written to the scale, ASCII, sent verbatim
// including each one's terminator.
type Commands struct {
	// Start candidates ask the scale to begin streaming measurements.
	Start []string `yaml:"start"`
	// Request candidates ask for a single measurement during polling.
	Request []string `yaml:"request"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.Commands = Commands{
		Start:   []string{"SIR\r\n", "ST\r"},
		Request: []string{"SI\r\n", "P\r"},
	}
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults untouched.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML over the defaults, so a partial document only
// overrides what it mentions.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for name, d := range map[string]time.Duration{
		"scan_timeout":    c.ScanTimeout,
		"connect_timeout": c.ConnectTimeout,
		"settle":          c.Timing.Settle,
		"command_gap":     c.Timing.CommandGap,
		"poll_backstop":   c.Timing.PollBackstop,
		"poll_interval":   c.Timing.PollInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive, got %s", name, d)
		}
	}
	return nil
}

// NewLogger creates a configured logger instance.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
