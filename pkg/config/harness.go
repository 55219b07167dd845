package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// HarnessConfig configures the harness process: logging, daemon listeners and the built-in fixture
type HarnessConfig struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
	GRPCAddr  string        `yaml:"grpc_addr"`
	HTTPAddr  string        `yaml:"http_addr"`
	MaxRuns   int           `yaml:"max_runs"` // concurrent runs in the daemon, 0 = unlimited
	Fixture   FixtureConfig `yaml:"fixture"`
	Notify    NotifyConfig  `yaml:"notify"`
}

// FixtureConfig configures the simulated loopback fixture
type FixtureConfig struct {
	CaptureDevices  int   `yaml:"capture_devices"`
	Seed            int64 `yaml:"seed"` // 0 = seeded from the clock
	MTU             int   `yaml:"mtu"`
	StatsIntervalMs int   `yaml:"stats_interval_ms"`
	RealTime        bool  `yaml:"real_time"` // pace analyzed runs to the wall clock
}

// NotifyConfig configures run completion callbacks
type NotifyConfig struct {
	MaxRetries  int `yaml:"max_retries"`
	BaseDelayMs int `yaml:"base_delay_ms"`
}

// DefaultHarnessConfig returns the configuration used when no file is given
func DefaultHarnessConfig() HarnessConfig {
	return HarnessConfig{
		LogLevel:  "info",
		LogFormat: "text",
		GRPCAddr:  ":50051",
		HTTPAddr:  ":8080",
		MaxRuns:   4,
		Fixture: FixtureConfig{
			CaptureDevices:  1,
			MTU:             1200,
			StatsIntervalMs: 1000,
		},
		Notify: NotifyConfig{
			MaxRetries:  3,
			BaseDelayMs: 200,
		},
	}
}

// LoadHarnessConfig loads and parses a harness configuration file
func LoadHarnessConfig(path string) (HarnessConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return HarnessConfig{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseHarnessConfigYAML(data)
	if err != nil {
		return HarnessConfig{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ParseHarnessConfigYAML parses a HarnessConfig on top of the defaults and validates it.
func ParseHarnessConfigYAML(data []byte) (HarnessConfig, error) {
	cfg := DefaultHarnessConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return HarnessConfig{}, fmt.Errorf("failed to parse config yaml: %w", err)
	}
	if err := ValidateHarnessConfig(cfg); err != nil {
		return HarnessConfig{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ValidateHarnessConfig performs validation on the harness configuration
func ValidateHarnessConfig(cfg HarnessConfig) error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("invalid log_format: %s (must be text or json)", cfg.LogFormat)
	}
	if cfg.MaxRuns < 0 {
		return fmt.Errorf("max_runs cannot be negative")
	}

	if cfg.Fixture.CaptureDevices < 0 {
		return fmt.Errorf("fixture: capture_devices cannot be negative")
	}
	if cfg.Fixture.MTU < 200 || cfg.Fixture.MTU > 1500 {
		return fmt.Errorf("fixture: mtu must be between 200 and 1500")
	}
	if cfg.Fixture.StatsIntervalMs <= 0 {
		return fmt.Errorf("fixture: stats_interval_ms must be positive")
	}

	if cfg.Notify.MaxRetries < 0 {
		return fmt.Errorf("notify: max_retries cannot be negative")
	}
	if cfg.Notify.BaseDelayMs < 0 {
		return fmt.Errorf("notify: base_delay_ms cannot be negative")
	}
	return nil
}
