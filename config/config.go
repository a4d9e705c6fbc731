// Package config provides configuration loading and management for flowengine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete flowengine configuration.
type Config struct {
	NATS      NATSConfig      `yaml:"nats"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Audit     AuditConfig     `yaml:"audit"`
	Server    ServerConfig    `yaml:"server"`
}

// NATSConfig configures the JetStream-backed marking store.
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server).
	URL string `yaml:"url"`
	// Embedded indicates whether to use an embedded NATS server.
	Embedded bool `yaml:"embedded"`
	// BucketPrefix is loaded, merged and must be non-empty. The store's
	// KV bucket names are fixed (FLOWENGINE_*) and do not use it.
	BucketPrefix string `yaml:"bucket_prefix"`
}

// SchedulerConfig configures deferred work-item scheduling.
type SchedulerConfig struct {
	// Driver names a Scheduler implementation: "cron" for
	// robfig/cron/v3-backed timers, "fake" for the deterministic test
	// double; Validate rejects any other value. The serve command does
	// not read it and always runs the cron-backed scheduler.
	Driver string `yaml:"driver"`
}

// AuditConfig holds audit settings. They are loaded, merged and
// validated here, but the serve command does not pass them on: the
// workflow engine component always persists spans to its JetStream
// audit stream (kept 30 days), uses the instrumentation name
// "flowengine", and takes its OpenTelemetry switch from its own
// component config.
type AuditConfig struct {
	// OtelEnabled names whether spans go to the OpenTelemetry global
	// tracer provider as well.
	OtelEnabled bool `yaml:"otel_enabled"`
	// OtelServiceName names the instrumentation spans are emitted under;
	// it must be set when OtelEnabled is true.
	OtelServiceName string `yaml:"otel_service_name"`
	// PersistToNats names whether spans are recorded to a JetStream
	// stream.
	PersistToNats bool `yaml:"persist_to_nats"`
	// Retention names how long persisted spans are kept; it must not be
	// negative.
	Retention time.Duration `yaml:"retention"`
}

// ServerConfig holds the component's network settings.
type ServerConfig struct {
	// ListenAddr is loaded and merged; no endpoint in this repository
	// binds to it.
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:          "",
			Embedded:     true,
			BucketPrefix: "FLOWENGINE",
		},
		Scheduler: SchedulerConfig{
			Driver: "cron",
		},
		Audit: AuditConfig{
			OtelEnabled:     true,
			OtelServiceName: "flowengine",
			PersistToNats:   true,
			Retention:       30 * 24 * time.Hour,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Scheduler.Driver {
	case "cron", "fake":
	default:
		return fmt.Errorf("scheduler.driver must be \"cron\" or \"fake\", got %q", c.Scheduler.Driver)
	}
	if c.NATS.BucketPrefix == "" {
		return fmt.Errorf("nats.bucket_prefix is required")
	}
	if c.Audit.OtelEnabled && c.Audit.OtelServiceName == "" {
		return fmt.Errorf("audit.otel_service_name is required when audit.otel_enabled is true")
	}
	if c.Audit.Retention < 0 {
		return fmt.Errorf("audit.retention must not be negative")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}
	if other.NATS.BucketPrefix != "" {
		c.NATS.BucketPrefix = other.NATS.BucketPrefix
	}

	if other.Scheduler.Driver != "" {
		c.Scheduler.Driver = other.Scheduler.Driver
	}

	if other.Audit.OtelServiceName != "" {
		c.Audit.OtelServiceName = other.Audit.OtelServiceName
	}
	if other.Audit.Retention != 0 {
		c.Audit.Retention = other.Audit.Retention
	}
	c.Audit.OtelEnabled = other.Audit.OtelEnabled || c.Audit.OtelEnabled
	c.Audit.PersistToNats = other.Audit.PersistToNats || c.Audit.PersistToNats

	if other.Server.ListenAddr != "" {
		c.Server.ListenAddr = other.Server.ListenAddr
	}
}
