package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Scheduler.Driver != "cron" {
		t.Errorf("expected default scheduler driver cron, got %s", cfg.Scheduler.Driver)
	}
	if !cfg.NATS.Embedded {
		t.Error("expected embedded NATS by default")
	}
	if cfg.NATS.BucketPrefix != "FLOWENGINE" {
		t.Errorf("expected default bucket prefix FLOWENGINE, got %s", cfg.NATS.BucketPrefix)
	}
	if !cfg.Audit.OtelEnabled {
		t.Error("expected otel enabled by default")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid scheduler driver",
			modify:  func(c *Config) { c.Scheduler.Driver = "bogus" },
			wantErr: true,
		},
		{
			name:    "missing bucket prefix",
			modify:  func(c *Config) { c.NATS.BucketPrefix = "" },
			wantErr: true,
		},
		{
			name:    "otel enabled without service name",
			modify:  func(c *Config) { c.Audit.OtelServiceName = "" },
			wantErr: true,
		},
		{
			name:    "negative retention",
			modify:  func(c *Config) { c.Audit.Retention = -time.Second },
			wantErr: true,
		},
		{
			name:    "fake scheduler is valid",
			modify:  func(c *Config) { c.Scheduler.Driver = "fake" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
nats:
  url: "nats://test:4222"
  bucket_prefix: "TESTFLOW"
scheduler:
  driver: "fake"
audit:
  otel_enabled: false
  persist_to_nats: false
  retention: 1h
server:
  listen_addr: ":9090"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.NATS.URL != "nats://test:4222" {
		t.Errorf("expected NATS URL nats://test:4222, got %s", cfg.NATS.URL)
	}
	if cfg.NATS.BucketPrefix != "TESTFLOW" {
		t.Errorf("expected bucket prefix TESTFLOW, got %s", cfg.NATS.BucketPrefix)
	}
	if cfg.Scheduler.Driver != "fake" {
		t.Errorf("expected scheduler driver fake, got %s", cfg.Scheduler.Driver)
	}
	if cfg.Audit.Retention != time.Hour {
		t.Errorf("expected retention 1h, got %v", cfg.Audit.Retention)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("expected listen addr :9090, got %s", cfg.Server.ListenAddr)
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		NATS: NATSConfig{
			URL: "nats://override:4222",
		},
		Server: ServerConfig{
			ListenAddr: ":7070",
		},
	}

	base.Merge(override)

	if base.NATS.URL != "nats://override:4222" {
		t.Errorf("expected NATS URL override, got %s", base.NATS.URL)
	}
	if base.NATS.Embedded {
		t.Error("expected embedded to be cleared once a URL is set")
	}
	// bucket prefix should remain from base since override didn't set it
	if base.NATS.BucketPrefix != "FLOWENGINE" {
		t.Errorf("expected bucket prefix to remain default, got %s", base.NATS.BucketPrefix)
	}
	if base.Server.ListenAddr != ":7070" {
		t.Errorf("expected listen addr :7070, got %s", base.Server.ListenAddr)
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.Server.ListenAddr = ":6060"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Server.ListenAddr != ":6060" {
		t.Errorf("expected listen addr :6060, got %s", loaded.Server.ListenAddr)
	}
}
