package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFromExplicitPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "flowengine.yaml")
	content := `
nats:
  bucket_prefix: "EXPLICIT"
scheduler:
  driver: "fake"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := loadConfig(configPath, "")
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.NATS.BucketPrefix != "EXPLICIT" {
		t.Errorf("expected bucket prefix EXPLICIT, got %s", cfg.NATS.BucketPrefix)
	}
	if cfg.Scheduler.Driver != "fake" {
		t.Errorf("expected scheduler driver fake, got %s", cfg.Scheduler.Driver)
	}
}

func TestLoadConfigExplicitPathMissingFileErrors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), "")
	if err == nil {
		t.Fatal("expected an error for a missing explicit config path")
	}
}

func TestLoadConfigNatsURLOverrideDisablesEmbedded(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "flowengine.yaml")
	content := `
nats:
  bucket_prefix: "OVERRIDE"
  embedded: true
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := loadConfig(configPath, "nats://remote:4222")
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.NATS.URL != "nats://remote:4222" {
		t.Errorf("expected NATS URL override, got %s", cfg.NATS.URL)
	}
	if cfg.NATS.Embedded {
		t.Error("expected embedded to be disabled once --nats-url is set")
	}
}

func TestLoadConfigExplicitPathInvalidConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "flowengine.yaml")
	content := `
scheduler:
  driver: "bogus"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := loadConfig(configPath, ""); err == nil {
		t.Fatal("expected an error for an invalid scheduler driver")
	}
}
