package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Probe.Path == "" {
		t.Fatal("expected a default probe path")
	}
	if cfg.Probe.ParsedInterval() <= 0 {
		t.Fatal("expected a positive default probe interval")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "director.yaml")
	contents := []byte("probe:\n  path: /custom-metrics\n  interval: 10s\nadmin:\n  listen_addr: \":9999\"\n")
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Probe.Path != "/custom-metrics" {
		t.Fatalf("expected overridden probe path, got %q", cfg.Probe.Path)
	}
	if cfg.Admin.ListenAddr != ":9999" {
		t.Fatalf("expected overridden admin listen addr, got %q", cfg.Admin.ListenAddr)
	}
	if cfg.Probe.DefaultCount != 3 {
		t.Fatalf("expected default_count default to survive partial override, got %d", cfg.Probe.DefaultCount)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error loading a missing config file")
	}
}
