package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port, got %d", cfg.Server.Port)
	}
	if len(cfg.Data.Roots) == 0 {
		t.Fatal("expected default data roots")
	}
	if cfg.Limits.MaxSamples != 25000 || cfg.Limits.ViolinMaxSamples != 100000 {
		t.Fatalf("unexpected default limits: %+v", cfg.Limits)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	content := `
server:
  port: 9000
data:
  roots:
    - /srv/datasets
strapi:
  base_url: http://localhost:1337/api
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Fatalf("expected configured port, got %d", cfg.Server.Port)
	}
	if cfg.Data.Roots[0] != "/srv/datasets" {
		t.Fatalf("expected configured roots, got %v", cfg.Data.Roots)
	}
	// Unset sections fall back to defaults.
	if cfg.Cache.ResponseSizeMB != 256 || cfg.Cache.TTLDays != 7 {
		t.Fatalf("expected default cache settings, got %+v", cfg.Cache)
	}
	if cfg.Strapi.TimeoutSeconds != 10 {
		t.Fatalf("expected default strapi timeout, got %d", cfg.Strapi.TimeoutSeconds)
	}
	if cfg.Strapi.BaseURL != "http://localhost:1337/api" {
		t.Fatalf("unexpected strapi base url: %q", cfg.Strapi.BaseURL)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte("server: ["), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}
