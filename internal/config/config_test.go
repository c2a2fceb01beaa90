package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.StepTimeout != 30*time.Minute {
		t.Errorf("expected 30m step timeout, got %v", cfg.StepTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected info log level, got %s", cfg.LogLevel)
	}
	if cfg.Publish.IdentityTokenEnv != "SLIPWAY_ID_TOKEN" {
		t.Errorf("unexpected identity token env: %s", cfg.Publish.IdentityTokenEnv)
	}
	if !cfg.Serve.MetricsEnabled {
		t.Error("metrics should be enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level, got %s", cfg.LogLevel)
	}
}

func TestLoadConfig_MergesWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
step_timeout: 5m
log_level: debug
publish:
  upload_url: https://index.internal/upload/
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.StepTimeout != 5*time.Minute {
		t.Errorf("expected 5m timeout, got %v", cfg.StepTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected debug level, got %s", cfg.LogLevel)
	}
	// Overridden nested value
	if cfg.Publish.UploadURL != "https://index.internal/upload/" {
		t.Errorf("unexpected upload URL: %s", cfg.Publish.UploadURL)
	}
	// Untouched nested values keep defaults
	if cfg.Publish.TokenURL != "https://pypi.org/_/oidc/mint-token" {
		t.Errorf("token URL should keep default, got %s", cfg.Publish.TokenURL)
	}
	// Untouched top-level values keep defaults
	if cfg.CacheDir != ".slipway/cache" {
		t.Errorf("cache dir should keep default, got %s", cfg.CacheDir)
	}
}

func TestLoadConfig_InvalidTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("step_timeout: soon"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for invalid timeout")
	}
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestMergeWithFlags(t *testing.T) {
	cfg := DefaultConfig()

	timeout := 2 * time.Minute
	level := "trace"
	dryRun := true
	cfg.MergeWithFlags(&timeout, &level, nil, nil, &dryRun)

	if cfg.StepTimeout != timeout {
		t.Errorf("expected %v, got %v", timeout, cfg.StepTimeout)
	}
	if cfg.LogLevel != "trace" {
		t.Errorf("expected trace, got %s", cfg.LogLevel)
	}
	if !cfg.DryRun {
		t.Error("expected dry run enabled")
	}
	// Nil flags leave config untouched
	if cfg.LogDir != ".slipway/logs" {
		t.Errorf("log dir should keep default, got %s", cfg.LogDir)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "loud" },
			wantErr: true,
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.StepTimeout = -time.Second },
			wantErr: true,
		},
		{
			name:   "zero timeout means none",
			mutate: func(c *Config) { c.StepTimeout = 0 },
		},
		{
			name:    "empty cache dir",
			mutate:  func(c *Config) { c.CacheDir = "" },
			wantErr: true,
		},
		{
			name:    "empty serve addr",
			mutate:  func(c *Config) { c.Serve.Addr = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		})
	}
}

func TestLoadConfigFromDir(t *testing.T) {
	dir := t.TempDir()
	slipwayDir := filepath.Join(dir, ".slipway")
	if err := os.MkdirAll(slipwayDir, 0755); err != nil {
		t.Fatal(err)
	}
	content := "log_level: warn\n"
	if err := os.WriteFile(filepath.Join(slipwayDir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromDir(dir)
	if err != nil {
		t.Fatalf("LoadConfigFromDir() error: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected warn, got %s", cfg.LogLevel)
	}
}
