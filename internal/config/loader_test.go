package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	confDir := filepath.Join(dir, ConfigDirName)
	if err := os.MkdirAll(confDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(confDir, ConfigFileName)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "inference:\n  provider: mock\n")

	cfg, err := NewLoader(dir).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Capture.TextGapMS != 1500 {
		t.Errorf("text gap default = %d, want 1500", cfg.Capture.TextGapMS)
	}
	if cfg.TextGap() != 1500*time.Millisecond {
		t.Errorf("TextGap() = %v", cfg.TextGap())
	}
	if cfg.Sessions.Mode != "local" {
		t.Errorf("session mode default = %q, want local", cfg.Sessions.Mode)
	}
	if cfg.Runs.MaxConcurrent != 2 {
		t.Errorf("max concurrent default = %d, want 2", cfg.Runs.MaxConcurrent)
	}
}

func TestFindConfigSearchesUpward(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "inference:\n  provider: mock\n")

	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	loader := NewLoader(nested)
	if _, err := loader.Load(); err != nil {
		t.Fatalf("load from nested dir: %v", err)
	}

	projectRoot, err := loader.GetProjectRoot()
	if err != nil {
		t.Fatalf("project root: %v", err)
	}
	// Resolve symlinks so macOS /var vs /private/var compares equal.
	wantRoot, _ := filepath.EvalSymlinks(root)
	gotRoot, _ := filepath.EvalSymlinks(projectRoot)
	if gotRoot != wantRoot {
		t.Errorf("project root = %q, want %q", gotRoot, wantRoot)
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "inference:\n  provider: openai\n  api_key: from-file\n")

	t.Setenv("REHEARSE_API_KEY", "from-env")
	t.Setenv("REHEARSE_MODEL", "gpt-4o")
	t.Setenv("REHEARSE_MAX_CONCURRENT", "5")

	cfg, err := NewLoader(dir).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Inference.APIKey != "from-env" {
		t.Errorf("api key = %q, want from-env", cfg.Inference.APIKey)
	}
	if cfg.Inference.Model != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", cfg.Inference.Model)
	}
	if cfg.Runs.MaxConcurrent != 5 {
		t.Errorf("max concurrent = %d, want 5", cfg.Runs.MaxConcurrent)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown provider", func(c *Config) { c.Inference.Provider = "llama" }, "unknown inference provider"},
		{"unknown mode", func(c *Config) { c.Sessions.Mode = "remote" }, "unknown session mode"},
		{"cloud without endpoint", func(c *Config) { c.Sessions.Mode = "cloud" }, "cloud_endpoint"},
		{"zero text gap", func(c *Config) { c.Capture.TextGapMS = 0 }, "text_gap_ms"},
		{"zero concurrency", func(c *Config) { c.Runs.MaxConcurrent = 0 }, "max_concurrent"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(dir)

	cfg := Default()
	cfg.Inference.Provider = "mock"
	cfg.Runs.RetentionDays = 14

	if err := loader.Save(cfg, loader.GetConfigPath()); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := loader.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Inference.Provider != "mock" {
		t.Errorf("provider = %q, want mock", loaded.Inference.Provider)
	}
	if loaded.Runs.RetentionDays != 14 {
		t.Errorf("retention = %d, want 14", loaded.Runs.RetentionDays)
	}
}
