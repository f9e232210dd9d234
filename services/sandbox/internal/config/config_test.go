package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileAndEnvOverrides(t *testing.T) {
	t.Setenv("SANDBOX_PORT", "9090")
	t.Setenv("SANDBOX_PDF_AFTER_POLLS", "6")
	t.Setenv("SANDBOX_SEED_DEMO", "true")

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
port: "8080"
logLevel: "debug"
jwtSecret: "dev-secret"
sessionTTL: "2h"
coverAfterPolls: 2
pdfAfterPolls: 4
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("port = %q, want 9090", cfg.Port)
	}
	if cfg.LogLevel != "debug" || cfg.JWTSecret != "dev-secret" {
		t.Fatalf("unexpected file values: %+v", cfg)
	}
	if cfg.CoverAfterPolls != 2 || cfg.PDFAfterPolls != 6 {
		t.Fatalf("poll thresholds = %d/%d, want 2/6", cfg.CoverAfterPolls, cfg.PDFAfterPolls)
	}
	if !cfg.SeedDemo {
		t.Fatalf("seedDemo = false, want true")
	}
	ttl, err := ParseSessionTTL(cfg.SessionTTL)
	if err != nil || ttl != 2*time.Hour {
		t.Fatalf("session ttl = %v, %v", ttl, err)
	}
}

func TestLoadWithoutFileUsesEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "env-secret")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "8080" || cfg.JWTSecret != "env-secret" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestValidateConfig(t *testing.T) {
	base := FileConfig{Port: "8080", JWTSecret: "s", SessionTTL: "1h"}
	if err := validateConfig(base); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}
	cases := map[string]func(*FileConfig){
		"missing secret":         func(c *FileConfig) { c.JWTSecret = " " },
		"bad ttl":                func(c *FileConfig) { c.SessionTTL = "soon" },
		"negative ttl":           func(c *FileConfig) { c.SessionTTL = "-1h" },
		"pdf before cover":       func(c *FileConfig) { c.CoverAfterPolls, c.PDFAfterPolls = 4, 2 },
		"rate limit needs redis": func(c *FileConfig) { c.RateLimitPerMinute = 10 },
	}
	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		if err := validateConfig(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
