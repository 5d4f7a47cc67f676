package config

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"canvaspaint/internal/ratelimit"
)

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Retry.Delay != 5*time.Second || cfg.Retry.NetworkAttempts != 10 {
		t.Fatalf("retry = %+v", cfg.Retry)
	}
	if cfg.TokenFile != "auth.txt" || cfg.Workers != 1 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoad_File(t *testing.T) {
	path := write(t, "paint.yaml", `
base_url: https://canvas.example.org
api_version: v2
paths:
  size: /dims
set_pixel_method: post
color_field: color
timeout: 10s
limits:
  set_pixel:
    hits: 5
    cooldown: 30s
retry:
  delay: 2s
  network_attempts: 3
workers: 4
queue_size: 16
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Timeout != 10*time.Second || cfg.Workers != 4 || cfg.QueueSize != 16 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if got := cfg.Limits[ratelimit.EndpointSetPixel]; got != (ratelimit.Limit{Hits: 5, Cooldown: 30 * time.Second}) {
		t.Fatalf("limit = %+v", got)
	}
	if len(cfg.LimiterOptions()) != 1 {
		t.Fatal("expected one limiter option")
	}

	s, err := cfg.Schema()
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "v2" || s.SizePath != "/dims" || s.GetPixelPath != "/canvas/pixel" {
		t.Fatalf("schema = %+v", s)
	}
	if s.SetPixelMethod != http.MethodPost || s.ColorField != "color" {
		t.Fatalf("schema = %+v", s)
	}
	// Unset keys keep their defaults.
	if cfg.TokenFile != "auth.txt" {
		t.Fatalf("token_file = %q", cfg.TokenFile)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad url":      "base_url: ftp://x\n",
		"bad version":  "api_version: v9\n",
		"zero workers": "workers: 0\n",
		"bad endpoint": "limits:\n  nope:\n    hits: 1\n    cooldown: 1s\n",
		"zero hits":    "limits:\n  size:\n    hits: 0\n    cooldown: 1s\n",
		"not yaml":     "workers: [\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(write(t, "c.yaml", content)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadToken(t *testing.T) {
	if tok, err := LoadToken("  flag-token ", "missing"); err != nil || tok != "flag-token" {
		t.Fatalf("flag: %q, %v", tok, err)
	}

	path := write(t, "auth.txt", "file-token\nsecond line\n")
	if tok, err := LoadToken("", path); err != nil || tok != "file-token" {
		t.Fatalf("file: %q, %v", tok, err)
	}

	_, err := LoadToken("", filepath.Join(t.TempDir(), "auth.txt"))
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("missing: %v", err)
	}

	_, err = LoadToken("", write(t, "auth.txt", "\n"))
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("empty: %v", err)
	}
}
