package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("CFG_STR", "value")
	t.Setenv("CFG_INT", "42")
	t.Setenv("CFG_BAD_INT", "forty-two")
	t.Setenv("CFG_BOOL", "true")
	t.Setenv("CFG_FLOAT", "2.5")
	t.Setenv("CFG_SECONDS", "3")
	t.Setenv("CFG_DURATION", "250ms")
	t.Setenv("CFG_BAD_DURATION", "soon")

	if got := GetEnv("CFG_STR", "fallback"); got != "value" {
		t.Errorf("GetEnv = %q", got)
	}
	if got := GetEnv("CFG_UNSET", "fallback"); got != "fallback" {
		t.Errorf("GetEnv fallback = %q", got)
	}
	if got := GetEnvInt("CFG_INT", 1); got != 42 {
		t.Errorf("GetEnvInt = %d", got)
	}
	if got := GetEnvInt("CFG_BAD_INT", 1); got != 1 {
		t.Errorf("GetEnvInt with invalid value = %d, want fallback", got)
	}
	if !GetEnvBool("CFG_BOOL", false) {
		t.Error("GetEnvBool = false, want true")
	}
	if got := GetEnvFloat("CFG_FLOAT", 0); got != 2.5 {
		t.Errorf("GetEnvFloat = %v", got)
	}
	if got := GetEnvDuration("CFG_SECONDS", 0); got != 3*time.Second {
		t.Errorf("bare integers are seconds, got %v", got)
	}
	if got := GetEnvDuration("CFG_DURATION", 0); got != 250*time.Millisecond {
		t.Errorf("GetEnvDuration = %v", got)
	}
	if got := GetEnvDuration("CFG_BAD_DURATION", time.Minute); got != time.Minute {
		t.Errorf("GetEnvDuration with invalid value = %v, want fallback", got)
	}
}

func TestFromEnv_defaults(t *testing.T) {
	for _, key := range []string{"PORT", "RELAY_ADDR", "UPSTREAM_PORT", "UPSTREAM_CLIENT", "KBPS", "KBPS_MIN", "KBPS_MAX", "RELAY_WRITE_TIMEOUT"} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()
	if cfg.Port != "8080" || cfg.RelayAddr != "127.0.0.1:2171" || cfg.UpstreamPort != 2170 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Kbps != 2000 || cfg.KbpsMin != 320 || cfg.KbpsMax != 4540 {
		t.Errorf("unexpected bitrate defaults: %d %d %d", cfg.Kbps, cfg.KbpsMin, cfg.KbpsMax)
	}
	if cfg.UpstreamClient != "IDEV" || cfg.RelayWriteTimeout != time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestFromEnv_overrides(t *testing.T) {
	t.Setenv("RELAY_ADDR", "127.0.0.1:9999")
	t.Setenv("UPSTREAM_CLIENT", "safari")
	t.Setenv("RELAY_DEFAULT_POLL", "2s")
	t.Setenv("UPSTREAM_RATE_LIMIT", "5")

	cfg := FromEnv()
	if cfg.RelayAddr != "127.0.0.1:9999" {
		t.Errorf("RelayAddr = %q", cfg.RelayAddr)
	}
	if cfg.UpstreamClient != "SAFARI" {
		t.Errorf("UpstreamClient = %q, want SAFARI", cfg.UpstreamClient)
	}
	if cfg.RelayDefaultPoll != 2*time.Second {
		t.Errorf("RelayDefaultPoll = %v", cfg.RelayDefaultPoll)
	}
	if cfg.UpstreamRateLimit != 5 {
		t.Errorf("UpstreamRateLimit = %v", cfg.UpstreamRateLimit)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("CFG_FROM_DOTENV=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CFG_FROM_DOTENV", "")
	os.Unsetenv("CFG_FROM_DOTENV")

	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := os.Getenv("CFG_FROM_DOTENV"); got != "loaded" {
		t.Errorf("CFG_FROM_DOTENV = %q", got)
	}
	if err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("Load of a missing file should return an error")
	}
}
