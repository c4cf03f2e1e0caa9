package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cray-hpe/powerapid/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Rendezvous.SocketPath != "/var/opt/cray/powerapi/run/powerapid.sock" {
		t.Errorf("Rendezvous.SocketPath = %q", cfg.Rendezvous.SocketPath)
	}
	if cfg.Rendezvous.MaxSessions != 256 {
		t.Errorf("Rendezvous.MaxSessions = %d, want 256", cfg.Rendezvous.MaxSessions)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Rendezvous.MaxSessions != 256 {
		t.Errorf("expected default max_sessions, got %d", cfg.Rendezvous.MaxSessions)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "powerapid.yaml")
	yaml := "rendezvous:\n  max_sessions: 16\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Rendezvous.MaxSessions != 16 {
		t.Errorf("MaxSessions = %d, want 16", cfg.Rendezvous.MaxSessions)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	// Untouched fields keep their defaults.
	if cfg.Metrics.Addr != "127.0.0.1:9110" {
		t.Errorf("Metrics.Addr = %q, want default", cfg.Metrics.Addr)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("POWERAPID_LOG_LEVEL", "warn")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (from env)", cfg.LogLevel)
	}
}

func TestValidateRejectsEmptySocketPath(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Rendezvous.SocketPath = ""
	if err := config.Validate(cfg); !errors.Is(err, config.ErrEmptySocketPath) {
		t.Fatalf("expected ErrEmptySocketPath, got %v", err)
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LogLevel = "verbose"
	if err := config.Validate(cfg); !errors.Is(err, config.ErrInvalidLogLevel) {
		t.Fatalf("expected ErrInvalidLogLevel, got %v", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]int{"debug": -4, "info": 0, "warn": 4, "error": 8}
	for in, want := range cases {
		got, err := config.ParseLogLevel(in)
		if err != nil {
			t.Fatalf("ParseLogLevel(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLogLevel(%q) = %d, want %d", in, got, want)
		}
	}
	if _, err := config.ParseLogLevel("bogus"); err == nil {
		t.Fatalf("expected error for bogus level")
	}
}
