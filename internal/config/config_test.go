package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.MetricsNamespace != "parley" {
		t.Fatalf("MetricsNamespace = %q, want parley", cfg.MetricsNamespace)
	}
	if cfg.AudioRetryAttempts != 10 {
		t.Fatalf("AudioRetryAttempts = %d, want 10", cfg.AudioRetryAttempts)
	}
	if cfg.AudioRetryDelay != 3*time.Second {
		t.Fatalf("AudioRetryDelay = %v, want 3s", cfg.AudioRetryDelay)
	}
	if cfg.ProbeTimeout != 5*time.Second {
		t.Fatalf("ProbeTimeout = %v, want 5s", cfg.ProbeTimeout)
	}
	if cfg.MinTranscriptEntries != 2 {
		t.Fatalf("MinTranscriptEntries = %d, want 2", cfg.MinTranscriptEntries)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_PROBE_TIMEOUT", "2s")
	t.Setenv("APP_AUDIO_RETRY_ATTEMPTS", "4")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ProbeTimeout != 2*time.Second {
		t.Fatalf("ProbeTimeout = %v, want 2s", cfg.ProbeTimeout)
	}
	if cfg.AudioRetryAttempts != 4 {
		t.Fatalf("AudioRetryAttempts = %d, want 4", cfg.AudioRetryAttempts)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin should be true")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("APP_AUDIO_RETRY_ATTEMPTS", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for zero retry attempts")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("APP_PROBE_TIMEOUT", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error for APP_PROBE_TIMEOUT")
	}
}
