// ABOUTME: Tests for environment-driven configuration
// ABOUTME: Covers defaults, overrides, and validation failures
package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}

	if cfg.Playback.SampleRate != 24000 {
		t.Errorf("expected default sample rate 24000, got %d", cfg.Playback.SampleRate)
	}
	if cfg.Playback.Policy != "immediate" {
		t.Errorf("expected default policy immediate, got %q", cfg.Playback.Policy)
	}
	if cfg.Playback.Threshold != 500*time.Millisecond {
		t.Errorf("expected default threshold 500ms, got %v", cfg.Playback.Threshold)
	}
	if cfg.Relay.ListenAddr != ":8927" {
		t.Errorf("expected default listen addr :8927, got %q", cfg.Relay.ListenAddr)
	}
	if !cfg.Relay.EnableMDNS {
		t.Error("expected mDNS enabled by default")
	}
	if cfg.Session.IdleTimeout != 2*time.Minute {
		t.Errorf("expected default idle timeout 2m, got %v", cfg.Session.IdleTimeout)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("TALKWIRE_PLAYBACK_POLICY", "threshold")
	t.Setenv("TALKWIRE_THRESHOLD_MS", "750")
	t.Setenv("TALKWIRE_SAMPLE_RATE", "48000")
	t.Setenv("TALKWIRE_ENABLE_MDNS", "false")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Playback.Policy != "threshold" {
		t.Errorf("expected policy threshold, got %q", cfg.Playback.Policy)
	}
	if cfg.Playback.Threshold != 750*time.Millisecond {
		t.Errorf("expected threshold 750ms, got %v", cfg.Playback.Threshold)
	}
	if cfg.Playback.SampleRate != 48000 {
		t.Errorf("expected sample rate 48000, got %d", cfg.Playback.SampleRate)
	}
	if cfg.Relay.EnableMDNS {
		t.Error("expected mDNS disabled")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad policy", func(c *Config) { c.Playback.Policy = "adaptive" }},
		{"sample rate too low", func(c *Config) { c.Playback.SampleRate = 4000 }},
		{"zero threshold", func(c *Config) { c.Playback.Threshold = 0 }},
		{"negative max chunk", func(c *Config) { c.Playback.MaxChunk = -time.Second }},
		{"empty listen addr", func(c *Config) { c.Relay.ListenAddr = "" }},
		{"bad mdns port", func(c *Config) { c.Relay.MDNSPort = 0 }},
		{"zero idle timeout", func(c *Config) { c.Session.IdleTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := FromEnv()
			if err != nil {
				t.Fatalf("baseline config invalid: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestEnvParseFallbacks(t *testing.T) {
	t.Setenv("TALKWIRE_SAMPLE_RATE", "not-a-number")
	t.Setenv("TALKWIRE_ENABLE_MDNS", "not-a-bool")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Playback.SampleRate != 24000 {
		t.Errorf("expected fallback sample rate, got %d", cfg.Playback.SampleRate)
	}
	if !cfg.Relay.EnableMDNS {
		t.Error("expected fallback mDNS setting")
	}
}
