// ABOUTME: Environment-driven configuration for Talkwire binaries
// ABOUTME: Parses TALKWIRE_* variables with defaults and range validation
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the complete configuration for a Talkwire process.
type Config struct {
	Upstream UpstreamConfig
	Relay    RelayConfig
	Playback PlaybackConfig
	Session  SessionConfig
}

// UpstreamConfig describes the cloud AI endpoint connection.
type UpstreamConfig struct {
	URL    string // WebSocket URL of the conversational AI endpoint
	APIKey string
}

// RelayConfig describes the relay server surface.
type RelayConfig struct {
	ListenAddr string
	Name       string
	EnableMDNS bool
	MDNSPort   int
}

// PlaybackConfig describes the client-side playback scheduler.
type PlaybackConfig struct {
	SampleRate      int
	InputSampleRate int    // microphone rate sent upstream
	Policy          string // "immediate" or "threshold"
	Threshold       time.Duration
	MaxChunk        time.Duration
	FallbackFlush   time.Duration
}

// SessionConfig describes per-session bookkeeping.
type SessionConfig struct {
	IdleTimeout time.Duration
}

// FromEnv builds a Config from TALKWIRE_* environment variables, applying
// defaults for anything unset, then validates it.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Upstream: UpstreamConfig{
			URL:    os.Getenv("TALKWIRE_UPSTREAM_URL"),
			APIKey: os.Getenv("TALKWIRE_UPSTREAM_API_KEY"),
		},
		Relay: RelayConfig{
			ListenAddr: envString("TALKWIRE_LISTEN_ADDR", ":8927"),
			Name:       envString("TALKWIRE_NAME", "talkwire-relay"),
			EnableMDNS: envBool("TALKWIRE_ENABLE_MDNS", true),
			MDNSPort:   envInt("TALKWIRE_MDNS_PORT", 8927),
		},
		Playback: PlaybackConfig{
			SampleRate:      envInt("TALKWIRE_SAMPLE_RATE", 24000),
			InputSampleRate: envInt("TALKWIRE_INPUT_SAMPLE_RATE", 16000),
			Policy:          envString("TALKWIRE_PLAYBACK_POLICY", "immediate"),
			Threshold:       envMillis("TALKWIRE_THRESHOLD_MS", 500),
			MaxChunk:        envMillis("TALKWIRE_MAX_CHUNK_MS", 0), // 0 = 2x threshold
			FallbackFlush:   envMillis("TALKWIRE_FALLBACK_FLUSH_MS", 500),
		},
		Session: SessionConfig{
			IdleTimeout: envMillis("TALKWIRE_SESSION_IDLE_TIMEOUT_MS", 120000),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate performs range validation across all sections.
func (c *Config) Validate() error {
	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay config: %w", err)
	}
	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	return nil
}

// Validate validates the relay section.
func (r *RelayConfig) Validate() error {
	if r.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if r.MDNSPort < 1 || r.MDNSPort > 65535 {
		return fmt.Errorf("mdns port must be between 1 and 65535, got %d", r.MDNSPort)
	}
	return nil
}

// Validate validates the playback section.
func (p *PlaybackConfig) Validate() error {
	if p.SampleRate < 8000 || p.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 8000 and 192000, got %d", p.SampleRate)
	}
	if p.InputSampleRate < 8000 || p.InputSampleRate > 192000 {
		return fmt.Errorf("input_sample_rate must be between 8000 and 192000, got %d", p.InputSampleRate)
	}
	if p.Policy != "immediate" && p.Policy != "threshold" {
		return fmt.Errorf("policy must be 'immediate' or 'threshold', got %q", p.Policy)
	}
	if p.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive, got %v", p.Threshold)
	}
	if p.FallbackFlush <= 0 {
		return fmt.Errorf("fallback flush delay must be positive, got %v", p.FallbackFlush)
	}
	// MaxChunk zero means "2x threshold"; the scheduler clamps it to never
	// fall below the threshold.
	if p.MaxChunk < 0 {
		return fmt.Errorf("max chunk duration cannot be negative, got %v", p.MaxChunk)
	}
	return nil
}

// Validate validates the session section.
func (s *SessionConfig) Validate() error {
	if s.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive, got %v", s.IdleTimeout)
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envMillis(key string, fallbackMs int) time.Duration {
	return time.Duration(envInt(key, fallbackMs)) * time.Millisecond
}
