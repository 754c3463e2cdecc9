package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the training session engine.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	DefaultAgentID string

	AgentWSURL    string
	AgentRelayURL string
	AgentHTTPURL  string
	AgentAPIKey   string
	RelayToken    string

	CoachURL     string
	CoachTimeout time.Duration

	AnalysisURL     string
	AnalysisTimeout time.Duration

	ProbeTimeout time.Duration

	AudioRetryAttempts  int
	AudioRetryDelay     time.Duration
	RecordingSampleRate int

	MinTranscriptEntries int
	ClockTick            time.Duration

	ChannelMode string

	DatabaseURL           string
	QuotaAllowanceMinutes int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "parley"),
		AllowAnyOrigin:   false,
		DefaultAgentID:   envTrimmed("AGENT_ID"),
		// Realtime endpoints default to the hosted agent service; the relay shares
		// the agent protocol and differs only in routing.
		AgentWSURL:    envOrDefault("AGENT_WS_URL", "wss://agents.parley.dev/v1/realtime"),
		AgentRelayURL: envOrDefault("AGENT_RELAY_WS_URL", "wss://relay.parley.dev/v1/realtime"),
		AgentHTTPURL:  envOrDefault("AGENT_HTTP_URL", "https://agents.parley.dev"),
		AgentAPIKey:   envTrimmed("AGENT_API_KEY"),
		RelayToken:    envTrimmed("AGENT_RELAY_TOKEN"),
		CoachURL:      envTrimmed("COACH_SERVICE_URL"),
		AnalysisURL:   envTrimmed("ANALYSIS_SERVICE_URL"),
		// "auto" instantiates real transports when endpoints are reachable and the
		// mock channel otherwise; "mock" forces the in-process channel.
		ChannelMode:              envOrDefault("CHANNEL_MODE", "auto"),
		DatabaseURL:              envTrimmed("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 5 * time.Minute,
		CoachTimeout:             8 * time.Second,
		AnalysisTimeout:          60 * time.Second,
		ProbeTimeout:             5 * time.Second,
		AudioRetryAttempts:       10,
		AudioRetryDelay:          3 * time.Second,
		RecordingSampleRate:      16000,
		MinTranscriptEntries:     2,
		ClockTick:                time.Second,
		QuotaAllowanceMinutes:    120,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CoachTimeout, err = durationFromEnv("COACH_TIMEOUT", cfg.CoachTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AnalysisTimeout, err = durationFromEnv("ANALYSIS_TIMEOUT", cfg.AnalysisTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ProbeTimeout, err = durationFromEnv("APP_PROBE_TIMEOUT", cfg.ProbeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioRetryDelay, err = durationFromEnv("APP_AUDIO_RETRY_DELAY", cfg.AudioRetryDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.ClockTick, err = durationFromEnv("APP_CLOCK_TICK", cfg.ClockTick)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioRetryAttempts, err = intFromEnv("APP_AUDIO_RETRY_ATTEMPTS", cfg.AudioRetryAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.RecordingSampleRate, err = intFromEnv("APP_RECORDING_SAMPLE_RATE", cfg.RecordingSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.MinTranscriptEntries, err = intFromEnv("APP_MIN_TRANSCRIPT_ENTRIES", cfg.MinTranscriptEntries)
	if err != nil {
		return Config{}, err
	}
	cfg.QuotaAllowanceMinutes, err = intFromEnv("APP_QUOTA_ALLOWANCE_MINUTES", cfg.QuotaAllowanceMinutes)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.ProbeTimeout < time.Second {
		return Config{}, fmt.Errorf("APP_PROBE_TIMEOUT must be at least 1s")
	}
	if cfg.AudioRetryAttempts <= 0 {
		return Config{}, fmt.Errorf("APP_AUDIO_RETRY_ATTEMPTS must be positive")
	}
	if cfg.AudioRetryDelay <= 0 {
		return Config{}, fmt.Errorf("APP_AUDIO_RETRY_DELAY must be positive")
	}
	if cfg.MinTranscriptEntries < 1 {
		return Config{}, fmt.Errorf("APP_MIN_TRANSCRIPT_ENTRIES must be at least 1")
	}
	if cfg.ClockTick < 100*time.Millisecond {
		return Config{}, fmt.Errorf("APP_CLOCK_TICK must be at least 100ms")
	}
	if cfg.RecordingSampleRate <= 0 {
		return Config{}, fmt.Errorf("APP_RECORDING_SAMPLE_RATE must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
