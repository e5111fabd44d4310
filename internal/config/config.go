package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the turn-taking engine.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	SessionInactivityTimeout time.Duration

	// Interruption detection.
	SpeechThreshold     float64
	InterruptionTimeout time.Duration
	EnergyWindowFrames  int
	SampleRate          int

	// Response delivery.
	TextSegmentCadence  time.Duration
	VoiceSegmentCadence time.Duration

	// Interruption policy.
	BaseCooldown time.Duration
	MaxCooldown  time.Duration

	// Synthesis boundary.
	SynthesisTimeout time.Duration

	// Audio buffering.
	BufferRetention time.Duration
	BufferMaxChunks int

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "voiceturn"),
		AllowAnyOrigin:           false,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		SpeechThreshold:          0.1,
		InterruptionTimeout:      500 * time.Millisecond,
		EnergyWindowFrames:       10,
		SampleRate:               44100,
		TextSegmentCadence:       2 * time.Second,
		VoiceSegmentCadence:      4 * time.Second,
		BaseCooldown:             2 * time.Second,
		MaxCooldown:              4 * time.Second,
		SynthesisTimeout:         5 * time.Second,
		BufferRetention:          30 * time.Second,
		BufferMaxChunks:          32,
		DatabaseURL:              strings.TrimSpace(os.Getenv("DATABASE_URL")),
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.SpeechThreshold, err = floatFromEnv("VOICE_SPEECH_THRESHOLD", cfg.SpeechThreshold); err != nil {
		return Config{}, err
	}
	if cfg.InterruptionTimeout, err = durationFromEnv("VOICE_INTERRUPTION_TIMEOUT", cfg.InterruptionTimeout); err != nil {
		return Config{}, err
	}
	if cfg.EnergyWindowFrames, err = intFromEnv("VOICE_ENERGY_WINDOW_FRAMES", cfg.EnergyWindowFrames); err != nil {
		return Config{}, err
	}
	if cfg.SampleRate, err = intFromEnv("VOICE_SAMPLE_RATE", cfg.SampleRate); err != nil {
		return Config{}, err
	}
	if cfg.TextSegmentCadence, err = durationFromEnv("VOICE_TEXT_SEGMENT_CADENCE", cfg.TextSegmentCadence); err != nil {
		return Config{}, err
	}
	if cfg.VoiceSegmentCadence, err = durationFromEnv("VOICE_VOICE_SEGMENT_CADENCE", cfg.VoiceSegmentCadence); err != nil {
		return Config{}, err
	}
	if cfg.BaseCooldown, err = durationFromEnv("VOICE_BASE_COOLDOWN", cfg.BaseCooldown); err != nil {
		return Config{}, err
	}
	if cfg.MaxCooldown, err = durationFromEnv("VOICE_MAX_COOLDOWN", cfg.MaxCooldown); err != nil {
		return Config{}, err
	}
	if cfg.SynthesisTimeout, err = durationFromEnv("VOICE_SYNTHESIS_TIMEOUT", cfg.SynthesisTimeout); err != nil {
		return Config{}, err
	}
	if cfg.BufferRetention, err = durationFromEnv("VOICE_BUFFER_RETENTION", cfg.BufferRetention); err != nil {
		return Config{}, err
	}
	if cfg.BufferMaxChunks, err = intFromEnv("VOICE_BUFFER_MAX_CHUNKS", cfg.BufferMaxChunks); err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold >= 1 {
		return Config{}, fmt.Errorf("VOICE_SPEECH_THRESHOLD must be in (0, 1)")
	}
	if cfg.InterruptionTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_INTERRUPTION_TIMEOUT must be positive")
	}
	if cfg.EnergyWindowFrames <= 0 {
		return Config{}, fmt.Errorf("VOICE_ENERGY_WINDOW_FRAMES must be positive")
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("VOICE_SAMPLE_RATE must be positive")
	}
	if cfg.MaxCooldown < cfg.BaseCooldown {
		return Config{}, fmt.Errorf("VOICE_MAX_COOLDOWN must be >= VOICE_BASE_COOLDOWN")
	}
	if cfg.BufferMaxChunks <= 0 {
		return Config{}, fmt.Errorf("VOICE_BUFFER_MAX_CHUNKS must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
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
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
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
