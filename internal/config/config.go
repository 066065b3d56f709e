package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the dispatch voice service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	RequestTimeout   time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	VoiceProvider string
	BrainMode     string

	DeepgramAPIKey    string
	DeepgramModel     string
	DeepgramWSBaseURL string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	MurfAPIKey    string
	MurfVoiceID   string
	MurfWSBaseURL string

	// Fixed PCM16 mono rates agreed with the browser client: inbound caller
	// audio and outbound synthesized audio.
	InputSampleRate int
	TTSSampleRate   int

	MaxHistoryTurns int

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "hotline"),
		AllowAnyOrigin:    false,
		VoiceProvider:     envOrDefault("VOICE_PROVIDER", "auto"),
		BrainMode:         envOrDefault("BRAIN_MODE", "auto"),
		DeepgramAPIKey:    trimmedEnv("DEEPGRAM_API_KEY"),
		DeepgramModel:     envOrDefault("DEEPGRAM_MODEL", "nova-2-general"),
		DeepgramWSBaseURL: envOrDefault("DEEPGRAM_WS_BASE_URL", "wss://api.deepgram.com"),
		GeminiAPIKey:      trimmedEnv("GEMINI_API_KEY"),
		GeminiModel:       envOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiBaseURL:     envOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		MurfAPIKey:        trimmedEnv("MURF_API_KEY"),
		// Default dispatcher voice for the prototype.
		MurfVoiceID:     envOrDefault("MURF_VOICE_ID", "en-US-natalie"),
		MurfWSBaseURL:   envOrDefault("MURF_WS_BASE_URL", "wss://global.api.murf.ai"),
		InputSampleRate: 48000,
		TTSSampleRate:   24000,
		MaxHistoryTurns: 10,
		DatabaseURL:     trimmedEnv("DATABASE_URL"),
		ShutdownTimeout: 15 * time.Second,
		RequestTimeout:  20 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RequestTimeout, err = durationFromEnv("REQUEST_TIMEOUT", cfg.RequestTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.InputSampleRate, err = intFromEnv("ASR_SAMPLE_RATE", cfg.InputSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSSampleRate, err = intFromEnv("TTS_SAMPLE_RATE", cfg.TTSSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxHistoryTurns, err = intFromEnv("MAX_HISTORY_TURNS", cfg.MaxHistoryTurns)
	if err != nil {
		return Config{}, err
	}

	if cfg.MaxHistoryTurns <= 0 {
		return Config{}, fmt.Errorf("MAX_HISTORY_TURNS must be positive")
	}
	if cfg.InputSampleRate <= 0 {
		return Config{}, fmt.Errorf("ASR_SAMPLE_RATE must be positive")
	}
	if cfg.TTSSampleRate <= 0 {
		return Config{}, fmt.Errorf("TTS_SAMPLE_RATE must be positive")
	}
	if cfg.RequestTimeout < time.Second {
		return Config{}, fmt.Errorf("REQUEST_TIMEOUT must be at least 1s")
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

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
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
	v := trimmedEnv(key)
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
	v := strings.ToLower(trimmedEnv(key))
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
