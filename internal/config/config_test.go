package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.MaxHistoryTurns != 10 {
		t.Fatalf("MaxHistoryTurns = %d, want 10", cfg.MaxHistoryTurns)
	}
	if cfg.TTSSampleRate != 24000 {
		t.Fatalf("TTSSampleRate = %d, want 24000", cfg.TTSSampleRate)
	}
	if cfg.InputSampleRate != 48000 {
		t.Fatalf("InputSampleRate = %d, want 48000", cfg.InputSampleRate)
	}
	if cfg.VoiceProvider != "auto" || cfg.BrainMode != "auto" {
		t.Fatalf("provider modes = %q/%q, want auto/auto", cfg.VoiceProvider, cfg.BrainMode)
	}
	if cfg.RequestTimeout != 20*time.Second {
		t.Fatalf("RequestTimeout = %v, want 20s", cfg.RequestTimeout)
	}
}

func TestLoadExplicitOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("MAX_HISTORY_TURNS", "4")
	t.Setenv("REQUEST_TIMEOUT", "5s")
	t.Setenv("DEEPGRAM_API_KEY", " dg-key ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9191")
	}
	if cfg.MaxHistoryTurns != 4 {
		t.Fatalf("MaxHistoryTurns = %d, want 4", cfg.MaxHistoryTurns)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Fatalf("RequestTimeout = %v, want 5s", cfg.RequestTimeout)
	}
	if cfg.DeepgramAPIKey != "dg-key" {
		t.Fatalf("DeepgramAPIKey = %q, want trimmed value", cfg.DeepgramAPIKey)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
	}{
		{"zero history turns", "MAX_HISTORY_TURNS", "0"},
		{"negative sample rate", "TTS_SAMPLE_RATE", "-1"},
		{"tiny request timeout", "REQUEST_TIMEOUT", "100ms"},
		{"non-numeric sample rate", "ASR_SAMPLE_RATE", "fast"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q should fail", tc.key, tc.val)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"REQUEST_TIMEOUT",
		"VOICE_PROVIDER",
		"BRAIN_MODE",
		"DEEPGRAM_API_KEY",
		"DEEPGRAM_MODEL",
		"DEEPGRAM_WS_BASE_URL",
		"GEMINI_API_KEY",
		"GEMINI_MODEL",
		"GEMINI_BASE_URL",
		"MURF_API_KEY",
		"MURF_VOICE_ID",
		"MURF_WS_BASE_URL",
		"ASR_SAMPLE_RATE",
		"TTS_SAMPLE_RATE",
		"MAX_HISTORY_TURNS",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
