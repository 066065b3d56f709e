package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Entry is one line of conversational context passed to the reply engine.
// Role is "user" for caller utterances and "model" for dispatcher replies.
type Entry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Adapter produces the dispatcher's next reply from the turn history. The
// returned text is short, unformatted prose suitable for speech synthesis.
type Adapter interface {
	Reply(ctx context.Context, history []Entry) (string, error)
}

// GenerationError reports a transport or protocol failure of the reply
// engine. Callers substitute a fallback reply rather than aborting the turn.
type GenerationError struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *GenerationError) Error() string {
	return "generation " + e.Code + ": " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Config controls adapter construction.
type Config struct {
	Mode    string
	APIKey  string
	Model   string
	BaseURL string
}

// NewAdapter selects a reply engine: explicit gemini/mock, or auto which
// uses Gemini when a key is present and the mock otherwise.
func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewGeminiAdapter(GeminiConfig{
				APIKey:  cfg.APIKey,
				Model:   cfg.Model,
				BaseURL: cfg.BaseURL,
			}), nil
		}
		return NewMockAdapter(), nil
	case "gemini":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("gemini api key is required for gemini mode")
		}
		return NewGeminiAdapter(GeminiConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		}), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported brain mode %q", cfg.Mode)
	}
}
