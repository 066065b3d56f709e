package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when Gemini is unavailable.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Reply(ctx context.Context, history []Entry) (string, error) {
	select {
	case <-ctx.Done():
		return "", &GenerationError{Code: "cancelled", Err: ctx.Err()}
	default:
	}

	last := ""
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != "model" {
			last = strings.TrimSpace(history[i].Text)
			break
		}
	}
	if last == "" {
		return "911, what is the location of your emergency?", nil
	}
	return fmt.Sprintf("Understood: %s. Units are on the way, stay on the line.", last), nil
}
