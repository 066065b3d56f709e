package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/mtorrado/hotline/internal/reliability"
)

const dispatcherPrompt = "ROLE: You are an AI 911 Emergency Dispatcher. " +
	"OBJECTIVE: Efficiently gather information, calm the caller, and simulate unit deployment. " +
	"PROTOCOL: " +
	"1. FIRST RESPONSE: Immediately ask '911, what is the location of your emergency?' " +
	"2. GATHER INFO: Ask for the nature of the emergency (Police, Fire, Medical). " +
	"3. CALM THE CALLER: Use phrases like 'Stay calm', 'Help is on the way', 'Stay on the line'. " +
	"4. ACTION: Explicitly state you are dispatching units. E.g., 'I have dispatched Unit 4-Alpha to [Location].' " +
	"5. DELEGATION: If the user asks complex questions, say 'I am connecting you to [Department Name] for further instruction.' " +
	"CONSTRAINTS: " +
	"Keep responses short (under 20 words) for speed. " +
	"Speak with urgent, calm authority. " +
	"Do NOT use markdown. Write strictly for Text-to-Speech audio."

const (
	geminiTemperature = 0.4
	retryBackoffBase  = 150 * time.Millisecond
	retryBackoffCap   = 600 * time.Millisecond
)

// GeminiConfig configures the generateContent reply engine.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// GeminiAdapter calls the Gemini generateContent endpoint with the
// dispatcher persona. One retry on a retryable status; after that the
// caller's fallback policy takes over.
type GeminiAdapter struct {
	cfg    GeminiConfig
	client *http.Client
}

func NewGeminiAdapter(cfg GeminiConfig) *GeminiAdapter {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	return &GeminiAdapter{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction geminiContent   `json:"system_instruction"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		Temperature float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (a *GeminiAdapter) Reply(ctx context.Context, history []Entry) (string, error) {
	req := geminiRequest{
		SystemInstruction: geminiContent{Parts: []geminiPart{{Text: dispatcherPrompt}}},
		Contents:          contentsFromHistory(history),
	}
	req.GenerationConfig.Temperature = geminiTemperature

	payload, err := json.Marshal(req)
	if err != nil {
		return "", &GenerationError{Code: "marshal_failed", Err: err}
	}

	endpoint := strings.TrimRight(a.cfg.BaseURL, "/") +
		"/v1beta/models/" + a.cfg.Model + ":generateContent?key=" + a.cfg.APIKey

	var lastErr *GenerationError
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", &GenerationError{Code: "cancelled", Err: ctx.Err()}
			case <-time.After(reliability.ExponentialBackoff(attempt, retryBackoffBase, retryBackoffCap)):
			}
		}

		text, genErr := a.callOnce(ctx, endpoint, payload)
		if genErr == nil {
			return cleanForTTS(text), nil
		}
		lastErr = genErr
		if !genErr.Retryable {
			break
		}
	}
	return "", lastErr
}

func (a *GeminiAdapter) callOnce(ctx context.Context, endpoint string, payload []byte) (string, *GenerationError) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", &GenerationError{Code: "build_request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		return "", &GenerationError{Code: "request_failed", Retryable: true, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", &GenerationError{
			Code:      fmt.Sprintf("http_%d", res.StatusCode),
			Retryable: reliability.IsRetryableHTTPStatus(res.StatusCode),
			Err:       fmt.Errorf("gemini status %d: %s", res.StatusCode, string(body)),
		}
	}

	var parsed geminiResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", &GenerationError{Code: "decode_failed", Err: err}
	}

	var out strings.Builder
	if len(parsed.Candidates) > 0 {
		for _, part := range parsed.Candidates[0].Content.Parts {
			out.WriteString(part.Text)
		}
	}
	return out.String(), nil
}

func contentsFromHistory(history []Entry) []geminiContent {
	contents := make([]geminiContent, 0, len(history))
	for _, e := range history {
		role := e.Role
		if role != "model" {
			role = "user"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: e.Text}},
		})
	}
	if len(contents) == 0 {
		contents = append(contents, geminiContent{
			Role:  "user",
			Parts: []geminiPart{{Text: "Hello"}},
		})
	}
	return contents
}

var (
	markupRunes   = regexp.MustCompile("[*_#`]")
	bracketedSpan = regexp.MustCompile(`\[.*?\]`)
)

// cleanForTTS strips markup the synthesizer would read aloud.
func cleanForTTS(text string) string {
	text = markupRunes.ReplaceAllString(text, "")
	text = bracketedSpan.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
