package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
)

// DeepgramConfig configures the live-listen recognizer.
type DeepgramConfig struct {
	APIKey     string
	WSBaseURL  string
	Model      string
	SampleRate int
}

// DeepgramRecognizer transcribes one utterance over Deepgram's live-listen
// websocket: send the audio, send an empty frame to flush, then collect
// transcript alternatives until the Metadata message closes the turn.
type DeepgramRecognizer struct {
	cfg DeepgramConfig
}

func NewDeepgramRecognizer(cfg DeepgramConfig) *DeepgramRecognizer {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.deepgram.com"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "nova-2-general"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	return &DeepgramRecognizer{cfg: cfg}
}

type deepgramMessage struct {
	Type    string `json:"type"`
	Channel *struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (r *DeepgramRecognizer) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}

	u, err := url.Parse(strings.TrimRight(r.cfg.WSBaseURL, "/") + "/v1/listen")
	if err != nil {
		return "", &RecognitionError{Op: "parse url", Err: err}
	}
	q := u.Query()
	q.Set("model", r.cfg.Model)
	q.Set("smart_format", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(r.cfg.SampleRate))
	q.Set("channels", "1")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return "", &RecognitionError{Op: "dial", Err: err}
	}
	defer conn.Close()

	// One goroutine watches the context so a hung read does not outlive the
	// utterance; the close unblocks ReadMessage below.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-watchDone:
		}
	}()

	if err := conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return "", &RecognitionError{Op: "send audio", Err: err}
	}
	// Zero-length frame tells Deepgram the utterance is complete.
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{}); err != nil {
		return "", &RecognitionError{Op: "flush", Err: err}
	}

	var transcript strings.Builder
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "", &RecognitionError{Op: "read", Err: ctx.Err()}
			}
			return "", &RecognitionError{Op: "read", Err: err}
		}

		var msg deepgramMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return "", &RecognitionError{Op: "decode", Err: fmt.Errorf("unexpected message: %w", err)}
		}

		if msg.Channel != nil && len(msg.Channel.Alternatives) > 0 {
			if text := msg.Channel.Alternatives[0].Transcript; text != "" {
				transcript.WriteString(text)
				transcript.WriteString(" ")
			}
		}
		if msg.Type == "Metadata" {
			break
		}
	}

	return strings.TrimSpace(transcript.String()), nil
}
