package voice

import (
	"context"
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mtorrado/hotline/internal/reliability"
)

// MurfConfig configures the Falcon stream-input synthesizer.
type MurfConfig struct {
	APIKey     string
	WSBaseURL  string
	VoiceID    string
	SampleRate int
}

// MurfSynthesizer streams speech from Murf's Falcon websocket API. Each
// Synthesize call opens one stream: voice config first, then the full reply
// text with end=true, then base64 audio chunks until the final flag.
type MurfSynthesizer struct {
	cfg MurfConfig
}

func NewMurfSynthesizer(cfg MurfConfig) *MurfSynthesizer {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://global.api.murf.ai"
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = "en-US-natalie"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	return &MurfSynthesizer{cfg: cfg}
}

func (p *MurfSynthesizer) Synthesize(ctx context.Context, text string) (SpeechStream, error) {
	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/speech/stream-input")
	if err != nil {
		return nil, &SynthesisError{Op: "parse url", Err: err}
	}
	q := u.Query()
	q.Set("api-key", p.cfg.APIKey)
	q.Set("model", "FALCON")
	q.Set("sample_rate", strconv.Itoa(p.cfg.SampleRate))
	q.Set("channel_type", "MONO")
	q.Set("format", "PCM")
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, &SynthesisError{Op: "dial", Err: err}
	}

	voiceConfig := map[string]any{
		"voice_config": map[string]any{
			"voiceId":   p.cfg.VoiceID,
			"style":     "Conversation",
			"rate":      0,
			"pitch":     0,
			"variation": 0.25,
			"model":     "FALCON",
		},
	}
	if err := conn.WriteJSON(voiceConfig); err != nil {
		_ = conn.Close()
		return nil, &SynthesisError{Op: "send voice config", Err: err}
	}
	if err := conn.WriteJSON(map[string]any{"text": text, "end": true}); err != nil {
		_ = conn.Close()
		return nil, &SynthesisError{Op: "send text", Err: err}
	}

	s := &murfStream{
		conn:   conn,
		events: make(chan SpeechEvent, 64),
		stop:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

type murfStream struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	events    chan SpeechEvent
	stop      chan struct{}
}

type murfMessage struct {
	Audio string `json:"audio"`
	Final bool   `json:"final"`
	Error string `json:"error"`
	Code  string `json:"errorCode"`
}

func (s *murfStream) readLoop() {
	defer s.safeClose()
	for {
		var msg murfMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			// Closed by the consumer or dropped by the server; either way
			// the stream is over.
			return
		}

		if msg.Error != "" {
			code := msg.Code
			if code == "" {
				code = "stream_error"
			}
			s.send(SpeechEvent{
				Type:      SpeechError,
				Code:      code,
				Detail:    msg.Error,
				Retryable: reliability.IsRetryableRealtimeCode(code),
			})
			return
		}

		if msg.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				s.send(SpeechEvent{Type: SpeechError, Code: "decode_failed", Detail: err.Error()})
				return
			}
			if !s.send(SpeechEvent{Type: SpeechAudio, Audio: chunk}) {
				return
			}
		}
		if msg.Final {
			s.send(SpeechEvent{Type: SpeechFinal})
			return
		}
	}
}

// send delivers an event unless the consumer has already closed the stream.
func (s *murfStream) send(evt SpeechEvent) bool {
	select {
	case s.events <- evt:
		return true
	case <-s.stop:
		return false
	}
}

func (s *murfStream) Events() <-chan SpeechEvent { return s.events }

func (s *murfStream) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		close(s.stop)
		retErr = s.conn.Close()
	})
	return retErr
}

func (s *murfStream) safeClose() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
	close(s.events)
}
