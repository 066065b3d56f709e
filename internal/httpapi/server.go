package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mtorrado/hotline/internal/audio"
	"github.com/mtorrado/hotline/internal/config"
	"github.com/mtorrado/hotline/internal/history"
	"github.com/mtorrado/hotline/internal/observability"
	"github.com/mtorrado/hotline/internal/pipeline"
	"github.com/mtorrado/hotline/internal/voice"
)

// TurnPipeline processes one caller utterance end to end.
type TurnPipeline interface {
	HandleUtterance(ctx context.Context, sessionID string, audio []byte, sink pipeline.Sink) pipeline.Stage
}

type Server struct {
	cfg         config.Config
	pipeline    TurnPipeline
	store       history.Store
	synthesizer voice.Synthesizer
	metrics     *observability.Metrics
	registry    *Registry
	upgrader    websocket.Upgrader
}

func New(
	cfg config.Config,
	turns TurnPipeline,
	store history.Store,
	synthesizer voice.Synthesizer,
	metrics *observability.Metrics,
	registry *Registry,
) *Server {
	return &Server{
		cfg:         cfg,
		pipeline:    turns,
		store:       store,
		synthesizer: synthesizer,
		metrics:     metrics,
		registry:    registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may open a caller line unless
				// the deployment opts out. Non-browser clients omit Origin
				// and are allowed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/ws/voice", s.handleVoiceWS)
	r.Post("/v1/tts/preview", s.handlePreviewTTS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.registry.Len(),
	})
}

type previewRequest struct {
	Text string `json:"text"`
}

// handlePreviewTTS synthesizes a short utterance and returns it as a WAV
// body, for checking a voice configuration without placing a call.
func (s *Server) handlePreviewTTS(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "missing_text", "text is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	stream, err := s.synthesizer.Synthesize(ctx, req.Text)
	if err != nil {
		s.metrics.ProviderErrors.WithLabelValues("tts", "start_failed").Inc()
		respondError(w, http.StatusBadGateway, "synthesis_failed", "could not start synthesis")
		return
	}
	defer stream.Close()

	var pcm []byte
collect:
	for {
		select {
		case <-ctx.Done():
			respondError(w, http.StatusGatewayTimeout, "synthesis_timeout", "synthesis did not finish in time")
			return
		case evt, ok := <-stream.Events():
			if !ok {
				break collect
			}
			switch evt.Type {
			case voice.SpeechAudio:
				pcm = append(pcm, evt.Audio...)
			case voice.SpeechError:
				s.metrics.ProviderErrors.WithLabelValues("tts", evt.Code).Inc()
				respondError(w, http.StatusBadGateway, "synthesis_failed", evt.Detail)
				return
			case voice.SpeechFinal:
				break collect
			}
		}
	}

	wav, err := audio.EncodeWAVPCM16LE(pcm, s.cfg.TTSSampleRate)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "encode_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
