package pipeline

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/mtorrado/hotline/internal/brain"
	"github.com/mtorrado/hotline/internal/history"
	"github.com/mtorrado/hotline/internal/observability"
	"github.com/mtorrado/hotline/internal/protocol"
	"github.com/mtorrado/hotline/internal/voice"
)

// Sink is the outbound side of one caller connection. Send failures mean the
// peer is gone; they are never escalated into aborting the turn.
type Sink interface {
	SendEvent(v any) error
	SendAudio(chunk []byte) error
	Closed() bool
}

// Stage names where an utterance is in its lifecycle. HandleUtterance
// reports the terminal stage it reached.
type Stage string

const (
	StageRecognizing   Stage = "recognizing"
	StageAwaitingReply Stage = "awaiting_reply"
	StageReplying      Stage = "replying"
	StageSynthesizing  Stage = "synthesizing"
	StageDone          Stage = "done"
	StageAborted       Stage = "aborted"
)

const (
	// FallbackReply is spoken when the reply engine fails after a transcript
	// was already heard; the call must never go silent at that point.
	FallbackReply = "I am experiencing a system delay. Units are being notified. Please stay on the line."
	// DefaultReply is spoken when the reply engine returns empty text.
	DefaultReply = "911. I am here."

	// asrFailureDetail is the caller-safe message for recognition failures;
	// engine internals never reach the caller.
	asrFailureDetail = "Line interference, could not hear."
)

// Pipeline drives one utterance through recognition, reply generation and
// synthesis. It owns no persistent state; history lives in the Store.
type Pipeline struct {
	recognizer  voice.Recognizer
	replier     brain.Adapter
	synthesizer voice.Synthesizer
	store       history.Store
	metrics     *observability.Metrics
	sampleRate  int
}

func New(
	recognizer voice.Recognizer,
	replier brain.Adapter,
	synthesizer voice.Synthesizer,
	store history.Store,
	metrics *observability.Metrics,
	sampleRate int,
) *Pipeline {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &Pipeline{
		recognizer:  recognizer,
		replier:     replier,
		synthesizer: synthesizer,
		store:       store,
		metrics:     metrics,
		sampleRate:  sampleRate,
	}
}

// HandleUtterance processes one utterance end to end and returns the stage it
// terminated in. All failures are session-scoped: recognition failure aborts
// the turn with an error event, reply failure degrades to FallbackReply,
// synthesis failure truncates the audio but still terminates with audio_end.
func (p *Pipeline) HandleUtterance(ctx context.Context, sessionID string, audio []byte, sink Sink) Stage {
	start := time.Now()

	transcript, err := p.recognizer.Transcribe(ctx, audio)
	if err != nil {
		log.Printf("session %s: recognition failed: %v", sessionID, err)
		p.metrics.ProviderErrors.WithLabelValues("asr", "transcribe_failed").Inc()
		p.metrics.TurnOutcomes.WithLabelValues("aborted_recognition_error").Inc()
		_ = sink.SendEvent(protocol.ErrorEvent{
			Type:      protocol.TypeError,
			SessionID: sessionID,
			Component: "asr",
			Detail:    asrFailureDetail,
		})
		return StageAborted
	}
	if transcript == "" {
		// Silence or noise: not an utterance, nothing to say.
		p.metrics.TurnOutcomes.WithLabelValues("aborted_no_speech").Inc()
		return StageAborted
	}

	_ = sink.SendEvent(protocol.UserTranscript{
		Type:      protocol.TypeUserTranscript,
		SessionID: sessionID,
		Text:      transcript,
	})

	replyText := p.generateReply(ctx, sessionID, transcript)

	// Single commit point: history records what was actually spoken to the
	// caller, fallback or not.
	if err := p.store.AppendTurn(ctx, sessionID, transcript, replyText); err != nil {
		log.Printf("session %s: append turn failed: %v", sessionID, err)
	}

	_ = sink.SendEvent(protocol.AIText{
		Type:      protocol.TypeAIText,
		SessionID: sessionID,
		Text:      replyText,
	})

	_ = sink.SendEvent(protocol.AudioStart{
		Type:       protocol.TypeAudioStart,
		SessionID:  sessionID,
		SampleRate: p.sampleRate,
	})

	p.streamSpeech(ctx, sessionID, replyText, start, sink)

	// Guaranteed termination marker, regardless of how synthesis went.
	_ = sink.SendEvent(protocol.AudioEnd{
		Type:      protocol.TypeAudioEnd,
		SessionID: sessionID,
	})
	p.metrics.TurnOutcomes.WithLabelValues("completed").Inc()
	return StageDone
}

// generateReply asks the reply engine for the next dispatcher line, degrading
// to fixed phrasing on failure or empty output.
func (p *Pipeline) generateReply(ctx context.Context, sessionID, transcript string) string {
	turns, err := p.store.GetHistory(ctx, sessionID)
	if err != nil {
		log.Printf("session %s: history read failed, replying without context: %v", sessionID, err)
		turns = nil
	}

	entries := make([]brain.Entry, 0, len(turns)*2+1)
	for _, t := range turns {
		entries = append(entries,
			brain.Entry{Role: "user", Text: t.CallerText},
			brain.Entry{Role: "model", Text: t.ReplyText},
		)
	}
	entries = append(entries, brain.Entry{Role: "user", Text: transcript})

	replyText, err := p.replier.Reply(ctx, entries)
	if err != nil {
		var genErr *brain.GenerationError
		code := "reply_failed"
		if errors.As(err, &genErr) {
			code = genErr.Code
		}
		log.Printf("session %s: reply generation failed: %v", sessionID, err)
		p.metrics.ProviderErrors.WithLabelValues("brain", code).Inc()
		return FallbackReply
	}
	if replyText == "" {
		return DefaultReply
	}
	return replyText
}

// streamSpeech forwards synthesized audio chunks in arrival order, stopping
// at the next chunk boundary when the caller hangs up or the engine fails.
func (p *Pipeline) streamSpeech(ctx context.Context, sessionID, text string, utteranceStart time.Time, sink Sink) {
	stream, err := p.synthesizer.Synthesize(ctx, text)
	if err != nil {
		log.Printf("session %s: synthesis start failed: %v", sessionID, err)
		p.metrics.ProviderErrors.WithLabelValues("tts", "start_failed").Inc()
		return
	}
	defer stream.Close()

	firstChunk := true
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-stream.Events():
			if !ok {
				return
			}
			switch evt.Type {
			case voice.SpeechAudio:
				if sink.Closed() {
					// Caller already hung up; drop the rest silently.
					return
				}
				if firstChunk {
					firstChunk = false
					p.metrics.ObserveFirstAudioLatency(time.Since(utteranceStart))
				}
				if err := sink.SendAudio(evt.Audio); err != nil {
					return
				}
				p.metrics.AudioChunksSent.Inc()
			case voice.SpeechError:
				// Partial audio already sent is acceptable; do not retry.
				log.Printf("session %s: synthesis failed mid-stream (%s): %s", sessionID, evt.Code, evt.Detail)
				p.metrics.ProviderErrors.WithLabelValues("tts", evt.Code).Inc()
				return
			case voice.SpeechFinal:
				return
			}
		}
	}
}
