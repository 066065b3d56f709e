package voice

import (
	"context"
	"sync"
)

// MockProvider is a keyless local provider: it "recognizes" a canned
// transcript and "synthesizes" the reply text bytes as PCM chunks.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

// mockSilenceThreshold is the minimum frame size treated as speech. Shorter
// frames report an empty transcript, matching the live recognizer's
// no-speech contract.
const mockSilenceThreshold = 16

func (p *MockProvider) Transcribe(_ context.Context, audio []byte) (string, error) {
	if len(audio) < mockSilenceThreshold {
		return "", nil
	}
	return "simulated caller report", nil
}

func (p *MockProvider) Synthesize(_ context.Context, text string) (SpeechStream, error) {
	s := &mockSpeechStream{
		events: make(chan SpeechEvent, 16),
		stop:   make(chan struct{}),
	}
	go func() {
		defer close(s.events)
		const chunkSize = 32
		data := []byte(text)
		for len(data) > 0 {
			n := chunkSize
			if n > len(data) {
				n = len(data)
			}
			if !s.send(SpeechEvent{Type: SpeechAudio, Audio: data[:n]}) {
				return
			}
			data = data[n:]
		}
		s.send(SpeechEvent{Type: SpeechFinal})
	}()
	return s, nil
}

type mockSpeechStream struct {
	closeOnce sync.Once
	events    chan SpeechEvent
	stop      chan struct{}
}

func (s *mockSpeechStream) Events() <-chan SpeechEvent { return s.events }

// send delivers an event unless the consumer has already closed the stream.
func (s *mockSpeechStream) send(evt SpeechEvent) bool {
	select {
	case s.events <- evt:
		return true
	case <-s.stop:
		return false
	}
}

func (s *mockSpeechStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
	})
	return nil
}
