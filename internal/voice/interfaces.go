package voice

import "context"

// Recognizer turns one utterance of raw PCM16 mono audio into a transcript.
// An empty transcript with a nil error means no speech was detected.
type Recognizer interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// SpeechEventType identifies synthesis stream events.
type SpeechEventType string

const (
	SpeechAudio SpeechEventType = "audio"
	SpeechFinal SpeechEventType = "final"
	SpeechError SpeechEventType = "error"
)

// SpeechEvent is one element of a synthesis stream. Audio events carry raw
// PCM16 bytes; a Final event terminates the stream; an Error event may
// arrive mid-stream and also terminates it.
type SpeechEvent struct {
	Type      SpeechEventType
	Audio     []byte
	Code      string
	Detail    string
	Retryable bool
}

// SpeechStream is a finite, non-restartable sequence of audio chunks.
// Cancellation is cooperative: consumers stop reading and call Close.
type SpeechStream interface {
	Events() <-chan SpeechEvent
	Close() error
}

// Synthesizer converts reply text into a lazy stream of audio chunks.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (SpeechStream, error)
}

// RecognitionError reports a transport or protocol failure of the
// recognition engine. No-speech is not an error.
type RecognitionError struct {
	Op  string
	Err error
}

func (e *RecognitionError) Error() string {
	return "recognition " + e.Op + ": " + e.Err.Error()
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// SynthesisError reports a failure to start or sustain a synthesis stream.
type SynthesisError struct {
	Op  string
	Err error
}

func (e *SynthesisError) Error() string {
	return "synthesis " + e.Op + ": " + e.Err.Error()
}

func (e *SynthesisError) Unwrap() error { return e.Err }
