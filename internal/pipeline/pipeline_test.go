package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mtorrado/hotline/internal/brain"
	"github.com/mtorrado/hotline/internal/history"
	"github.com/mtorrado/hotline/internal/observability"
	"github.com/mtorrado/hotline/internal/protocol"
	"github.com/mtorrado/hotline/internal/voice"
)

type fakeRecognizer struct {
	transcript string
	err        error
}

func (f *fakeRecognizer) Transcribe(_ context.Context, _ []byte) (string, error) {
	return f.transcript, f.err
}

type fakeReplier struct {
	reply string
	err   error
	seen  []brain.Entry
}

func (f *fakeReplier) Reply(_ context.Context, hist []brain.Entry) (string, error) {
	f.seen = append([]brain.Entry(nil), hist...)
	return f.reply, f.err
}

type fakeStream struct {
	events chan voice.SpeechEvent
}

func (f *fakeStream) Events() <-chan voice.SpeechEvent { return f.events }
func (f *fakeStream) Close() error                     { return nil }

type fakeSynth struct {
	events []voice.SpeechEvent
	err    error
}

func (f *fakeSynth) Synthesize(_ context.Context, _ string) (voice.SpeechStream, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan voice.SpeechEvent, len(f.events))
	for _, evt := range f.events {
		ch <- evt
	}
	close(ch)
	return &fakeStream{events: ch}, nil
}

// fakeSink records events and audio in arrival order so tests can assert the
// exact wire sequence.
type fakeSink struct {
	mu     sync.Mutex
	seq    []string
	events []any
	audio  [][]byte
	closed bool
}

func (f *fakeSink) SendEvent(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, v)
	switch evt := v.(type) {
	case protocol.UserTranscript:
		f.seq = append(f.seq, string(evt.Type))
	case protocol.AIText:
		f.seq = append(f.seq, string(evt.Type))
	case protocol.AudioStart:
		f.seq = append(f.seq, string(evt.Type))
	case protocol.AudioEnd:
		f.seq = append(f.seq, string(evt.Type))
	case protocol.ErrorEvent:
		f.seq = append(f.seq, string(evt.Type))
	default:
		f.seq = append(f.seq, fmt.Sprintf("%T", v))
	}
	return nil
}

func (f *fakeSink) SendAudio(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, append([]byte(nil), chunk...))
	f.seq = append(f.seq, "audio")
	return nil
}

func (f *fakeSink) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func testMetrics(t *testing.T) *observability.Metrics {
	t.Helper()
	return observability.NewMetrics(fmt.Sprintf("pipeline_test_%d", time.Now().UnixNano()))
}

func audioChunk(b byte, n int) voice.SpeechEvent {
	return voice.SpeechEvent{Type: voice.SpeechAudio, Audio: bytes.Repeat([]byte{b}, n)}
}

func TestHandleUtteranceFullFlow(t *testing.T) {
	store := history.NewInMemoryStore(10)
	replier := &fakeReplier{reply: "Stay calm, fire unit dispatched."}
	p := New(
		&fakeRecognizer{transcript: "help there is a fire"},
		replier,
		&fakeSynth{events: []voice.SpeechEvent{
			audioChunk(0xAA, 16),
			audioChunk(0xBB, 16),
			{Type: voice.SpeechFinal},
		}},
		store,
		testMetrics(t),
		24000,
	)

	sink := &fakeSink{}
	st := p.HandleUtterance(context.Background(), "sess-1", []byte{1, 2, 3}, sink)
	if st != StageDone {
		t.Fatalf("terminal stage = %s, want %s", st, StageDone)
	}

	wantSeq := []string{"user_transcript", "ai_text", "audio_start", "audio", "audio", "audio_end"}
	if len(sink.seq) != len(wantSeq) {
		t.Fatalf("sequence = %v, want %v", sink.seq, wantSeq)
	}
	for i, want := range wantSeq {
		if sink.seq[i] != want {
			t.Fatalf("sequence[%d] = %q, want %q (full: %v)", i, sink.seq[i], want, sink.seq)
		}
	}

	startEvt, ok := sink.events[2].(protocol.AudioStart)
	if !ok {
		t.Fatalf("event[2] = %T, want AudioStart", sink.events[2])
	}
	if startEvt.SampleRate != 24000 {
		t.Fatalf("audio_start sampleRate = %d, want 24000", startEvt.SampleRate)
	}
	if !bytes.Equal(sink.audio[0], bytes.Repeat([]byte{0xAA}, 16)) {
		t.Fatalf("first chunk mismatch")
	}

	turns, err := store.GetHistory(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(turns) != 1 || turns[0].CallerText != "help there is a fire" || turns[0].ReplyText != "Stay calm, fire unit dispatched." {
		t.Fatalf("unexpected history: %+v", turns)
	}
}

func TestEmptyTranscriptAbortsSilently(t *testing.T) {
	store := history.NewInMemoryStore(10)
	p := New(&fakeRecognizer{transcript: ""}, &fakeReplier{}, &fakeSynth{}, store, testMetrics(t), 24000)

	sink := &fakeSink{}
	st := p.HandleUtterance(context.Background(), "sess-1", []byte{1}, sink)
	if st != StageAborted {
		t.Fatalf("terminal stage = %s, want %s", st, StageAborted)
	}
	if len(sink.seq) != 0 {
		t.Fatalf("expected no events, got %v", sink.seq)
	}
	turns, _ := store.GetHistory(context.Background(), "sess-1")
	if len(turns) != 0 {
		t.Fatalf("expected empty history, got %+v", turns)
	}
}

func TestRecognitionErrorEmitsSingleError(t *testing.T) {
	store := history.NewInMemoryStore(10)
	p := New(
		&fakeRecognizer{err: &voice.RecognitionError{Op: "read", Err: errors.New("socket closed")}},
		&fakeReplier{},
		&fakeSynth{},
		store,
		testMetrics(t),
		24000,
	)

	sink := &fakeSink{}
	st := p.HandleUtterance(context.Background(), "sess-1", []byte{1}, sink)
	if st != StageAborted {
		t.Fatalf("terminal stage = %s, want %s", st, StageAborted)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected exactly one event, got %v", sink.seq)
	}
	errEvt, ok := sink.events[0].(protocol.ErrorEvent)
	if !ok {
		t.Fatalf("event = %T, want ErrorEvent", sink.events[0])
	}
	if errEvt.Component != "asr" {
		t.Fatalf("component = %q, want asr", errEvt.Component)
	}
	if errEvt.Detail != "Line interference, could not hear." {
		t.Fatalf("detail = %q", errEvt.Detail)
	}
	turns, _ := store.GetHistory(context.Background(), "sess-1")
	if len(turns) != 0 {
		t.Fatalf("no turn should be committed, got %+v", turns)
	}
}

func TestReplyFailureDegradesToFallback(t *testing.T) {
	store := history.NewInMemoryStore(10)
	p := New(
		&fakeRecognizer{transcript: "my house is flooding"},
		&fakeReplier{err: &brain.GenerationError{Code: "http_503", Retryable: true, Err: errors.New("unavailable")}},
		&fakeSynth{events: []voice.SpeechEvent{audioChunk(0x01, 8), {Type: voice.SpeechFinal}}},
		store,
		testMetrics(t),
		24000,
	)

	sink := &fakeSink{}
	if st := p.HandleUtterance(context.Background(), "sess-1", []byte{1}, sink); st != StageDone {
		t.Fatalf("terminal stage = %s, want %s", st, StageDone)
	}

	aiEvt, ok := sink.events[1].(protocol.AIText)
	if !ok {
		t.Fatalf("event[1] = %T, want AIText", sink.events[1])
	}
	if aiEvt.Text != FallbackReply {
		t.Fatalf("reply = %q, want fallback", aiEvt.Text)
	}
	turns, _ := store.GetHistory(context.Background(), "sess-1")
	if len(turns) != 1 || turns[0].ReplyText != FallbackReply {
		t.Fatalf("fallback not committed to history: %+v", turns)
	}
	if sink.seq[len(sink.seq)-1] != "audio_end" {
		t.Fatalf("turn did not end with audio_end: %v", sink.seq)
	}
}

func TestEmptyReplyUsesDefault(t *testing.T) {
	store := history.NewInMemoryStore(10)
	p := New(
		&fakeRecognizer{transcript: "hello"},
		&fakeReplier{reply: ""},
		&fakeSynth{events: []voice.SpeechEvent{{Type: voice.SpeechFinal}}},
		store,
		testMetrics(t),
		24000,
	)

	sink := &fakeSink{}
	p.HandleUtterance(context.Background(), "sess-1", []byte{1}, sink)

	aiEvt := sink.events[1].(protocol.AIText)
	if aiEvt.Text != DefaultReply {
		t.Fatalf("reply = %q, want %q", aiEvt.Text, DefaultReply)
	}
	turns, _ := store.GetHistory(context.Background(), "sess-1")
	if len(turns) != 1 || turns[0].ReplyText != DefaultReply {
		t.Fatalf("default reply not committed: %+v", turns)
	}
}

func TestMidStreamSynthesisErrorStillEndsAudio(t *testing.T) {
	p := New(
		&fakeRecognizer{transcript: "send help"},
		&fakeReplier{reply: "Units are on the way."},
		&fakeSynth{events: []voice.SpeechEvent{
			audioChunk(0x02, 8),
			{Type: voice.SpeechError, Code: "stream_error", Detail: "upstream reset"},
			audioChunk(0x03, 8),
		}},
		history.NewInMemoryStore(10),
		testMetrics(t),
		24000,
	)

	sink := &fakeSink{}
	if st := p.HandleUtterance(context.Background(), "sess-1", []byte{1}, sink); st != StageDone {
		t.Fatalf("terminal stage = %s, want %s", st, StageDone)
	}
	if len(sink.audio) != 1 {
		t.Fatalf("expected one chunk before the failure, got %d", len(sink.audio))
	}
	if sink.seq[len(sink.seq)-1] != "audio_end" {
		t.Fatalf("missing audio_end after mid-stream failure: %v", sink.seq)
	}
}

func TestSynthesisStartFailureStillEndsAudio(t *testing.T) {
	p := New(
		&fakeRecognizer{transcript: "send help"},
		&fakeReplier{reply: "Units are on the way."},
		&fakeSynth{err: &voice.SynthesisError{Op: "dial", Err: errors.New("refused")}},
		history.NewInMemoryStore(10),
		testMetrics(t),
		24000,
	)

	sink := &fakeSink{}
	p.HandleUtterance(context.Background(), "sess-1", []byte{1}, sink)

	wantSeq := []string{"user_transcript", "ai_text", "audio_start", "audio_end"}
	if len(sink.seq) != len(wantSeq) {
		t.Fatalf("sequence = %v, want %v", sink.seq, wantSeq)
	}
}

func TestClosedSinkStopsForwarding(t *testing.T) {
	p := New(
		&fakeRecognizer{transcript: "anyone there"},
		&fakeReplier{reply: "911. I am here."},
		&fakeSynth{events: []voice.SpeechEvent{
			audioChunk(0x04, 8),
			audioChunk(0x05, 8),
			{Type: voice.SpeechFinal},
		}},
		history.NewInMemoryStore(10),
		testMetrics(t),
		24000,
	)

	sink := &fakeSink{closed: true}
	p.HandleUtterance(context.Background(), "sess-1", []byte{1}, sink)
	if len(sink.audio) != 0 {
		t.Fatalf("closed sink should receive no audio, got %d chunks", len(sink.audio))
	}
}

func TestHistoryThreadedToReplier(t *testing.T) {
	store := history.NewInMemoryStore(10)
	ctx := context.Background()
	if err := store.AppendTurn(ctx, "sess-1", "there was a crash", "Is anyone injured?"); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	replier := &fakeReplier{reply: "Paramedics are en route."}
	p := New(
		&fakeRecognizer{transcript: "yes two people"},
		replier,
		&fakeSynth{events: []voice.SpeechEvent{{Type: voice.SpeechFinal}}},
		store,
		testMetrics(t),
		24000,
	)

	p.HandleUtterance(ctx, "sess-1", []byte{1}, &fakeSink{})

	want := []brain.Entry{
		{Role: "user", Text: "there was a crash"},
		{Role: "model", Text: "Is anyone injured?"},
		{Role: "user", Text: "yes two people"},
	}
	if len(replier.seen) != len(want) {
		t.Fatalf("replier saw %d entries, want %d: %+v", len(replier.seen), len(want), replier.seen)
	}
	for i := range want {
		if replier.seen[i] != want[i] {
			t.Fatalf("entry[%d] = %+v, want %+v", i, replier.seen[i], want[i])
		}
	}
}
