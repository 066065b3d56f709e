package protocol

import (
	"encoding/json"
	"fmt"
)

// EventType identifies outbound websocket payload variants.
type EventType string

const (
	TypeSessionWelcome     EventType = "session_welcome"
	TypeUserTranscript     EventType = "user_transcript"
	TypeAIText             EventType = "ai_text"
	TypeAudioStart         EventType = "audio_start"
	TypeAudioEnd           EventType = "audio_end"
	TypeError              EventType = "error"
	TypePong               EventType = "pong"
	TypeSessionReset       EventType = "session_reset"
	TypeUnknownMessageType EventType = "unknown_message_type"
)

// SessionWelcome is sent once when a connection opens.
type SessionWelcome struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
}

// UserTranscript carries the recognized caller utterance.
type UserTranscript struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Text      string    `json:"text"`
}

// AIText carries the dispatcher reply before its audio is streamed.
type AIText struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Text      string    `json:"text"`
}

// AudioStart announces a spoken reply; binary frames follow until AudioEnd.
type AudioStart struct {
	Type       EventType `json:"type"`
	SessionID  string    `json:"sessionId"`
	SampleRate int       `json:"sampleRate"`
}

// AudioEnd terminates one spoken reply. It is emitted even after a
// mid-stream synthesis failure so the client never waits on a dead turn.
type AudioEnd struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
}

// ErrorEvent reports a session-scoped failure. Component names the failing
// pipeline stage; Reason is used for protocol-level rejections.
type ErrorEvent struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Component string    `json:"component,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

type Pong struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
}

type SessionReset struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
}

// UnknownMessageType echoes a control message kind the server does not handle.
type UnknownMessageType struct {
	Type         EventType `json:"type"`
	SessionID    string    `json:"sessionId"`
	ReceivedType string    `json:"receivedType"`
}

// Control message kinds accepted on inbound text frames.
const (
	ControlPing         = "ping"
	ControlResetSession = "reset_session"
)

// ControlMessage is an inbound text-frame control message. Kinds other than
// the Control* constants are answered with UnknownMessageType.
type ControlMessage struct {
	Type string `json:"type"`
}

// ParseControlMessage decodes an inbound text frame. It fails only on
// malformed JSON; unrecognized kinds are returned for the caller to echo.
func ParseControlMessage(raw []byte) (ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ControlMessage{}, fmt.Errorf("invalid control message: %w", err)
	}
	return msg, nil
}
