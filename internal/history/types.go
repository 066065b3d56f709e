package history

import "context"

// Turn is one caller-utterance/reply pair, the atomic unit of conversational
// history. Turns are immutable once appended.
type Turn struct {
	CallerText string `json:"caller_text"`
	ReplyText  string `json:"reply_text"`
}

// Store holds the bounded per-session rolling window of turns. Sessions are
// created on first reference; Reset clears turns without destroying the
// session identity. All turn access goes through these operations.
type Store interface {
	GetHistory(ctx context.Context, sessionID string) ([]Turn, error)
	AppendTurn(ctx context.Context, sessionID, callerText, replyText string) error
	Reset(ctx context.Context, sessionID string) error
	Close() error
}
