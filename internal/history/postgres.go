package history

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists turn history in PostgreSQL. The rolling window is
// enforced on append inside one transaction so readers never observe an
// over-length history.
type PostgresStore struct {
	pool     *pgxpool.Pool
	maxTurns int
}

func NewPostgresStore(ctx context.Context, databaseURL string, maxTurns int) (*PostgresStore, error) {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, maxTurns: maxTurns}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dispatch_turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			seq BIGSERIAL,
			caller_text TEXT NOT NULL,
			reply_text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_turns_session_seq ON dispatch_turns (session_id, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetHistory(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT caller_text, reply_text FROM dispatch_turns
		 WHERE session_id=$1 ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	turns := make([]Turn, 0, s.maxTurns)
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.CallerText, &t.ReplyText); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return turns, nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, sessionID, callerText, replyText string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// Serialize concurrent appends to the same session so the window
		// trim below always sees a consistent turn count.
		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtext($1))`, sessionID); err != nil {
			return fmt.Errorf("lock session: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO dispatch_turns (id, session_id, caller_text, reply_text)
			 VALUES ($1, $2, $3, $4)`,
			uuid.NewString(), sessionID, callerText, replyText,
		); err != nil {
			return fmt.Errorf("append turn: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM dispatch_turns
			 WHERE session_id=$1 AND seq NOT IN (
				SELECT seq FROM dispatch_turns WHERE session_id=$1
				ORDER BY seq DESC LIMIT $2)`,
			sessionID, s.maxTurns,
		); err != nil {
			return fmt.Errorf("trim history window: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Reset(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM dispatch_turns WHERE session_id=$1`, sessionID); err != nil {
		return fmt.Errorf("reset session history: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
