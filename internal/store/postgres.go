package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists sessions and conversation turns in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_accessed TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			prompt TEXT NOT NULL,
			response TEXT NOT NULL,
			word TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT 'en',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_turns_session_created
			ON conversation_turns (session_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Ensure(ctx context.Context, id string) (Session, bool, error) {
	if err := validateSessionID(id); err != nil {
		return Session{}, false, err
	}
	now := time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, created_at, last_accessed)
		 VALUES ($1, $2, $2) ON CONFLICT (id) DO NOTHING`,
		id, now,
	)
	if err != nil {
		return Session{}, false, fmt.Errorf("ensure session: %w: %v", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 1 {
		return Session{ID: id, CreatedAt: now, LastAccessed: now}, true, nil
	}

	var createdAt time.Time
	err = s.pool.QueryRow(ctx,
		`UPDATE sessions SET last_accessed=$2 WHERE id=$1 RETURNING created_at`,
		id, now,
	).Scan(&createdAt)
	if err != nil {
		return Session{}, false, fmt.Errorf("touch session: %w: %v", ErrUnavailable, err)
	}
	return Session{ID: id, CreatedAt: createdAt, LastAccessed: now}, false, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Session, error) {
	if err := validateSessionID(id); err != nil {
		return Session{}, err
	}

	var sess Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, created_at, last_accessed FROM sessions WHERE id=$1`,
		id,
	).Scan(&sess.ID, &sess.CreatedAt, &sess.LastAccessed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("get session: %w: %v", ErrUnavailable, err)
	}
	return sess, nil
}

func (s *PostgresStore) Append(ctx context.Context, turn Turn) (string, error) {
	if err := validateSessionID(turn.SessionID); err != nil {
		return "", err
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_turns (id, session_id, prompt, response, word, language, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		turn.ID,
		turn.SessionID,
		turn.Prompt,
		turn.Response,
		turn.Word,
		turn.Language,
		turn.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("append turn: %w: %v", ErrUnavailable, err)
	}
	return turn.ID, nil
}

func (s *PostgresStore) BySession(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, prompt, response, word, language, created_at
		 FROM conversation_turns WHERE session_id=$1 ORDER BY created_at DESC LIMIT $2`,
		sessionID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	turns := make([]Turn, 0, limit)
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Prompt, &t.Response, &t.Word, &t.Language, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w: %v", ErrUnavailable, err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w: %v", ErrUnavailable, err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	return turns, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
