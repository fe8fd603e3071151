package store

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode"
)

var (
	// ErrUnavailable reports that the backing store cannot be reached.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrInvalidReference reports a session identifier that is not valid
	// for the store's identifier format.
	ErrInvalidReference = errors.New("invalid session reference")
	// ErrNotFound reports a missing session record.
	ErrNotFound = errors.New("session not found")
)

// Session is a client conversation scope. The id is immutable once created;
// only last_accessed moves on subsequent contact.
type Session struct {
	ID           string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Turn is one persisted prompt/response exchange. Records are append-only.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Word      string    `json:"word,omitempty"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStore creates and looks up session records.
type SessionStore interface {
	// Ensure creates the session when absent, otherwise touches
	// last_accessed. created reports which of the two happened.
	Ensure(ctx context.Context, id string) (sess Session, created bool, err error)
	Get(ctx context.Context, id string) (Session, error)
}

// ConversationStore appends immutable turn records. It does not enforce
// referential integrity against sessions; the orchestrator validates the
// session before persisting.
type ConversationStore interface {
	Append(ctx context.Context, turn Turn) (string, error)
	BySession(ctx context.Context, sessionID string, limit int) ([]Turn, error)
}

// Store combines both record collections behind one backend.
type Store interface {
	SessionStore
	ConversationStore
	Close() error
}

const maxSessionIDLen = 128

// validateSessionID enforces the store identifier format: non-empty,
// bounded length, no whitespace or control characters.
func validateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidReference)
	}
	if len(id) > maxSessionIDLen {
		return fmt.Errorf("%w: id exceeds %d bytes", ErrInvalidReference, maxSessionIDLen)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: id contains whitespace or control characters", ErrInvalidReference)
		}
	}
	return nil
}
