package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the slice of pgxpool.Pool the store needs. Defined on the consumer
// side so unit tests can stub it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the session table adapter. Safe for concurrent use; concurrent
// writers to the same session are not coordinated — the last Put wins,
// which is accepted behavior, not a guarantee anyone should build on.
type Store struct {
	db     DB
	logger *slog.Logger
}

// NewStore creates a Store. logger nil means slog.Default().
func NewStore(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Put upserts a session keyed by its id. On conflict the user id is left
// untouched: ownership is immutable after creation. A zero UpdatedAt is
// stamped with the current time.
func (s *Store) Put(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		return errors.New("session id is required")
	}
	if sess.UserID == "" {
		return errors.New("user id is required")
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = time.Now().UTC()
	}

	var email *string
	if sess.Email != "" {
		email = &sess.Email
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO sessions (session_id, user_id, last_message, last_response, email, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
			last_message  = EXCLUDED.last_message,
			last_response = EXCLUDED.last_response,
			email         = COALESCE(EXCLUDED.email, sessions.email),
			updated_at    = EXCLUDED.updated_at`,
		sess.ID, sess.UserID, sess.LastMessage, sess.LastResponse, email, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}

	s.logger.Debug("session stored", "session_id", sess.ID)
	return nil
}

// Get returns the session only if it exists and belongs to userID.
// Missing and foreign sessions are both ErrSessionNotFound.
func (s *Store) Get(ctx context.Context, sessionID, userID string) (*Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT session_id, user_id, last_message, last_response, COALESCE(email, ''), updated_at
		FROM sessions
		WHERE session_id = $1 AND user_id = $2`,
		sessionID, userID,
	)

	var sess Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.LastMessage, &sess.LastResponse, &sess.Email, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching session: %w", err)
	}
	return &sess, nil
}

// ValidateOwnership reports whether sessionID exists AND belongs to userID.
// The two failure cases are indistinguishable from the return value, which
// prevents callers (and their callers) from enumerating session ids.
func (s *Store) ValidateOwnership(ctx context.Context, sessionID, userID string) (bool, error) {
	var owned bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sessions WHERE session_id = $1 AND user_id = $2
		)`,
		sessionID, userID,
	).Scan(&owned)
	if err != nil {
		return false, fmt.Errorf("validating session ownership: %w", err)
	}
	return owned, nil
}

// Recent returns up to limit sessions for userID, newest first.
// limit 0 means DefaultRecentLimit; values above MaxRecentLimit are clamped.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	rows, err := s.db.Query(ctx, `
		SELECT session_id, user_id, last_message, last_response, COALESCE(email, ''), updated_at
		FROM sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.LastMessage, &sess.LastResponse, &sess.Email, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}

	return sessions, nil
}
