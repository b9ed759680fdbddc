package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/signalix/gateway/internal/model"
)

// SessionRepo persists session records.
type SessionRepo interface {
	CreateOrTouch(ctx context.Context, sessionID string) (model.Session, error)
	UpdateStatus(ctx context.Context, sessionID string, status model.SessionStatus) error
	Get(ctx context.Context, sessionID string) (model.Session, error)
	List(ctx context.Context, page, limit int) ([]model.Session, error)
	Count(ctx context.Context) (int, error)
	ListByStatus(ctx context.Context, statuses ...model.SessionStatus) ([]model.Session, error)
	Delete(ctx context.Context, sessionID string) error
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new SessionRepo instance
func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

// CreateOrTouch creates the record in status connecting, or moves an
// existing record back to connecting.
func (r *sessionRepo) CreateOrTouch(ctx context.Context, sessionID string) (model.Session, error) {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (session_id)
		DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
	`, sessionID, string(model.StatusConnecting), now)
	if err != nil {
		return model.Session{}, fmt.Errorf("upsert session: %w", err)
	}
	return r.Get(ctx, sessionID)
}

// UpdateStatus sets the status of an existing record.
func (r *sessionRepo) UpdateStatus(ctx context.Context, sessionID string, status model.SessionStatus) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET status = $1, updated_at = $2 WHERE session_id = $3
	`, string(status), time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// Get retrieves a record by session id.
func (r *sessionRepo) Get(ctx context.Context, sessionID string) (model.Session, error) {
	var s model.Session
	var status string
	err := r.db.QueryRowContext(ctx, `
		SELECT session_id, status, created_at, updated_at
		FROM sessions
		WHERE session_id = $1
	`, sessionID).Scan(&s.SessionID, &status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return model.Session{}, fmt.Errorf("query session: %w", err)
	}
	s.Status = model.SessionStatus(status)
	return s, nil
}

// List returns one page of records, newest first, with their chat
// history counts. Pages start at 1.
func (r *sessionRepo) List(ctx context.Context, page, limit int) ([]model.Session, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.session_id, s.status, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM chat_history c WHERE c.session_id = s.session_id)
		FROM sessions s
		ORDER BY s.created_at DESC, s.session_id
		LIMIT $1 OFFSET $2
	`, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var s model.Session
		var status string
		if err := rows.Scan(&s.SessionID, &status, &s.CreatedAt, &s.UpdatedAt, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.Status = model.SessionStatus(status)
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// Count returns the total number of records.
func (r *sessionRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

// ListByStatus returns every record whose status is one of statuses.
func (r *sessionRepo) ListByStatus(ctx context.Context, statuses ...model.SessionStatus) ([]model.Session, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = string(st)
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, status, created_at, updated_at
		FROM sessions
		WHERE status IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY created_at
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions by status: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var s model.Session
		var status string
		if err := rows.Scan(&s.SessionID, &status, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.Status = model.SessionStatus(status)
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// Delete removes the record and its chat history in one transaction.
func (r *sessionRepo) Delete(ctx context.Context, sessionID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_history WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete chat history: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
