package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/signalix/gateway/internal/model"
)

// AuthRepo persists credential records, one row per (session, key).
type AuthRepo interface {
	Upsert(ctx context.Context, sessionID, key, value string) error
	ListBySession(ctx context.Context, sessionID string) ([]model.AuthRecord, error)
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)
}

type authRepo struct {
	db *sql.DB
}

// NewAuthRepo creates a new AuthRepo instance
func NewAuthRepo(db *sql.DB) AuthRepo {
	return &authRepo{db: db}
}

// Upsert inserts the record or replaces the value of an existing one.
func (r *authRepo) Upsert(ctx context.Context, sessionID, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_data (session_id, record_key, value, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (session_id, record_key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, sessionID, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert auth data %s: %w", key, err)
	}
	return nil
}

// ListBySession returns every record of the session.
func (r *authRepo) ListBySession(ctx context.Context, sessionID string) ([]model.AuthRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, record_key, value, created_at, updated_at
		FROM auth_data
		WHERE session_id = $1
		ORDER BY record_key
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query auth data: %w", err)
	}
	defer rows.Close()

	var records []model.AuthRecord
	for rows.Next() {
		var rec model.AuthRecord
		if err := rows.Scan(&rec.SessionID, &rec.Key, &rec.Value, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan auth data: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate auth data: %w", err)
	}
	return records, nil
}

// DeleteBySession removes every record of the session and returns how
// many rows were deleted. Deleting an unknown session is not an error.
func (r *authRepo) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM auth_data WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete auth data: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
