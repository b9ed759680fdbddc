package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/signalix/gateway/internal/model"
)

// ChatQuery selects one page of a session's chat history.
type ChatQuery struct {
	SessionID   string
	PhoneNumber string
	Page        int
	Limit       int
}

// ChatRepo stores chat history entries.
type ChatRepo interface {
	Save(ctx context.Context, msg *model.ChatMessage) error
	List(ctx context.Context, q ChatQuery) ([]model.ChatMessage, int, error)
}

type chatRepo struct {
	db *sql.DB
}

// NewChatRepo creates a new ChatRepo instance
func NewChatRepo(db *sql.DB) ChatRepo {
	return &chatRepo{db: db}
}

// Save inserts msg, assigning its ID and Timestamp when unset.
func (r *chatRepo) Save(ctx context.Context, msg *model.ChatMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.MessageType == "" {
		msg.MessageType = model.MessageText
	}
	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO chat_history (id, session_id, phone_number, message, message_type, direction, metadata, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, msg.ID.String(), msg.SessionID, msg.PhoneNumber, msg.Message,
		string(msg.MessageType), string(msg.Direction), string(meta), msg.Timestamp)
	if err != nil {
		return fmt.Errorf("insert chat history: %w", err)
	}
	return nil
}

// List returns the requested page, newest first, and the total number
// of matching entries.
func (r *chatRepo) List(ctx context.Context, q ChatQuery) ([]model.ChatMessage, int, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 25
	}

	where := `WHERE session_id = $1`
	args := []any{q.SessionID}
	if q.PhoneNumber != "" {
		where += ` AND phone_number = $2`
		args = append(args, q.PhoneNumber)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_history `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count chat history: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf(`
		SELECT id, session_id, phone_number, message, message_type, direction, metadata, timestamp
		FROM chat_history %s
		ORDER BY timestamp DESC, id
		LIMIT $%d OFFSET $%d
	`, where, n+1, n+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, q.Limit, (q.Page-1)*q.Limit)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query chat history: %w", err)
	}
	defer rows.Close()

	var messages []model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		var idStr, msgType, direction, meta string
		if err := rows.Scan(&idStr, &m.SessionID, &m.PhoneNumber, &m.Message, &msgType, &direction, &meta, &m.Timestamp); err != nil {
			return nil, 0, fmt.Errorf("scan chat history: %w", err)
		}
		m.ID, err = uuid.Parse(idStr)
		if err != nil {
			return nil, 0, fmt.Errorf("parse chat history ID: %w", err)
		}
		m.MessageType = model.MessageType(msgType)
		m.Direction = model.MessageDirection(direction)
		m.Metadata = map[string]any{}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
				return nil, 0, fmt.Errorf("decode metadata: %w", err)
			}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate chat history: %w", err)
	}
	return messages, total, nil
}
