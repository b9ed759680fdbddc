package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle status persisted for a session record.
type SessionStatus string

const (
	StatusConnecting    SessionStatus = "connecting"
	StatusWaitingQRScan SessionStatus = "waiting_qr_scan"
	StatusConnected     SessionStatus = "connected"
	StatusAuthenticated SessionStatus = "authenticated"
	StatusDisconnected  SessionStatus = "disconnected"
	StatusLoggedOut     SessionStatus = "logged_out"
)

// Session is the durable record of a tenant session, used for history
// listings and for restoring sessions on startup.
type Session struct {
	SessionID    string
	Status       SessionStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
}

// AuthRecord is one persisted credential row, keyed by (SessionID, Key).
type AuthRecord struct {
	SessionID string
	Key       string
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageType classifies a chat history entry.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageDocument MessageType = "document"
	MessageAudio    MessageType = "audio"
	MessageUnknown  MessageType = "unknown"
)

// ParseMessageType maps a protocol message type onto the known set.
func ParseMessageType(s string) MessageType {
	switch MessageType(s) {
	case MessageText, MessageImage, MessageDocument, MessageAudio:
		return MessageType(s)
	default:
		return MessageUnknown
	}
}

// MessageDirection tells incoming from outgoing history entries.
type MessageDirection string

const (
	DirectionIncoming MessageDirection = "incoming"
	DirectionOutgoing MessageDirection = "outgoing"
)

// ChatMessage is one chat history entry.
type ChatMessage struct {
	ID          uuid.UUID
	SessionID   string
	PhoneNumber string
	Message     string
	MessageType MessageType
	Direction   MessageDirection
	Metadata    map[string]any
	Timestamp   time.Time
}
