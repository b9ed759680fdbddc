// Package protocol defines the contract between the session gateway and
// the chat-protocol implementation that owns the handshake, encryption,
// and wire format. The gateway never speaks the wire protocol itself; it
// dials connections through a Dialer, hands them an AuthState backed by
// durable storage, and consumes their typed event stream.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrClosed is returned by Conn operations after the connection closed.
var ErrClosed = errors.New("connection closed")

// Creds is the root credential object of one protocol identity. It is a
// JSON-shaped tree whose leaves may be []byte key material.
type Creds map[string]any

// NoiseKey returns the handshake key pair entry, which every usable
// credential object carries.
func (c Creds) NoiseKey() (any, bool) {
	v, ok := c["noiseKey"]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// KeyKind names one category of key material the protocol asks to have
// persisted and looked up by id.
type KeyKind string

const (
	KeyPreKey              KeyKind = "pre-key"
	KeySession             KeyKind = "session"
	KeySenderKey           KeyKind = "sender-key"
	KeySenderKeyMemory     KeyKind = "sender-key-memory"
	KeyAppStateSyncKey     KeyKind = "app-state-sync-key"
	KeyAppStateSyncVersion KeyKind = "app-state-sync-version"
)

// KeyKinds lists every known kind in a stable order.
var KeyKinds = []KeyKind{
	KeyPreKey,
	KeySession,
	KeySenderKey,
	KeySenderKeyMemory,
	KeyAppStateSyncKey,
	KeyAppStateSyncVersion,
}

// ParseKeyKind maps a kind name to a KeyKind, reporting whether it is
// one of the known kinds.
func ParseKeyKind(s string) (KeyKind, bool) {
	for _, k := range KeyKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// KeyUpdates groups key material writes by kind. A nil value removes the
// id from its bucket.
type KeyUpdates map[KeyKind]map[string]any

// KeyStore is the key lookup surface a connection uses while running.
// Implementations must be safe for concurrent use.
type KeyStore interface {
	Get(kind KeyKind, ids []string) map[string]any
	Set(updates KeyUpdates)
}

// AuthState is what a connection is opened with: a snapshot of the root
// credentials plus live access to key material.
type AuthState struct {
	Creds Creds
	Keys  KeyStore
}

// Phase is the transport-level state of a connection.
type Phase int

const (
	PhaseConnecting Phase = iota
	PhaseOpen
	PhaseClosing
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseOpen:
		return "open"
	case PhaseClosing:
		return "closing"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options carries caller-supplied connection settings through to the
// protocol implementation untouched.
type Options map[string]any

// Content is an outgoing message payload, forwarded as-is.
type Content map[string]any

// Text returns the "text" field of the payload, if any.
func (c Content) Text() (string, bool) {
	s, ok := c["text"].(string)
	return s, ok
}

// SendResult is the protocol's acknowledgement of a sent message.
type SendResult struct {
	ID  string          `json:"id,omitempty"`
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Identity is the account a connection authenticated as.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Conn is one live protocol connection for one tenant.
type Conn interface {
	// Events returns the connection's event stream. The channel is
	// closed once the connection has finished delivering events.
	Events() <-chan Event

	// Phase reports the current transport phase.
	Phase() Phase

	// User returns the authenticated account, or nil before open.
	User() *Identity

	SendMessage(ctx context.Context, to string, content Content, opts Options) (SendResult, error)

	// Logout revokes the pairing on the server side.
	Logout(ctx context.Context) error

	// Close ends the connection. It is safe to call more than once.
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, tenantID string, auth AuthState, opts Options) (Conn, error)
}
