package bridge

import (
	"encoding/json"

	"github.com/signalix/gateway/internal/protocol"
)

// Frame types exchanged with the bridge. Every frame is one JSON text
// message. Binary key material inside creds and keys uses the tagged
// buffer encoding of the credential store.
const (
	// gateway -> bridge
	frameHello      = "hello"
	frameSend       = "send"
	frameLogout     = "logout"
	frameKeysResult = "keys.result"

	// bridge -> gateway
	frameConnection  = "connection"
	frameCredsUpdate = "creds.update"
	frameKeysGet     = "keys.get"
	frameKeysSet     = "keys.set"
	frameMessages    = "messages.upsert"
	frameResult      = "result"
)

// Connection states carried by a connection frame.
const (
	stateConnecting = "connecting"
	stateQR         = "qr"
	stateOpen       = "open"
	stateClose      = "close"
)

type frame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	Tenant  string           `json:"tenant,omitempty"`
	Creds   json.RawMessage  `json:"creds,omitempty"`
	Options protocol.Options `json:"options,omitempty"`

	State  string             `json:"state,omitempty"`
	QR     string             `json:"qr,omitempty"`
	Reason int                `json:"reason,omitempty"`
	User   *protocol.Identity `json:"user,omitempty"`

	KeyType string          `json:"keyType,omitempty"`
	IDs     []string        `json:"ids,omitempty"`
	Keys    json.RawMessage `json:"keys,omitempty"`

	To      string           `json:"to,omitempty"`
	Content protocol.Content `json:"content,omitempty"`

	MessageID string          `json:"messageId,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	Error     string          `json:"error,omitempty"`

	Messages []protocol.InboundMessage `json:"messages,omitempty"`
}
