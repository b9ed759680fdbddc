package protocol

import "fmt"

// EventKind discriminates Event.
type EventKind int

const (
	// EventConnecting reports the transport started connecting.
	EventConnecting EventKind = iota + 1
	// EventChallenge carries a QR pairing payload in Event.QR.
	EventChallenge
	// EventOpen reports a fully open, authenticated transport.
	EventOpen
	// EventClose reports the transport closed; see Event.Reason.
	EventClose
	// EventCredsUpdate carries rotated root credential fields.
	EventCredsUpdate
	// EventMessages carries inbound messages.
	EventMessages
)

func (k EventKind) String() string {
	switch k {
	case EventConnecting:
		return "connecting"
	case EventChallenge:
		return "challenge"
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	case EventCredsUpdate:
		return "creds.update"
	case EventMessages:
		return "messages"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one item of a connection's event stream.
type Event struct {
	Kind EventKind

	QR string

	Reason DisconnectReason
	Err    error

	Creds Creds

	Messages []InboundMessage
}

// InboundMessage is a message received by a tenant's account.
type InboundMessage struct {
	ID        string         `json:"id"`
	RemoteJID string         `json:"remoteJid"`
	FromMe    bool           `json:"fromMe"`
	Type      string         `json:"type"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// DisconnectReason is the status code attached to a close.
type DisconnectReason int

const (
	ReasonLoggedOut           DisconnectReason = 401
	ReasonForbidden           DisconnectReason = 403
	ReasonConnectionLost      DisconnectReason = 408
	ReasonMultideviceMismatch DisconnectReason = 411
	ReasonConnectionClosed    DisconnectReason = 428
	ReasonConnectionReplaced  DisconnectReason = 440
	ReasonBadSession          DisconnectReason = 500
	ReasonUnavailableService  DisconnectReason = 503
	ReasonRestartRequired     DisconnectReason = 515
)

// LoggedOut reports whether the close is a terminal authentication
// revocation.
func (r DisconnectReason) LoggedOut() bool { return r == ReasonLoggedOut }

func (r DisconnectReason) String() string {
	switch r {
	case ReasonLoggedOut:
		return "loggedOut"
	case ReasonForbidden:
		return "forbidden"
	case ReasonConnectionLost:
		return "connectionLost"
	case ReasonMultideviceMismatch:
		return "multideviceMismatch"
	case ReasonConnectionClosed:
		return "connectionClosed"
	case ReasonConnectionReplaced:
		return "connectionReplaced"
	case ReasonBadSession:
		return "badSession"
	case ReasonUnavailableService:
		return "unavailableService"
	case ReasonRestartRequired:
		return "restartRequired"
	case 0:
		return "unknown"
	default:
		return fmt.Sprintf("status(%d)", int(r))
	}
}
