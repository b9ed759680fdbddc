package gateway

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalix/gateway/internal/credstore"
	"github.com/signalix/gateway/internal/protocol"
)

// State is the lifecycle phase of a session handle.
type State int

const (
	StateCreating State = iota
	StateConnecting
	StateWaitingQRScan
	StateAuthenticated
	StateDisconnected
	StateReconnecting
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateCreating:
		return "CREATING"
	case StateConnecting:
		return "CONNECTING"
	case StateWaitingQRScan:
		return "WAITING_QR_SCAN"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateLoggedOut:
		return "LOGGED_OUT"
	default:
		return "UNKNOWN"
	}
}

// Handle is the in-memory record of one tenant's connection. A handle
// owns its connection exclusively; the connection is closed before the
// handle leaves the registry.
type Handle struct {
	TenantID  string
	CreatedAt time.Time

	conn  protocol.Conn
	store *credstore.Store
	opts  protocol.Options
	log   zerolog.Logger

	mu            sync.RWMutex
	authenticated bool
	state         State
	user          *protocol.Identity
}

func newHandle(tenantID string, conn protocol.Conn, store *credstore.Store, opts protocol.Options, createdAt time.Time, logger zerolog.Logger) *Handle {
	return &Handle{
		TenantID:  tenantID,
		CreatedAt: createdAt,
		conn:      conn,
		store:     store,
		opts:      opts,
		log:       logger,
		state:     StateConnecting,
	}
}

// Authenticated reports whether the transport opened and authenticated.
func (h *Handle) Authenticated() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.authenticated
}

// State returns the last lifecycle phase recorded for the handle.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// User returns the account the connection authenticated as, if any.
func (h *Handle) User() *protocol.Identity {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.user
}

// Phase returns the live transport phase of the connection.
func (h *Handle) Phase() protocol.Phase {
	return h.conn.Phase()
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *Handle) markAuthenticated(user *protocol.Identity) {
	h.mu.Lock()
	h.authenticated = true
	h.state = StateAuthenticated
	h.user = user
	h.mu.Unlock()
}

func (h *Handle) markDisconnected() {
	h.mu.Lock()
	h.authenticated = false
	h.state = StateDisconnected
	h.mu.Unlock()
}

// close ends the connection, logging failures.
func (h *Handle) close() {
	if err := h.conn.Close(); err != nil {
		h.log.Warn().Err(err).Msg("error closing connection")
	}
}
