package gateway

import (
	"fmt"
	"time"

	"github.com/signalix/gateway/internal/protocol"
)

// CoarseStatus is the externally reported summary of a session.
type CoarseStatus string

const (
	StatusAuthenticated CoarseStatus = "AUTHENTICATED"
	StatusConnecting    CoarseStatus = "CONNECTING"
	StatusConnected     CoarseStatus = "CONNECTED"
	StatusClosing       CoarseStatus = "CLOSING"
	StatusDisconnected  CoarseStatus = "DISCONNECTED"
)

// Project derives the coarse status of h. A missing handle or an
// unrecognized transport phase is reported as disconnected.
func Project(h *Handle) CoarseStatus {
	if h == nil {
		return StatusDisconnected
	}
	if h.Authenticated() {
		return StatusAuthenticated
	}
	if h.conn == nil {
		return StatusDisconnected
	}
	switch h.conn.Phase() {
	case protocol.PhaseConnecting:
		return StatusConnecting
	case protocol.PhaseOpen:
		return StatusConnected
	case protocol.PhaseClosing:
		return StatusClosing
	default:
		return StatusDisconnected
	}
}

// Status returns the coarse status of tenantID.
func (m *Manager) Status(tenantID string) CoarseStatus {
	h, _ := m.registry.Get(tenantID)
	return Project(h)
}

// SessionInfo is a point-in-time view of one live session.
type SessionInfo struct {
	TenantID      string
	Status        CoarseStatus
	State         State
	Authenticated bool
	HasChallenge  bool
	User          *protocol.Identity
	CreatedAt     time.Time
	Uptime        time.Duration
}

// Sessions lists every live session ordered by tenant id.
func (m *Manager) Sessions() []SessionInfo {
	now := m.clock.Now()
	handles := m.registry.Handles()
	out := make([]SessionInfo, 0, len(handles))
	for _, h := range handles {
		out = append(out, m.info(h, now))
	}
	return out
}

// Session returns the view of one live session.
func (m *Manager) Session(tenantID string) (SessionInfo, error) {
	h, ok := m.registry.Get(tenantID)
	if !ok {
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrSessionNotFound, tenantID)
	}
	return m.info(h, m.clock.Now()), nil
}

func (m *Manager) info(h *Handle, now time.Time) SessionInfo {
	_, hasChallenge := m.registry.Challenge(h.TenantID)
	return SessionInfo{
		TenantID:      h.TenantID,
		Status:        Project(h),
		State:         h.State(),
		Authenticated: h.Authenticated(),
		HasChallenge:  hasChallenge,
		User:          h.User(),
		CreatedAt:     h.CreatedAt,
		Uptime:        now.Sub(h.CreatedAt),
	}
}

// FormatUptime renders d as "1h 2m 3s", "2m 3s" or "3s".
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes%60, seconds%60)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds%60)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
