package gateway

import "errors"

// scheduleReconnect arms the tenant's reconnect timer. The caller holds
// the tenant lock.
func (m *Manager) scheduleReconnect(h *Handle, ts *tenantState) {
	ts.cancelReconnect()
	seq := ts.seq
	h.log.Info().
		Int("attempt", ts.attempts).
		Int("max_attempts", m.maxAttempts).
		Dur("delay", m.delay).
		Msg("scheduling reconnect")
	ts.timer = m.clock.AfterFunc(m.delay, func() { m.reconnect(h, ts, seq) })
}

// reconnect runs when a reconnect timer fires. It abandons itself when
// the tenant was deleted, logged out, explicitly recreated, or the
// manager is shutting down after the timer was armed.
func (m *Manager) reconnect(h *Handle, ts *tenantState, seq uint64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.released || ts.seq != seq || m.closing.Load() {
		h.log.Debug().Msg("reconnect abandoned")
		return
	}
	ts.timer = nil
	if cur, ok := m.registry.Get(h.TenantID); ok && cur != h {
		h.log.Debug().Msg("reconnect abandoned, session superseded")
		return
	}

	h.log.Info().Int("attempt", ts.attempts).Msg("reconnecting")
	if _, err := m.connectLocked(m.ctx, h.TenantID, h.opts); err != nil {
		if errors.Is(err, ErrShuttingDown) {
			return
		}
		h.log.Error().Err(err).Msg("reconnect failed")
		if ts.attempts < m.maxAttempts {
			ts.attempts++
			m.scheduleReconnect(h, ts)
			return
		}
		h.log.Warn().Int("attempts", ts.attempts).Msg("reconnect attempts exhausted")
		ts.attempts = 0
		m.releaseTenant(h.TenantID, ts)
	}
}
