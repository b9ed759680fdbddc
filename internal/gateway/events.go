package gateway

import (
	"context"
	"encoding/json"
	"runtime/debug"

	"github.com/signalix/gateway/internal/model"
	"github.com/signalix/gateway/internal/phone"
	"github.com/signalix/gateway/internal/protocol"
)

// consume drains one connection's event stream. Events of a handle are
// handled in delivery order; each runs to completion under the tenant
// lock before the next is read.
func (m *Manager) consume(h *Handle) {
	defer m.consumers.Done()
	for ev := range h.conn.Events() {
		m.dispatch(h, ev)
	}
	h.log.Debug().Msg("event stream finished")
}

func (m *Manager) dispatch(h *Handle, ev protocol.Event) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().
				Interface("panic", r).
				Str("event", ev.Kind.String()).
				Bytes("stack", debug.Stack()).
				Msg("event handler panicked")
		}
	}()

	ts := m.lockTenant(h.TenantID)
	defer ts.mu.Unlock()

	if cur, ok := m.registry.Get(h.TenantID); !ok || cur != h {
		h.log.Debug().Str("event", ev.Kind.String()).Msg("ignoring event from superseded connection")
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, handlerTimeout)
	defer cancel()

	switch ev.Kind {
	case protocol.EventConnecting:
		h.setState(StateConnecting)
		m.registry.Notify(h.TenantID)
	case protocol.EventChallenge:
		m.onChallenge(h, ev)
	case protocol.EventOpen:
		m.onOpen(h, ts)
	case protocol.EventClose:
		m.onClose(ctx, h, ts, ev)
	case protocol.EventCredsUpdate:
		m.onCredsUpdate(ctx, h, ev)
	case protocol.EventMessages:
		m.onMessages(ctx, h, ev)
	default:
		h.log.Debug().Str("event", ev.Kind.String()).Msg("unhandled event")
	}
}

func (m *Manager) onChallenge(h *Handle, ev protocol.Event) {
	uri, err := m.renderer.Render(ev.QR)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to render QR challenge")
		return
	}
	m.registry.SetChallenge(h.TenantID, uri)
	h.setState(StateWaitingQRScan)
	m.recordStatus(h.TenantID, model.StatusWaitingQRScan)
	h.log.Info().Msg("QR challenge issued")
}

func (m *Manager) onOpen(h *Handle, ts *tenantState) {
	ts.attempts = 0
	h.markAuthenticated(h.conn.User())
	m.registry.ClearChallenge(h.TenantID)
	m.registry.Notify(h.TenantID)
	m.recordStatus(h.TenantID, model.StatusConnected)

	ev := h.log.Info()
	if u := h.User(); u != nil {
		ev = ev.Str("account", u.ID).Str("name", u.Name)
	}
	ev.Msg("connected")
}

func (m *Manager) onClose(ctx context.Context, h *Handle, ts *tenantState, ev protocol.Event) {
	h.markDisconnected()
	m.registry.ClearChallenge(h.TenantID)
	m.registry.Notify(h.TenantID)

	logEv := h.log.Info().Int("reason", int(ev.Reason)).Str("reason_name", ev.Reason.String())
	if ev.Err != nil {
		logEv = logEv.AnErr("cause", ev.Err)
	}
	logEv.Msg("connection closed")

	if m.closing.Load() {
		return
	}

	if ev.Reason.LoggedOut() {
		m.registry.Remove(h.TenantID)
		h.close()
		ts.cancelReconnect()
		ts.attempts = 0
		if err := h.store.Clear(ctx); err != nil {
			h.log.Error().Err(err).Msg("failed to clear credentials after logout")
		}
		h.setState(StateLoggedOut)
		m.recordStatus(h.TenantID, model.StatusLoggedOut)
		h.log.Info().Msg("logged out, credentials cleared")
		m.releaseTenant(h.TenantID, ts)
		return
	}

	m.recordStatus(h.TenantID, model.StatusDisconnected)
	if ts.attempts < m.maxAttempts {
		ts.attempts++
		h.setState(StateReconnecting)
		m.scheduleReconnect(h, ts)
		return
	}

	h.log.Warn().Int("attempts", ts.attempts).Msg("reconnect attempts exhausted, dropping session")
	m.registry.Remove(h.TenantID)
	h.close()
	ts.attempts = 0
	m.releaseTenant(h.TenantID, ts)
}

func (m *Manager) onCredsUpdate(ctx context.Context, h *Handle, ev protocol.Event) {
	h.store.MergeCreds(ev.Creds)
	if err := h.store.Save(ctx); err != nil {
		h.log.Error().Err(err).Msg("failed to persist rotated credentials")
	}
}

func (m *Manager) onMessages(ctx context.Context, h *Handle, ev protocol.Event) {
	if m.chats == nil {
		return
	}
	for _, in := range ev.Messages {
		if in.FromMe || in.RemoteJID == "" {
			continue
		}
		meta := map[string]any{"messageId": in.ID}
		for k, v := range in.Metadata {
			meta[k] = v
		}
		entry := &model.ChatMessage{
			SessionID:   h.TenantID,
			PhoneNumber: phone.Number(in.RemoteJID),
			Message:     in.Text,
			MessageType: model.ParseMessageType(in.Type),
			Direction:   model.DirectionIncoming,
			Metadata:    meta,
		}
		if err := m.chats.Save(ctx, entry); err != nil {
			h.log.Error().Err(err).Str("message_id", in.ID).Msg("failed to store incoming message")
		}
	}
}

func encodeContent(content protocol.Content) string {
	b, err := json.Marshal(content)
	if err != nil {
		return ""
	}
	return string(b)
}
