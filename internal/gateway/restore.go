package gateway

import (
	"context"
	"fmt"

	"github.com/signalix/gateway/internal/model"
)

// RestoreSessions reconnects every tenant whose stored record says it
// was connected or authenticated. Failures are logged per tenant and do
// not stop the others. It returns how many tenants were reconnected.
func (m *Manager) RestoreSessions(ctx context.Context) (int, error) {
	if m.sessions == nil {
		return 0, nil
	}
	records, err := m.sessions.ListByStatus(ctx, model.StatusConnected, model.StatusAuthenticated)
	if err != nil {
		return 0, fmt.Errorf("list sessions to restore: %w", err)
	}

	restored := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return restored, ctx.Err()
		}
		logger := m.tenantLogger(rec.SessionID)
		if _, err := m.EnsureConnection(ctx, rec.SessionID, nil); err != nil {
			logger.Error().Err(err).Msg("failed to restore session")
			continue
		}
		restored++
		logger.Info().Msg("session restored")
	}
	m.log.Info().Int("restored", restored).Int("candidates", len(records)).Msg("session restore finished")
	return restored, nil
}
