package gateway

import (
	"context"
	"time"
)

// ChallengeOutcome tells how AwaitChallenge resolved.
type ChallengeOutcome int

const (
	ChallengeTimedOut ChallengeOutcome = iota
	ChallengeIssued
	ChallengeAuthenticated
)

func (o ChallengeOutcome) String() string {
	switch o {
	case ChallengeIssued:
		return "issued"
	case ChallengeAuthenticated:
		return "authenticated"
	default:
		return "timed_out"
	}
}

// ChallengeResult is the answer of AwaitChallenge. QR is set only when
// Outcome is ChallengeIssued.
type ChallengeResult struct {
	Outcome ChallengeOutcome
	QR      string
}

// AwaitChallenge waits until tenantID has a pending challenge or an
// authenticated handle, for at most maxAttempts*interval. Running out of
// time is reported as ChallengeTimedOut, not as an error; only ctx
// cancellation is an error.
func (m *Manager) AwaitChallenge(ctx context.Context, tenantID string, maxAttempts int, interval time.Duration) (ChallengeResult, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultQRWaitAttempts
	}
	if interval <= 0 {
		interval = DefaultQRWaitInterval
	}
	budget := time.Duration(maxAttempts) * interval
	start := m.clock.Now()
	deadline := m.clock.After(budget)
	logger := m.tenantLogger(tenantID)

	for {
		// Subscribe before checking so a change in between is not lost.
		changed := m.registry.Changed(tenantID)

		if qr, ok := m.registry.Challenge(tenantID); ok {
			logger.Debug().Dur("waited", m.clock.Now().Sub(start)).Msg("QR challenge available")
			return ChallengeResult{Outcome: ChallengeIssued, QR: qr}, nil
		}
		if h, ok := m.registry.Get(tenantID); ok && h.Authenticated() {
			logger.Debug().Msg("authenticated while waiting for QR challenge")
			return ChallengeResult{Outcome: ChallengeAuthenticated}, nil
		}

		select {
		case <-changed:
		case <-deadline:
			logger.Info().Dur("budget", budget).Msg("QR challenge wait timed out")
			return ChallengeResult{Outcome: ChallengeTimedOut}, nil
		case <-ctx.Done():
			return ChallengeResult{}, ctx.Err()
		}
	}
}
