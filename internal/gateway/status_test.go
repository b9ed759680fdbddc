package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalix/gateway/internal/protocol"
)

func TestProject(t *testing.T) {
	assert.Equal(t, StatusDisconnected, Project(nil))

	f := newFixture(t)
	h := f.ensure(t)
	conn := f.dialer.Last()

	cases := []struct {
		phase protocol.Phase
		want  CoarseStatus
	}{
		{protocol.PhaseConnecting, StatusConnecting},
		{protocol.PhaseOpen, StatusConnected},
		{protocol.PhaseClosing, StatusClosing},
		{protocol.PhaseClosed, StatusDisconnected},
		{protocol.Phase(42), StatusDisconnected},
		{protocol.Phase(-1), StatusDisconnected},
	}
	for _, tc := range cases {
		conn.SetPhase(tc.phase)
		assert.Equal(t, tc.want, Project(h), tc.phase.String())
	}

	// Authentication wins over the transport phase.
	require.True(t, conn.Open(protocol.Identity{ID: "1"}))
	require.Eventually(t, h.Authenticated, waitFor, tick)
	conn.SetPhase(protocol.Phase(42))
	assert.Equal(t, StatusAuthenticated, Project(h))

	assert.Equal(t, StatusDisconnected, f.m.Status("unknown-tenant"))
}

func TestSessions(t *testing.T) {
	f := newFixture(t)
	f.ensure(t)
	require.True(t, f.dialer.Last().Challenge("qr"))
	require.Eventually(t, func() bool { _, ok := f.m.Challenge(tenant); return ok }, waitFor, tick)
	f.clock.Advance(90 * time.Second)

	list := f.m.Sessions()
	require.Len(t, list, 1)
	info := list[0]
	assert.Equal(t, tenant, info.TenantID)
	assert.Equal(t, StatusConnecting, info.Status)
	assert.Equal(t, StateWaitingQRScan, info.State)
	assert.True(t, info.HasChallenge)
	assert.Equal(t, 90*time.Second, info.Uptime)

	_, err := f.m.Session("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "0s", FormatUptime(0))
	assert.Equal(t, "59s", FormatUptime(59*time.Second+900*time.Millisecond))
	assert.Equal(t, "2m 5s", FormatUptime(125*time.Second))
	assert.Equal(t, "1h 2m 3s", FormatUptime(time.Hour+2*time.Minute+3*time.Second))
	assert.Equal(t, "0s", FormatUptime(-time.Second))
}

func TestValidateTenantID(t *testing.T) {
	assert.NoError(t, ValidateTenantID("abc"))
	assert.NoError(t, ValidateTenantID("Tenant_01-x"))
	assert.ErrorIs(t, ValidateTenantID("ab"), ErrInvalidTenantID)
	assert.ErrorIs(t, ValidateTenantID("tenant.1"), ErrInvalidTenantID)
}

func TestRegistry_ChangedFiresOnMutation(t *testing.T) {
	r := NewRegistry()
	ch := r.Changed(tenant)
	other := r.Changed("other")

	r.SetChallenge(tenant, "qr")
	select {
	case <-ch:
	default:
		t.Fatal("Changed not closed by SetChallenge")
	}
	select {
	case <-other:
		t.Fatal("another tenant was woken")
	default:
	}

	ch = r.Changed(tenant)
	r.ClearChallenge("missing-tenant")
	r.ClearChallenge(tenant)
	select {
	case <-ch:
	default:
		t.Fatal("Changed not closed by ClearChallenge")
	}
}
