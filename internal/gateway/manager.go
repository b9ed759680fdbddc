// Package gateway owns the lifecycle of every tenant's protocol
// connection: it creates and tracks connections, persists their
// credentials, reconnects after transient failures, and tears them
// down on logout or deletion.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalix/gateway/internal/clock"
	"github.com/signalix/gateway/internal/credstore"
	"github.com/signalix/gateway/internal/model"
	"github.com/signalix/gateway/internal/phone"
	"github.com/signalix/gateway/internal/protocol"
	"github.com/signalix/gateway/internal/qr"
	"github.com/signalix/gateway/internal/repo"
)

const (
	DefaultMaxReconnectAttempts = 3
	DefaultReconnectDelay       = 5 * time.Second
	DefaultQRWaitAttempts       = 20
	DefaultQRWaitInterval       = 500 * time.Millisecond

	// handlerTimeout bounds the storage work of one event handler.
	handlerTimeout = 30 * time.Second
)

// DefaultOptions are passed to every dial; caller options override them.
var DefaultOptions = protocol.Options{
	"browser":               []string{"Signalix Gateway", "Chrome", "3.0.0"},
	"defaultQueryTimeoutMs": 60000,
	"keepAliveIntervalMs":   30000,
	"connectTimeoutMs":      60000,
	"qrTimeout":             40000,
	"syncFullHistory":       false,
	"markOnlineOnConnect":   false,
	"retryRequestDelayMs":   250,
	"maxMsgRetryCount":      5,
	"emitOwnEvents":         true,
	"fireInitQueries":       true,
}

// Config wires a Manager. Dialer and AuthRepo are required; SessionRepo
// and ChatRepo are optional.
type Config struct {
	Dialer      protocol.Dialer
	AuthRepo    repo.AuthRepo
	SessionRepo repo.SessionRepo
	ChatRepo    repo.ChatRepo
	Renderer    qr.Renderer
	Clock       clock.Clock
	Logger      zerolog.Logger

	MaxReconnectAttempts int
	ReconnectDelay       time.Duration

	// LegacyAuthDir is scanned for auth_info_<tenant> directories left
	// by file-based deployments; they are removed before connecting.
	// Empty disables the cleanup.
	LegacyAuthDir string

	// CountryCode is used to derive phone numbers for chat history.
	CountryCode string
}

// Manager is the connection lifecycle controller for all tenants.
type Manager struct {
	dialer   protocol.Dialer
	auth     repo.AuthRepo
	sessions repo.SessionRepo
	chats    repo.ChatRepo
	renderer qr.Renderer
	clock    clock.Clock
	log      zerolog.Logger
	phones   phone.Formatter

	maxAttempts   int
	delay         time.Duration
	legacyAuthDir string

	registry *Registry

	tenantsMu sync.Mutex
	tenants   map[string]*tenantState

	// lifecycle is read-held from the closing check in connectLocked
	// until the new handle and its consumer are registered.
	lifecycle sync.RWMutex
	consumers sync.WaitGroup
	closing   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// tenantState serializes everything that mutates one tenant: explicit
// calls, event handlers, and reconnect timers.
type tenantState struct {
	mu       sync.Mutex
	attempts int
	timer    *clock.Timer
	// seq invalidates reconnect timers scheduled before it changed.
	seq uint64
	// released is set once the state left the tenants map.
	released bool
}

func (ts *tenantState) cancelReconnect() {
	if ts.timer != nil {
		ts.timer.Stop()
		ts.timer = nil
	}
	ts.seq++
}

// NewManager creates a new Manager instance
func NewManager(cfg Config) *Manager {
	if cfg.Renderer == nil {
		cfg.Renderer = qr.NewPNG(256)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		dialer:        cfg.Dialer,
		auth:          cfg.AuthRepo,
		sessions:      cfg.SessionRepo,
		chats:         cfg.ChatRepo,
		renderer:      cfg.Renderer,
		clock:         cfg.Clock,
		log:           cfg.Logger.With().Str("component", "gateway").Logger(),
		phones:        phone.NewFormatter(cfg.CountryCode),
		maxAttempts:   cfg.MaxReconnectAttempts,
		delay:         cfg.ReconnectDelay,
		legacyAuthDir: cfg.LegacyAuthDir,
		registry:      NewRegistry(),
		tenants:       make(map[string]*tenantState),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Registry exposes the live handles and pending challenges for reads.
func (m *Manager) Registry() *Registry { return m.registry }

// Handle returns the live handle of tenantID.
func (m *Manager) Handle(tenantID string) (*Handle, bool) {
	return m.registry.Get(tenantID)
}

// Challenge returns the pending rendered challenge of tenantID.
func (m *Manager) Challenge(tenantID string) (string, bool) {
	return m.registry.Challenge(tenantID)
}

func (m *Manager) tenant(tenantID string) *tenantState {
	m.tenantsMu.Lock()
	defer m.tenantsMu.Unlock()
	ts, ok := m.tenants[tenantID]
	if !ok {
		ts = &tenantState{}
		m.tenants[tenantID] = ts
	}
	return ts
}

// lockTenant returns the current state of tenantID with its lock held.
func (m *Manager) lockTenant(tenantID string) *tenantState {
	for {
		ts := m.tenant(tenantID)
		ts.mu.Lock()
		if !ts.released {
			return ts
		}
		ts.mu.Unlock()
	}
}

// releaseTenant drops the state of tenantID when it has neither a live
// handle nor a pending reconnect. The caller holds ts.mu.
func (m *Manager) releaseTenant(tenantID string, ts *tenantState) {
	if ts.timer != nil {
		return
	}
	if _, ok := m.registry.Get(tenantID); ok {
		return
	}
	m.tenantsMu.Lock()
	if m.tenants[tenantID] == ts {
		delete(m.tenants, tenantID)
	}
	m.tenantsMu.Unlock()
	ts.released = true
}

func (m *Manager) tenantLogger(tenantID string) zerolog.Logger {
	return m.log.With().Str("session_id", tenantID).Logger()
}

// EnsureConnection returns the tenant's authenticated handle if there is
// one. Otherwise any existing handle is closed and replaced by a fresh
// connection dialed with the tenant's stored credentials.
func (m *Manager) EnsureConnection(ctx context.Context, tenantID string, opts protocol.Options) (*Handle, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if m.closing.Load() {
		return nil, ErrShuttingDown
	}

	ts := m.lockTenant(tenantID)
	defer ts.mu.Unlock()

	if h, ok := m.registry.Get(tenantID); ok && h.Authenticated() {
		h.log.Debug().Msg("session already authenticated, reusing")
		return h, nil
	}
	ts.cancelReconnect()
	return m.connectLocked(ctx, tenantID, opts)
}

// connectLocked replaces the tenant's handle with a newly dialed one.
// The caller holds the tenant lock.
func (m *Manager) connectLocked(ctx context.Context, tenantID string, opts protocol.Options) (*Handle, error) {
	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()
	if m.closing.Load() {
		return nil, ErrShuttingDown
	}

	logger := m.tenantLogger(tenantID)

	if old, ok := m.registry.Remove(tenantID); ok {
		logger.Info().Str("state", old.State().String()).Msg("closing existing session before recreating")
		old.close()
	}
	m.registry.ClearChallenge(tenantID)

	m.removeLegacyAuthDir(tenantID, logger)

	store, err := credstore.Load(ctx, m.auth, tenantID, logger)
	if err != nil {
		return nil, fmt.Errorf("load credentials for %s: %w", tenantID, err)
	}
	if m.sessions != nil {
		if _, err := m.sessions.CreateOrTouch(ctx, tenantID); err != nil {
			logger.Error().Err(err).Msg("failed to record session")
		}
	}

	merged := mergeOptions(opts)
	conn, err := m.dialer.Dial(ctx, tenantID, store.AuthState(), merged)
	if err != nil {
		m.recordStatus(tenantID, model.StatusDisconnected)
		return nil, fmt.Errorf("connect %s: %w", tenantID, err)
	}

	h := newHandle(tenantID, conn, store, opts, m.clock.Now(), logger)
	m.registry.Put(h)

	m.consumers.Add(1)
	go m.consume(h)

	logger.Info().Bool("restored", store.Restored()).Msg("connection created")
	return h, nil
}

func mergeOptions(opts protocol.Options) protocol.Options {
	merged := make(protocol.Options, len(DefaultOptions)+len(opts))
	for k, v := range DefaultOptions {
		merged[k] = v
	}
	for k, v := range opts {
		merged[k] = v
	}
	return merged
}

func (m *Manager) removeLegacyAuthDir(tenantID string, logger zerolog.Logger) {
	if m.legacyAuthDir == "" {
		return
	}
	dir := filepath.Join(m.legacyAuthDir, "auth_info_"+tenantID)
	if _, err := os.Stat(dir); err != nil {
		return
	}
	logger.Info().Str("dir", dir).Msg("removing legacy auth directory")
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("failed to remove legacy auth directory")
	}
}

// DeleteSession tears the tenant down from any state: a pending
// reconnect is cancelled, the connection is logged out and closed on a
// best-effort basis, and every stored credential is deleted. Deleting a
// tenant without a live handle still clears its credentials.
func (m *Manager) DeleteSession(ctx context.Context, tenantID string) error {
	if err := ValidateTenantID(tenantID); err != nil {
		return err
	}

	ts := m.lockTenant(tenantID)
	defer ts.mu.Unlock()

	ts.cancelReconnect()
	ts.attempts = 0
	defer m.releaseTenant(tenantID, ts)

	logger := m.tenantLogger(tenantID)
	h, ok := m.registry.Remove(tenantID)
	m.registry.ClearChallenge(tenantID)
	if ok {
		if err := h.conn.Logout(ctx); err != nil {
			logger.Warn().Err(err).Msg("logout failed during delete")
		}
		h.close()
		h.setState(StateLoggedOut)
	}

	n, err := credstore.Clear(ctx, m.auth, tenantID)
	if err != nil {
		return err
	}
	m.recordStatus(tenantID, model.StatusLoggedOut)
	logger.Info().Int64("records", n).Bool("had_connection", ok).Msg("session deleted")
	return nil
}

// SendMessage sends content to the JID "to" over the tenant's
// authenticated connection and records it as outgoing chat history.
func (m *Manager) SendMessage(ctx context.Context, tenantID, to string, content protocol.Content, opts protocol.Options) (protocol.SendResult, error) {
	h, ok := m.registry.Get(tenantID)
	if !ok || !h.Authenticated() {
		return protocol.SendResult{}, ErrNotAuthenticated
	}

	result, err := h.conn.SendMessage(ctx, to, content, opts)
	if err != nil {
		return protocol.SendResult{}, fmt.Errorf("send to %s: %w", to, err)
	}

	if m.chats != nil {
		text, ok := content.Text()
		if !ok {
			text = encodeContent(content)
		}
		entry := &model.ChatMessage{
			SessionID:   tenantID,
			PhoneNumber: phone.Number(to),
			Message:     text,
			MessageType: model.MessageText,
			Direction:   model.DirectionOutgoing,
			Metadata:    map[string]any{"messageId": result.ID},
		}
		if err := m.chats.Save(ctx, entry); err != nil {
			h.log.Error().Err(err).Msg("failed to store outgoing message")
		}
	}
	return result, nil
}

// FormatJID normalizes a user-entered number with the configured
// country code.
func (m *Manager) FormatJID(number string) string {
	return m.phones.JID(number)
}

func (m *Manager) recordStatus(tenantID string, status model.SessionStatus) {
	if m.sessions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, handlerTimeout)
	defer cancel()
	if err := m.sessions.UpdateStatus(ctx, tenantID, status); err != nil && !errors.Is(err, repo.ErrNotFound) {
		logger := m.tenantLogger(tenantID)
		logger.Error().Err(err).Str("status", string(status)).Msg("failed to update session status")
	}
}

// Shutdown closes every connection without logging out, so sessions can
// be restored on the next start, and waits for the event consumers to
// drain or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	// Waits for any connectLocked already past its closing check.
	m.lifecycle.Lock()
	first := m.closing.CompareAndSwap(false, true)
	m.lifecycle.Unlock()
	if !first {
		return nil
	}

	m.tenantsMu.Lock()
	states := make([]*tenantState, 0, len(m.tenants))
	for _, ts := range m.tenants {
		states = append(states, ts)
	}
	m.tenantsMu.Unlock()
	for _, ts := range states {
		ts.mu.Lock()
		ts.cancelReconnect()
		ts.mu.Unlock()
	}

	for _, h := range m.registry.Handles() {
		h.close()
	}

	done := make(chan struct{})
	go func() {
		m.consumers.Wait()
		close(done)
	}()

	defer m.cancel()
	select {
	case <-done:
		m.log.Info().Msg("all sessions closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for session consumers: %w", ctx.Err())
	}
}
