// Package protocoltest provides an in-memory protocol.Dialer whose
// connections are driven by the test: the test decides when a challenge
// is issued, when the transport opens, and why it closes.
package protocoltest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/signalix/gateway/internal/protocol"
)

var _ protocol.Dialer = (*Dialer)(nil)
var _ protocol.Conn = (*Conn)(nil)

// Dialer records every dial and hands out fake connections.
type Dialer struct {
	mu    sync.Mutex
	conns []*Conn
	errs  []error

	gate    chan struct{}
	entered chan struct{}
}

// NewDialer returns an empty Dialer.
func NewDialer() *Dialer {
	return &Dialer{}
}

// FailNext makes the next dial return err instead of a connection.
func (d *Dialer) FailNext(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, err)
}

// Hold makes later dials block until release is called. entered
// receives once for every dial that starts blocking.
func (d *Dialer) Hold() (entered <-chan struct{}, release func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	gate := make(chan struct{})
	d.gate = gate
	d.entered = make(chan struct{}, 16)
	var once sync.Once
	return d.entered, func() {
		once.Do(func() {
			d.mu.Lock()
			if d.gate == gate {
				d.gate = nil
			}
			d.mu.Unlock()
			close(gate)
		})
	}
}

func (d *Dialer) Dial(ctx context.Context, tenantID string, auth protocol.AuthState, opts protocol.Options) (protocol.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	gate, entered := d.gate, d.entered
	d.mu.Unlock()
	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return nil, err
	}
	c := newConn(tenantID, auth, opts)
	d.conns = append(d.conns, c)
	return c, nil
}

// DialCount returns how many connections were handed out.
func (d *Dialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// Conns returns every connection handed out, oldest first.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Last returns the most recent connection, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// LiveCount returns how many handed-out connections are not closed.
func (d *Dialer) LiveCount() int {
	n := 0
	for _, c := range d.Conns() {
		if !c.Closed() {
			n++
		}
	}
	return n
}

// Sent is one message recorded by Conn.SendMessage.
type Sent struct {
	To      string
	Content protocol.Content
}

// Conn is a fake connection.
type Conn struct {
	TenantID string
	Auth     protocol.AuthState
	Opts     protocol.Options

	events chan protocol.Event
	phase  atomic.Int32

	mu        sync.Mutex
	closed    bool
	loggedOut bool
	user      *protocol.Identity
	sent      []Sent
	sendErr   error
}

func newConn(tenantID string, auth protocol.AuthState, opts protocol.Options) *Conn {
	c := &Conn{
		TenantID: tenantID,
		Auth:     auth,
		Opts:     opts,
		events:   make(chan protocol.Event, 128),
	}
	c.phase.Store(int32(protocol.PhaseConnecting))
	return c
}

func (c *Conn) Events() <-chan protocol.Event { return c.events }

func (c *Conn) Phase() protocol.Phase { return protocol.Phase(c.phase.Load()) }

// SetPhase forces the reported transport phase.
func (c *Conn) SetPhase(p protocol.Phase) { c.phase.Store(int32(p)) }

func (c *Conn) User() *protocol.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Emit delivers ev unless the connection already finished.
func (c *Conn) Emit(ev protocol.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events <- ev
	return true
}

// Challenge emits a QR challenge.
func (c *Conn) Challenge(qr string) bool {
	return c.Emit(protocol.Event{Kind: protocol.EventChallenge, QR: qr})
}

// Open marks the transport open and authenticated as user.
func (c *Conn) Open(user protocol.Identity) bool {
	c.mu.Lock()
	c.user = &user
	c.mu.Unlock()
	c.SetPhase(protocol.PhaseOpen)
	return c.Emit(protocol.Event{Kind: protocol.EventOpen})
}

// RotateCreds emits a credential rotation carrying partial.
func (c *Conn) RotateCreds(partial protocol.Creds) bool {
	return c.Emit(protocol.Event{Kind: protocol.EventCredsUpdate, Creds: partial})
}

// Receive emits inbound messages.
func (c *Conn) Receive(msgs ...protocol.InboundMessage) bool {
	return c.Emit(protocol.Event{Kind: protocol.EventMessages, Messages: msgs})
}

// Disconnect closes the transport from the remote side with reason.
func (c *Conn) Disconnect(reason protocol.DisconnectReason) bool {
	return c.finish(reason, errors.New("remote closed: "+reason.String()))
}

func (c *Conn) finish(reason protocol.DisconnectReason, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.phase.Store(int32(protocol.PhaseClosed))
	c.events <- protocol.Event{Kind: protocol.EventClose, Reason: reason, Err: err}
	c.closed = true
	close(c.events)
	return true
}

// FailSends makes every later SendMessage return err.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *Conn) SendMessage(ctx context.Context, to string, content protocol.Content, opts protocol.Options) (protocol.SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return protocol.SendResult{}, protocol.ErrClosed
	}
	if c.sendErr != nil {
		return protocol.SendResult{}, c.sendErr
	}
	c.sent = append(c.sent, Sent{To: to, Content: content})
	return protocol.SendResult{ID: "msg-" + to}, nil
}

// Sent returns the messages sent so far.
func (c *Conn) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

func (c *Conn) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return protocol.ErrClosed
	}
	c.loggedOut = true
	return nil
}

// LoggedOut reports whether Logout was called on an open connection.
func (c *Conn) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

// Close ends the connection locally, delivering a final close event.
func (c *Conn) Close() error {
	c.finish(protocol.ReasonConnectionClosed, errors.New("closed locally"))
	return nil
}

// Closed reports whether the connection finished.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
