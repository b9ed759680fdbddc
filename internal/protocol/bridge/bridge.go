// Package bridge implements protocol.Dialer over a websocket to a
// protocol bridge process, which runs the chat protocol on the
// gateway's behalf. Each tenant connection is one websocket.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/signalix/gateway/internal/credstore"
	"github.com/signalix/gateway/internal/protocol"
)

const (
	handshakeTimeout = 15 * time.Second
	writeTimeout     = 10 * time.Second
	pingInterval     = 30 * time.Second
	pongWait         = 75 * time.Second
	maxFrameSize     = 16 << 20
)

var errBridge = errors.New("bridge error")

// Dialer opens tenant connections on a bridge.
type Dialer struct {
	baseURL string
	token   string
	ws      *websocket.Dialer
	log     zerolog.Logger
}

var _ protocol.Dialer = (*Dialer)(nil)

// NewDialer returns a Dialer for the bridge at baseURL (ws:// or
// wss://). A non-empty token is sent as a bearer Authorization header.
func NewDialer(baseURL, token string, logger zerolog.Logger) (*Dialer, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid bridge URL scheme %q (want ws or wss)", u.Scheme)
	}
	return &Dialer{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		log: logger.With().Str("component", "bridge").Logger(),
	}, nil
}

// Dial connects tenantID and sends its credentials to the bridge.
func (d *Dialer) Dial(ctx context.Context, tenantID string, auth protocol.AuthState, opts protocol.Options) (protocol.Conn, error) {
	creds, err := credstore.Marshal(map[string]any(auth.Creds))
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if d.token != "" {
		header.Set("Authorization", "Bearer "+d.token)
	}
	endpoint := d.baseURL + "/sessions/" + url.PathEscape(tenantID)
	ws, resp, err := d.ws.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial bridge: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial bridge: %w", err)
	}
	ws.SetReadLimit(maxFrameSize)

	c := newConn(ws, auth.Keys, d.log.With().Str("session_id", tenantID).Logger())
	if err := c.write(frame{Type: frameHello, Tenant: tenantID, Creds: []byte(creds), Options: opts}); err != nil {
		ws.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}
	go c.readLoop()
	go c.pump()
	go c.keepAlive()
	return c, nil
}

// Conn is one tenant connection on the bridge.
type Conn struct {
	ws   *websocket.Conn
	keys protocol.KeyStore
	log  zerolog.Logger

	writeMu sync.Mutex
	phase   atomic.Int32
	user    atomic.Pointer[protocol.Identity]

	// Events are queued without bound so the read loop keeps answering
	// key lookups and results while the consumer is busy.
	queueMu sync.Mutex
	queue   []protocol.Event
	queued  *sync.Cond
	ended   bool
	events  chan protocol.Event

	pendingMu sync.Mutex
	pending   map[string]chan frame

	closedLocally atomic.Bool
	done          chan struct{}
}

var _ protocol.Conn = (*Conn)(nil)

func newConn(ws *websocket.Conn, keys protocol.KeyStore, logger zerolog.Logger) *Conn {
	c := &Conn{
		ws:      ws,
		keys:    keys,
		log:     logger,
		events:  make(chan protocol.Event),
		pending: make(map[string]chan frame),
		done:    make(chan struct{}),
	}
	c.queued = sync.NewCond(&c.queueMu)
	c.phase.Store(int32(protocol.PhaseConnecting))
	return c
}

func (c *Conn) Events() <-chan protocol.Event { return c.events }

func (c *Conn) Phase() protocol.Phase { return protocol.Phase(c.phase.Load()) }

func (c *Conn) User() *protocol.Identity { return c.user.Load() }

func (c *Conn) write(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(f)
}

// request writes f with a fresh id and waits for the matching result.
func (c *Conn) request(ctx context.Context, f frame) (frame, error) {
	f.ID = uuid.NewString()
	ch := make(chan frame, 1)

	c.pendingMu.Lock()
	c.pending[f.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, f.ID)
		c.pendingMu.Unlock()
	}()

	select {
	case <-c.done:
		return frame{}, protocol.ErrClosed
	default:
	}
	if err := c.write(f); err != nil {
		return frame{}, fmt.Errorf("write %s: %w", f.Type, err)
	}

	select {
	case res := <-ch:
		if res.Error != "" {
			return res, fmt.Errorf("%w: %s", errBridge, res.Error)
		}
		return res, nil
	case <-c.done:
		return frame{}, protocol.ErrClosed
	case <-ctx.Done():
		return frame{}, ctx.Err()
	}
}

func (c *Conn) SendMessage(ctx context.Context, to string, content protocol.Content, opts protocol.Options) (protocol.SendResult, error) {
	res, err := c.request(ctx, frame{Type: frameSend, To: to, Content: content, Options: opts})
	if err != nil {
		return protocol.SendResult{}, err
	}
	return protocol.SendResult{ID: res.MessageID, Raw: res.Raw}, nil
}

func (c *Conn) Logout(ctx context.Context) error {
	_, err := c.request(ctx, frame{Type: frameLogout})
	return err
}

// Close ends the websocket. The read loop then delivers the final close
// event.
func (c *Conn) Close() error {
	if !c.closedLocally.CompareAndSwap(false, true) {
		return nil
	}
	c.phase.Store(int32(protocol.PhaseClosing))
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *Conn) enqueue(ev protocol.Event) {
	c.queueMu.Lock()
	c.queue = append(c.queue, ev)
	c.queueMu.Unlock()
	c.queued.Signal()
}

func (c *Conn) endQueue() {
	c.queueMu.Lock()
	c.ended = true
	c.queueMu.Unlock()
	c.queued.Signal()
}

// pump moves queued events to the events channel and closes it once the
// read loop ended and the queue drained.
func (c *Conn) pump() {
	defer close(c.events)
	for {
		c.queueMu.Lock()
		for len(c.queue) == 0 && !c.ended {
			c.queued.Wait()
		}
		if len(c.queue) == 0 {
			c.queueMu.Unlock()
			return
		}
		ev := c.queue[0]
		c.queue = c.queue[1:]
		c.queueMu.Unlock()
		c.events <- ev
	}
}

func (c *Conn) keepAlive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Conn) readLoop() {
	reason := protocol.ReasonConnectionLost
	var cause error
	defer func() {
		c.phase.Store(int32(protocol.PhaseClosed))
		close(c.done)
		c.ws.Close()
		if c.closedLocally.Load() && reason == protocol.ReasonConnectionLost {
			reason = protocol.ReasonConnectionClosed
		}
		c.enqueue(protocol.Event{Kind: protocol.EventClose, Reason: reason, Err: cause})
		c.endQueue()
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			cause = err
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if f.Type == frameConnection && f.State == stateClose {
			reason = protocol.DisconnectReason(f.Reason)
			if f.Error != "" {
				cause = errors.New(f.Error)
			}
			return
		}
		if err := c.handle(f); err != nil {
			c.log.Warn().Err(err).Str("frame", f.Type).Msg("dropping bridge frame")
		}
	}
}

func (c *Conn) handle(f frame) error {
	switch f.Type {
	case frameConnection:
		switch f.State {
		case stateConnecting:
			c.phase.Store(int32(protocol.PhaseConnecting))
			c.enqueue(protocol.Event{Kind: protocol.EventConnecting})
		case stateQR:
			c.enqueue(protocol.Event{Kind: protocol.EventChallenge, QR: f.QR})
		case stateOpen:
			if f.User != nil {
				c.user.Store(f.User)
			}
			c.phase.Store(int32(protocol.PhaseOpen))
			c.enqueue(protocol.Event{Kind: protocol.EventOpen})
		default:
			return fmt.Errorf("unknown connection state %q", f.State)
		}
	case frameCredsUpdate:
		v, err := credstore.Unmarshal(f.Creds)
		if err != nil {
			return err
		}
		partial, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("creds update is %T, want object", v)
		}
		c.enqueue(protocol.Event{Kind: protocol.EventCredsUpdate, Creds: protocol.Creds(partial)})
	case frameKeysGet:
		return c.answerKeysGet(f)
	case frameKeysSet:
		updates, err := decodeKeyUpdates(f.Keys)
		if err != nil {
			return err
		}
		c.keys.Set(updates)
	case frameMessages:
		if len(f.Messages) > 0 {
			c.enqueue(protocol.Event{Kind: protocol.EventMessages, Messages: f.Messages})
		}
	case frameResult:
		c.pendingMu.Lock()
		ch, ok := c.pending[f.ID]
		c.pendingMu.Unlock()
		if !ok {
			return fmt.Errorf("result for unknown request %q", f.ID)
		}
		ch <- f
	default:
		return fmt.Errorf("unknown frame type %q", f.Type)
	}
	return nil
}

func (c *Conn) answerKeysGet(f frame) error {
	reply := frame{Type: frameKeysResult, ID: f.ID}
	kind, ok := protocol.ParseKeyKind(f.KeyType)
	if !ok {
		reply.Error = "unknown key type " + f.KeyType
	} else {
		encoded, err := credstore.Marshal(c.keys.Get(kind, f.IDs))
		if err != nil {
			reply.Error = err.Error()
		} else {
			reply.Keys = []byte(encoded)
		}
	}
	return c.write(reply)
}

// decodeKeyUpdates parses {"<kind>": {"<id>": value|null}}.
func decodeKeyUpdates(raw []byte) (protocol.KeyUpdates, error) {
	v, err := credstore.Unmarshal(raw)
	if err != nil {
		return nil, err
	}
	byKind, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("key update is %T, want object", v)
	}
	updates := make(protocol.KeyUpdates, len(byKind))
	for name, entries := range byKind {
		kind, ok := protocol.ParseKeyKind(name)
		if !ok {
			return nil, fmt.Errorf("unknown key type %q", name)
		}
		m, ok := entries.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("keys of %s are %T, want object", name, entries)
		}
		updates[kind] = m
	}
	return updates, nil
}
