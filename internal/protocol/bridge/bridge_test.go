package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalix/gateway/internal/credstore"
	"github.com/signalix/gateway/internal/protocol"
	"github.com/signalix/gateway/internal/repo/repofake"
)

const timeout = 2 * time.Second

type fakeBridge struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	auth  chan string
}

func newFakeBridge(t *testing.T) *fakeBridge {
	t.Helper()
	b := &fakeBridge{conns: make(chan *websocket.Conn, 1), auth: make(chan string, 1)}
	upgrader := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/sessions/") {
			http.NotFound(w, r)
			return
		}
		b.auth <- r.Header.Get("Authorization")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.conns <- ws
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBridge) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *fakeBridge) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-b.conns:
		t.Cleanup(func() { ws.Close() })
		return ws
	case <-time.After(timeout):
		t.Fatal("bridge saw no connection")
		return nil
	}
}

func nextEvent(t *testing.T, c protocol.Conn) protocol.Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "event stream closed early")
		return ev
	case <-time.After(timeout):
		t.Fatal("no event")
		return protocol.Event{}
	}
}

func dial(t *testing.T, b *fakeBridge) (protocol.Conn, *credstore.Store) {
	t.Helper()
	store, err := credstore.Load(context.Background(), repofake.NewAuthRepo(), "tenant-1", zerolog.Nop())
	require.NoError(t, err)

	d, err := NewDialer(b.url(), "secret", zerolog.Nop())
	require.NoError(t, err)
	conn, err := d.Dial(context.Background(), "tenant-1", store.AuthState(), protocol.Options{"qrTimeout": 1000})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, store
}

func TestNewDialer_RejectsScheme(t *testing.T) {
	_, err := NewDialer("http://localhost:9000", "", zerolog.Nop())
	assert.Error(t, err)
}

func TestConn_Session(t *testing.T) {
	b := newFakeBridge(t)
	conn, store := dial(t, b)
	ws := b.accept(t)
	assert.Equal(t, "Bearer secret", <-b.auth)

	var hello frame
	require.NoError(t, ws.ReadJSON(&hello))
	assert.Equal(t, frameHello, hello.Type)
	assert.Equal(t, "tenant-1", hello.Tenant)
	assert.EqualValues(t, 1000, hello.Options["qrTimeout"])
	creds, err := credstore.Unmarshal(hello.Creds)
	require.NoError(t, err)
	assert.Equal(t, map[string]any(store.Creds()), creds)

	require.NoError(t, ws.WriteJSON(frame{Type: frameConnection, State: stateQR, QR: "2@ref"}))
	ev := nextEvent(t, conn)
	assert.Equal(t, protocol.EventChallenge, ev.Kind)
	assert.Equal(t, "2@ref", ev.QR)

	require.NoError(t, ws.WriteJSON(frame{
		Type: frameKeysSet,
		Keys: json.RawMessage(`{"pre-key":{"1":{"__type":"Buffer","data":[7,8]},"2":null}}`),
	}))
	require.NoError(t, ws.WriteJSON(frame{Type: frameKeysGet, ID: "k1", KeyType: "pre-key", IDs: []string{"1", "2"}}))
	var reply frame
	require.NoError(t, ws.ReadJSON(&reply))
	assert.Equal(t, frameKeysResult, reply.Type)
	assert.Equal(t, "k1", reply.ID)
	keys, err := credstore.Unmarshal(reply.Keys)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"1": []byte{7, 8}}, keys)
	assert.Equal(t, []byte{7, 8}, store.Get(protocol.KeyPreKey, []string{"1"})["1"])

	require.NoError(t, ws.WriteJSON(frame{Type: frameKeysGet, ID: "k2", KeyType: "bogus"}))
	require.NoError(t, ws.ReadJSON(&reply))
	assert.Equal(t, "k2", reply.ID)
	assert.NotEmpty(t, reply.Error)

	require.NoError(t, ws.WriteJSON(frame{Type: frameCredsUpdate, Creds: json.RawMessage(`{"registered":true}`)}))
	ev = nextEvent(t, conn)
	assert.Equal(t, protocol.EventCredsUpdate, ev.Kind)
	assert.Equal(t, true, ev.Creds["registered"])

	require.NoError(t, ws.WriteJSON(frame{Type: frameConnection, State: stateOpen, User: &protocol.Identity{ID: "628123@s.whatsapp.net"}}))
	ev = nextEvent(t, conn)
	assert.Equal(t, protocol.EventOpen, ev.Kind)
	assert.Equal(t, protocol.PhaseOpen, conn.Phase())
	assert.Equal(t, "628123@s.whatsapp.net", conn.User().ID)

	require.NoError(t, ws.WriteJSON(frame{Type: frameMessages, Messages: []protocol.InboundMessage{{ID: "m", RemoteJID: "1@s.whatsapp.net", Text: "hey"}}}))
	ev = nextEvent(t, conn)
	require.Len(t, ev.Messages, 1)
	assert.Equal(t, "hey", ev.Messages[0].Text)

	type sendOutcome struct {
		res protocol.SendResult
		err error
	}
	sent := make(chan sendOutcome, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res, err := conn.SendMessage(ctx, "628123@s.whatsapp.net", protocol.Content{"text": "hi"}, nil)
		sent <- sendOutcome{res, err}
	}()
	var req frame
	require.NoError(t, ws.ReadJSON(&req))
	assert.Equal(t, frameSend, req.Type)
	assert.Equal(t, "628123@s.whatsapp.net", req.To)
	assert.Equal(t, "hi", req.Content["text"])
	require.NoError(t, ws.WriteJSON(frame{Type: frameResult, ID: req.ID, MessageID: "ABC"}))
	out := <-sent
	require.NoError(t, out.err)
	assert.Equal(t, "ABC", out.res.ID)

	require.NoError(t, ws.WriteJSON(frame{Type: frameConnection, State: stateClose, Reason: 401}))
	ev = nextEvent(t, conn)
	assert.Equal(t, protocol.EventClose, ev.Kind)
	assert.True(t, ev.Reason.LoggedOut())
	assert.Equal(t, protocol.PhaseClosed, conn.Phase())

	select {
	case _, ok := <-conn.Events():
		assert.False(t, ok)
	case <-time.After(timeout):
		t.Fatal("event stream not closed")
	}

	_, err = conn.SendMessage(context.Background(), "x", protocol.Content{"text": "late"}, nil)
	assert.ErrorIs(t, err, protocol.ErrClosed)
}

func TestConn_SendError(t *testing.T) {
	b := newFakeBridge(t)
	conn, _ := dial(t, b)
	ws := b.accept(t)
	var hello frame
	require.NoError(t, ws.ReadJSON(&hello))

	errc := make(chan error, 1)
	go func() {
		_, err := conn.SendMessage(context.Background(), "x", protocol.Content{"text": "hi"}, nil)
		errc <- err
	}()
	var req frame
	require.NoError(t, ws.ReadJSON(&req))
	require.NoError(t, ws.WriteJSON(frame{Type: frameResult, ID: req.ID, Error: "not on whatsapp"}))
	err := <-errc
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not on whatsapp")
}

func TestConn_LocalClose(t *testing.T) {
	b := newFakeBridge(t)
	conn, _ := dial(t, b)
	b.accept(t)

	require.NoError(t, conn.Close())
	ev := nextEvent(t, conn)
	assert.Equal(t, protocol.EventClose, ev.Kind)
	assert.Equal(t, protocol.ReasonConnectionClosed, ev.Reason)
	assert.Equal(t, protocol.PhaseClosed, conn.Phase())
	require.NoError(t, conn.Close())

	err := conn.Logout(context.Background())
	assert.ErrorIs(t, err, protocol.ErrClosed)
}

func TestDial_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusUnauthorized)
	}))
	defer srv.Close()

	d, err := NewDialer("ws"+strings.TrimPrefix(srv.URL, "http"), "", zerolog.Nop())
	require.NoError(t, err)
	store, err := credstore.Load(context.Background(), repofake.NewAuthRepo(), "tenant-1", zerolog.Nop())
	require.NoError(t, err)
	_, err = d.Dial(context.Background(), "tenant-1", store.AuthState(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
