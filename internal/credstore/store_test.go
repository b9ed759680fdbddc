package credstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalix/gateway/internal/credstore"
	"github.com/signalix/gateway/internal/protocol"
	"github.com/signalix/gateway/internal/repo/repofake"
)

const tenant = "tenant-1"

func load(t *testing.T, r *repofake.AuthRepo) *credstore.Store {
	t.Helper()
	s, err := credstore.Load(context.Background(), r, tenant, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestLoad_FreshCredentials(t *testing.T) {
	s := load(t, repofake.NewAuthRepo())

	assert.False(t, s.Restored())
	creds := s.Creds()
	noise, ok := creds.NoiseKey()
	require.True(t, ok)
	pair := noise.(map[string]any)
	assert.Len(t, pair["private"], 32)
	assert.Len(t, pair["public"], 32)
	assert.Equal(t, false, creds["registered"])
}

func TestSaveLoad_RoundTripsNestedBytes(t *testing.T) {
	ctx := context.Background()
	r := repofake.NewAuthRepo()

	s := load(t, r)
	s.MergeCreds(protocol.Creds{
		"me":     map[string]any{"id": "628123@s.whatsapp.net"},
		"nested": []any{map[string]any{"blob": []byte{0, 255, 3}}, []byte{}},
	})
	s.Set(protocol.KeyUpdates{
		protocol.KeyPreKey:  {"1": map[string]any{"private": []byte{1, 2}, "public": []byte{3, 4}}},
		protocol.KeySession: {"628123.0": []byte{5, 6, 7}},
	})
	require.NoError(t, s.Save(ctx))
	original := s.Creds()

	assert.Equal(t, []string{"creds.json", "pre-key.json", "session.json"}, r.Keys(tenant))

	restored := load(t, r)
	assert.True(t, restored.Restored())
	assert.Equal(t, original, restored.Creds())

	got := restored.Get(protocol.KeyPreKey, []string{"1", "2"})
	require.Len(t, got, 1)
	assert.Equal(t, []byte{1, 2}, got["1"].(map[string]any)["private"])
	assert.Equal(t, []byte{5, 6, 7}, restored.Get(protocol.KeySession, []string{"628123.0"})["628123.0"])

	nested := restored.Creds()["nested"].([]any)
	assert.Equal(t, []byte{0, 255, 3}, nested[0].(map[string]any)["blob"])
	assert.Equal(t, []byte{}, nested[1])
}

func TestGet_MissingIDsAbsent(t *testing.T) {
	s := load(t, repofake.NewAuthRepo())
	assert.Empty(t, s.Get(protocol.KeySenderKey, []string{"a", "b"}))
}

func TestSet_NilDeletesAndEmptiedBucketIsRewritten(t *testing.T) {
	ctx := context.Background()
	r := repofake.NewAuthRepo()
	s := load(t, r)

	s.Set(protocol.KeyUpdates{protocol.KeyPreKey: {"1": []byte{1}}})
	require.NoError(t, s.Save(ctx))

	s.Set(protocol.KeyUpdates{protocol.KeyPreKey: {"1": nil}})
	assert.Empty(t, s.Get(protocol.KeyPreKey, []string{"1"}))
	require.NoError(t, s.Save(ctx))

	v, ok := r.Value(tenant, "pre-key.json")
	require.True(t, ok)
	assert.JSONEq(t, `{}`, v)
	assert.Empty(t, load(t, r).Get(protocol.KeyPreKey, []string{"1"}))
}

func TestSet_IgnoresUnknownKind(t *testing.T) {
	ctx := context.Background()
	r := repofake.NewAuthRepo()
	s := load(t, r)
	s.Set(protocol.KeyUpdates{protocol.KeyKind("bogus"): {"1": []byte{1}}})
	require.NoError(t, s.Save(ctx))
	assert.Equal(t, []string{"creds.json"}, r.Keys(tenant))
}

func TestGet_ReturnsCopies(t *testing.T) {
	s := load(t, repofake.NewAuthRepo())
	s.Set(protocol.KeyUpdates{protocol.KeySession: {"a": []byte{1}}})
	s.Get(protocol.KeySession, []string{"a"})["a"].([]byte)[0] = 9
	assert.Equal(t, []byte{1}, s.Get(protocol.KeySession, []string{"a"})["a"])
}

func TestLoad_SkipsCorruptAndQuarantinesUnknown(t *testing.T) {
	r := repofake.NewAuthRepo()
	seed := load(t, r)
	require.NoError(t, seed.Save(context.Background()))

	r.Put(tenant, "session.json", `{"broken":`)
	r.Put(tenant, "pre-key.json", `[1,2]`)
	r.Put(tenant, "sender-key.json", `{"g1":{"__type":"Buffer","data":[1]}}`)
	r.Put(tenant, "mystery.json", `{}`)
	r.Put(tenant, "notes.txt", `{}`)

	s := load(t, r)
	assert.True(t, s.Restored())
	assert.Equal(t, seed.Creds(), s.Creds())
	assert.Empty(t, s.Get(protocol.KeySession, []string{"broken"}))
	assert.Equal(t, []byte{1}, s.Get(protocol.KeySenderKey, []string{"g1"})["g1"])
	assert.ElementsMatch(t, []string{"mystery.json", "notes.txt"}, s.Quarantined())
}

func TestLoad_InvalidRootFallsBackToDefaults(t *testing.T) {
	r := repofake.NewAuthRepo()
	r.Put(tenant, "creds.json", `{"registrationId": 5}`)

	s := load(t, r)
	assert.False(t, s.Restored())
	_, ok := s.Creds().NoiseKey()
	assert.True(t, ok)
}

func TestLoad_ReadFailureStartsFresh(t *testing.T) {
	r := repofake.NewAuthRepo()
	r.FailList(errors.New("db down"))

	s := load(t, r)
	assert.False(t, s.Restored())
}

func TestSave_ContinuesPastFailedWrite(t *testing.T) {
	r := repofake.NewAuthRepo()
	r.FailUpsert("creds.json", errors.New("disk full"))

	s := load(t, r)
	s.Set(protocol.KeyUpdates{
		protocol.KeyPreKey:  {"1": []byte{1}},
		protocol.KeySession: {"s": []byte{2}},
	})
	err := s.Save(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creds.json")
	assert.Equal(t, []string{"pre-key.json", "session.json"}, r.Keys(tenant))
}

func TestClear_Idempotent(t *testing.T) {
	ctx := context.Background()
	r := repofake.NewAuthRepo()
	s := load(t, r)
	require.NoError(t, s.Save(ctx))
	require.NotEmpty(t, r.Keys(tenant))

	require.NoError(t, s.Clear(ctx))
	assert.Empty(t, r.Keys(tenant))
	require.NoError(t, s.Clear(ctx))

	n, err := credstore.Clear(ctx, r, tenant)
	require.NoError(t, err)
	assert.Zero(t, n)
}
