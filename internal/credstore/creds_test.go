package credstore

import (
	"crypto/ed25519"
	"testing"

	"filippo.io/edwards25519/field"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// edwardsPublic maps a Montgomery u-coordinate to the Ed25519 encoding of
// y = (u-1)/(u+1) with the sign bit cleared.
func edwardsPublic(t *testing.T, u []byte) ed25519.PublicKey {
	t.Helper()
	x, err := new(field.Element).SetBytes(u)
	require.NoError(t, err)
	one := new(field.Element).One()
	num := new(field.Element).Subtract(x, one)
	den := new(field.Element).Add(x, one)
	y := new(field.Element).Multiply(num, new(field.Element).Invert(den))
	out := y.Bytes()
	out[31] &= 0x7F
	return ed25519.PublicKey(out)
}

func signedPreKey(t *testing.T, creds map[string]any) (msg, sig []byte) {
	t.Helper()
	spk := creds["signedPreKey"].(map[string]any)
	pub := spk["keyPair"].(map[string]any)["public"].([]byte)
	return append([]byte{signalKeyType}, pub...), spk["signature"].([]byte)
}

func TestNewCreds_SignedPreKeyVerifiesUnderIdentity(t *testing.T) {
	for i := 0; i < 16; i++ {
		creds, err := NewCreds()
		require.NoError(t, err)

		identity := creds["signedIdentityKey"].(map[string]any)["public"].([]byte)
		msg, sig := signedPreKey(t, creds)
		require.Len(t, sig, ed25519.SignatureSize)
		assert.True(t, ed25519.Verify(edwardsPublic(t, identity), msg, sig))
	}
}

func TestNewCreds_SignatureBoundToIdentity(t *testing.T) {
	a, err := NewCreds()
	require.NoError(t, err)
	b, err := NewCreds()
	require.NoError(t, err)

	other := b["signedIdentityKey"].(map[string]any)["public"].([]byte)
	msg, sig := signedPreKey(t, a)
	assert.False(t, ed25519.Verify(edwardsPublic(t, other), msg, sig))

	tampered := append([]byte(nil), msg...)
	tampered[1] ^= 1
	own := a["signedIdentityKey"].(map[string]any)["public"].([]byte)
	assert.False(t, ed25519.Verify(edwardsPublic(t, own), tampered, sig))
}

func TestNewCreds_Shape(t *testing.T) {
	creds, err := NewCreds()
	require.NoError(t, err)

	_, ok := validCreds(map[string]any(creds))
	assert.True(t, ok)
	assert.Equal(t, false, creds["registered"])
	for _, key := range []string{"noiseKey", "pairingEphemeralKeyPair", "signedIdentityKey"} {
		pair := creds[key].(map[string]any)
		assert.Len(t, pair["private"], 32, key)
		assert.Len(t, pair["public"], 32, key)
	}
}
