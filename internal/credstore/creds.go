package credstore

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/signalix/gateway/internal/protocol"
)

// signalKeyType prefixes a Curve25519 public key in its signed encoding.
const signalKeyType = 0x05

// NewCreds synthesizes a fresh, unregistered credential set: noise,
// ephemeral pairing, identity and signed pre-key pairs, a registration
// id, and an ADV secret.
func NewCreds() (protocol.Creds, error) {
	noise, err := newKeyPair()
	if err != nil {
		return nil, fmt.Errorf("noise key: %w", err)
	}
	ephemeral, err := newKeyPair()
	if err != nil {
		return nil, fmt.Errorf("pairing ephemeral key: %w", err)
	}
	identity, err := newKeyPair()
	if err != nil {
		return nil, fmt.Errorf("identity key: %w", err)
	}
	preKey, err := newKeyPair()
	if err != nil {
		return nil, fmt.Errorf("signed pre-key: %w", err)
	}

	// XEdDSA over the type-prefixed public key with the identity key.
	signed := append([]byte{signalKeyType}, preKey["public"].([]byte)...)
	signature, err := xeddsaSign(identity["private"].([]byte), signed)
	if err != nil {
		return nil, fmt.Errorf("sign pre-key: %w", err)
	}

	var regID [2]byte
	if _, err := rand.Read(regID[:]); err != nil {
		return nil, fmt.Errorf("registration id: %w", err)
	}
	advSecret := make([]byte, 32)
	if _, err := rand.Read(advSecret); err != nil {
		return nil, fmt.Errorf("adv secret: %w", err)
	}

	return protocol.Creds{
		"noiseKey":                noise,
		"pairingEphemeralKeyPair": ephemeral,
		"signedIdentityKey":       identity,
		"signedPreKey": map[string]any{
			"keyPair":   preKey,
			"signature": signature,
			"keyId":     json.Number("1"),
		},
		"registrationId":           json.Number(fmt.Sprint(binary.BigEndian.Uint16(regID[:]) & 16383)),
		"advSecretKey":             base64.StdEncoding.EncodeToString(advSecret),
		"processedHistoryMessages": []any{},
		"nextPreKeyId":             json.Number("1"),
		"firstUnuploadedPreKeyId":  json.Number("1"),
		"accountSyncCounter":       json.Number("0"),
		"accountSettings":          map[string]any{"unarchiveChats": false},
		"registered":               false,
	}, nil
}

// newKeyPair returns a clamped Curve25519 key pair.
func newKeyPair() (map[string]any, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, err
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	return map[string]any{"private": priv, "public": pub}, nil
}

// validCreds reports whether a decoded root record is usable.
func validCreds(v any) (protocol.Creds, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	creds := protocol.Creds(m)
	if _, ok := creds.NoiseKey(); !ok {
		return nil, false
	}
	return creds, true
}
