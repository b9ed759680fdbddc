package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// hashPrefix marks an API_KEYS entry that is already a SHA-256 hex digest.
const hashPrefix = "sha256:"

// GenerateAPIKey returns a random Base64URL key (32 bytes) and its SHA256 hash as hex
func GenerateAPIKey() (key string, hashHex string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	key = base64.RawURLEncoding.EncodeToString(b)
	return key, HashAPIKey(key), nil
}

// HashAPIKey returns SHA256 hex of the key
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// Fingerprint is a short, loggable identifier for a key hash.
func Fingerprint(hashHex string) string {
	if len(hashHex) > 12 {
		return hashHex[:12]
	}
	return hashHex
}

// KeySet holds the hashes of the accepted API keys.
type KeySet struct {
	hashes [][]byte
}

// NewKeySet builds a KeySet from plain keys or "sha256:<hex>" digests.
// Entries that are neither are ignored.
func NewKeySet(entries []string) *KeySet {
	ks := &KeySet{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		hashHex := HashAPIKey(e)
		if strings.HasPrefix(e, hashPrefix) {
			hashHex = strings.ToLower(strings.TrimPrefix(e, hashPrefix))
		}
		b, err := hex.DecodeString(hashHex)
		if err != nil || len(b) != sha256.Size {
			continue
		}
		ks.hashes = append(ks.hashes, b)
	}
	return ks
}

// Len returns the number of accepted keys.
func (ks *KeySet) Len() int {
	if ks == nil {
		return 0
	}
	return len(ks.hashes)
}

// Match reports whether key is accepted and returns its fingerprint.
// Every stored hash is compared so the timing does not depend on the match position.
func (ks *KeySet) Match(key string) (string, bool) {
	if ks == nil || key == "" {
		return "", false
	}
	sum := sha256.Sum256([]byte(key))
	found := 0
	for _, h := range ks.hashes {
		found |= subtle.ConstantTimeCompare(sum[:], h)
	}
	if found != 1 {
		return "", false
	}
	return Fingerprint(hex.EncodeToString(sum[:])), true
}
