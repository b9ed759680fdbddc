package credstore

import (
	"crypto/rand"
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
)

// hash1Prefix domain-separates the XEdDSA nonce hash from plain Ed25519.
var hash1Prefix = func() []byte {
	p := make([]byte, 32)
	p[0] = 0xFE
	for i := 1; i < len(p); i++ {
		p[i] = 0xFF
	}
	return p
}()

// xeddsaSign signs msg with a Curve25519 private key so that the signature
// verifies as Ed25519 under the Edwards form of the matching public key
// with its sign bit cleared.
func xeddsaSign(priv, msg []byte) ([]byte, error) {
	a, err := edwards25519.NewScalar().SetBytesWithClamping(priv)
	if err != nil {
		return nil, fmt.Errorf("private scalar: %w", err)
	}
	A := new(edwards25519.Point).ScalarBaseMult(a)
	if A.Bytes()[31]&0x80 != 0 {
		a.Negate(a)
		A.ScalarBaseMult(a)
	}
	pub := A.Bytes()

	z := make([]byte, 64)
	if _, err := rand.Read(z); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	h := sha512.New()
	h.Write(hash1Prefix)
	h.Write(a.Bytes())
	h.Write(msg)
	h.Write(z)
	r, err := edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))
	if err != nil {
		return nil, err
	}
	R := new(edwards25519.Point).ScalarBaseMult(r).Bytes()

	h.Reset()
	h.Write(R)
	h.Write(pub)
	h.Write(msg)
	k, err := edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))
	if err != nil {
		return nil, err
	}
	s := edwards25519.NewScalar().MultiplyAdd(k, a, r)

	return append(R, s.Bytes()...), nil
}
