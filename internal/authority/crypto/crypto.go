// Package crypto implements the authority engine's cryptographic
// primitives (spec.md §4.A): keypair generation, mandate signing and
// verification, and RFC-6962-style Merkle tree construction over the
// ledger. As in the teacher codebase's own crypto package, every primitive
// here is built on the standard library only — no third-party signature or
// Merkle library appears anywhere in the reference corpus for this class of
// operation.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// KeyPair is an Ed25519 signing keypair.
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateKeyPair produces a new Ed25519 keypair. Malformed entropy sources
// are a fatal configuration error by construction of crypto/rand.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate keypair: %w", err)
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// Sign produces a deterministic Ed25519 signature over message.
func Sign(priv ed25519.PrivateKey, message []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	return ed25519.Sign(priv, message), nil
}

// Verify reports whether signature is a valid Ed25519 signature over message
// under pub. Never panics or returns an error for a bad signature — a
// verification failure is always a plain `false`, per spec.md §4.A.
func Verify(pub ed25519.PublicKey, message, signature []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, message, signature)
}

// SignMandate signs the canonical encoding of f with priv.
func SignMandate(priv ed25519.PrivateKey, f MandateFields) ([]byte, error) {
	return Sign(priv, CanonicalEncode(f))
}

// VerifyMandate verifies sig over the canonical encoding of f under pub.
func VerifyMandate(pub ed25519.PublicKey, f MandateFields, sig []byte) bool {
	return Verify(pub, CanonicalEncode(f), sig)
}

// Hash256 returns the SHA-256 digest of data.
func Hash256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}
