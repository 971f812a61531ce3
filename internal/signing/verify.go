package signing

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

var ErrInvalidSignature = errors.New("signature verification failed")

// Verifier checks a signature over a canonical message encoding against an
// account's registered signing key.
type Verifier interface {
	Verify(message, signature, publicKey []byte) bool
}

// Ed25519Verifier verifies ed25519 signatures, the scheme clients sign order
// messages with.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(message, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

// DigestSignature computes a signed message's replay identity: the base64
// SHA-256 digest of its signature bytes.
func DigestSignature(signature []byte) string {
	sum := sha256.Sum256(signature)
	return base64.StdEncoding.EncodeToString(sum[:])
}
