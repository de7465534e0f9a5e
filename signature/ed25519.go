package signature

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// Ed25519Signer signs requests with an agent's private key.
type Ed25519Signer struct {
	PrivateKey ed25519.PrivateKey
}

// Sign implements [Signer].
func (s Ed25519Signer) Sign(ts time.Time, canonicalBody []byte) (string, error) {
	if len(s.PrivateKey) != ed25519.PrivateKeySize {
		return "", errors.New("signature: ed25519 private key has the wrong size")
	}
	sig := ed25519.Sign(s.PrivateKey, BuildSigningPayload(ts, canonicalBody))
	return base64.RawURLEncoding.EncodeToString(sig), nil
}

// Ed25519 verifies requests against the public keys of known agents. The
// KeyID function selects the key id from the request, typically a header;
// when it is nil every key is tried.
type Ed25519 struct {
	Keys  map[string]ed25519.PublicKey
	KeyID func(Material) string
}

// Verify implements [Verifier].
func (v Ed25519) Verify(_ context.Context, m Material) error {
	sig, err := base64.RawURLEncoding.DecodeString(m.Signature)
	if err != nil {
		return fmt.Errorf("signature: decode signature: %w", err)
	}
	payload := BuildSigningPayload(m.Timestamp, m.CanonicalBody)
	if v.KeyID != nil {
		if !verifyEd25519(v.Keys[v.KeyID(m)], payload, sig) {
			return ErrInvalidSignature
		}
		return nil
	}
	for _, key := range v.Keys {
		if verifyEd25519(key, payload, sig) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// verifyEd25519 treats a malformed public key as a mismatch;
// ed25519.Verify panics on one.
func verifyEd25519(key ed25519.PublicKey, payload, sig []byte) bool {
	return len(key) == ed25519.PublicKeySize && ed25519.Verify(key, payload, sig)
}
