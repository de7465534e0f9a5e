package signature

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HMAC signs and verifies with a key shared between agent and server
// (HMAC-SHA256).
type HMAC struct {
	Key []byte
}

// Sign implements [Signer].
func (h HMAC) Sign(ts time.Time, canonicalBody []byte) (string, error) {
	mac, err := h.mac(ts, canonicalBody)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(mac), nil
}

// Verify implements [Verifier].
func (h HMAC) Verify(_ context.Context, m Material) error {
	want, err := h.mac(m.Timestamp, m.CanonicalBody)
	if err != nil {
		return err
	}
	got, err := base64.RawURLEncoding.DecodeString(m.Signature)
	if err != nil {
		return fmt.Errorf("signature: decode signature: %w", err)
	}
	if !hmac.Equal(got, want) {
		return ErrInvalidSignature
	}
	return nil
}

// SignRequest is [Attach] with h as the signer.
func (h HMAC) SignRequest(req *http.Request, body []byte, now time.Time) error {
	return Attach(req, h, body, now)
}

func (h HMAC) mac(ts time.Time, canonicalBody []byte) ([]byte, error) {
	if len(h.Key) == 0 {
		return nil, errors.New("signature: HMAC key is empty")
	}
	mac := hmac.New(sha256.New, h.Key)
	mac.Write(BuildSigningPayload(ts, canonicalBody))
	return mac.Sum(nil), nil
}
