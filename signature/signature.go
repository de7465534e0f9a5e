// Package signature signs and verifies halo HTTP requests.
//
// A request is signed over `RFC3339Nano(timestamp) + "." + canonicalJSON(body)`.
// The result travels base64url-encoded in the Signature header, next to the
// Timestamp header it was computed with. Canonical JSON sorts object keys
// and drops insignificant whitespace, so re-encoding a body in transit does
// not invalidate its signature.
package signature

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	canonicaljson "github.com/gibson042/canonicaljson-go"
)

const (
	HeaderSignature = "Signature"
	HeaderTimestamp = "Timestamp"
	// HeaderKeyID names the agent key a request was signed with when the
	// server verifies with public keys.
	HeaderKeyID = "Signature-Key-Id"
)

// ErrInvalidSignature reports a well-formed signature that does not match.
var ErrInvalidSignature = errors.New("signature: invalid signature")

// Material is what a [Verifier] sees of a signed request.
type Material struct {
	Signature     string
	Timestamp     time.Time
	CanonicalBody []byte
	Method        string
	Path          string
	Headers       http.Header
}

// Verifier checks a signed request.
type Verifier interface {
	Verify(ctx context.Context, material Material) error
}

// VerifierFunc lifts bare functions into [Verifier].
type VerifierFunc func(ctx context.Context, material Material) error

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, material Material) error {
	return f(ctx, material)
}

// Signer produces the Signature header value for a canonical body at ts.
type Signer interface {
	Sign(ts time.Time, canonicalBody []byte) (string, error)
}

// Attach canonicalizes body, signs it with s at now and sets the Signature
// and Timestamp headers of req. The body of req is not touched.
func Attach(req *http.Request, s Signer, body []byte, now time.Time) error {
	canonical, err := CanonicalizeJSONBody(body)
	if err != nil {
		return fmt.Errorf("signature: canonicalize body: %w", err)
	}
	sig, err := s.Sign(now, canonical)
	if err != nil {
		return err
	}
	req.Header.Set(HeaderSignature, sig)
	req.Header.Set(HeaderTimestamp, now.UTC().Format(time.RFC3339Nano))
	return nil
}

// BuildSigningPayload returns the bytes that are signed for canonicalBody at
// ts.
func BuildSigningPayload(ts time.Time, canonicalBody []byte) []byte {
	stamp := ts.UTC().Format(time.RFC3339Nano)
	out := make([]byte, 0, len(stamp)+1+len(canonicalBody))
	out = append(out, stamp...)
	out = append(out, '.')
	return append(out, canonicalBody...)
}

// CanonicalizeJSONBody re-encodes one JSON document in canonical form. Numbers
// keep their literal text. An empty body canonicalizes to null.
func CanonicalizeJSONBody(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("signature: body holds more than one JSON document")
	}
	return canonicaljson.Marshal(doc)
}

// ReadAndBufferBody drains r.Body and replaces it with an in-memory copy so
// later handlers can read it again.
func ReadAndBufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		r.Body = http.NoBody
		return nil, nil
	}
	raw, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	return raw, nil
}

// ParseTimestamp parses a Timestamp header. RFC3339Nano accepts plain
// RFC3339 values as well.
func ParseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("signature: empty timestamp")
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("signature: timestamp: %w", err)
	}
	return ts, nil
}

// Skew returns |a - b|.
func Skew(a, b time.Time) time.Duration {
	if d := a.Sub(b); d >= 0 {
		return d
	}
	return b.Sub(a)
}
