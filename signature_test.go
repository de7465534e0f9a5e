package halo

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sumup/halo/signature"
)

const signedBody = `{"text":"buy a lamp for $20","protocol":"UCP"}`

func newSignedHandler(t *testing.T, now time.Time, opts ...Option) *Handler {
	t.Helper()
	tr := NewTranslator(NewDefaultRegistry(), testCatalog())
	opts = append([]Option{
		WithSignatureVerifier(signature.HMAC{Key: []byte("secret")}),
		withClock(func() time.Time { return now }),
	}, opts...)
	return NewHandler(tr, opts...)
}

func TestSignatureMiddlewareAllowsValidRequest(t *testing.T) {
	t.Parallel()

	key := []byte("secret")
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	handler := newSignedHandler(t, ts.Add(30*time.Second))

	canonical, err := signature.CanonicalizeJSONBody([]byte(signedBody))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/checkout_payloads", bytes.NewReader([]byte(signedBody)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Signature", signFixture(key, ts, canonical))
	req.Header.Set("Timestamp", ts.Format(time.RFC3339Nano))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestSignatureMiddlewareIgnoresKeyOrderAndWhitespace(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	handler := newSignedHandler(t, ts)

	reordered := []byte("{\n  \"protocol\": \"UCP\",\n  \"text\": \"buy a lamp for $20\"\n}")
	req := httptest.NewRequest(http.MethodPost, "/checkout_payloads", bytes.NewReader(reordered))
	if err := (signature.HMAC{Key: []byte("secret")}).SignRequest(req, []byte(signedBody), ts); err != nil {
		t.Fatalf("sign request: %v", err)
	}
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestSignatureMiddlewareRejectsInvalidSignature(t *testing.T) {
	t.Parallel()

	ts := time.Now().UTC()
	handler := newSignedHandler(t, ts)

	req := httptest.NewRequest(http.MethodPost, "/checkout_payloads", bytes.NewReader([]byte(signedBody)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Signature", "bogus")
	req.Header.Set("Timestamp", ts.Format(time.RFC3339Nano))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
	if want, got := "invalid_signature", getErrorCode(rec.Body.Bytes()); want != got {
		t.Fatalf("expected code %s got %s", want, got)
	}
}

func TestSignatureMiddlewareRejectsTamperedBody(t *testing.T) {
	t.Parallel()

	key := []byte("secret")
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	handler := newSignedHandler(t, ts)

	canonical, err := signature.CanonicalizeJSONBody([]byte(signedBody))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	tampered := []byte(`{"text":"buy a lamp for $2000","protocol":"UCP"}`)
	req := httptest.NewRequest(http.MethodPost, "/checkout_payloads", bytes.NewReader(tampered))
	req.Header.Set("Signature", signFixture(key, ts, canonical))
	req.Header.Set("Timestamp", ts.Format(time.RFC3339Nano))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestSignatureMiddlewareRejectsSkew(t *testing.T) {
	t.Parallel()

	key := []byte("secret")
	ts := time.Now().UTC()
	handler := newSignedHandler(t, ts.Add(2*time.Minute), WithMaxClockSkew(time.Minute))

	canonical, err := signature.CanonicalizeJSONBody([]byte(signedBody))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/checkout_payloads", bytes.NewReader([]byte(signedBody)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Signature", signFixture(key, ts, canonical))
	req.Header.Set("Timestamp", ts.Format(time.RFC3339Nano))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
	if want, got := "stale_timestamp", getErrorCode(rec.Body.Bytes()); want != got {
		t.Fatalf("expected code %s got %s", want, got)
	}
}

func TestSignatureMiddlewareRejectsPartialHeaders(t *testing.T) {
	t.Parallel()

	handler := newSignedHandler(t, time.Now())

	req := httptest.NewRequest(http.MethodPost, "/checkout_payloads", bytes.NewReader([]byte(signedBody)))
	req.Header.Set("Signature", "abc")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if want, got := "invalid_signature", getErrorCode(rec.Body.Bytes()); want != got {
		t.Fatalf("expected code %s got %s", want, got)
	}
}

func TestSignatureMiddlewareAllowsUnsignedWhenOptional(t *testing.T) {
	t.Parallel()

	handler := newSignedHandler(t, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/protocols", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
}

func TestSignatureMiddlewareRequiresHeadersWhenEnforced(t *testing.T) {
	t.Parallel()

	handler := newSignedHandler(t, time.Now(), WithRequireSignedRequests())

	req := httptest.NewRequest(http.MethodGet, "/protocols", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
	if want, got := "signature_required", getErrorCode(rec.Body.Bytes()); want != got {
		t.Fatalf("expected code %s got %s", want, got)
	}
}

func TestRequireSignedRequestsWithoutVerifierPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewHandler(NewTranslator(NewDefaultRegistry(), testCatalog()), WithRequireSignedRequests())
}

func signFixture(key []byte, ts time.Time, canonical []byte) string {
	payload := signature.BuildSigningPayload(ts, canonical)
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func getErrorCode(body []byte) string {
	var resp Error
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return string(resp.Code)
}

func TestSignatureMiddlewareCapsBodyBeforeVerifying(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	verified := false
	verifier := signature.VerifierFunc(func(context.Context, signature.Material) error {
		verified = true
		return nil
	})
	handler := newSignedHandler(t, ts, WithSignatureVerifier(verifier))

	huge := `{"text":"` + strings.Repeat("x", 3*maxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/intents/parse", strings.NewReader(huge))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Signature", "c2ln")
	req.Header.Set("Timestamp", ts.Format(time.RFC3339Nano))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if verified {
		t.Fatal("verifier ran on an oversized body")
	}
	var apiErr Error
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !strings.Contains(apiErr.Message, "exceeds") {
		t.Fatalf("unexpected message %q", apiErr.Message)
	}
}
