package halo

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AuditEventType enumerates the audit events emitted for finished
// translations.
type AuditEventType string

const (
	AuditEventPayloadTranslated AuditEventType = "payload_translated"
	AuditEventPayloadInspected  AuditEventType = "payload_inspected"
	AuditEventCheckoutApproved  AuditEventType = "checkout_approved"
)

// AuditEvent records one normalized payload. Protocol extensions are not
// part of the record.
type AuditEvent struct {
	Type       AuditEventType     `json:"type"`
	Protocol   string             `json:"protocol"`
	Normalized *NormalizedPayload `json:"normalized"`
	RequestID  string             `json:"request_id,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// AuditPublisher receives audit events.
type AuditPublisher interface {
	Publish(ctx context.Context, event AuditEvent) error
}

// AuditPublisherFunc lifts bare functions into [AuditPublisher].
type AuditPublisherFunc func(ctx context.Context, event AuditEvent) error

// Publish delegates to the wrapped function.
func (f AuditPublisherFunc) Publish(ctx context.Context, event AuditEvent) error {
	return f(ctx, event)
}

// DefaultAuditSignatureHeader carries the HMAC of the audit webhook body.
const DefaultAuditSignatureHeader = "Halo-Signature"

// WebhookOptions configures a [WebhookPublisher].
type WebhookOptions struct {
	Endpoint   string
	HeaderName string
	SecretKey  []byte
	Client     *http.Client
}

// WebhookPublisher posts audit events to an HTTP endpoint and signs each body
// with HMAC-SHA256.
type WebhookPublisher struct {
	endpoint string
	header   string
	secret   []byte
	client   *http.Client
}

// NewWebhookPublisher validates opts and returns a [WebhookPublisher].
func NewWebhookPublisher(opts WebhookOptions) (*WebhookPublisher, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, errors.New("audit: webhook endpoint is required")
	}
	if len(opts.SecretKey) == 0 {
		return nil, errors.New("audit: webhook secret is required")
	}
	header := opts.HeaderName
	if header == "" {
		header = DefaultAuditSignatureHeader
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookPublisher{
		endpoint: opts.Endpoint,
		header:   header,
		secret:   opts.SecretKey,
		client:   client,
	}, nil
}

// Publish posts event to the configured endpoint.
func (p *WebhookPublisher) Publish(ctx context.Context, event AuditEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("audit: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("API-Version", APIVersion)
	req.Header.Set(p.header, signWebhookPayload(p.secret, body))

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("audit: send webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("audit: webhook endpoint %s returned %s: %s", p.endpoint, resp.Status, strings.TrimSpace(string(snippet)))
	}
	return nil
}

func signWebhookPayload(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
