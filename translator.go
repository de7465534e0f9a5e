package halo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sumup/halo/intent"
	"github.com/sumup/halo/stepup"
)

// TranslateRequest asks for a protocol payload. Either Text or Intent must
// be set; Protocol falls back to the translator default.
type TranslateRequest struct {
	Text     string         `json:"text,omitempty" validate:"required_without=Intent"`
	Intent   *intent.Intent `json:"intent,omitempty" validate:"-"`
	Protocol string         `json:"protocol,omitempty"`
}

// Validate runs the field rules of the request.
func (r TranslateRequest) Validate() error {
	return validateStruct(r)
}

// CheckoutRequest is a [TranslateRequest] headed for protocol submission.
// High-value checkouts need the token of a verified step-up session.
type CheckoutRequest struct {
	TranslateRequest
	PaymentMethod     *PaymentMethod `json:"payment_method,omitempty"`
	VerificationToken string         `json:"verification_token,omitempty"`
}

// Translation is the outcome of translating one intent.
type Translation struct {
	Intent               intent.Intent      `json:"intent"`
	Protocol             string             `json:"protocol"`
	Payload              Payload            `json:"payload"`
	Normalized           *NormalizedPayload `json:"normalized"`
	VerificationRequired bool               `json:"verification_required"`
}

// Translator wires intent parsing, the adapter registry and normalization
// together, with the step-up gate in front of checkout.
type Translator struct {
	registry        *Registry
	catalog         CatalogLookup
	verifier        *stepup.Service
	defaultProtocol string
	logger          *slog.Logger
	metrics         *Metrics
	audit           AuditPublisher
	clock           func() time.Time
}

// TranslatorOption customizes a [Translator].
type TranslatorOption func(*Translator)

// WithDefaultProtocol sets the protocol used when a request names none.
func WithDefaultProtocol(name string) TranslatorOption {
	return func(t *Translator) {
		if name != "" {
			t.defaultProtocol = name
		}
	}
}

// WithStepUp enables the high-value gate on [Translator.Checkout].
func WithStepUp(svc *stepup.Service) TranslatorOption {
	return func(t *Translator) {
		t.verifier = svc
	}
}

// WithTranslatorLogger sets the structured logger.
func WithTranslatorLogger(logger *slog.Logger) TranslatorOption {
	return func(t *Translator) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithTranslatorMetrics records outcomes on m.
func WithTranslatorMetrics(m *Metrics) TranslatorOption {
	return func(t *Translator) {
		t.metrics = m
	}
}

// WithAuditPublisher publishes an audit event for every normalized payload.
func WithAuditPublisher(p AuditPublisher) TranslatorOption {
	return func(t *Translator) {
		t.audit = p
	}
}

// WithTranslatorClock provides deterministic time in tests.
func WithTranslatorClock(fn func() time.Time) TranslatorOption {
	return func(t *Translator) {
		if fn != nil {
			t.clock = fn
		}
	}
}

// NewTranslator builds a [Translator] over reg and catalog.
func NewTranslator(reg *Registry, catalog CatalogLookup, opts ...TranslatorOption) *Translator {
	t := &Translator{
		registry:        reg,
		catalog:         catalog,
		defaultProtocol: string(ProtocolACP),
		logger:          slog.Default(),
		clock:           time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(t)
	}
	return t
}

// Registry returns the registry the translator dispatches through.
func (t *Translator) Registry() *Registry {
	return t.registry
}

// Verifier returns the step-up service, or nil when the gate is disabled.
func (t *Translator) Verifier() *stepup.Service {
	return t.verifier
}

// ParseIntent parses text, failing with [ErrUnparseableIntent] when it holds
// no purchase intent.
func (t *Translator) ParseIntent(text string) (*intent.Intent, error) {
	in := intent.Parse(text)
	if in == nil {
		return nil, ErrUnparseableIntent
	}
	return in, nil
}

// Translate parses, builds and normalizes without the step-up gate.
func (t *Translator) Translate(ctx context.Context, req TranslateRequest) (*Translation, error) {
	res, err := t.translate(ctx, req)
	t.metrics.observeTranslation(protocolLabel(res, req.Protocol), outcomeLabel(err))
	if err != nil {
		return nil, err
	}
	t.publish(ctx, AuditEventPayloadTranslated, res.Protocol, res.Normalized)
	return res, nil
}

// Checkout is [Translator.Translate] for a payload about to be submitted:
// the payment method must be usable and, above the step-up threshold, the
// verification token must name a verified session covering the amount. The
// session is consumed.
func (t *Translator) Checkout(ctx context.Context, req CheckoutRequest) (*Translation, error) {
	res, err := t.checkout(ctx, req)
	t.metrics.observeTranslation(protocolLabel(res, req.Protocol), outcomeLabel(err))
	if err != nil {
		return nil, err
	}
	t.publish(ctx, AuditEventCheckoutApproved, res.Protocol, res.Normalized)
	return res, nil
}

func (t *Translator) checkout(ctx context.Context, req CheckoutRequest) (*Translation, error) {
	if req.PaymentMethod != nil {
		if err := req.PaymentMethod.Usable(t.clock()); err != nil {
			return nil, err
		}
	}
	res, err := t.translate(ctx, req.TranslateRequest)
	if err != nil {
		var gap *NormalizationGapError
		if errors.As(err, &gap) {
			t.logger.ErrorContext(ctx, "built payload failed normalization",
				"severity", "internal",
				"protocol", gap.Protocol,
				"field", gap.Field,
				requestAttr(ctx),
			)
		}
		return nil, err
	}
	if t.verifier != nil {
		if err := t.verifier.Authorize(res.Intent.Amount, req.VerificationToken); err != nil {
			t.logger.InfoContext(ctx, "checkout blocked by step-up gate", "protocol", res.Protocol, "amount", res.Intent.Amount, requestAttr(ctx))
			return nil, err
		}
	}
	t.logger.InfoContext(ctx, "checkout approved", "protocol", res.Protocol, "total_cents", res.Normalized.Halo.TotalCents, requestAttr(ctx))
	return res, nil
}

func (t *Translator) translate(ctx context.Context, req TranslateRequest) (*Translation, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	var in intent.Intent
	if req.Intent != nil {
		in = *req.Intent
	} else {
		parsed, err := t.ParseIntent(req.Text)
		if err != nil {
			return nil, err
		}
		in = *parsed
	}
	adapter, err := t.resolve(req.Protocol)
	if err != nil {
		return nil, err
	}
	payload, err := adapter.Build(ctx, in, t.catalog)
	if err != nil {
		return nil, err
	}
	normalized, err := adapter.Normalize(payload)
	if err != nil {
		return nil, err
	}
	in, _ = prepareIntent(in)
	t.logger.DebugContext(ctx, "intent translated", "protocol", adapter.Name(), "item", in.Item, "total_cents", normalized.Halo.TotalCents)
	return &Translation{
		Intent:               in,
		Protocol:             adapter.Name(),
		Payload:              payload,
		Normalized:           normalized,
		VerificationRequired: t.verifier != nil && t.verifier.Required(in.Amount),
	}, nil
}

// Inspect detects the protocol of an inbound payload and normalizes it.
func (t *Translator) Inspect(ctx context.Context, data []byte) (*Inspection, error) {
	res, err := t.registry.NormalizeRaw(data)
	protocol := "unknown"
	if res != nil {
		protocol = res.Protocol
	}
	t.metrics.observeInspection(protocol, outcomeLabel(err))
	if err != nil {
		t.logger.InfoContext(ctx, "payload inspection failed", "error", err)
		return nil, err
	}
	t.publish(ctx, AuditEventPayloadInspected, res.Protocol, res.Normalized)
	return res, nil
}

// Detect names the protocol of an inbound payload.
func (t *Translator) Detect(data []byte) (string, error) {
	raw, err := ParseRawPayload(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	name, ok := t.registry.Detect(raw)
	if !ok {
		return "", ErrUnknownProtocol
	}
	return name, nil
}

func (t *Translator) resolve(name string) (Adapter, error) {
	if name == "" {
		name = t.defaultProtocol
	}
	adapter, ok := t.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, name)
	}
	return adapter, nil
}

func (t *Translator) publish(ctx context.Context, typ AuditEventType, protocol string, normalized *NormalizedPayload) {
	if t.audit == nil {
		return
	}
	event := AuditEvent{
		Type:       typ,
		Protocol:   protocol,
		Normalized: normalized,
		OccurredAt: t.clock().UTC(),
	}
	if requestCtx := RequestContextFromContext(ctx); requestCtx != nil {
		event.RequestID = requestCtx.RequestID
	}
	if err := t.audit.Publish(ctx, event); err != nil {
		t.logger.WarnContext(ctx, "audit publish failed", "type", typ, "error", err)
	}
}

func requestAttr(ctx context.Context) slog.Attr {
	if rc := RequestContextFromContext(ctx); rc != nil {
		return slog.Any("request", rc)
	}
	return slog.Attr{}
}

func protocolLabel(res *Translation, requested string) string {
	if res != nil {
		return res.Protocol
	}
	if requested == "" {
		return "default"
	}
	return "requested"
}
