package halo

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sumup/halo/intent"
	"github.com/sumup/halo/stepup"
)

const testOTP = "246810"

func newTestStepUp(m *Metrics) *stepup.Service {
	return stepup.NewService(
		stepup.WithThreshold(100),
		stepup.WithOTPGenerator(fixedCode(testOTP)),
		stepup.WithObserver(m.ObserveVerification),
	)
}

func verifiedPaymentMethod(t *testing.T) *PaymentMethod {
	t.Helper()
	pm, err := NewPaymentMethod(validCardRequest(), cardNow)
	if err != nil {
		t.Fatalf("new payment method: %v", err)
	}
	pm.Verified = true
	return pm
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []AuditEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event AuditEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Events() []AuditEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]AuditEvent(nil), p.events...)
}

func TestTranslatorTranslateText(t *testing.T) {
	t.Parallel()

	tr := NewTranslator(NewDefaultRegistry(), testCatalog())
	res, err := tr.Translate(context.Background(), TranslateRequest{Text: "Buy shoes for $50 with express shipping"})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if res.Protocol != "ACP" {
		t.Fatalf("expected default protocol ACP got %s", res.Protocol)
	}
	if _, ok := res.Payload.(*ACPPayload); !ok {
		t.Fatalf("expected ACP payload got %T", res.Payload)
	}
	want := NormalizedRecord{TotalCents: 5000, Currency: "USD", Country: "US", Provider: "stripe", ShippingSpeed: "express"}
	if res.Normalized.Halo != want {
		t.Fatalf("unexpected record %+v", res.Normalized.Halo)
	}
	if res.VerificationRequired {
		t.Fatal("verification required without a step-up service")
	}
	if res.Intent.Item != "shoes" || res.Intent.Amount != 50 {
		t.Fatalf("unexpected intent %+v", res.Intent)
	}
}

func TestTranslatorProtocolSelection(t *testing.T) {
	t.Parallel()

	tr := NewTranslator(NewDefaultRegistry(), testCatalog(), WithDefaultProtocol("ucp"))
	in := testIntent()
	tests := map[string]string{
		"":                          "UCP",
		"x-402":                     "x402",
		"Agentic-Commerce-Protocol": "ACP",
	}
	for requested, want := range tests {
		res, err := tr.Translate(context.Background(), TranslateRequest{Intent: &in, Protocol: requested})
		if err != nil {
			t.Fatalf("translate %q: %v", requested, err)
		}
		if res.Protocol != want {
			t.Fatalf("protocol %q resolved to %s want %s", requested, res.Protocol, want)
		}
	}
}

func TestTranslatorTranslateErrors(t *testing.T) {
	t.Parallel()

	tr := NewTranslator(NewDefaultRegistry(), testCatalog())
	noItem := testIntent()
	noItem.Item = ""
	missing := testIntent()
	missing.Item = "unobtainium"

	tests := map[string]struct {
		req  TranslateRequest
		want error
	}{
		"empty request":    {TranslateRequest{}, ErrInvalidIntent},
		"no trigger":       {TranslateRequest{Text: "what a lovely day"}, ErrUnparseableIntent},
		"unknown protocol": {TranslateRequest{Text: "buy a lamp", Protocol: "carrier-pigeon"}, ErrUnknownProtocol},
		"invalid intent":   {TranslateRequest{Intent: &noItem}, ErrInvalidIntent},
		"catalog miss":     {TranslateRequest{Intent: &missing}, ErrCatalogMiss},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := tr.Translate(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v got %v", tt.want, err)
			}
		})
	}
}

func TestTranslatorCheckoutBelowThreshold(t *testing.T) {
	t.Parallel()

	tr := NewTranslator(NewDefaultRegistry(), testCatalog(),
		WithStepUp(newTestStepUp(nil)),
		WithTranslatorClock(func() time.Time { return cardNow }),
	)
	res, err := tr.Checkout(context.Background(), CheckoutRequest{
		TranslateRequest: TranslateRequest{Text: "buy a mug for $12"},
		PaymentMethod:    verifiedPaymentMethod(t),
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if res.VerificationRequired || res.Normalized.Halo.TotalCents != 1200 {
		t.Fatalf("unexpected translation %+v", res)
	}
}

func TestTranslatorCheckoutRequiresVerifiedSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	metrics := NewMetrics()
	svc := newTestStepUp(metrics)
	tr := NewTranslator(NewDefaultRegistry(), testCatalog(),
		WithStepUp(svc),
		WithTranslatorMetrics(metrics),
		WithTranslatorClock(func() time.Time { return cardNow }),
	)
	req := CheckoutRequest{
		TranslateRequest: TranslateRequest{Text: "Buy a laptop for $1500"},
		PaymentMethod:    verifiedPaymentMethod(t),
	}

	preview, err := tr.Translate(ctx, req.TranslateRequest)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if !preview.VerificationRequired {
		t.Fatal("expected high-value translation to require verification")
	}

	if _, err := tr.Checkout(ctx, req); !errors.Is(err, stepup.ErrVerificationRequired) {
		t.Fatalf("checkout without token: expected ErrVerificationRequired got %v", err)
	}

	challenge, err := svc.StartVerification(ctx, 1500, stepup.MethodOTP)
	if err != nil {
		t.Fatalf("start verification: %v", err)
	}
	req.VerificationToken = challenge.Token
	if _, err := tr.Checkout(ctx, req); !errors.Is(err, stepup.ErrVerificationRequired) {
		t.Fatalf("checkout before verification: expected ErrVerificationRequired got %v", err)
	}
	if _, err := svc.SubmitOTP(ctx, challenge.Token, testOTP); err != nil {
		t.Fatalf("submit otp: %v", err)
	}

	unusable := verifiedPaymentMethod(t)
	unusable.Remove()
	if _, err := tr.Checkout(ctx, CheckoutRequest{TranslateRequest: req.TranslateRequest, PaymentMethod: unusable, VerificationToken: challenge.Token}); !errors.Is(err, ErrPaymentMethodUnusable) {
		t.Fatalf("expected ErrPaymentMethodUnusable got %v", err)
	}
	if state, ok := svc.State(challenge.Token); !ok || state != stepup.StateVerified {
		t.Fatalf("rejected payment method consumed the session: %s %v", state, ok)
	}

	res, err := tr.Checkout(ctx, req)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if res.Normalized.Halo.TotalCents != 150000 {
		t.Fatalf("unexpected total %d", res.Normalized.Halo.TotalCents)
	}
	if _, ok := svc.State(challenge.Token); ok {
		t.Fatal("session survived a successful checkout")
	}
	if _, err := tr.Checkout(ctx, req); !errors.Is(err, stepup.ErrVerificationRequired) {
		t.Fatalf("token reuse: expected ErrVerificationRequired got %v", err)
	}

	if got := testutil.ToFloat64(metrics.translations.WithLabelValues("ACP", "ok")); got != 2 {
		t.Fatalf("expected 2 successful translations got %v", got)
	}
	if got := testutil.ToFloat64(metrics.translations.WithLabelValues("default", string(VerificationRequired))); got != 3 {
		t.Fatalf("expected 3 gated checkouts got %v", got)
	}
	if got := testutil.ToFloat64(metrics.verifications.WithLabelValues("otp", "verified")); got != 1 {
		t.Fatalf("expected 1 verified session got %v", got)
	}
}

func TestTranslatorCheckoutVerifiedAmountMustCover(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newTestStepUp(nil)
	tr := NewTranslator(NewDefaultRegistry(), testCatalog(), WithStepUp(svc))

	challenge, err := svc.StartVerification(ctx, 200, stepup.MethodOTP)
	if err != nil {
		t.Fatalf("start verification: %v", err)
	}
	if _, err := svc.SubmitOTP(ctx, challenge.Token, testOTP); err != nil {
		t.Fatalf("submit otp: %v", err)
	}
	_, err = tr.Checkout(ctx, CheckoutRequest{
		TranslateRequest:  TranslateRequest{Text: "Buy a laptop for $1500"},
		VerificationToken: challenge.Token,
	})
	if !errors.Is(err, stepup.ErrVerificationRequired) {
		t.Fatalf("expected ErrVerificationRequired got %v", err)
	}
}

type gapAdapter struct {
	*ACPAdapter
}

func (gapAdapter) Normalize(Payload) (*NormalizedPayload, error) {
	return nil, normalizationGap(ProtocolACP, "payload.currency")
}

func TestTranslatorCheckoutNormalizationGapIsInternal(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	reg := NewRegistry()
	reg.Register(gapAdapter{NewACPAdapter()})
	svc := newTestStepUp(nil)
	tr := NewTranslator(reg, testCatalog(), WithStepUp(svc), WithTranslatorLogger(logger))

	ctx := context.Background()
	challenge, err := svc.StartVerification(ctx, 1500, stepup.MethodOTP)
	if err != nil {
		t.Fatalf("start verification: %v", err)
	}
	if _, err := svc.SubmitOTP(ctx, challenge.Token, testOTP); err != nil {
		t.Fatalf("submit otp: %v", err)
	}

	_, err = tr.Checkout(ctx, CheckoutRequest{
		TranslateRequest:  TranslateRequest{Text: "Buy a laptop for $1500"},
		VerificationToken: challenge.Token,
	})
	if !errors.Is(err, ErrNormalizationGap) {
		t.Fatalf("expected ErrNormalizationGap got %v", err)
	}
	out := logs.String()
	if !strings.Contains(out, `"level":"ERROR"`) || !strings.Contains(out, `"severity":"internal"`) || !strings.Contains(out, `"field":"payload.currency"`) {
		t.Fatalf("normalization gap not logged as internal error: %s", out)
	}
	if state, ok := svc.State(challenge.Token); !ok || state != stepup.StateVerified {
		t.Fatal("failed build consumed the verified session")
	}
}

func TestTranslatorPublishesAuditEvents(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	tr := NewTranslator(NewDefaultRegistry(), testCatalog(),
		WithAuditPublisher(pub),
		WithTranslatorClock(func() time.Time { return cardNow }),
	)
	ctx := contextWithRequestContext(context.Background(), &RequestContext{RequestID: "req_123"})
	in := testIntent()

	if _, err := tr.Translate(ctx, TranslateRequest{Intent: &in, Protocol: "x402"}); err != nil {
		t.Fatalf("translate: %v", err)
	}
	if _, err := tr.Inspect(ctx, []byte(`{"payload":{"total_amount":20,"currency":"gbp"}}`)); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if _, err := tr.Checkout(ctx, CheckoutRequest{TranslateRequest: TranslateRequest{Intent: &in}}); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if _, err := tr.Inspect(ctx, []byte(`{"nothing":"here"}`)); !errors.Is(err, ErrUnknownProtocol) {
		t.Fatalf("expected ErrUnknownProtocol got %v", err)
	}

	events := pub.Events()
	want := []struct {
		typ      AuditEventType
		protocol string
		cents    int64
	}{
		{AuditEventPayloadTranslated, "x402", 4999},
		{AuditEventPayloadInspected, "ACP", 2000},
		{AuditEventCheckoutApproved, "ACP", 4999},
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events got %d", len(want), len(events))
	}
	for i, w := range want {
		ev := events[i]
		if ev.Type != w.typ || ev.Protocol != w.protocol || ev.Normalized.Halo.TotalCents != w.cents {
			t.Fatalf("event %d = %+v", i, ev)
		}
		if ev.RequestID != "req_123" || !ev.OccurredAt.Equal(cardNow) {
			t.Fatalf("event %d missing request metadata: %+v", i, ev)
		}
	}
}

func TestTranslatorAuditFailureDoesNotFailRequest(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{err: errors.New("webhook down")}
	tr := NewTranslator(NewDefaultRegistry(), testCatalog(), WithAuditPublisher(pub))
	in := testIntent()
	if _, err := tr.Translate(context.Background(), TranslateRequest{Intent: &in}); err != nil {
		t.Fatalf("translate failed because of audit: %v", err)
	}
	if len(pub.Events()) != 1 {
		t.Fatal("audit event was not attempted")
	}
}

func TestTranslatorDetect(t *testing.T) {
	t.Parallel()

	tr := NewTranslator(NewDefaultRegistry(), testCatalog())
	name, err := tr.Detect([]byte(`{"intent":{"action":"buy"}}`))
	if err != nil || name != "UCP" {
		t.Fatalf("Detect = %q, %v", name, err)
	}
	if _, err := tr.Detect([]byte(`nope`)); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload got %v", err)
	}
	if _, err := tr.Detect([]byte(`{"a":1}`)); !errors.Is(err, ErrUnknownProtocol) {
		t.Fatalf("expected ErrUnknownProtocol got %v", err)
	}
}

func TestTranslatorParseIntent(t *testing.T) {
	t.Parallel()

	tr := NewTranslator(NewDefaultRegistry(), testCatalog())
	in, err := tr.ParseIntent("purchase the headphones for 2,499 rupees")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := intent.Intent{Action: "buy", Item: "headphones", Amount: 2499, Currency: "INR", ShippingSpeed: intent.ShippingStandard}
	if *in != want {
		t.Fatalf("unexpected intent %+v", in)
	}
	if _, err := tr.ParseIntent("hello"); !errors.Is(err, ErrUnparseableIntent) {
		t.Fatalf("expected ErrUnparseableIntent got %v", err)
	}
}
