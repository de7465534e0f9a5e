package halo

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sumup/halo/card"
	"github.com/sumup/halo/stepup"
)

var cardNow = time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)

func validCardRequest() AddCardRequest {
	return AddCardRequest{
		UserID:     "user_1",
		Number:     "4242 4242 4242 4242",
		ExpMonth:   12,
		ExpYear:    28,
		HolderName: "Ada Lovelace",
		BillingAddress: &Address{
			Name:       "Ada Lovelace",
			LineOne:    "1 Analytical Way",
			PostalCode: "10115",
			City:       "Berlin",
			Country:    "DE",
		},
		IsDefault: true,
	}
}

func fixedCode(code string) stepup.OTPGenerator {
	return func() (string, error) { return code, nil }
}

func TestNewPaymentMethod(t *testing.T) {
	t.Parallel()

	pm, err := NewPaymentMethod(validCardRequest(), cardNow)
	if err != nil {
		t.Fatalf("new payment method: %v", err)
	}
	if !strings.HasPrefix(pm.ID, "pm_") || !strings.HasPrefix(pm.TokenizedProviderID, "tok_") {
		t.Fatalf("unexpected identifiers %s %s", pm.ID, pm.TokenizedProviderID)
	}
	if pm.CardBrand != card.BrandVisa || pm.CardLast4 != "4242" || pm.CardExpYear != 2028 {
		t.Fatalf("unexpected card details %+v", pm)
	}
	if pm.Status != PaymentMethodActive || pm.Verified {
		t.Fatalf("expected active unverified method got %s verified=%v", pm.Status, pm.Verified)
	}
}

func TestNewPaymentMethodRejectsInvalidCards(t *testing.T) {
	t.Parallel()

	tests := map[string]func(*AddCardRequest){
		"luhn failure":     func(r *AddCardRequest) { r.Number = "4242424242424241" },
		"expired":          func(r *AddCardRequest) { r.ExpMonth, r.ExpYear = 2, 2026 },
		"month range":      func(r *AddCardRequest) { r.ExpMonth = 13 },
		"missing holder":   func(r *AddCardRequest) { r.HolderName = "" },
		"billing country":  func(r *AddCardRequest) { r.BillingAddress.Country = "Germany" },
		"billing postcode": func(r *AddCardRequest) { r.BillingAddress.PostalCode = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			req := validCardRequest()
			mutate(&req)
			if _, err := NewPaymentMethod(req, cardNow); !errors.Is(err, ErrInvalidCard) {
				t.Fatalf("expected ErrInvalidCard got %v", err)
			}
		})
	}
}

func TestPaymentMethodCardExpiringThisMonthIsValid(t *testing.T) {
	t.Parallel()

	req := validCardRequest()
	req.ExpMonth, req.ExpYear = 3, 2026
	if _, err := NewPaymentMethod(req, cardNow); err != nil {
		t.Fatalf("card expiring this month rejected: %v", err)
	}
}

func TestPaymentMethodOTPVerification(t *testing.T) {
	t.Parallel()

	pm, err := NewPaymentMethod(validCardRequest(), cardNow)
	if err != nil {
		t.Fatalf("new payment method: %v", err)
	}
	if err := pm.VerifyOTP("123456", cardNow); !errors.Is(err, stepup.ErrInvalidTransition) {
		t.Fatalf("verify before issue: expected ErrInvalidTransition got %v", err)
	}
	code, err := pm.IssueOTP(fixedCode("123456"), cardNow, time.Minute)
	if err != nil {
		t.Fatalf("issue otp: %v", err)
	}
	if code != "123456" || pm.VerificationOTPExpires == nil || !pm.VerificationOTPExpires.Equal(cardNow.Add(time.Minute)) {
		t.Fatalf("unexpected otp state %s %v", code, pm.VerificationOTPExpires)
	}
	if err := pm.VerifyOTP("654321", cardNow); !errors.Is(err, stepup.ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed got %v", err)
	}
	if pm.VerificationOTP == nil {
		t.Fatal("mismatch discarded the code")
	}
	if err := pm.VerifyOTP("123456", cardNow.Add(30*time.Second)); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !pm.Verified || pm.VerificationOTP != nil {
		t.Fatalf("expected verified method without code got %+v", pm)
	}
	if err := pm.Usable(cardNow); err != nil {
		t.Fatalf("verified method unusable: %v", err)
	}
}

func TestPaymentMethodOTPExpiry(t *testing.T) {
	t.Parallel()

	pm, err := NewPaymentMethod(validCardRequest(), cardNow)
	if err != nil {
		t.Fatalf("new payment method: %v", err)
	}
	if _, err := pm.IssueOTP(fixedCode("123456"), cardNow, 0); err != nil {
		t.Fatalf("issue otp: %v", err)
	}
	if err := pm.VerifyOTP("123456", cardNow.Add(DefaultCardOTPTTL+time.Second)); !errors.Is(err, stepup.ErrOTPExpired) {
		t.Fatalf("expected ErrOTPExpired got %v", err)
	}
	if pm.VerificationOTP != nil || pm.Verified {
		t.Fatalf("expired code was kept %+v", pm)
	}
}

func TestPaymentMethodLifecycle(t *testing.T) {
	t.Parallel()

	req := validCardRequest()
	req.ExpMonth, req.ExpYear = 4, 2026
	pm, err := NewPaymentMethod(req, cardNow)
	if err != nil {
		t.Fatalf("new payment method: %v", err)
	}
	if err := pm.Usable(cardNow); !errors.Is(err, ErrPaymentMethodUnusable) {
		t.Fatalf("unverified method: expected ErrPaymentMethodUnusable got %v", err)
	}
	pm.Verified = true
	if err := pm.Usable(cardNow); err != nil {
		t.Fatalf("usable: %v", err)
	}

	later := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	if status := pm.RefreshStatus(later); status != PaymentMethodExpired {
		t.Fatalf("expected expired got %s", status)
	}
	if _, err := pm.IssueOTP(fixedCode("1"), later, time.Minute); !errors.Is(err, ErrPaymentMethodUnusable) {
		t.Fatalf("issue on expired method: expected ErrPaymentMethodUnusable got %v", err)
	}

	pm.Remove()
	if pm.Status != PaymentMethodRemoved || pm.IsDefault {
		t.Fatalf("unexpected removed method %+v", pm)
	}
	if err := pm.Usable(cardNow); !errors.Is(err, ErrPaymentMethodUnusable) {
		t.Fatalf("removed method: expected ErrPaymentMethodUnusable got %v", err)
	}
	if status := pm.RefreshStatus(cardNow); status != PaymentMethodRemoved {
		t.Fatalf("refresh resurrected a removed method: %s", status)
	}
}
