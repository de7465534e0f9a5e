package halo

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sumup/halo/card"
	"github.com/sumup/halo/stepup"
)

// PaymentMethodStatus is the lifecycle state of a stored card.
type PaymentMethodStatus string

const (
	PaymentMethodActive  PaymentMethodStatus = "active"
	PaymentMethodExpired PaymentMethodStatus = "expired"
	PaymentMethodRemoved PaymentMethodStatus = "removed"
)

// DefaultCardOTPTTL bounds how long a card verification code stays valid.
const DefaultCardOTPTTL = 10 * time.Minute

// Address is a billing address.
type Address struct {
	Name       string  `json:"name" validate:"required,max=256"`
	LineOne    string  `json:"line_one" validate:"required,max=60"`
	LineTwo    *string `json:"line_two,omitempty" validate:"omitempty,max=60"`
	PostalCode string  `json:"postal_code" validate:"required,max=20"`
	City       string  `json:"city" validate:"required,max=60"`
	State      string  `json:"state,omitempty"`
	Country    string  `json:"country" validate:"required,iso3166_1_alpha2"`
}

// AddCardRequest carries the raw card details of a card being added. The
// number is only used to derive brand, last4 and a provider token.
type AddCardRequest struct {
	UserID         string   `json:"user_id" validate:"required"`
	Number         string   `json:"number" validate:"required,luhn"`
	ExpMonth       int      `json:"exp_month" validate:"required,min=1,max=12"`
	ExpYear        int      `json:"exp_year" validate:"required,min=0"`
	HolderName     string   `json:"holder_name" validate:"required,max=128"`
	BillingAddress *Address `json:"billing_address,omitempty" validate:"omitempty"`
	IsDefault      bool     `json:"is_default"`
}

// Validate runs the field rules of the request.
func (r AddCardRequest) Validate() error {
	return validateStruct(r)
}

// PaymentMethod is the stored form of a card. It never holds the card
// number.
type PaymentMethod struct {
	ID                     string              `json:"id"`
	UserID                 string              `json:"user_id"`
	TokenizedProviderID    string              `json:"tokenized_provider_id"`
	CardBrand              card.Brand          `json:"card_brand"`
	CardLast4              string              `json:"card_last4"`
	CardExpMonth           int                 `json:"card_exp_month"`
	CardExpYear            int                 `json:"card_exp_year"`
	CardHolderName         string              `json:"card_holder_name"`
	Verified               bool                `json:"verified"`
	VerificationOTP        *string             `json:"verification_otp,omitempty"`
	VerificationOTPExpires *time.Time          `json:"verification_otp_expires,omitempty"`
	BillingAddress         *Address            `json:"billing_address,omitempty"`
	IsDefault              bool                `json:"is_default"`
	Status                 PaymentMethodStatus `json:"status"`
}

// NewPaymentMethod validates req at now and returns an active, unverified
// payment method.
func NewPaymentMethod(req AddCardRequest, now time.Time) (*PaymentMethod, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCard, err)
	}
	if !card.ValidateExpiryAt(req.ExpMonth, req.ExpYear, now) {
		return nil, fmt.Errorf("%w: card expired %02d/%d", ErrInvalidCard, req.ExpMonth, req.ExpYear)
	}
	year := req.ExpYear
	if year < 100 {
		year += 2000
	}
	return &PaymentMethod{
		ID:                  "pm_" + uuid.NewString(),
		UserID:              req.UserID,
		TokenizedProviderID: "tok_" + uuid.NewString(),
		CardBrand:           card.DetectBrand(req.Number).Brand,
		CardLast4:           card.Last4(req.Number),
		CardExpMonth:        req.ExpMonth,
		CardExpYear:         year,
		CardHolderName:      req.HolderName,
		BillingAddress:      req.BillingAddress,
		IsDefault:           req.IsDefault,
		Status:              PaymentMethodActive,
	}, nil
}

// IssueOTP generates a verification code valid for ttl from now. A nil
// generator uses [stepup.GenerateOTP].
func (pm *PaymentMethod) IssueOTP(generate stepup.OTPGenerator, now time.Time, ttl time.Duration) (string, error) {
	if pm.Status != PaymentMethodActive {
		return "", fmt.Errorf("%w: status is %s", ErrPaymentMethodUnusable, pm.Status)
	}
	if generate == nil {
		generate = stepup.GenerateOTP
	}
	if ttl <= 0 {
		ttl = DefaultCardOTPTTL
	}
	code, err := generate()
	if err != nil {
		return "", err
	}
	expires := now.Add(ttl)
	pm.VerificationOTP = &code
	pm.VerificationOTPExpires = &expires
	return code, nil
}

// VerifyOTP marks the method verified when code matches the issued one
// before it expires. A mismatch keeps the code for another attempt.
func (pm *PaymentMethod) VerifyOTP(code string, now time.Time) error {
	if pm.VerificationOTP == nil {
		return fmt.Errorf("%w: no verification code issued", stepup.ErrInvalidTransition)
	}
	if pm.VerificationOTPExpires != nil && now.After(*pm.VerificationOTPExpires) {
		pm.clearOTP()
		return stepup.ErrOTPExpired
	}
	if code != *pm.VerificationOTP {
		return stepup.ErrVerificationFailed
	}
	pm.clearOTP()
	pm.Verified = true
	return nil
}

// RefreshStatus moves an active method whose card expiry has passed to
// expired and returns the resulting status.
func (pm *PaymentMethod) RefreshStatus(now time.Time) PaymentMethodStatus {
	if pm.Status == PaymentMethodActive && !card.ValidateExpiryAt(pm.CardExpMonth, pm.CardExpYear, now) {
		pm.Status = PaymentMethodExpired
		pm.clearOTP()
	}
	return pm.Status
}

// Remove soft-deletes the method.
func (pm *PaymentMethod) Remove() {
	pm.Status = PaymentMethodRemoved
	pm.IsDefault = false
	pm.clearOTP()
}

// Usable reports whether the method may be charged at now.
func (pm *PaymentMethod) Usable(now time.Time) error {
	if status := pm.RefreshStatus(now); status != PaymentMethodActive {
		return fmt.Errorf("%w: status is %s", ErrPaymentMethodUnusable, status)
	}
	if !pm.Verified {
		return fmt.Errorf("%w: not verified", ErrPaymentMethodUnusable)
	}
	return nil
}

func (pm *PaymentMethod) clearOTP() {
	pm.VerificationOTP = nil
	pm.VerificationOTPExpires = nil
}
