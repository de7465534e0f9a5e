package halo

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"
)

// Normalize collapses p into the canonical record using the adapter that
// reg holds for p's protocol.
func Normalize(reg *Registry, p Payload) (*NormalizedPayload, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrMalformedPayload)
	}
	adapter, ok := reg.Get(string(p.Protocol()))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, p.Protocol())
	}
	return adapter.Normalize(p)
}

// Inspection is the result of detecting, decoding and normalizing a raw
// inbound payload.
type Inspection struct {
	Protocol   string             `json:"protocol"`
	Payload    Payload            `json:"payload"`
	Normalized *NormalizedPayload `json:"normalized"`
}

// NormalizeRaw detects the protocol of data, decodes it with the matching
// adapter and normalizes it.
func (r *Registry) NormalizeRaw(data []byte) (*Inspection, error) {
	raw, err := ParseRawPayload(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	name, ok := r.Detect(raw)
	if !ok {
		return nil, ErrUnknownProtocol
	}
	adapter, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, name)
	}
	p, err := adapter.Decode(data)
	if err != nil {
		return nil, err
	}
	normalized, err := adapter.Normalize(p)
	if err != nil {
		return nil, err
	}
	return &Inspection{Protocol: adapter.Name(), Payload: p, Normalized: normalized}, nil
}

// toMinorUnits converts a major-unit amount to integer cents with
// round-half-away-from-zero.
func toMinorUnits(amount float64) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	if amount < 0 {
		return 0, fmt.Errorf("%w: %v is negative", ErrInvalidAmount, amount)
	}
	cents := math.Round(amount * 100)
	if cents > math.MaxInt64/2 {
		return 0, fmt.Errorf("%w: %v is out of range", ErrInvalidAmount, amount)
	}
	return int64(cents), nil
}

// canonicalCurrency validates code as ISO-4217 and returns it upper-cased.
func canonicalCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return unit.String(), nil
}

var currencyCountries = map[string]string{
	"USD": "US",
	"INR": "IN",
	"GBP": "GB",
	"JPY": "JP",
}

func shippingOrDefault(speed string) string {
	if speed = strings.TrimSpace(speed); speed == "" {
		return "standard"
	}
	return strings.ToLower(speed)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
