package halo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sumup/halo/intent"
)

// ACPVersion is the Agentic Commerce Protocol revision the adapter emits.
const ACPVersion = "2025-09-12"

// ACPPayload is an Agentic Commerce Protocol checkout session payload.
type ACPPayload struct {
	Payload ACPCheckout `json:"payload"`

	Extensions Extensions `json:"-"`
}

func (*ACPPayload) Protocol() ProtocolName { return ProtocolACP }
func (*ACPPayload) payload()               {}

// MarshalJSON emits the payload together with its protocol tag.
func (p ACPPayload) MarshalJSON() ([]byte, error) {
	return marshalWithExtensions(struct {
		Protocol ProtocolName `json:"protocol"`
		Payload  ACPCheckout  `json:"payload"`
	}{ProtocolACP, p.Payload}, p.Extensions)
}

// UnmarshalJSON keeps unknown envelope fields in Extensions.
func (p *ACPPayload) UnmarshalJSON(data []byte) error {
	var known struct {
		Payload ACPCheckout `json:"payload"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	ext, err := splitExtensions(data, "protocol", "payload")
	if err != nil {
		return err
	}
	*p = ACPPayload{Payload: known.Payload, Extensions: ext}
	return nil
}

// ACPCheckout is the checkout session body. TotalAmount is in major currency
// units; Currency follows ACP's lowercase ISO-4217 convention.
type ACPCheckout struct {
	TotalAmount       *float64      `json:"total_amount,omitempty"`
	Currency          string        `json:"currency,omitempty"`
	Country           string        `json:"country,omitempty"`
	PaymentProvider   string        `json:"payment_provider,omitempty"`
	ShippingType      string        `json:"shipping_type,omitempty"`
	CheckoutSessionID string        `json:"checkout_session_id,omitempty"`
	LineItems         []ACPLineItem `json:"line_items,omitempty"`

	Extensions Extensions `json:"-"`
}

var acpCheckoutFields = []string{"total_amount", "currency", "country", "payment_provider", "shipping_type", "checkout_session_id", "line_items"}

type acpCheckout ACPCheckout

// MarshalJSON re-emits extension fields next to the modelled ones.
func (c ACPCheckout) MarshalJSON() ([]byte, error) {
	return marshalWithExtensions(acpCheckout(c), c.Extensions)
}

// UnmarshalJSON keeps unknown fields in Extensions.
func (c *ACPCheckout) UnmarshalJSON(data []byte) error {
	var known acpCheckout
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	ext, err := splitExtensions(data, acpCheckoutFields...)
	if err != nil {
		return err
	}
	known.Extensions = ext
	*c = ACPCheckout(known)
	return nil
}

// ACPItem references a catalog product.
type ACPItem struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// ACPLineItem is a priced line of the checkout. Amounts are in minor units.
type ACPLineItem struct {
	ID         string  `json:"id"`
	Item       ACPItem `json:"item"`
	Title      string  `json:"title"`
	BaseAmount int64   `json:"base_amount"`
	Total      int64   `json:"total"`
}

// ACPAdapter builds and normalizes ACP checkout payloads.
type ACPAdapter struct {
	cfg adapterConfig
}

// NewACPAdapter returns an [ACPAdapter]. The provider defaults to "stripe".
func NewACPAdapter(opts ...AdapterOption) *ACPAdapter {
	return &ACPAdapter{cfg: newAdapterConfig(defaultACPProvider, opts)}
}

func (a *ACPAdapter) Name() string    { return string(ProtocolACP) }
func (a *ACPAdapter) Version() string { return ACPVersion }

// CanHandle claims payloads that carry payload.total_amount.
func (a *ACPAdapter) CanHandle(raw RawPayload) bool {
	return raw.Has("payload", "total_amount")
}

// Build turns in into a checkout session. The session and line item ids are
// derived from the intent and the catalog answer.
func (a *ACPAdapter) Build(ctx context.Context, in intent.Intent, catalog CatalogLookup) (Payload, error) {
	in, err := prepareIntent(in)
	if err != nil {
		return nil, err
	}
	product, err := lookupProduct(ctx, catalog, in.Item)
	if err != nil {
		return nil, err
	}
	sessionID, err := deriveID("cs", ProtocolACP, in, product)
	if err != nil {
		return nil, err
	}
	lineID, err := deriveID("li", ProtocolACP, sessionID, product.ID)
	if err != nil {
		return nil, err
	}
	amount := in.Amount
	total, err := toMinorUnits(amount)
	if err != nil {
		return nil, err
	}
	return &ACPPayload{Payload: ACPCheckout{
		TotalAmount:       &amount,
		Currency:          strings.ToLower(in.Currency),
		Country:           a.cfg.countryFor(in.Currency),
		PaymentProvider:   a.cfg.provider,
		ShippingType:      string(in.ShippingSpeed),
		CheckoutSessionID: sessionID,
		LineItems: []ACPLineItem{{
			ID:         lineID,
			Item:       ACPItem{ID: product.ID, Quantity: 1},
			Title:      in.Item,
			BaseAmount: product.PriceCents,
			Total:      total,
		}},
	}}, nil
}

// Decode parses an ACP wire payload.
func (a *ACPAdapter) Decode(data []byte) (Payload, error) {
	var p ACPPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: acp: %v", ErrMalformedPayload, err)
	}
	return &p, nil
}

// Normalize maps the checkout onto the canonical record. Missing amount or
// currency is a normalization gap; country, provider and shipping fall back
// to neutral values.
func (a *ACPAdapter) Normalize(p Payload) (*NormalizedPayload, error) {
	acp, ok := p.(*ACPPayload)
	if !ok || acp == nil {
		return nil, fmt.Errorf("%w: %T is not an ACP payload", ErrPayloadMismatch, p)
	}
	body := acp.Payload
	if body.TotalAmount == nil {
		return nil, normalizationGap(ProtocolACP, "payload.total_amount")
	}
	if strings.TrimSpace(body.Currency) == "" {
		return nil, normalizationGap(ProtocolACP, "payload.currency")
	}
	cents, err := toMinorUnits(*body.TotalAmount)
	if err != nil {
		return nil, err
	}
	cur, err := canonicalCurrency(body.Currency)
	if err != nil {
		return nil, err
	}
	return &NormalizedPayload{Halo: NormalizedRecord{
		TotalCents:    cents,
		Currency:      cur,
		Country:       strings.ToUpper(firstNonEmpty(body.Country, a.cfg.countryFor(cur))),
		Provider:      firstNonEmpty(body.PaymentProvider, a.cfg.provider),
		ShippingSpeed: shippingOrDefault(body.ShippingType),
	}}, nil
}
