package halo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sumup/halo/intent"
)

// UCPVersion is the Universal Commerce Protocol revision the adapter emits.
const UCPVersion = "2026-01-11"

// UCPIntent is a Universal Commerce Protocol intent payload.
type UCPIntent struct {
	Intent UCPAction `json:"intent"`

	Extensions Extensions `json:"-"`
}

func (*UCPIntent) Protocol() ProtocolName { return ProtocolUCP }
func (*UCPIntent) payload()               {}

// MarshalJSON emits the intent together with its protocol tag.
func (p UCPIntent) MarshalJSON() ([]byte, error) {
	return marshalWithExtensions(struct {
		Protocol ProtocolName `json:"protocol"`
		Intent   UCPAction    `json:"intent"`
	}{ProtocolUCP, p.Intent}, p.Extensions)
}

// UnmarshalJSON keeps unknown envelope fields in Extensions.
func (p *UCPIntent) UnmarshalJSON(data []byte) error {
	var known struct {
		Intent UCPAction `json:"intent"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	ext, err := splitExtensions(data, "protocol", "intent")
	if err != nil {
		return err
	}
	*p = UCPIntent{Intent: known.Intent, Extensions: ext}
	return nil
}

// UCPAction names the requested action and its parameters.
type UCPAction struct {
	ID     string    `json:"id,omitempty"`
	Action string    `json:"action,omitempty"`
	Params UCPParams `json:"params,omitzero"`

	Extensions Extensions `json:"-"`
}

var ucpActionFields = []string{"id", "action", "params"}

type ucpAction UCPAction

// MarshalJSON re-emits extension fields next to the modelled ones.
func (a UCPAction) MarshalJSON() ([]byte, error) {
	return marshalWithExtensions(ucpAction(a), a.Extensions)
}

// UnmarshalJSON keeps unknown fields in Extensions.
func (a *UCPAction) UnmarshalJSON(data []byte) error {
	var known ucpAction
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	ext, err := splitExtensions(data, ucpActionFields...)
	if err != nil {
		return err
	}
	known.Extensions = ext
	*a = UCPAction(known)
	return nil
}

// UCPParams carries the purchase parameters. Amount is in major currency
// units.
type UCPParams struct {
	Item           string   `json:"item,omitempty"`
	Amount         *float64 `json:"amount,omitempty"`
	Currency       string   `json:"currency,omitempty"`
	ShippingSpeed  string   `json:"shipping_speed,omitempty"`
	ProductID      string   `json:"product_id,omitempty"`
	UnitPriceCents *int64   `json:"unit_price_cents,omitempty"`
	Country        string   `json:"country,omitempty"`
	Provider       string   `json:"provider,omitempty"`

	Extensions Extensions `json:"-"`
}

var ucpParamFields = []string{"item", "amount", "currency", "shipping_speed", "product_id", "unit_price_cents", "country", "provider"}

type ucpParams UCPParams

// MarshalJSON re-emits extension fields next to the modelled ones.
func (p UCPParams) MarshalJSON() ([]byte, error) {
	return marshalWithExtensions(ucpParams(p), p.Extensions)
}

// UnmarshalJSON keeps unknown fields in Extensions.
func (p *UCPParams) UnmarshalJSON(data []byte) error {
	var known ucpParams
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	ext, err := splitExtensions(data, ucpParamFields...)
	if err != nil {
		return err
	}
	known.Extensions = ext
	*p = UCPParams(known)
	return nil
}

// UCPAdapter builds and normalizes UCP intents.
type UCPAdapter struct {
	cfg adapterConfig
}

// NewUCPAdapter returns a [UCPAdapter]. The provider defaults to "shopify".
func NewUCPAdapter(opts ...AdapterOption) *UCPAdapter {
	return &UCPAdapter{cfg: newAdapterConfig(defaultUCPProvider, opts)}
}

func (a *UCPAdapter) Name() string    { return string(ProtocolUCP) }
func (a *UCPAdapter) Version() string { return UCPVersion }

// CanHandle claims payloads that carry intent.action.
func (a *UCPAdapter) CanHandle(raw RawPayload) bool {
	return raw.Has("intent", "action")
}

// Build turns in into a UCP intent with a derived intent id.
func (a *UCPAdapter) Build(ctx context.Context, in intent.Intent, catalog CatalogLookup) (Payload, error) {
	in, err := prepareIntent(in)
	if err != nil {
		return nil, err
	}
	product, err := lookupProduct(ctx, catalog, in.Item)
	if err != nil {
		return nil, err
	}
	id, err := deriveID("ucp", ProtocolUCP, in, product)
	if err != nil {
		return nil, err
	}
	amount := in.Amount
	price := product.PriceCents
	return &UCPIntent{Intent: UCPAction{
		ID:     id,
		Action: in.Action,
		Params: UCPParams{
			Item:           in.Item,
			Amount:         &amount,
			Currency:       in.Currency,
			ShippingSpeed:  string(in.ShippingSpeed),
			ProductID:      product.ID,
			UnitPriceCents: &price,
			Country:        a.cfg.countryFor(in.Currency),
			Provider:       a.cfg.provider,
		},
	}}, nil
}

// Decode parses a UCP wire payload.
func (a *UCPAdapter) Decode(data []byte) (Payload, error) {
	var p UCPIntent
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: ucp: %v", ErrMalformedPayload, err)
	}
	return &p, nil
}

// Normalize maps the intent parameters onto the canonical record.
func (a *UCPAdapter) Normalize(p Payload) (*NormalizedPayload, error) {
	ucp, ok := p.(*UCPIntent)
	if !ok || ucp == nil {
		return nil, fmt.Errorf("%w: %T is not a UCP intent", ErrPayloadMismatch, p)
	}
	params := ucp.Intent.Params
	if params.Amount == nil {
		return nil, normalizationGap(ProtocolUCP, "intent.params.amount")
	}
	if strings.TrimSpace(params.Currency) == "" {
		return nil, normalizationGap(ProtocolUCP, "intent.params.currency")
	}
	cents, err := toMinorUnits(*params.Amount)
	if err != nil {
		return nil, err
	}
	cur, err := canonicalCurrency(params.Currency)
	if err != nil {
		return nil, err
	}
	return &NormalizedPayload{Halo: NormalizedRecord{
		TotalCents:    cents,
		Currency:      cur,
		Country:       strings.ToUpper(firstNonEmpty(params.Country, a.cfg.countryFor(cur))),
		Provider:      firstNonEmpty(params.Provider, a.cfg.provider),
		ShippingSpeed: shippingOrDefault(params.ShippingSpeed),
	}}, nil
}
