package halo

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sumup/halo/intent"
)

const (
	// X402Version is the x402 protocol version the adapter emits.
	X402Version = 1

	x402Scheme       = "exact"
	x402PaymentError = "X-PAYMENT header is required"
)

// X402Payload is an HTTP 402 payment-required challenge.
type X402Payload struct {
	X402Version int               `json:"x402Version,omitempty"`
	Error       string            `json:"error,omitempty"`
	Accepts     []X402Requirement `json:"accepts,omitempty"`

	Extensions Extensions `json:"-"`
}

var x402PayloadFields = []string{"protocol", "x402Version", "error", "accepts"}

type x402Payload X402Payload

func (*X402Payload) Protocol() ProtocolName { return ProtocolX402 }
func (*X402Payload) payload()               {}

// MarshalJSON emits the challenge together with its protocol tag.
func (p X402Payload) MarshalJSON() ([]byte, error) {
	return marshalWithExtensions(struct {
		Protocol ProtocolName `json:"protocol"`
		x402Payload
	}{ProtocolX402, x402Payload(p)}, p.Extensions)
}

// UnmarshalJSON keeps unknown top-level fields in Extensions.
func (p *X402Payload) UnmarshalJSON(data []byte) error {
	var known x402Payload
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	ext, err := splitExtensions(data, x402PayloadFields...)
	if err != nil {
		return err
	}
	known.Extensions = ext
	*p = X402Payload(known)
	return nil
}

// X402Requirement is one accepted way to pay. MaxAmountRequired is a decimal
// string in the currency's minor units.
type X402Requirement struct {
	Scheme            string    `json:"scheme,omitempty"`
	Network           string    `json:"network,omitempty"`
	MaxAmountRequired string    `json:"maxAmountRequired,omitempty"`
	Resource          string    `json:"resource,omitempty"`
	Description       string    `json:"description,omitempty"`
	MimeType          string    `json:"mimeType,omitempty"`
	PayTo             string    `json:"payTo,omitempty"`
	MaxTimeoutSeconds int       `json:"maxTimeoutSeconds,omitempty"`
	Asset             string    `json:"asset,omitempty"`
	Extra             X402Extra `json:"extra,omitzero"`

	Extensions Extensions `json:"-"`
}

var x402RequirementFields = []string{"scheme", "network", "maxAmountRequired", "resource", "description", "mimeType", "payTo", "maxTimeoutSeconds", "asset", "extra"}

type x402Requirement X402Requirement

// MarshalJSON re-emits extension fields next to the modelled ones.
func (r X402Requirement) MarshalJSON() ([]byte, error) {
	return marshalWithExtensions(x402Requirement(r), r.Extensions)
}

// UnmarshalJSON keeps unknown fields in Extensions.
func (r *X402Requirement) UnmarshalJSON(data []byte) error {
	var known x402Requirement
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	ext, err := splitExtensions(data, x402RequirementFields...)
	if err != nil {
		return err
	}
	known.Extensions = ext
	*r = X402Requirement(known)
	return nil
}

// X402Extra carries the commerce fields x402 has no slot for.
type X402Extra struct {
	Currency      string `json:"currency,omitempty"`
	Country       string `json:"country,omitempty"`
	ShippingSpeed string `json:"shipping_speed,omitempty"`
	ProductID     string `json:"product_id,omitempty"`
	Provider      string `json:"provider,omitempty"`

	Extensions Extensions `json:"-"`
}

var x402ExtraFields = []string{"currency", "country", "shipping_speed", "product_id", "provider"}

type x402Extra X402Extra

// MarshalJSON re-emits extension fields next to the modelled ones.
func (e X402Extra) MarshalJSON() ([]byte, error) {
	return marshalWithExtensions(x402Extra(e), e.Extensions)
}

// UnmarshalJSON keeps unknown fields in Extensions.
func (e *X402Extra) UnmarshalJSON(data []byte) error {
	var known x402Extra
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	ext, err := splitExtensions(data, x402ExtraFields...)
	if err != nil {
		return err
	}
	known.Extensions = ext
	*e = X402Extra(known)
	return nil
}

// X402Adapter builds and normalizes x402 payment challenges.
type X402Adapter struct {
	cfg adapterConfig
}

// NewX402Adapter returns an [X402Adapter]. The provider defaults to
// "coinbase".
func NewX402Adapter(opts ...AdapterOption) *X402Adapter {
	return &X402Adapter{cfg: newAdapterConfig(defaultX402Provider, opts)}
}

func (a *X402Adapter) Name() string    { return string(ProtocolX402) }
func (a *X402Adapter) Version() string { return strconv.Itoa(X402Version) }

// CanHandle claims payloads that carry x402Version or whose first accepted
// requirement has maxAmountRequired.
func (a *X402Adapter) CanHandle(raw RawPayload) bool {
	if raw.Has("x402Version") {
		return true
	}
	accepts, ok := raw.Lookup("accepts")
	if !ok {
		return false
	}
	list, ok := accepts.([]any)
	if !ok || len(list) == 0 {
		return false
	}
	first, ok := asObject(list[0])
	if !ok {
		return false
	}
	_, ok = first["maxAmountRequired"]
	return ok
}

// Build turns in into a single-requirement payment challenge.
func (a *X402Adapter) Build(ctx context.Context, in intent.Intent, catalog CatalogLookup) (Payload, error) {
	in, err := prepareIntent(in)
	if err != nil {
		return nil, err
	}
	product, err := lookupProduct(ctx, catalog, in.Item)
	if err != nil {
		return nil, err
	}
	cents, err := toMinorUnits(in.Amount)
	if err != nil {
		return nil, err
	}
	return &X402Payload{
		X402Version: X402Version,
		Error:       x402PaymentError,
		Accepts: []X402Requirement{{
			Scheme:            x402Scheme,
			Network:           a.cfg.network,
			MaxAmountRequired: strconv.FormatInt(cents, 10),
			Resource:          a.cfg.resource + "/" + product.ID,
			Description:       in.Item,
			MimeType:          "application/json",
			PayTo:             a.cfg.payTo,
			MaxTimeoutSeconds: a.cfg.maxTimeout,
			Asset:             a.cfg.asset,
			Extra: X402Extra{
				Currency:      in.Currency,
				Country:       a.cfg.countryFor(in.Currency),
				ShippingSpeed: string(in.ShippingSpeed),
				ProductID:     product.ID,
				Provider:      a.cfg.provider,
			},
		}},
	}, nil
}

// Decode parses an x402 wire payload.
func (a *X402Adapter) Decode(data []byte) (Payload, error) {
	var p X402Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: x402: %v", ErrMalformedPayload, err)
	}
	return &p, nil
}

// Normalize maps the first accepted requirement onto the canonical record.
func (a *X402Adapter) Normalize(p Payload) (*NormalizedPayload, error) {
	x, ok := p.(*X402Payload)
	if !ok || x == nil {
		return nil, fmt.Errorf("%w: %T is not an x402 payload", ErrPayloadMismatch, p)
	}
	if len(x.Accepts) == 0 {
		return nil, normalizationGap(ProtocolX402, "accepts")
	}
	req := x.Accepts[0]
	if strings.TrimSpace(req.MaxAmountRequired) == "" {
		return nil, normalizationGap(ProtocolX402, "accepts[0].maxAmountRequired")
	}
	if strings.TrimSpace(req.Extra.Currency) == "" {
		return nil, normalizationGap(ProtocolX402, "accepts[0].extra.currency")
	}
	cents, err := strconv.ParseInt(strings.TrimSpace(req.MaxAmountRequired), 10, 64)
	if err != nil || cents < 0 {
		return nil, fmt.Errorf("%w: maxAmountRequired %q", ErrInvalidAmount, req.MaxAmountRequired)
	}
	cur, err := canonicalCurrency(req.Extra.Currency)
	if err != nil {
		return nil, err
	}
	return &NormalizedPayload{Halo: NormalizedRecord{
		TotalCents:    cents,
		Currency:      cur,
		Country:       strings.ToUpper(firstNonEmpty(req.Extra.Country, a.cfg.countryFor(cur))),
		Provider:      firstNonEmpty(req.Extra.Provider, a.cfg.provider),
		ShippingSpeed: shippingOrDefault(req.Extra.ShippingSpeed),
	}}, nil
}
