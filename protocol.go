package halo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/oapi-codegen/runtime"

	"github.com/sumup/halo/intent"
)

// ProtocolName is the canonical tag a payload carries for registry dispatch.
type ProtocolName string

const (
	ProtocolACP  ProtocolName = "ACP"
	ProtocolUCP  ProtocolName = "UCP"
	ProtocolX402 ProtocolName = "x402"
)

// Payload is a protocol-specific checkout payload. The set of variants is
// closed: [*ACPPayload], [*UCPIntent] and [*X402Payload].
type Payload interface {
	Protocol() ProtocolName
	payload()
}

// Product is a catalog answer for an item name.
type Product struct {
	ID         string `json:"id"`
	PriceCents int64  `json:"price_cents"`
}

// CatalogLookup resolves an item name to a product. Implementations must be
// deterministic and return an error wrapping [ErrCatalogMiss] when nothing
// matches.
type CatalogLookup interface {
	Lookup(ctx context.Context, item string) (Product, error)
}

// CatalogFunc lifts bare functions into [CatalogLookup].
type CatalogFunc func(ctx context.Context, item string) (Product, error)

// Lookup delegates to the wrapped function.
func (f CatalogFunc) Lookup(ctx context.Context, item string) (Product, error) {
	return f(ctx, item)
}

// Adapter builds, recognizes and normalizes payloads of one protocol.
type Adapter interface {
	Name() string
	Version() string
	// CanHandle is a pure structural predicate over an inbound payload.
	CanHandle(raw RawPayload) bool
	// Build is deterministic for a given intent and catalog answer.
	Build(ctx context.Context, in intent.Intent, catalog CatalogLookup) (Payload, error)
	Decode(data []byte) (Payload, error)
	Normalize(p Payload) (*NormalizedPayload, error)
}

// NormalizedPayload is the provider-agnostic record persisted and displayed
// downstream.
type NormalizedPayload struct {
	Halo NormalizedRecord `json:"halo_normalized"`
}

// NormalizedRecord holds the canonical fields. TotalCents is always a
// non-negative integer amount in minor units.
type NormalizedRecord struct {
	TotalCents    int64  `json:"total_cents"`
	Currency      string `json:"currency"`
	Country       string `json:"country"`
	Provider      string `json:"provider"`
	ShippingSpeed string `json:"shipping_speed"`
}

// RawPayload is an inbound JSON object before it is bound to a protocol.
type RawPayload map[string]any

// ParseRawPayload decodes data into a [RawPayload]. Numbers are kept as
// [json.Number] so amounts survive untouched.
func ParseRawPayload(data []byte) (RawPayload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw RawPayload
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("halo: decode payload: %w", err)
	}
	if raw == nil {
		return nil, errors.New("halo: payload must be a JSON object")
	}
	if dec.More() {
		return nil, errors.New("halo: unexpected data after JSON payload")
	}
	return raw, nil
}

// Lookup walks nested objects along path.
func (r RawPayload) Lookup(path ...string) (any, bool) {
	var current any = map[string]any(r)
	for _, key := range path {
		obj, ok := asObject(current)
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Has reports whether path resolves to a non-null value.
func (r RawPayload) Has(path ...string) bool {
	v, ok := r.Lookup(path...)
	return ok && v != nil
}

// Protocol returns the top-level protocol tag, if any.
func (r RawPayload) Protocol() string {
	v, _ := r.Lookup("protocol")
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func asObject(v any) (map[string]any, bool) {
	switch obj := v.(type) {
	case map[string]any:
		return obj, true
	case RawPayload:
		return obj, true
	}
	return nil, false
}

// Extensions carries protocol fields beyond the modelled set. They are kept
// verbatim and re-emitted on marshal.
type Extensions map[string]json.RawMessage

// marshalWithExtensions encodes known and merges ext underneath it; modelled
// fields win on key collisions.
func marshalWithExtensions(known any, ext Extensions) ([]byte, error) {
	knownJSON, err := json.Marshal(known)
	if err != nil {
		return nil, err
	}
	if len(ext) == 0 {
		return knownJSON, nil
	}
	extJSON, err := json.Marshal(map[string]json.RawMessage(ext))
	if err != nil {
		return nil, err
	}
	merged, err := runtime.JSONMerge(extJSON, knownJSON)
	if err != nil {
		return nil, fmt.Errorf("halo: merge extension fields: %w", err)
	}
	return merged, nil
}

// splitExtensions returns the keys of data that are not listed in known.
func splitExtensions(data []byte, known ...string) (Extensions, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, key := range known {
		delete(all, key)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return Extensions(all), nil
}
