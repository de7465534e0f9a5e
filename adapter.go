package halo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sumup/halo/intent"
)

const (
	DefaultCountry = "US"

	defaultACPProvider  = "stripe"
	defaultUCPProvider  = "shopify"
	defaultX402Provider = "coinbase"

	defaultX402Network = "base-sepolia"
	defaultX402Asset   = "USDC"
	defaultX402PayTo   = "0x0000000000000000000000000000000000000000"
	defaultX402Timeout = 60
)

type adapterConfig struct {
	country    string
	provider   string
	network    string
	asset      string
	payTo      string
	resource   string
	maxTimeout int
}

// AdapterOption customizes a protocol adapter.
type AdapterOption func(*adapterConfig)

// WithDefaultCountry sets the country used when the currency does not imply
// one.
func WithDefaultCountry(country string) AdapterOption {
	return func(cfg *adapterConfig) {
		if country = strings.TrimSpace(country); country != "" {
			cfg.country = strings.ToUpper(country)
		}
	}
}

// WithProvider overrides the payment provider reported by the adapter.
func WithProvider(provider string) AdapterOption {
	return func(cfg *adapterConfig) {
		if provider = strings.TrimSpace(provider); provider != "" {
			cfg.provider = provider
		}
	}
}

// WithX402Network sets the settlement network advertised in x402 challenges.
func WithX402Network(network string) AdapterOption {
	return func(cfg *adapterConfig) {
		cfg.network = network
	}
}

// WithX402Asset sets the asset advertised in x402 challenges.
func WithX402Asset(asset string) AdapterOption {
	return func(cfg *adapterConfig) {
		cfg.asset = asset
	}
}

// WithX402PayTo sets the receiving address of x402 challenges.
func WithX402PayTo(address string) AdapterOption {
	return func(cfg *adapterConfig) {
		cfg.payTo = address
	}
}

// WithX402Resource sets the base URL of the resource being paid for. The
// product id is appended.
func WithX402Resource(baseURL string) AdapterOption {
	return func(cfg *adapterConfig) {
		cfg.resource = strings.TrimRight(baseURL, "/")
	}
}

func newAdapterConfig(provider string, opts []AdapterOption) adapterConfig {
	cfg := adapterConfig{
		country:    DefaultCountry,
		provider:   provider,
		network:    defaultX402Network,
		asset:      defaultX402Asset,
		payTo:      defaultX402PayTo,
		resource:   "https://halo.example/products",
		maxTimeout: defaultX402Timeout,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	return cfg
}

// countryFor derives the country from an ISO currency code, falling back to
// the configured default.
func (cfg adapterConfig) countryFor(currencyCode string) string {
	if country, ok := currencyCountries[strings.ToUpper(currencyCode)]; ok {
		return country
	}
	return cfg.country
}

// prepareIntent fills the fields every protocol requires and validates the
// result.
func prepareIntent(in intent.Intent) (intent.Intent, error) {
	if in.Action == "" {
		in.Action = intent.ActionBuy
	}
	if in.ShippingSpeed == "" {
		in.ShippingSpeed = intent.ShippingStandard
	}
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if err := in.Validate(); err != nil {
		return in, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	if _, err := toMinorUnits(in.Amount); err != nil {
		return in, err
	}
	if _, err := canonicalCurrency(in.Currency); err != nil {
		return in, err
	}
	return in, nil
}

func lookupProduct(ctx context.Context, catalog CatalogLookup, item string) (Product, error) {
	if catalog == nil {
		return Product{}, fmt.Errorf("%w: no catalog configured", ErrCatalogMiss)
	}
	product, err := catalog.Lookup(ctx, item)
	if err != nil {
		if errors.Is(err, ErrCatalogMiss) {
			return Product{}, err
		}
		return Product{}, fmt.Errorf("halo: catalog lookup %q: %w", item, err)
	}
	if product.ID == "" {
		return Product{}, fmt.Errorf("%w: %q", ErrCatalogMiss, item)
	}
	return product, nil
}
