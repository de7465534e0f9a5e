// Package halo translates purchase intents into competing agentic checkout
// protocols and collapses their payloads back into one canonical record.
//
// # Protocols
//
// A [Registry] holds one [Adapter] per protocol. [NewDefaultRegistry] wires
// the Agentic Commerce Protocol ([ACPAdapter]), the Universal Commerce
// Protocol ([UCPAdapter]) and HTTP 402 payment challenges ([X402Adapter]).
// Adapters build a [Payload] from an [intent.Intent] and a [CatalogLookup],
// recognize inbound payloads, and normalize payloads into a
// [NormalizedPayload]:
//
//	{"halo_normalized":{"total_cents":4999,"currency":"USD","country":"US","provider":"stripe","shipping_speed":"express"}}
//
// Protocol fields outside the modelled set are kept on decode and re-emitted
// on encode, but normalization drops them.
//
// # Checkout
//
// A [Translator] runs parse, build and normalize. [Translator.Checkout]
// additionally requires a usable [PaymentMethod] and, for amounts above the
// step-up threshold, a session verified through the stepup package.
//
// # HTTP
//
// [NewHandler] exposes the translator over net/http. Options such as
// [WithSignatureVerifier], [WithAuthenticator] and [WithRateLimit] enable
// canonical JSON request signatures, Bearer API keys and per-client rate
// limits. [LoadConfig] reads the HALO_* environment variables into a
// [Config] that produces these options.
package halo
