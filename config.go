package halo

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/sumup/halo/signature"
	"github.com/sumup/halo/stepup"
)

// Config is the process configuration of a halo server.
type Config struct {
	Addr            string     `env:"HALO_ADDR"             envDefault:":8080"`
	LogLevel        slog.Level `env:"HALO_LOG_LEVEL"        envDefault:"INFO"`
	DefaultProtocol string     `env:"HALO_DEFAULT_PROTOCOL" envDefault:"ACP"`
	Country         string     `env:"HALO_COUNTRY"          envDefault:"US"`

	StepUpThreshold    float64       `env:"HALO_STEPUP_THRESHOLD"     envDefault:"100"`
	OTPTTL             time.Duration `env:"HALO_OTP_TTL"              envDefault:"5m"`
	OTPMaxAttempts     int           `env:"HALO_OTP_MAX_ATTEMPTS"     envDefault:"0"`
	BiometricScanDelay time.Duration `env:"HALO_BIOMETRIC_SCAN_DELAY" envDefault:"1500ms"`

	SigningKey            string            `env:"HALO_SIGNING_KEY"`
	AgentPublicKeys       map[string]string `env:"HALO_AGENT_PUBLIC_KEYS" envSeparator:"," envKeyValSeparator:":"`
	RequireSignedRequests bool              `env:"HALO_REQUIRE_SIGNED_REQUESTS"`
	MaxClockSkew          time.Duration     `env:"HALO_MAX_CLOCK_SKEW"    envDefault:"5m"`
	APIKeys               []string          `env:"HALO_API_KEYS"          envSeparator:","`

	RateLimitRPS   float64 `env:"HALO_RATE_LIMIT_RPS"   envDefault:"0"`
	RateLimitBurst int     `env:"HALO_RATE_LIMIT_BURST" envDefault:"10"`

	AuditWebhookURL    string `env:"HALO_AUDIT_WEBHOOK_URL"`
	AuditWebhookSecret string `env:"HALO_AUDIT_WEBHOOK_SECRET"`
}

// LoadConfig reads the configuration from the process environment.
func LoadConfig() (Config, error) {
	return parseConfig(env.Options{})
}

// LoadConfigFrom reads the configuration from environ instead of the process
// environment.
func LoadConfigFrom(environ map[string]string) (Config, error) {
	return parseConfig(env.Options{Environment: environ})
}

func parseConfig(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.StepUpThreshold < 0 {
		return errors.New("config: HALO_STEPUP_THRESHOLD must not be negative")
	}
	if c.OTPTTL <= 0 {
		return errors.New("config: HALO_OTP_TTL must be positive")
	}
	if c.MaxClockSkew <= 0 {
		return errors.New("config: HALO_MAX_CLOCK_SKEW must be positive")
	}
	if c.SigningKey != "" && len(c.AgentPublicKeys) > 0 {
		return errors.New("config: HALO_SIGNING_KEY and HALO_AGENT_PUBLIC_KEYS are mutually exclusive")
	}
	if _, err := c.agentKeys(); err != nil {
		return err
	}
	if c.RequireSignedRequests && c.SigningKey == "" && len(c.AgentPublicKeys) == 0 {
		return errors.New("config: HALO_SIGNING_KEY or HALO_AGENT_PUBLIC_KEYS is required when signed requests are enforced")
	}
	if c.AuditWebhookURL != "" && c.AuditWebhookSecret == "" {
		return errors.New("config: HALO_AUDIT_WEBHOOK_SECRET is required with HALO_AUDIT_WEBHOOK_URL")
	}
	return nil
}

// AdapterOptions returns the protocol adapter options implied by c.
func (c Config) AdapterOptions() []AdapterOption {
	return []AdapterOption{WithDefaultCountry(c.Country)}
}

// StepUpOptions returns the step-up service options implied by c.
func (c Config) StepUpOptions() []stepup.Option {
	return []stepup.Option{
		stepup.WithThreshold(c.StepUpThreshold),
		stepup.WithTTL(c.OTPTTL),
		stepup.WithMaxAttempts(c.OTPMaxAttempts),
		stepup.WithScanDelay(c.BiometricScanDelay),
	}
}

// HandlerOptions returns the HTTP handler options implied by c.
func (c Config) HandlerOptions() []Option {
	opts := []Option{WithMaxClockSkew(c.MaxClockSkew)}
	if verifier := c.signatureVerifier(); verifier != nil {
		opts = append(opts, WithSignatureVerifier(verifier))
		if c.RequireSignedRequests {
			opts = append(opts, WithRequireSignedRequests())
		}
	}
	if len(c.APIKeys) > 0 {
		opts = append(opts, WithAuthenticator(StaticKeys(c.APIKeys)))
	}
	if c.RateLimitRPS > 0 {
		opts = append(opts, WithRateLimit(c.RateLimitRPS, c.RateLimitBurst))
	}
	return opts
}

func (c Config) signatureVerifier() signature.Verifier {
	if c.SigningKey != "" {
		return signature.HMAC{Key: []byte(c.SigningKey)}
	}
	keys, err := c.agentKeys()
	if err != nil || len(keys) == 0 {
		return nil
	}
	return signature.Ed25519{
		Keys:  keys,
		KeyID: func(m signature.Material) string { return m.Headers.Get(signature.HeaderKeyID) },
	}
}

// agentKeys decodes HALO_AGENT_PUBLIC_KEYS, a list of id:key pairs with
// base64url encoded Ed25519 public keys.
func (c Config) agentKeys() (map[string]ed25519.PublicKey, error) {
	if len(c.AgentPublicKeys) == 0 {
		return nil, nil
	}
	keys := make(map[string]ed25519.PublicKey, len(c.AgentPublicKeys))
	for id, encoded := range c.AgentPublicKeys {
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("config: HALO_AGENT_PUBLIC_KEYS entry %q is not a base64url Ed25519 public key", id)
		}
		keys[id] = ed25519.PublicKey(raw)
	}
	return keys, nil
}

// AuditPublisher returns the webhook publisher configured by c, or nil when
// no endpoint is set.
func (c Config) AuditPublisher(client *http.Client) (*WebhookPublisher, error) {
	if c.AuditWebhookURL == "" {
		return nil, nil
	}
	return NewWebhookPublisher(WebhookOptions{
		Endpoint:  c.AuditWebhookURL,
		SecretKey: []byte(c.AuditWebhookSecret),
		Client:    client,
	})
}
