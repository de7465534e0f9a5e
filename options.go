package halo

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/sumup/halo/signature"
)

// Middleware wraps a route handler. Custom middleware runs innermost, after
// rate limiting, authentication and signature checks.
type Middleware func(http.HandlerFunc) http.HandlerFunc

// applyMiddleware wraps h so the last middleware runs first.
func applyMiddleware(h http.HandlerFunc, middleware ...Middleware) http.HandlerFunc {
	for _, m := range middleware {
		h = m(h)
	}
	return h
}

// Option customizes a [Handler].
type Option func(*config)

type config struct {
	logger  *slog.Logger
	metrics *Metrics
	clock   func() time.Time

	signatureVerifier     signature.Verifier
	requireSignedRequests bool
	maxClockSkew          time.Duration

	authenticator Authenticator
	rateLimit     rate.Limit
	rateBurst     int
	middleware    []Middleware
}

func newConfig(opts []Option) config {
	cfg := config{
		logger:       slog.Default(),
		clock:        time.Now,
		maxClockSkew: 5 * time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.requireSignedRequests && cfg.signatureVerifier == nil {
		panic("halo: signature verifier required when signed requests are enforced")
	}
	return cfg
}

// chain lists the route middleware, innermost first.
func (cfg config) chain() []Middleware {
	chain := append([]Middleware(nil), cfg.middleware...)
	if mw := newSignatureMiddleware(cfg); mw != nil {
		chain = append(chain, mw)
	}
	if mw := newAuthenticationMiddleware(cfg.authenticator); mw != nil {
		chain = append(chain, mw)
	}
	if cfg.rateLimit > 0 {
		limits := newLimiterMap(cfg.rateLimit, cfg.rateBurst, cfg.clock)
		chain = append(chain, newRateLimitMiddleware(limits, cfg.metrics))
	}
	return chain
}

// WithSignatureVerifier checks the Signature and Timestamp headers of every
// request that carries them.
func WithSignatureVerifier(verifier signature.Verifier) Option {
	return func(cfg *config) { cfg.signatureVerifier = verifier }
}

// WithRequireSignedRequests rejects unsigned requests with 401
// signature_required. It needs [WithSignatureVerifier].
func WithRequireSignedRequests() Option {
	return func(cfg *config) { cfg.requireSignedRequests = true }
}

// WithMaxClockSkew bounds the distance between a signed request's Timestamp
// and the server clock. The default is five minutes.
func WithMaxClockSkew(skew time.Duration) Option {
	if skew <= 0 {
		panic("halo: max clock skew must be positive")
	}
	return func(cfg *config) { cfg.maxClockSkew = skew }
}

// WithAuthenticator requires an "Authorization: Bearer <api_key>" header
// accepted by auth.
func WithAuthenticator(auth Authenticator) Option {
	return func(cfg *config) { cfg.authenticator = auth }
}

// WithRateLimit allows each client rps requests per second with the given
// burst. Clients are keyed by API key, or by remote address without one. A
// non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(cfg *config) {
		if rps <= 0 {
			return
		}
		cfg.rateLimit = rate.Limit(rps)
		cfg.rateBurst = max(burst, 1)
	}
}

// WithMiddleware appends route middleware. Nil entries are skipped.
func WithMiddleware(mw ...Middleware) Option {
	return func(cfg *config) {
		for _, m := range mw {
			if m != nil {
				cfg.middleware = append(cfg.middleware, m)
			}
		}
	}
}

// WithLogger sets the handler's logger; nil keeps slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithMetrics counts rate-limited requests and serves GET /metrics.
func WithMetrics(m *Metrics) Option {
	return func(cfg *config) { cfg.metrics = m }
}

func withClock(fn func() time.Time) Option {
	return func(cfg *config) { cfg.clock = fn }
}
