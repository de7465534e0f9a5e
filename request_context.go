package halo

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sumup/halo/signature"
)

// RequestContext is the per-request metadata the translator attaches to logs
// and audit events. Credentials are never copied into it.
type RequestContext struct {
	// Request-Id header, echoed into audit events.
	RequestID string
	// Idempotency-Key header supplied by the agent.
	IdempotencyKey string
	// User-Agent of the calling agent, e.g. halo-agent/1.0.
	UserAgent string
	// Accept-Language of the calling agent, e.g. en-IN.
	AcceptLanguage string
	// API-Version requested by the agent.
	APIVersion string
	// Signed reports whether the request carried a Signature header.
	Signed bool
}

// LogValue implements [slog.LogValuer]; empty fields are omitted.
func (rc *RequestContext) LogValue() slog.Value {
	if rc == nil {
		return slog.Value{}
	}
	attrs := make([]slog.Attr, 0, 4)
	for _, kv := range [...]struct{ key, value string }{
		{"request_id", rc.RequestID},
		{"idempotency_key", rc.IdempotencyKey},
		{"user_agent", rc.UserAgent},
		{"api_version", rc.APIVersion},
	} {
		if kv.value != "" {
			attrs = append(attrs, slog.String(kv.key, kv.value))
		}
	}
	attrs = append(attrs, slog.Bool("signed", rc.Signed))
	return slog.GroupValue(attrs...)
}

func requestContextFromRequest(r *http.Request) *RequestContext {
	header := func(name string) string { return strings.TrimSpace(r.Header.Get(name)) }
	return &RequestContext{
		RequestID:      header("Request-Id"),
		IdempotencyKey: header("Idempotency-Key"),
		UserAgent:      header("User-Agent"),
		AcceptLanguage: header("Accept-Language"),
		APIVersion:     header("API-Version"),
		Signed:         header(signature.HeaderSignature) != "",
	}
}

type requestContextKey struct{}

func contextWithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	if rc == nil {
		return ctx
	}
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFromContext returns the metadata stored by [Handler], or nil
// outside an HTTP request.
func RequestContextFromContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc
}
