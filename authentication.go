package halo

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Authenticator decides whether an agent's API key may call the handler.
// Returning an [*Error] sends it to the client unchanged; any other error
// becomes 401 invalid_authorization.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) error
}

// AuthenticatorFunc lifts bare functions into [Authenticator].
type AuthenticatorFunc func(ctx context.Context, apiKey string) error

// Authenticate calls f.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, apiKey string) error {
	return f(ctx, apiKey)
}

// StaticKeys accepts a fixed set of API keys, typically HALO_API_KEYS.
type StaticKeys []string

// Authenticate reports whether apiKey is one of k. Every key is compared in
// constant time.
func (k StaticKeys) Authenticate(_ context.Context, apiKey string) error {
	match := 0
	for _, key := range k {
		match |= subtle.ConstantTimeCompare([]byte(key), []byte(apiKey))
	}
	if match != 1 {
		return errors.New("halo: unknown api key")
	}
	return nil
}

// bearerToken extracts the token of an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func newAuthenticationMiddleware(auth Authenticator) Middleware {
	if auth == nil {
		return nil
	}
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if apiErr := authenticate(r, auth); apiErr != nil {
				writeJSONError(w, apiErr)
				return
			}
			next(w, r)
		}
	}
}

func authenticate(r *http.Request, auth Authenticator) *Error {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return NewHTTPError(http.StatusUnauthorized, InvalidRequest, MissingAuthorization, "Authorization header is required")
	}
	apiKey, ok := bearerToken(header)
	if !ok || apiKey == "" {
		return NewHTTPError(http.StatusUnauthorized, InvalidRequest, InvalidAuthorization, "Authorization header must be 'Bearer <api_key>'")
	}
	err := auth.Authenticate(r.Context(), apiKey)
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewHTTPError(http.StatusUnauthorized, InvalidRequest, InvalidAuthorization, "API key is not recognised")
}
