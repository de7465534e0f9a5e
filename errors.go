package halo

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sumup/halo/stepup"
)

var (
	// ErrUnparseableIntent reports text without a purchase intent.
	ErrUnparseableIntent = errors.New("halo: no purchase intent found")
	// ErrUnknownProtocol reports that no registered adapter matches.
	ErrUnknownProtocol = errors.New("halo: unknown protocol")
	// ErrCatalogMiss is returned by catalog lookups that find no product.
	ErrCatalogMiss = errors.New("halo: no catalog product matches item")
	// ErrInvalidCard reports a card that fails the Luhn or expiry checks.
	ErrInvalidCard = errors.New("halo: invalid card")
	// ErrInvalidIntent reports a structured intent that fails validation.
	ErrInvalidIntent = errors.New("halo: invalid intent")
	// ErrNormalizationGap reports a payload missing a canonical field.
	ErrNormalizationGap = errors.New("halo: payload missing required canonical field")
	// ErrInvalidAmount reports a negative, non-finite or malformed amount.
	ErrInvalidAmount = errors.New("halo: invalid amount")
	// ErrInvalidCurrency reports a currency that is not an ISO-4217 code.
	ErrInvalidCurrency = errors.New("halo: invalid currency")
	// ErrMalformedPayload reports a payload that does not decode into its
	// protocol shape.
	ErrMalformedPayload = errors.New("halo: malformed payload")
	// ErrPayloadMismatch reports a payload handed to the wrong adapter.
	ErrPayloadMismatch = errors.New("halo: payload does not belong to adapter")
	// ErrPaymentMethodUnusable reports an unverified, expired or removed method.
	ErrPaymentMethodUnusable = errors.New("halo: payment method cannot be charged")
)

// NormalizationGapError names the canonical field a payload is missing.
type NormalizationGapError struct {
	Protocol string
	Field    string
}

func (e *NormalizationGapError) Error() string {
	return fmt.Sprintf("halo: %s payload missing required field %s", e.Protocol, e.Field)
}

// Is makes errors.Is(err, ErrNormalizationGap) hold.
func (e *NormalizationGapError) Is(target error) bool {
	return target == ErrNormalizationGap
}

func normalizationGap(protocol ProtocolName, field string) error {
	return &NormalizationGapError{Protocol: string(protocol), Field: field}
}

// ErrorType mirrors the error.type field of API responses.
type ErrorType string

const (
	InvalidRequest     ErrorType = "invalid_request"     // Missing or malformed field.
	ProcessingError    ErrorType = "processing_error"    // Internal failure.
	RateLimitExceeded  ErrorType = "rate_limit_exceeded" // Too many requests.
	ServiceUnavailable ErrorType = "service_unavailable" // Temporary outage or maintenance.
)

// ErrorCode is a machine-readable identifier for the specific failure.
type ErrorCode string

const (
	UnparseableIntent    ErrorCode = "unparseable_intent"    // Text carried no buy trigger.
	UnknownProtocol      ErrorCode = "unknown_protocol"      // No adapter for the protocol or payload.
	CatalogMiss          ErrorCode = "catalog_miss"          // Item could not be matched; ask the user to clarify.
	InvalidCard          ErrorCode = "invalid_card"          // Credential failed basic validation (such as Luhn or expiry).
	VerificationFailed   ErrorCode = "verification_failed"   // OTP mismatch; the session accepts a retry.
	VerificationRequired ErrorCode = "verification_required" // High-value transaction without a verified session.
	VerificationExpired  ErrorCode = "verification_expired"  // Session or OTP expired; start again.
	SessionNotFound      ErrorCode = "session_not_found"     // Unknown or discarded verification session.
	NormalizationGap     ErrorCode = "normalization_gap"     // Payload lacks amount or currency.
	InvalidSignature     ErrorCode = "invalid_signature"     // Signature is missing or does not match the payload.
	SignatureRequired    ErrorCode = "signature_required"    // Signed requests are required but headers were missing.
	StaleTimestamp       ErrorCode = "stale_timestamp"       // Timestamp skew exceeded the allowed window.
	MissingAuthorization ErrorCode = "missing_authorization" // Authorization header missing.
	InvalidAuthorization ErrorCode = "invalid_authorization" // Authorization header malformed or API key invalid.
)

// Error represents a structured API error payload.
type Error struct {
	Type    ErrorType `json:"type"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Param   *string   `json:"param,omitempty"`

	status     int           `json:"-"`
	retryAfter time.Duration `json:"-"`
}

// Error makes *Error satisfy the stdlib error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// StatusCode returns the HTTP status the error is written with.
func (e *Error) StatusCode() int {
	if e == nil || e.status == 0 {
		return http.StatusInternalServerError
	}
	return e.status
}

// RetryAfter returns the duration clients should wait before retrying.
func (e *Error) RetryAfter() time.Duration {
	if e == nil {
		return 0
	}
	return e.retryAfter
}

type errorOption func(*Error)

// WithOffendingParam sets the JSON path for the field that triggered the error.
func WithOffendingParam(jsonPath string) errorOption {
	return func(er *Error) {
		er.Param = &jsonPath
	}
}

// WithStatusCode overrides the HTTP status code returned to the client.
func WithStatusCode(status int) errorOption {
	return func(er *Error) {
		er.status = status
	}
}

// WithRetryAfter specifies how long clients should wait before retrying.
func WithRetryAfter(d time.Duration) errorOption {
	return func(er *Error) {
		er.retryAfter = d
	}
}

// NewRateLimitExceededError builds a Too Many Requests error payload.
func NewRateLimitExceededError(message string, opts ...errorOption) *Error {
	return newError(RateLimitExceeded, ErrorCode(RateLimitExceeded), message, append([]errorOption{WithStatusCode(http.StatusTooManyRequests)}, opts...)...)
}

// NewInvalidRequestError builds a Bad Request error payload.
func NewInvalidRequestError(message string, opts ...errorOption) *Error {
	return newError(InvalidRequest, ErrorCode(InvalidRequest), message, append([]errorOption{WithStatusCode(http.StatusBadRequest)}, opts...)...)
}

// NewProcessingError builds an Internal Server Error payload.
func NewProcessingError(message string, opts ...errorOption) *Error {
	return newError(ProcessingError, ErrorCode(ProcessingError), message, append([]errorOption{WithStatusCode(http.StatusInternalServerError)}, opts...)...)
}

// NewHTTPError allows callers to control the status code explicitly.
func NewHTTPError(status int, typ ErrorType, code ErrorCode, message string, opts ...errorOption) *Error {
	return newError(typ, code, message, append(opts, WithStatusCode(status))...)
}

// newError builds a typed error payload.
func newError(typ ErrorType, code ErrorCode, message string, opts ...errorOption) *Error {
	errPayload := &Error{
		Type:    typ,
		Code:    code,
		Message: message,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(errPayload)
	}
	return errPayload
}

// AsHTTPError maps domain errors onto API error payloads. Errors that are
// already *Error pass through; unrecognised errors become processing errors.
func AsHTTPError(err error) *Error {
	if err == nil {
		return nil
	}
	var httpErr *Error
	if errors.As(err, &httpErr) {
		return httpErr
	}
	var gap *NormalizationGapError
	switch {
	case errors.As(err, &gap):
		return NewHTTPError(http.StatusUnprocessableEntity, InvalidRequest, NormalizationGap, err.Error(), WithOffendingParam(gap.Field))
	case errors.Is(err, ErrUnparseableIntent):
		return NewHTTPError(http.StatusUnprocessableEntity, InvalidRequest, UnparseableIntent, err.Error())
	case errors.Is(err, ErrUnknownProtocol):
		return NewHTTPError(http.StatusBadRequest, InvalidRequest, UnknownProtocol, err.Error(), WithOffendingParam("protocol"))
	case errors.Is(err, ErrCatalogMiss):
		return NewHTTPError(http.StatusUnprocessableEntity, InvalidRequest, CatalogMiss, err.Error(), WithOffendingParam("item"))
	case errors.Is(err, ErrInvalidCard), errors.Is(err, ErrPaymentMethodUnusable):
		return NewHTTPError(http.StatusUnprocessableEntity, InvalidRequest, InvalidCard, err.Error())
	case errors.Is(err, stepup.ErrAttemptsExhausted), errors.Is(err, stepup.ErrOTPExpired):
		return NewHTTPError(http.StatusGone, InvalidRequest, VerificationExpired, err.Error())
	case errors.Is(err, stepup.ErrVerificationFailed):
		return NewHTTPError(http.StatusUnprocessableEntity, InvalidRequest, VerificationFailed, err.Error(), WithOffendingParam("code"))
	case errors.Is(err, stepup.ErrVerificationRequired):
		return NewHTTPError(http.StatusForbidden, InvalidRequest, VerificationRequired, err.Error())
	case errors.Is(err, stepup.ErrSessionNotFound):
		return NewHTTPError(http.StatusNotFound, InvalidRequest, SessionNotFound, err.Error())
	case errors.Is(err, stepup.ErrWrongMethod), errors.Is(err, stepup.ErrUnsupportedMethod),
		errors.Is(err, stepup.ErrNotRequired), errors.Is(err, stepup.ErrInvalidTransition):
		return NewInvalidRequestError(err.Error(), WithStatusCode(http.StatusConflict))
	case errors.Is(err, ErrInvalidIntent), errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidCurrency), errors.Is(err, ErrPayloadMismatch),
		errors.Is(err, ErrMalformedPayload):
		return NewInvalidRequestError(err.Error())
	}
	return NewProcessingError("internal server error")
}
