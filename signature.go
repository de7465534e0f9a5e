package halo

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sumup/halo/signature"
)

// newSignatureMiddleware verifies the Signature and Timestamp headers against
// the canonical JSON body. Unsigned requests pass through unless signing is
// enforced.
func newSignatureMiddleware(cfg config) Middleware {
	if cfg.signatureVerifier == nil {
		return nil
	}
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if apiErr := checkSignature(cfg, w, r); apiErr != nil {
				cfg.logger.InfoContext(r.Context(), "request signature rejected",
					"path", r.URL.Path,
					"code", apiErr.Code,
					requestAttr(r.Context()),
				)
				writeJSONError(w, apiErr)
				return
			}
			next(w, r)
		}
	}
}

func checkSignature(cfg config, w http.ResponseWriter, r *http.Request) *Error {
	sig := strings.TrimSpace(r.Header.Get(signature.HeaderSignature))
	stamp := strings.TrimSpace(r.Header.Get(signature.HeaderTimestamp))
	switch {
	case sig == "" && stamp == "":
		if cfg.requireSignedRequests {
			return NewHTTPError(http.StatusUnauthorized, InvalidRequest, SignatureRequired, "request must carry Signature and Timestamp headers")
		}
		return nil
	case sig == "" || stamp == "":
		return NewHTTPError(http.StatusBadRequest, InvalidRequest, InvalidSignature, "Signature and Timestamp headers go together")
	}

	ts, err := signature.ParseTimestamp(stamp)
	if err != nil {
		return NewHTTPError(http.StatusBadRequest, InvalidRequest, InvalidSignature, "Timestamp is not an RFC 3339 time")
	}
	if skew := signature.Skew(cfg.clock(), ts); cfg.maxClockSkew > 0 && skew > cfg.maxClockSkew {
		return NewHTTPError(http.StatusUnauthorized, InvalidRequest, StaleTimestamp, fmt.Sprintf("Timestamp is %s away from server time, limit is %s", skew.Round(time.Second), cfg.maxClockSkew))
	}

	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	}
	raw, err := signature.ReadAndBufferBody(r)
	if err != nil {
		return NewInvalidRequestError(bodyError(err).Error())
	}
	canonical, err := signature.CanonicalizeJSONBody(raw)
	if err != nil {
		return NewInvalidRequestError("signed request body is not JSON")
	}
	err = cfg.signatureVerifier.Verify(r.Context(), signature.Material{
		Signature:     sig,
		Timestamp:     ts.UTC(),
		CanonicalBody: canonical,
		Method:        r.Method,
		Path:          r.URL.Path,
		Headers:       r.Header.Clone(),
	})
	if err != nil {
		return NewHTTPError(http.StatusUnauthorized, InvalidRequest, InvalidSignature, "Signature does not match the request body")
	}
	return nil
}
