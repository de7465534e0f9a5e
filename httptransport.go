package halo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// APIVersion is sent in the API-Version header of every response and audit
// webhook.
const APIVersion = "2026-09-01"

// maxBodyBytes bounds every request body the handler reads.
const maxBodyBytes = 1 << 20

var errEmptyBody = errors.New("request body required")

// decodeJSON strictly decodes the request body into v: unknown fields and
// trailing documents are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return bodyError(err)
	}
	if dec.More() {
		return errors.New("request body holds more than one JSON document")
	}
	return nil
}

// rawBody returns the request body for handlers that decode it themselves.
func rawBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, bodyError(err)
	}
	if len(raw) == 0 {
		return nil, errEmptyBody
	}
	return raw, nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		return errEmptyBody
	case errors.As(err, &tooLarge):
		return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	writeResponse(w, status, 0, payload)
}

func writeJSONError(w http.ResponseWriter, apiErr *Error) {
	if apiErr == nil {
		apiErr = NewProcessingError("internal server error")
	}
	writeResponse(w, apiErr.StatusCode(), apiErr.RetryAfter(), apiErr)
}

func writeResponse(w http.ResponseWriter, status int, retryAfter time.Duration, payload any) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("API-Version", APIVersion)
	if seconds := retryAfterSeconds(retryAfter); seconds > 0 {
		h.Set("Retry-After", strconv.FormatInt(seconds, 10))
	}
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// retryAfterSeconds rounds d up to whole seconds for the Retry-After header.
func retryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
