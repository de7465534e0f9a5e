package halo

import (
	"errors"
	"net/http"

	"github.com/sumup/halo/card"
	"github.com/sumup/halo/stepup"
)

// ParseIntentRequest is the body of POST /intents/parse.
type ParseIntentRequest struct {
	Text string `json:"text" validate:"required"`
}

// CardValidationRequest is the body of POST /cards/validate.
type CardValidationRequest struct {
	Number   string `json:"number" validate:"required"`
	ExpMonth int    `json:"exp_month" validate:"required"`
	ExpYear  int    `json:"exp_year" validate:"required"`
}

// CardValidation reports the checks run on a card. The number itself is only
// echoed back grouped for display.
type CardValidation struct {
	Valid       bool           `json:"valid"`
	LuhnValid   bool           `json:"luhn_valid"`
	ExpiryValid bool           `json:"expiry_valid"`
	Brand       card.BrandInfo `json:"brand"`
	Formatted   string         `json:"formatted"`
	Last4       string         `json:"last4"`
}

// VerificationRequest is the body of POST /verifications.
type VerificationRequest struct {
	Amount float64       `json:"amount" validate:"gt=0"`
	Method stepup.Method `json:"method" validate:"required,oneof=otp face_id touch_id fingerprint"`
}

// OTPSubmission is the body of POST /verifications/{token}/otp.
type OTPSubmission struct {
	Code string `json:"code" validate:"required,numeric"`
}

// ProtocolList is the body of GET /protocols.
type ProtocolList struct {
	Protocols []RegistryEntry `json:"protocols"`
	Default   string          `json:"default"`
}

// Handler exposes a [Translator] over net/http.
type Handler struct {
	translator *Translator
	verifier   *stepup.Service
	mux        *http.ServeMux
	cfg        config
}

// NewHandler builds a [Handler] backed by net/http's ServeMux. Verification
// routes are mounted when the translator has a step-up service.
func NewHandler(translator *Translator, opts ...Option) *Handler {
	cfg := newConfig(opts)
	h := &Handler{
		translator: translator,
		verifier:   translator.Verifier(),
		mux:        http.NewServeMux(),
		cfg:        cfg,
	}
	h.registerRoutes(cfg.chain()...)
	return h
}

// ServeHTTP satisfies http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestCtx := requestContextFromRequest(r)
	ctx := contextWithRequestContext(r.Context(), requestCtx)
	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

func (h *Handler) registerRoutes(middleware ...Middleware) {
	h.mux.HandleFunc("GET /protocols", applyMiddleware(h.handleProtocols, middleware...))
	h.mux.HandleFunc("POST /intents/parse", applyMiddleware(h.handleParseIntent, middleware...))
	h.mux.HandleFunc("POST /checkout_payloads", applyMiddleware(h.handleTranslate, middleware...))
	h.mux.HandleFunc("POST /checkouts", applyMiddleware(h.handleCheckout, middleware...))
	h.mux.HandleFunc("POST /payloads/detect", applyMiddleware(h.handleDetect, middleware...))
	h.mux.HandleFunc("POST /payloads/normalize", applyMiddleware(h.handleNormalize, middleware...))
	h.mux.HandleFunc("POST /cards/validate", applyMiddleware(h.handleValidateCard, middleware...))
	if h.verifier != nil {
		h.mux.HandleFunc("POST /verifications", applyMiddleware(h.handleStartVerification, middleware...))
		h.mux.HandleFunc("POST /verifications/{token}/otp", applyMiddleware(h.handleSubmitOTP, middleware...))
		h.mux.HandleFunc("POST /verifications/{token}/biometric", applyMiddleware(h.handleBiometric, middleware...))
		h.mux.HandleFunc("POST /verifications/{token}/cancel", applyMiddleware(h.handleCancelVerification, middleware...))
	}
	if h.cfg.metrics != nil {
		h.mux.Handle("GET /metrics", h.cfg.metrics.Handler())
	}
}

func (h *Handler) handleProtocols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ProtocolList{
		Protocols: h.translator.Registry().List(),
		Default:   h.translator.defaultProtocol,
	})
}

func (h *Handler) handleParseIntent(w http.ResponseWriter, r *http.Request) {
	var req ParseIntentRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := h.translator.ParseIntent(req.Text)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (h *Handler) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req TranslateRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.translator.Translate(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.translator.Checkout(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleDetect(w http.ResponseWriter, r *http.Request) {
	raw, err := rawBody(w, r)
	if err != nil {
		writeJSONError(w, NewInvalidRequestError(err.Error()))
		return
	}
	name, err := h.translator.Detect(raw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"protocol": name})
}

func (h *Handler) handleNormalize(w http.ResponseWriter, r *http.Request) {
	raw, err := rawBody(w, r)
	if err != nil {
		writeJSONError(w, NewInvalidRequestError(err.Error()))
		return
	}
	res, err := h.translator.Inspect(r.Context(), raw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleValidateCard(w http.ResponseWriter, r *http.Request) {
	var req CardValidationRequest
	if !h.decode(w, r, &req) {
		return
	}
	res := CardValidation{
		LuhnValid:   card.LuhnCheck(req.Number),
		ExpiryValid: card.ValidateExpiryAt(req.ExpMonth, req.ExpYear, h.cfg.clock()),
		Brand:       card.DetectBrand(req.Number),
		Formatted:   card.FormatCardNumber(req.Number),
		Last4:       card.Last4(req.Number),
	}
	res.Valid = res.LuhnValid && res.ExpiryValid
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleStartVerification(w http.ResponseWriter, r *http.Request) {
	var req VerificationRequest
	if !h.decode(w, r, &req) {
		return
	}
	challenge, err := h.verifier.StartVerification(r.Context(), req.Amount, req.Method)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, challenge)
}

func (h *Handler) handleSubmitOTP(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	var req OTPSubmission
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.verifier.SubmitOTP(r.Context(), token, req.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleBiometric(w http.ResponseWriter, r *http.Request) {
	res, err := h.verifier.CompleteBiometric(r.Context(), r.PathValue("token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleCancelVerification(w http.ResponseWriter, r *http.Request) {
	if !h.verifier.Cancel(r.PathValue("token")) {
		h.writeError(w, r, stepup.ErrSessionNotFound)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

type validatable interface {
	Validate() error
}

// decode reads the JSON body into v and validates it; on failure the error
// response is already written.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := decodeJSON(w, r, v); err != nil {
		writeJSONError(w, NewInvalidRequestError(err.Error()))
		return false
	}
	var err error
	if val, ok := v.(validatable); ok {
		err = val.Validate()
	} else {
		err = validateStruct(v)
	}
	if err != nil {
		writeJSONError(w, NewInvalidRequestError(err.Error()))
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	httpErr := AsHTTPError(err)
	if httpErr.StatusCode() >= http.StatusInternalServerError && !errors.As(err, new(*Error)) {
		h.cfg.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeJSONError(w, httpErr)
}
