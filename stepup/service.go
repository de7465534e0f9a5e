package stepup

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultThreshold = 100.0
	DefaultTTL       = 5 * time.Minute
	otpDigits        = 6
)

// OTPGenerator produces one-time passcodes.
type OTPGenerator func() (string, error)

// GenerateOTP returns a random six digit passcode.
func GenerateOTP() (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < otpDigits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("stepup: generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}

// Outcome labels a finished verification operation for observers.
type Outcome string

const (
	OutcomeStarted   Outcome = "started"
	OutcomeVerified  Outcome = "verified"
	OutcomeFailed    Outcome = "failed"
	OutcomeExpired   Outcome = "expired"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeCanceled  Outcome = "canceled"
)

// Observer is notified about verification outcomes, e.g. to feed metrics.
type Observer func(method Method, outcome Outcome)

// Challenge is handed to the UI when verification starts. OTP carries the
// passcode because this environment displays it to the user.
type Challenge struct {
	Token     string    `json:"token"`
	Method    Method    `json:"method"`
	State     State     `json:"state"`
	Amount    float64   `json:"amount"`
	OTP       string    `json:"otp,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Result reports the outcome of a submission or scan.
type Result struct {
	Token             string `json:"token"`
	Method            Method `json:"method"`
	State             State  `json:"state"`
	Verified          bool   `json:"verified"`
	AttemptsRemaining *int   `json:"attempts_remaining,omitempty"`
}

// Service owns the verification sessions of in-flight checkouts. It is safe
// for concurrent use.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*Session

	threshold   float64
	ttl         time.Duration
	maxAttempts int
	scanDelay   time.Duration
	generate    OTPGenerator
	newToken    func() string
	clock       func() time.Time
	observer    Observer
	logger      *slog.Logger
}

// Option customizes a [Service].
type Option func(*Service)

// WithThreshold sets the amount, in major currency units, above which
// verification is required.
func WithThreshold(amount float64) Option {
	return func(s *Service) {
		s.threshold = amount
	}
}

// WithTTL bounds how long a session, and its OTP, stays usable.
func WithTTL(ttl time.Duration) Option {
	if ttl <= 0 {
		panic("stepup: ttl must be positive")
	}
	return func(s *Service) {
		s.ttl = ttl
	}
}

// WithMaxAttempts caps OTP submissions per session. The default of zero keeps
// the Failed to AwaitingInput loop open: every mismatch allows another try
// until the session expires or is cancelled. With n > 0 the n-th mismatch
// discards the session with ErrAttemptsExhausted.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		s.maxAttempts = n
	}
}

// WithScanDelay simulates the time a biometric scan takes.
func WithScanDelay(d time.Duration) Option {
	return func(s *Service) {
		s.scanDelay = d
	}
}

// WithOTPGenerator replaces the random passcode source.
func WithOTPGenerator(gen OTPGenerator) Option {
	return func(s *Service) {
		if gen != nil {
			s.generate = gen
		}
	}
}

// WithClock provides deterministic time in tests.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.clock = fn
		}
	}
}

// WithObserver registers a callback for verification outcomes.
func WithObserver(obs Observer) Option {
	return func(s *Service) {
		s.observer = obs
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService builds a [Service].
func NewService(opts ...Option) *Service {
	s := &Service{
		sessions:  make(map[string]*Session),
		threshold: DefaultThreshold,
		ttl:       DefaultTTL,
		generate:  GenerateOTP,
		newToken:  uuid.NewString,
		clock:     time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	s.logger = s.logger.With("component", "stepup")
	return s
}

// Threshold returns the configured high-value threshold.
func (s *Service) Threshold() float64 {
	return s.threshold
}

// Required reports whether amount exceeds the high-value threshold.
func (s *Service) Required(amount float64) bool {
	return amount > s.threshold
}

// StartVerification opens a session for amount using method and moves it to
// awaiting_input. Amounts at or below the threshold return [ErrNotRequired].
func (s *Service) StartVerification(ctx context.Context, amount float64, method Method) (*Challenge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !method.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
	if !s.Required(amount) {
		return nil, ErrNotRequired
	}
	var otp string
	if method == MethodOTP {
		code, err := s.generate()
		if err != nil {
			return nil, err
		}
		otp = code
	}
	now := s.clock()
	session := NewSession(s.newToken(), method, amount)
	if err := session.Begin(otp, now.Add(s.ttl)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.purgeExpiredLocked(now)
	s.sessions[session.Token()] = session
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "verification started", "token", session.Token(), "method", method, "amount", amount)
	s.observe(method, OutcomeStarted)
	return &Challenge{
		Token:     session.Token(),
		Method:    method,
		State:     session.State(),
		Amount:    amount,
		OTP:       otp,
		ExpiresAt: session.ExpiresAt(),
	}, nil
}

// SubmitOTP checks code for the session identified by token. A mismatch
// returns the result together with [ErrVerificationFailed]; the session is
// back in awaiting_input and accepts another attempt. Expired sessions and
// sessions that ran out of attempts are discarded.
func (s *Service) SubmitOTP(ctx context.Context, token, code string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		s.Cancel(token)
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	state, err := session.Submit(code, s.clock())
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "verification succeeded", "token", token, "method", session.Method())
		s.observe(session.Method(), OutcomeVerified)
		return s.resultLocked(session, state), nil
	case errors.Is(err, ErrOTPExpired):
		delete(s.sessions, token)
		s.logger.WarnContext(ctx, "verification code expired", "token", token)
		s.observe(session.Method(), OutcomeExpired)
		return s.resultLocked(session, state), err
	case errors.Is(err, ErrVerificationFailed):
		if s.maxAttempts > 0 && session.Attempts() >= s.maxAttempts {
			session.Reset()
			delete(s.sessions, token)
			s.logger.WarnContext(ctx, "verification attempts exhausted", "token", token, "attempts", session.Attempts())
			s.observe(session.Method(), OutcomeExhausted)
			return s.resultLocked(session, StateIdle), fmt.Errorf("%w: %w", ErrAttemptsExhausted, err)
		}
		s.logger.InfoContext(ctx, "verification code mismatch", "token", token, "attempts", session.Attempts())
		s.observe(session.Method(), OutcomeFailed)
		return s.resultLocked(session, state), err
	default:
		return nil, err
	}
}

// CompleteBiometric runs the simulated scan for a biometric session. The scan
// delay is the only suspension point; if ctx ends first the session is reset
// and discarded.
func (s *Service) CompleteBiometric(ctx context.Context, token string) (*Result, error) {
	s.mu.Lock()
	session, ok := s.sessions[token]
	if !ok {
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if err := session.Scan(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	if err := s.waitScan(ctx); err != nil {
		s.Cancel(token)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.sessions[token]; !ok || current != session {
		return nil, ErrSessionNotFound
	}
	if err := session.CompleteScan(); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "biometric verification succeeded", "token", token, "method", session.Method())
	s.observe(session.Method(), OutcomeVerified)
	return s.resultLocked(session, session.State()), nil
}

// Cancel resets the session to idle and discards it. It reports whether a
// session was found.
func (s *Service) Cancel(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok {
		return false
	}
	session.Reset()
	delete(s.sessions, token)
	s.logger.Info("verification canceled", "token", token)
	s.observe(session.Method(), OutcomeCanceled)
	return true
}

// Authorize is the gate in front of protocol submission. Amounts at or below
// the threshold pass; larger amounts need a verified, unexpired session whose
// verified amount covers the transaction. A successful authorization consumes
// the session.
func (s *Service) Authorize(amount float64, token string) error {
	if !s.Required(amount) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok {
		return ErrVerificationRequired
	}
	if session.State() != StateVerified || session.Expired(s.clock()) {
		return fmt.Errorf("%w: session is %s", ErrVerificationRequired, session.State())
	}
	if amount > session.Amount() {
		return fmt.Errorf("%w: verified amount %.2f is below %.2f", ErrVerificationRequired, session.Amount(), amount)
	}
	delete(s.sessions, token)
	return nil
}

// State returns the current state of the session identified by token.
func (s *Service) State(token string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok {
		return StateIdle, false
	}
	return session.State(), true
}

func (s *Service) waitScan(ctx context.Context) error {
	if s.scanDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.scanDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Service) resultLocked(session *Session, state State) *Result {
	res := &Result{
		Token:    session.Token(),
		Method:   session.Method(),
		State:    state,
		Verified: state == StateVerified,
	}
	if s.maxAttempts > 0 && session.Method() == MethodOTP {
		remaining := s.maxAttempts - session.Attempts()
		if remaining < 0 {
			remaining = 0
		}
		res.AttemptsRemaining = &remaining
	}
	return res
}

func (s *Service) purgeExpiredLocked(now time.Time) {
	for token, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, token)
		}
	}
}

func (s *Service) observe(method Method, outcome Outcome) {
	if s.observer != nil {
		s.observer(method, outcome)
	}
}
