// Package stepup gates high-value checkouts behind an extra verification
// step: a one-time passcode or a simulated biometric scan.
//
// A [Session] is the per-transaction state machine:
//
//	idle -> awaiting_input -> verifying -> verified
//	                 ^              |
//	                 +-- failed <---+      (OTP mismatch, retry)
//
// Biometric methods have no failure path. The [Service] owns sessions keyed
// by an opaque token and exposes the only operations a calling UI may invoke.
package stepup

import (
	"errors"
	"fmt"
	"time"
)

// State is a step-up verification state.
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingInput State = "awaiting_input"
	StateVerifying     State = "verifying"
	StateVerified      State = "verified"
	StateFailed        State = "failed"
)

// Method selects how the user confirms the transaction.
type Method string

const (
	MethodOTP         Method = "otp"
	MethodFaceID      Method = "face_id"
	MethodTouchID     Method = "touch_id"
	MethodFingerprint Method = "fingerprint"
)

// Valid reports whether m is a supported method.
func (m Method) Valid() bool {
	switch m {
	case MethodOTP, MethodFaceID, MethodTouchID, MethodFingerprint:
		return true
	}
	return false
}

// Biometric reports whether m is one of the simulated biometric methods.
func (m Method) Biometric() bool {
	return m == MethodFaceID || m == MethodTouchID || m == MethodFingerprint
}

var (
	ErrVerificationFailed   = errors.New("stepup: verification code does not match")
	ErrOTPExpired           = errors.New("stepup: verification code expired")
	ErrAttemptsExhausted    = errors.New("stepup: verification attempts exhausted")
	ErrSessionNotFound      = errors.New("stepup: verification session not found")
	ErrWrongMethod          = errors.New("stepup: operation does not match verification method")
	ErrUnsupportedMethod    = errors.New("stepup: unsupported verification method")
	ErrNotRequired          = errors.New("stepup: amount does not require verification")
	ErrVerificationRequired = errors.New("stepup: verified session required for this amount")
	ErrInvalidTransition    = errors.New("stepup: invalid state transition")
)

var transitions = map[State][]State{
	StateIdle:          {StateAwaitingInput},
	StateAwaitingInput: {StateVerifying, StateIdle},
	StateVerifying:     {StateVerified, StateFailed, StateIdle},
	StateFailed:        {StateAwaitingInput, StateIdle},
	StateVerified:      {StateIdle},
}

// Session tracks a single transaction through verification. It is not safe
// for concurrent use; [Service] serialises access.
type Session struct {
	token     string
	method    Method
	amount    float64
	state     State
	otp       string
	attempts  int
	expiresAt time.Time
	history   []State
}

// NewSession returns an idle session.
func NewSession(token string, method Method, amount float64) *Session {
	return &Session{
		token:   token,
		method:  method,
		amount:  amount,
		state:   StateIdle,
		history: []State{StateIdle},
	}
}

func (s *Session) Token() string        { return s.token }
func (s *Session) Method() Method       { return s.method }
func (s *Session) Amount() float64      { return s.amount }
func (s *Session) State() State         { return s.state }
func (s *Session) Attempts() int        { return s.attempts }
func (s *Session) ExpiresAt() time.Time { return s.expiresAt }

// Expired reports whether the session deadline has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.expiresAt.IsZero() && now.After(s.expiresAt)
}

// History lists every state the session has been in, oldest first.
func (s *Session) History() []State {
	out := make([]State, len(s.history))
	copy(out, s.history)
	return out
}

// Begin moves an idle session to awaiting_input. otp is ignored for
// biometric methods.
func (s *Session) Begin(otp string, expiresAt time.Time) error {
	if err := s.transition(StateAwaitingInput); err != nil {
		return err
	}
	if s.method == MethodOTP {
		s.otp = otp
	}
	s.expiresAt = expiresAt
	return nil
}

// Submit checks code against the issued OTP. On a mismatch the session passes
// through failed and returns to awaiting_input so the user can retry; the
// returned state is the outcome of this submission.
func (s *Session) Submit(code string, now time.Time) (State, error) {
	if s.method != MethodOTP {
		return s.state, ErrWrongMethod
	}
	if err := s.transition(StateVerifying); err != nil {
		return s.state, err
	}
	s.attempts++
	if s.Expired(now) {
		s.Reset()
		return StateIdle, ErrOTPExpired
	}
	if code != s.otp {
		_ = s.transition(StateFailed)
		_ = s.transition(StateAwaitingInput)
		return StateFailed, ErrVerificationFailed
	}
	s.otp = ""
	if err := s.transition(StateVerified); err != nil {
		return s.state, err
	}
	return StateVerified, nil
}

// Scan starts a simulated biometric scan.
func (s *Session) Scan() error {
	if !s.method.Biometric() {
		return ErrWrongMethod
	}
	return s.transition(StateVerifying)
}

// CompleteScan finishes a simulated scan. Scans always succeed.
func (s *Session) CompleteScan() error {
	if !s.method.Biometric() {
		return ErrWrongMethod
	}
	return s.transition(StateVerified)
}

// Reset returns the session to idle and discards the pending OTP.
func (s *Session) Reset() {
	s.otp = ""
	if s.state != StateIdle {
		s.state = StateIdle
		s.history = append(s.history, StateIdle)
	}
}

func (s *Session) transition(to State) error {
	for _, allowed := range transitions[s.state] {
		if allowed == to {
			s.state = to
			s.history = append(s.history, to)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
}
