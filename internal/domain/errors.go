package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
)

// OTP verification error kinds.
var (
	ErrInvalidPhone         = errors.New("invalid phone number")
	ErrInvalidCodeFormat    = errors.New("verification code must be 4-6 digits")
	ErrGatewayAuth          = errors.New("verification gateway authentication failed")
	ErrConfiguration        = errors.New("verification service misconfigured")
	ErrRateLimited          = errors.New("too many verification attempts")
	ErrVerificationNotFound = errors.New("no pending verification")
	ErrGatewayUnknown       = errors.New("verification gateway error")
	ErrExpired              = errors.New("verification code expired")
	ErrMismatch             = errors.New("verification code does not match")
)

// GatewayError is the normalized form of every failure reported by the
// verification provider. Kind is one of the OTP error kinds above.
type GatewayError struct {
	Kind           error
	Code           int // raw provider code, 0 when the provider sent none
	Message        string
	Channel        Channel
	Deliverability bool // the target could not be reached on Channel
}

func (e *GatewayError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Kind }

// IsDeliverability reports whether err is a gateway error caused by the
// target being unreachable on the attempted channel.
func IsDeliverability(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Deliverability
}
