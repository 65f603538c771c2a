package service

import (
	"errors"
	"fmt"

	"access-service/internal/device"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrPolicyDenied      = errors.New("policy denied")
	ErrQuotaExceeded     = errors.New("post limit reached for current plan")
	ErrAccountNotFound   = errors.New("account not found")
	ErrChallengeInvalid  = errors.New("invalid OTP")
	ErrChallengeRequired = errors.New("verification required")
	ErrInvalidSignature  = errors.New("invalid payment signature")
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderMismatch     = errors.New("payment does not match order")
	ErrRateLimited       = errors.New("too many requests")
	ErrStoreUnavailable  = errors.New("store unavailable")
)

// PolicyError carries the reason shown to the caller when a policy denies
// an action.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string {
	return e.Reason
}

func (e *PolicyError) Unwrap() error {
	return ErrPolicyDenied
}

func denied(reason string) error {
	return &PolicyError{Reason: reason}
}

// ChallengeRequiredError tells the caller which channel the code went to.
type ChallengeRequiredError struct {
	Channel device.Channel
}

func (e *ChallengeRequiredError) Error() string {
	return fmt.Sprintf("verification required via %s", e.Channel)
}

func (e *ChallengeRequiredError) Unwrap() error {
	return ErrChallengeRequired
}

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
