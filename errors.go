package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEngineNotReady is returned when the engine is used before Build
	// completed or with missing dependencies.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidCredentials covers both unknown identity and wrong
	// password. The two cases are deliberately indistinguishable to the
	// caller; the audit log preserves the distinction.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRateLimited is returned when an attempt exceeds the channel
	// ceiling. Match with errors.Is; the concrete value is a
	// [RateLimitError] carrying the retry-after duration.
	ErrRateLimited = errors.New("rate limited")
	// ErrLockout is returned once the lockout escalation threshold is
	// crossed and the account has been deactivated.
	ErrLockout = errors.New("account locked")
	// ErrOTPExpired is returned when a submitted code targets a challenge
	// past its expiry.
	ErrOTPExpired = errors.New("otp expired")
	// ErrOTPMismatch is returned when the submitted code does not match.
	ErrOTPMismatch = errors.New("otp mismatch")
	// ErrOTPNotFound is returned when no challenge is pending for the
	// identity and channel.
	ErrOTPNotFound = errors.New("no pending otp challenge")
	// ErrDeliveryFailed indicates the delivery gateway rejected or failed
	// the send. Non-fatal: the challenge remains valid and can be resent.
	ErrDeliveryFailed = errors.New("otp delivery failed")
	// ErrStorageUnavailable is fatal for the current request; the caller
	// may retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrSessionInvalid is returned for missing, expired, or revoked
	// session tokens. Validation fails closed.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrTwoFactorNotConfigured is returned when a 2FA operation targets
	// an identity without the required enrollment state.
	ErrTwoFactorNotConfigured = errors.New("two-factor not configured")
	// ErrIdentityNotFound is the sentinel an [IdentityProvider] must
	// return for unknown identities. It never escapes the engine's public
	// surface: login maps it to ErrInvalidCredentials.
	ErrIdentityNotFound = errors.New("identity not found")
)

// RateLimitError reports how long until the sliding window frees
// capacity. It matches ErrRateLimited under errors.Is; this is the one
// failure class where the caller is told explicitly when to retry.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
