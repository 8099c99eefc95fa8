package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/schoolsync/authcore/internal"
	"github.com/schoolsync/authcore/internal/rate"
	"github.com/schoolsync/authcore/internal/stores"
)

// ConfirmOTP completes a pending two-factor challenge. On success the
// challenge is consumed and a session is issued; the correct code can be
// accepted at most once. Validation attempts draw from their own window,
// separate from the login budget.
func (e *Engine) ConfirmOTP(ctx context.Context, username, code string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	username = strings.TrimSpace(username)
	code = strings.TrimSpace(code)
	if username == "" || code == "" {
		return nil, ErrOTPMismatch
	}

	// Admit on the submitted name before the lookup so attempts against
	// unknown identities draw from the same window as real ones.
	if err := e.admitOTP(ctx, username); err != nil {
		return nil, err
	}

	identity, err := e.provider.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			// Indistinguishable from "no challenge pending" to the
			// caller; the log keeps the attempt.
			return nil, e.failOTPUnknown(ctx, username)
		}
		return nil, ErrStorageUnavailable
	}

	switch identity.OTPMethod {
	case OTPMethodEmail:
		if err := e.confirmEmailCode(ctx, identity, code); err != nil {
			return nil, err
		}
	case OTPMethodTOTP:
		if err := e.confirmTOTPCode(ctx, identity, code); err != nil {
			return nil, err
		}
	default:
		return nil, ErrTwoFactorNotConfigured
	}

	_ = e.limiter.Reset(ctx, channelOTP, username)

	e.metricInc(MetricOTPSuccess)
	e.emitAudit(ctx, auditEventOTPSuccess, true, identity.UserID,
		string(identity.OTPMethod), "", nil)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, identity.UserID,
		channelLogin, "", nil)

	return e.issueSession(ctx, identity)
}

// confirmEmailCode consumes the stored challenge atomically: expiry,
// mismatch, and double-submit race all resolve inside the store.
func (e *Engine) confirmEmailCode(ctx context.Context, identity Identity, code string) error {
	err := e.challenges.Consume(ctx, identity.UserID, channelOTP, internal.HashCode(code))
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, stores.ErrChallengeNotFound):
		return e.failOTP(ctx, identity, auditErrOTPNotFound, ErrOTPNotFound)
	case errors.Is(err, stores.ErrChallengeExpired):
		return e.failOTP(ctx, identity, auditErrOTPExpired, ErrOTPExpired)
	case errors.Is(err, stores.ErrChallengeMismatch):
		return e.failOTP(ctx, identity, auditErrOTPMismatch, ErrOTPMismatch)
	default:
		return ErrStorageUnavailable
	}
}

// confirmTOTPCode requires the marker challenge from the credential step,
// verifies the code against the shared secret, and enforces one
// acceptance per time-step counter.
func (e *Engine) confirmTOTPCode(ctx context.Context, identity Identity, code string) error {
	if _, err := e.challenges.Get(ctx, identity.UserID, channelOTP); err != nil {
		switch {
		case errors.Is(err, stores.ErrChallengeNotFound):
			return e.failOTP(ctx, identity, auditErrOTPNotFound, ErrOTPNotFound)
		case errors.Is(err, stores.ErrChallengeExpired):
			return e.failOTP(ctx, identity, auditErrOTPExpired, ErrOTPExpired)
		default:
			return ErrStorageUnavailable
		}
	}

	match, counter, err := e.totp.VerifyCode(identity.TOTPSecret, code, e.now())
	if err != nil {
		return ErrStorageUnavailable
	}
	if !match {
		return e.failOTP(ctx, identity, auditErrOTPMismatch, ErrOTPMismatch)
	}
	if counter <= identity.TOTPLastUsed {
		// Replayed step. Publicly a mismatch; the log says replay.
		return e.failOTP(ctx, identity, auditErrOTPReplay, ErrOTPMismatch)
	}

	if err := e.provider.UpdateTOTPLastUsed(ctx, identity.UserID, counter); err != nil {
		return ErrStorageUnavailable
	}
	if _, err := e.challenges.Delete(ctx, identity.UserID, channelOTP); err != nil {
		return ErrStorageUnavailable
	}
	return nil
}

func (e *Engine) failOTP(ctx context.Context, identity Identity, errCode string, sentinel error) error {
	e.metricInc(MetricOTPFailure)
	e.emitAudit(ctx, auditEventOTPFailure, false, identity.UserID,
		string(identity.OTPMethod), errCode, nil)
	return sentinel
}

// failOTPUnknown records a validation attempt against a name no identity
// owns. The UserID stays empty; the submitted name goes into metadata.
func (e *Engine) failOTPUnknown(ctx context.Context, username string) error {
	e.metricInc(MetricOTPFailure)
	e.emitAudit(ctx, auditEventOTPFailure, false, "", channelOTP,
		auditErrOTPNotFound, func() map[string]string {
			return map[string]string{"username": username}
		})
	return ErrOTPNotFound
}

// admitOTP checks the validation window, keyed by submitted username like
// the login window.
func (e *Engine) admitOTP(ctx context.Context, username string) error {
	rule := rate.Rule{Max: e.config.OTP.MaxAttempts, Window: e.config.OTP.Window}
	decision, err := e.limiter.Admit(ctx, channelOTP, username, rule)
	if err != nil {
		return ErrStorageUnavailable
	}
	if !decision.Allowed {
		return e.rejectRateLimited(ctx, channelOTP, "", MetricOTPRateLimited, decision)
	}
	return nil
}

// ResendOTP re-mints and re-delivers the email code for a pending
// challenge. The old code stops working the moment the new challenge is
// written. Resends draw from the OTP validation window so a caller
// cannot farm unlimited deliveries.
func (e *Engine) ResendOTP(ctx context.Context, username string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrOTPNotFound
	}

	if err := e.admitOTP(ctx, username); err != nil {
		return nil, err
	}

	identity, err := e.provider.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, e.failOTPUnknown(ctx, username)
		}
		return nil, ErrStorageUnavailable
	}
	if identity.OTPMethod != OTPMethodEmail {
		return nil, ErrTwoFactorNotConfigured
	}

	if _, err := e.challenges.Get(ctx, identity.UserID, channelOTP); err != nil {
		switch {
		case errors.Is(err, stores.ErrChallengeNotFound):
			return nil, ErrOTPNotFound
		case errors.Is(err, stores.ErrChallengeExpired):
			return nil, ErrOTPExpired
		default:
			return nil, ErrStorageUnavailable
		}
	}

	return e.openEmailChallenge(ctx, identity)
}
