package authcore

import (
	"context"
	"errors"
)

// GenerateTOTPSetup mints a fresh shared secret for an identity and
// returns it with the otpauth:// provisioning URI. The secret is stored
// immediately but stays inert until [Engine.ConfirmTOTPSetup] proves the
// authenticator produces matching codes.
func (e *Engine) GenerateTOTPSetup(ctx context.Context, userID string) (*TOTPSetup, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	identity, err := e.provider.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, ErrStorageUnavailable
	}
	if !identity.Active {
		return nil, ErrIdentityNotFound
	}

	secret, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, ErrStorageUnavailable
	}
	if err := e.provider.SetTOTPSecret(ctx, identity.UserID, secret); err != nil {
		return nil, ErrStorageUnavailable
	}

	return &TOTPSetup{
		SecretBase32: secretBase32,
		URI:          e.totp.ProvisionURI(secretBase32, identity.Username),
	}, nil
}

// ConfirmTOTPSetup completes enrollment: a valid code against the stored
// secret flips the identity's method to totp. The matched counter is
// recorded so the enrollment code itself cannot be replayed at login.
func (e *Engine) ConfirmTOTPSetup(ctx context.Context, userID, code string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	identity, err := e.provider.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return ErrIdentityNotFound
		}
		return ErrStorageUnavailable
	}
	if len(identity.TOTPSecret) == 0 {
		return ErrTwoFactorNotConfigured
	}

	match, counter, err := e.totp.VerifyCode(identity.TOTPSecret, code, e.now())
	if err != nil {
		return ErrStorageUnavailable
	}
	if !match {
		return ErrOTPMismatch
	}

	if err := e.provider.UpdateTOTPLastUsed(ctx, identity.UserID, counter); err != nil {
		return ErrStorageUnavailable
	}
	if err := e.provider.SetOTPMethod(ctx, identity.UserID, OTPMethodTOTP); err != nil {
		return ErrStorageUnavailable
	}

	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, identity.UserID,
		string(OTPMethodTOTP), "", nil)
	return nil
}

// EnableEmailOTP enrolls the identity in email-code verification. No
// proof step: the address on file is assumed deliverable.
func (e *Engine) EnableEmailOTP(ctx context.Context, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	identity, err := e.provider.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return ErrIdentityNotFound
		}
		return ErrStorageUnavailable
	}

	if err := e.provider.SetOTPMethod(ctx, identity.UserID, OTPMethodEmail); err != nil {
		return ErrStorageUnavailable
	}

	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, identity.UserID,
		string(OTPMethodEmail), "", nil)
	return nil
}

// DisableTwoFactor clears the identity's second factor and wipes any
// stored TOTP secret. Pending challenges are dropped so a half-finished
// login cannot complete against removed enrollment.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	identity, err := e.provider.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return ErrIdentityNotFound
		}
		return ErrStorageUnavailable
	}
	if identity.OTPMethod == OTPMethodNone {
		return ErrTwoFactorNotConfigured
	}

	if err := e.provider.SetOTPMethod(ctx, identity.UserID, OTPMethodNone); err != nil {
		return ErrStorageUnavailable
	}
	if len(identity.TOTPSecret) > 0 {
		if err := e.provider.SetTOTPSecret(ctx, identity.UserID, nil); err != nil {
			return ErrStorageUnavailable
		}
	}
	if _, err := e.challenges.Delete(ctx, identity.UserID, channelOTP); err != nil {
		return ErrStorageUnavailable
	}

	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, identity.UserID,
		string(identity.OTPMethod), "", nil)
	return nil
}
