package authcore

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/schoolsync/authcore/internal"
	"github.com/schoolsync/authcore/internal/rate"
	"github.com/schoolsync/authcore/internal/stores"
	"github.com/schoolsync/authcore/password"
)

// Login verifies a username/password pair and either issues a session
// (no second factor enrolled) or opens an OTP challenge. Unknown
// identity, wrong password, and deactivated account all surface as
// [ErrInvalidCredentials]; the audit log keeps them apart.
func (e *Engine) Login(ctx context.Context, username, pass string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	username = strings.TrimSpace(username)
	if username == "" || pass == "" {
		return nil, ErrInvalidCredentials
	}

	if err := e.admitLogin(ctx, username); err != nil {
		return nil, err
	}

	identity, err := e.provider.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			// Burn one argon2id verification so unknown identities cost
			// the same as wrong passwords.
			_, _ = e.hasher.Verify(pass, e.decoyHash)

			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", channelLogin,
				auditErrUnknownIdentity, func() map[string]string {
					return map[string]string{"username": username}
				})
			return nil, ErrInvalidCredentials
		}
		return nil, ErrStorageUnavailable
	}

	ok, err := e.hasher.Verify(pass, identity.PasswordHash)
	if err != nil {
		// Unparseable stored hash. Reject like a wrong password; the
		// record needs operator attention, not caller insight.
		ok = false
	}
	if !ok {
		return nil, e.failLogin(ctx, identity)
	}

	if !identity.Active {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, identity.UserID,
			channelLogin, auditErrAccountDisabled, nil)
		return nil, ErrInvalidCredentials
	}

	// Credential success frees both the window and the lockout counter.
	_ = e.limiter.Reset(ctx, channelLogin, username)
	_ = e.lockout.Reset(ctx, identity.UserID)

	switch identity.OTPMethod {
	case OTPMethodEmail:
		return e.openEmailChallenge(ctx, identity)
	case OTPMethodTOTP:
		return e.openTOTPChallenge(ctx, identity)
	default:
		e.metricInc(MetricLoginSuccess)
		e.emitAudit(ctx, auditEventLoginSuccess, true, identity.UserID,
			channelLogin, "", nil)
		return e.issueSession(ctx, identity)
	}
}

// admitLogin checks the per-identity window and, when configured, the
// per-client-IP window. Either rejection produces one rate_limited event.
func (e *Engine) admitLogin(ctx context.Context, username string) error {
	rule := rate.Rule{Max: e.config.Login.MaxAttempts, Window: e.config.Login.Window}

	decision, err := e.limiter.Admit(ctx, channelLogin, username, rule)
	if err != nil {
		return ErrStorageUnavailable
	}
	if !decision.Allowed {
		return e.rejectRateLimited(ctx, channelLogin, "", MetricLoginRateLimited, decision)
	}

	if e.config.Login.PerIPThrottle {
		if ip := clientIPFromContext(ctx); ip != "" {
			decision, err := e.limiter.Admit(ctx, channelLoginIP, ip, rule)
			if err != nil {
				return ErrStorageUnavailable
			}
			if !decision.Allowed {
				return e.rejectRateLimited(ctx, channelLoginIP, "", MetricLoginRateLimited, decision)
			}
		}
	}

	return nil
}

func (e *Engine) rejectRateLimited(ctx context.Context, channel, userID string, metric MetricID, decision rate.Decision) error {
	e.metricInc(metric)
	e.emitAudit(ctx, auditEventRateLimited, false, userID, channel,
		auditErrRateLimited, func() map[string]string {
			return map[string]string{"retry_after": retryAfterString(decision.RetryAfter)}
		})
	return &RateLimitError{RetryAfter: decision.RetryAfter}
}

// failLogin records a wrong-password attempt and escalates to lockout
// when the persistent-failure threshold is crossed.
func (e *Engine) failLogin(ctx context.Context, identity Identity) error {
	e.metricInc(MetricLoginFailure)

	locked, err := e.lockout.RecordFailure(ctx, identity.UserID)
	if err != nil {
		// Counter unavailable; the failure is still audited and rejected.
		locked = false
	}

	if locked {
		if err := e.provider.SetActive(ctx, identity.UserID, false); err != nil {
			return ErrStorageUnavailable
		}
		e.metricInc(MetricLockout)
		e.emitAudit(ctx, auditEventLockout, false, identity.UserID,
			channelLogin, auditErrLockout, func() map[string]string {
				return map[string]string{"threshold": strconv.Itoa(e.config.Lockout.Threshold)}
			})
		return ErrLockout
	}

	e.emitAudit(ctx, auditEventLoginFailure, false, identity.UserID,
		channelLogin, auditErrInvalidCredentials, nil)
	return ErrInvalidCredentials
}

// openEmailChallenge mints a numeric code, stores its hash as the
// pending challenge (replacing any prior one), then attempts delivery.
// Delivery failure is non-fatal: the challenge stays live for ResendOTP.
func (e *Engine) openEmailChallenge(ctx context.Context, identity Identity) (*LoginResult, error) {
	code, err := internal.NewOTPCode(e.config.OTP.Digits)
	if err != nil {
		return nil, ErrStorageUnavailable
	}

	now := e.now()
	record := &stores.Challenge{
		ChallengeID: uuid.NewString(),
		HasCode:     true,
		CodeHash:    internal.HashCode(code),
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(e.config.OTP.TTL).Unix(),
	}
	if err := e.challenges.Put(ctx, identity.UserID, channelOTP, record, e.config.OTP.TTL); err != nil {
		return nil, ErrStorageUnavailable
	}

	delivered := e.deliver(ctx, identity, code)

	e.metricInc(MetricOTPIssued)
	e.emitAudit(ctx, auditEventOTPIssued, true, identity.UserID,
		string(OTPMethodEmail), "", func() map[string]string {
			return map[string]string{
				"challenge_id": record.ChallengeID,
				"delivered":    boolString(delivered),
			}
		})

	return &LoginResult{
		OTPRequired:    true,
		OTPMethod:      OTPMethodEmail,
		OTPDestination: maskEmail(identity.Email),
		OTPDelivered:   delivered,
	}, nil
}

// openTOTPChallenge stores a codeless marker so ConfirmOTP knows the
// credential step passed. No code is generated or delivered; the client
// derives it locally.
func (e *Engine) openTOTPChallenge(ctx context.Context, identity Identity) (*LoginResult, error) {
	if len(identity.TOTPSecret) == 0 {
		return nil, ErrTwoFactorNotConfigured
	}

	now := e.now()
	record := &stores.Challenge{
		ChallengeID: uuid.NewString(),
		HasCode:     false,
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(e.config.OTP.TTL).Unix(),
	}
	if err := e.challenges.Put(ctx, identity.UserID, channelOTP, record, e.config.OTP.TTL); err != nil {
		return nil, ErrStorageUnavailable
	}

	e.metricInc(MetricOTPIssued)
	e.emitAudit(ctx, auditEventOTPIssued, true, identity.UserID,
		string(OTPMethodTOTP), "", func() map[string]string {
			return map[string]string{"challenge_id": record.ChallengeID}
		})

	return &LoginResult{
		OTPRequired: true,
		OTPMethod:   OTPMethodTOTP,
	}, nil
}

// deliver pushes the code through the gateway. Returns false when no
// gateway is configured or the send failed; the caller records the
// outcome, never aborts on it.
func (e *Engine) deliver(ctx context.Context, identity Identity, code string) bool {
	if e.gateway == nil {
		e.metricInc(MetricDeliveryFailure)
		return false
	}
	if err := e.gateway.Deliver(ctx, identity, string(identity.OTPMethod), code); err != nil {
		e.metricInc(MetricDeliveryFailure)
		return false
	}
	return true
}

// newDecoyHash produces a hash of a random throwaway password, used to
// equalize verification timing on unknown-identity logins.
func newDecoyHash(hasher *password.Hasher) (string, error) {
	throwaway, err := internal.NewSessionToken()
	if err != nil {
		return "", err
	}
	return hasher.Hash(throwaway)
}

// maskEmail hides the local part except its first rune, keeping the
// domain so the user can tell which inbox to check.
func maskEmail(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 {
		return "***"
	}
	local, domain := addr[:at], addr[at:]

	runes := []rune(local)
	return string(runes[0]) + "***" + domain
}

func boolString(b bool) string {
	return strconv.FormatBool(b)
}
