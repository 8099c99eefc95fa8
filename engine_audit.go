package authcore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Audit event kinds. One event per user-visible authentication outcome;
// the log is the only place that preserves the internal failure
// distinctions hidden from callers.
const (
	auditEventLoginSuccess      = "login_success"
	auditEventLoginFailure      = "login_failure"
	auditEventOTPIssued         = "otp_issued"
	auditEventOTPSuccess        = "otp_success"
	auditEventOTPFailure        = "otp_failure"
	auditEventRateLimited       = "rate_limited"
	auditEventLockout           = "lockout"
	auditEventSessionIssued     = "session_issued"
	auditEventSessionRevoked    = "session_revoked"
	auditEventLogout            = "logout"
	auditEventTwoFactorEnabled  = "2fa_enabled"
	auditEventTwoFactorDisabled = "2fa_disabled"
)

const (
	auditErrInvalidCredentials = "invalid_credentials"
	auditErrUnknownIdentity    = "unknown_identity"
	auditErrAccountDisabled    = "account_disabled"
	auditErrRateLimited        = "rate_limited"
	auditErrOTPExpired         = "otp_expired"
	auditErrOTPMismatch        = "otp_mismatch"
	auditErrOTPNotFound        = "otp_not_found"
	auditErrOTPReplay          = "otp_replay"
	auditErrLockout            = "lockout"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	channel string,
	errCode string,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Channel:   channel,
		Success:   success,
		Error:     errCode,
		Metadata:  metadata,
	}

	e.audit.Emit(ctx, event)
}

// QueryAudit reads the security audit log, ordered timestamp-descending.
// Filters combine identity, event kinds, and time range; zero values are
// wildcards.
func (e *Engine) QueryAudit(ctx context.Context, q AuditQuery) ([]AuditEvent, error) {
	if e == nil || e.auditStore == nil {
		return nil, ErrEngineNotReady
	}
	events, err := e.auditStore.Query(ctx, q)
	if err != nil {
		return nil, ErrStorageUnavailable
	}
	return events, nil
}

func retryAfterString(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
