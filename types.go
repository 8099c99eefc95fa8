package authcore

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/schoolsync/authcore/internal/audit"
)

// OTPMethod is the second-factor variant enrolled for an identity.
type OTPMethod string

const (
	// OTPMethodNone disables the second factor; credential success issues
	// a session directly.
	OTPMethodNone OTPMethod = "none"
	// OTPMethodEmail delivers a short-lived numeric code over the
	// delivery gateway (push-style).
	OTPMethodEmail OTPMethod = "email"
	// OTPMethodTOTP verifies codes the client derives from a shared
	// secret and the current time-step (pull-style, no issuance).
	OTPMethodTOTP OTPMethod = "totp"
)

// Identity is the account record the engine authenticates against.
// Provisioning and physical deletion are external; the engine only flips
// flags (deactivation preserves audit continuity) and 2FA enrollment
// state through the [IdentityProvider].
type Identity struct {
	UserID       string
	Username     string
	Email        string
	PasswordHash string
	OTPMethod    OTPMethod
	TOTPSecret   []byte
	TOTPLastUsed int64
	Active       bool
}

// IdentityProvider is the interface callers implement to connect the
// engine to their user database. GetByUsername and GetByID return
// [ErrIdentityNotFound] for unknown identities.
type IdentityProvider interface {
	GetByUsername(ctx context.Context, username string) (Identity, error)
	GetByID(ctx context.Context, userID string) (Identity, error)
	SetTOTPSecret(ctx context.Context, userID string, secret []byte) error
	SetOTPMethod(ctx context.Context, userID string, method OTPMethod) error
	SetActive(ctx context.Context, userID string, active bool) error
	UpdateTOTPLastUsed(ctx context.Context, userID string, counter int64) error
}

// DeliveryGateway sends one-time codes over an external channel (email,
// SMS). Failures are non-fatal and retryable: the challenge is already
// durably stored when Deliver runs, and the engine never calls Deliver
// while holding challenge or window state.
type DeliveryGateway interface {
	Deliver(ctx context.Context, identity Identity, channel, code string) error
}

// LoginResult is returned by [Engine.Login] and [Engine.ConfirmOTP].
// Either the session fields are set (full authentication) or OTPRequired
// is true and the caller must collect a code.
type LoginResult struct {
	SessionToken string
	AccessToken  string
	ExpiresAt    time.Time

	OTPRequired    bool
	OTPMethod      OTPMethod
	OTPDestination string
	OTPDelivered   bool
}

// SessionInfo is the read-only view returned by [Engine.ValidateSession].
type SessionInfo struct {
	UserID    string
	Username  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TOTPSetup holds the base32 secret and otpauth:// provisioning URI
// returned by [Engine.GenerateTOTPSetup].
type TOTPSetup struct {
	SecretBase32 string
	URI          string
}

// AuditEvent is a structured security audit record.
type AuditEvent = internalaudit.Event

// AuditSink observes audit events in addition to the durable store.
type AuditSink = internalaudit.Sink

// AuditStore is the append-only audit log contract.
type AuditStore = internalaudit.Store

// AuditQuery filters an audit log read.
type AuditQuery = internalaudit.Query

// Alerter is notified when the audit log cannot persist an event.
type Alerter = internalaudit.Alerter

// NoOpSink silently discards audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes JSON-encoded audit events to an [io.Writer], one
// object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
