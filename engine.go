package authcore

import (
	"time"

	"github.com/redis/go-redis/v9"

	internalaudit "github.com/schoolsync/authcore/internal/audit"
	"github.com/schoolsync/authcore/internal/rate"
	"github.com/schoolsync/authcore/internal/stores"
	"github.com/schoolsync/authcore/jwt"
	"github.com/schoolsync/authcore/password"
	"github.com/schoolsync/authcore/session"
)

// Rate limit channels. Login and OTP validation are budgeted
// independently so OTP guessing cannot ride on leftover login capacity.
const (
	channelLogin   = "login"
	channelLoginIP = "login_ip"
	channelOTP     = "otp"
	channelSession = "session"
)

// Engine is the authentication and two-factor core. All methods are safe
// for concurrent use after construction through [Builder.Build];
// per-identity state transitions serialize inside the Redis stores, never
// on in-process locks.
type Engine struct {
	config Config

	redis      redis.UniversalClient
	provider   IdentityProvider
	gateway    DeliveryGateway
	limiter    *rate.Limiter
	lockout    *rate.Lockout
	challenges *stores.ChallengeStore
	sessions   *session.Store
	audit      *internalaudit.Dispatcher
	auditStore internalaudit.Store
	metrics    *Metrics
	hasher     *password.Hasher
	totp       *totpManager
	jwtManager *jwt.Manager

	// decoyHash absorbs one argon2id verification on unknown-identity
	// logins so the timing profile matches the wrong-password path.
	decoyHash string

	now func() time.Time
}

// Close drains the audit dispatcher. Call during shutdown.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events lost to backpressure or retry buffer
// overflow since startup.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil &&
		e.provider != nil &&
		e.limiter != nil &&
		e.challenges != nil &&
		e.sessions != nil &&
		e.hasher != nil &&
		e.totp != nil
}
