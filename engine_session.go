package authcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/schoolsync/authcore/internal"
	"github.com/schoolsync/authcore/session"
)

// issueSession mints an opaque token, persists its hash, and optionally
// attaches a signed access token. Runs only after full authentication.
func (e *Engine) issueSession(ctx context.Context, identity Identity) (*LoginResult, error) {
	token, err := internal.NewSessionToken()
	if err != nil {
		return nil, ErrStorageUnavailable
	}

	now := e.now()
	expiresAt := now.Add(e.config.Session.TTL)
	sess := &session.Session{
		UserID:    identity.UserID,
		Username:  identity.Username,
		CreatedAt: now.Unix(),
		ExpiresAt: expiresAt.Unix(),
	}

	revoked, err := e.sessions.Save(ctx, internal.HashToken(token), sess,
		e.config.Session.TTL, e.config.Session.SingleActive)
	if err != nil {
		return nil, ErrStorageUnavailable
	}

	e.metricInc(MetricSessionIssued)
	e.emitAudit(ctx, auditEventSessionIssued, true, identity.UserID,
		channelSession, "", func() map[string]string {
			m := map[string]string{"expires_at": expiresAt.UTC().Format(time.RFC3339)}
			if revoked > 0 {
				m["revoked_prior"] = strconv.Itoa(revoked)
			}
			return m
		})

	result := &LoginResult{
		SessionToken: token,
		ExpiresAt:    expiresAt,
	}

	if e.jwtManager != nil {
		access, err := e.jwtManager.CreateAccess(identity.UserID, identity.Username, now)
		if err != nil {
			return nil, ErrStorageUnavailable
		}
		result.AccessToken = access
	}

	return result, nil
}

// ValidateSession resolves an opaque token to its session. Fails closed:
// missing, expired, revoked, and backend-unreachable all return
// [ErrSessionInvalid].
func (e *Engine) ValidateSession(ctx context.Context, token string) (*SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if token == "" {
		return nil, ErrSessionInvalid
	}

	sess, err := e.sessions.Get(ctx, internal.HashToken(token))
	if err != nil {
		e.metricInc(MetricSessionValidateFailure)
		return nil, ErrSessionInvalid
	}
	if e.now().Unix() > sess.ExpiresAt {
		e.metricInc(MetricSessionValidateFailure)
		return nil, ErrSessionInvalid
	}

	return &SessionInfo{
		UserID:    sess.UserID,
		Username:  sess.Username,
		IssuedAt:  time.Unix(sess.CreatedAt, 0).UTC(),
		ExpiresAt: time.Unix(sess.ExpiresAt, 0).UTC(),
	}, nil
}

// Logout revokes the session behind a token. Unknown tokens succeed
// silently; logout is idempotent.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if token == "" {
		return nil
	}

	hash := internal.HashToken(token)

	// Resolve the owner first so the audit event and index cleanup carry
	// the identity. A missing record still counts as logged out.
	sess, err := e.sessions.Get(ctx, hash)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrSessionExpired) {
			return nil
		}
		return ErrStorageUnavailable
	}

	existed, err := e.sessions.Delete(ctx, hash, sess.UserID)
	if err != nil {
		return ErrStorageUnavailable
	}
	if existed {
		e.metricInc(MetricSessionRevoked)
		e.emitAudit(ctx, auditEventLogout, true, sess.UserID, channelSession, "", nil)
	}
	return nil
}

// RevokeAllSessions force-logs-out every session an identity holds, e.g.
// after a password change or a suspected compromise.
func (e *Engine) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, nil
	}

	revoked, err := e.sessions.RevokeUser(ctx, userID)
	if err != nil {
		return 0, ErrStorageUnavailable
	}
	if revoked > 0 {
		e.metricInc(MetricSessionRevoked)
		e.emitAudit(ctx, auditEventSessionRevoked, true, userID, channelSession,
			"", func() map[string]string {
				return map[string]string{"revoked": strconv.Itoa(revoked)}
			})
	}
	return revoked, nil
}
