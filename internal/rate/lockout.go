package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig controls the escalation policy layered on top of the
// sliding-window limiter: after Threshold persistent failures within
// Window, the caller should lock the account.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Window    time.Duration
}

// Lockout counts persistent authentication failures per identity and
// reports when the configured threshold is crossed.
type Lockout struct {
	redis  redis.UniversalClient
	config LockoutConfig
}

// NewLockout creates a lockout escalation counter.
func NewLockout(redisClient redis.UniversalClient, cfg LockoutConfig) *Lockout {
	return &Lockout{redis: redisClient, config: cfg}
}

func (l *Lockout) key(userID string) string {
	return "alk:" + userID
}

// RecordFailure increments the failure counter for an identity. Returns
// true when the threshold has been reached and the caller should lock the
// account.
func (l *Lockout) RecordFailure(ctx context.Context, userID string) (bool, error) {
	if l == nil || !l.config.Enabled || userID == "" {
		return false, nil
	}

	count, err := l.redis.Incr(ctx, l.key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if count == 1 && l.config.Window > 0 {
		// TTL on first failure makes the counter a rolling window.
		if err := l.redis.Expire(ctx, l.key(userID), l.config.Window).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	return count >= int64(l.config.Threshold), nil
}

// Reset clears the failure counter, e.g. after a successful login or a
// manual unlock.
func (l *Lockout) Reset(ctx context.Context, userID string) error {
	if l == nil || !l.config.Enabled || userID == "" {
		return nil
	}

	if err := l.redis.Del(ctx, l.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// FailureCount returns the current failure count for an identity. Missing
// keys return zero and do not reveal account existence.
func (l *Lockout) FailureCount(ctx context.Context, userID string) (int, error) {
	if l == nil || !l.config.Enabled || userID == "" {
		return 0, nil
	}

	count, err := l.redis.Get(ctx, l.key(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return int(count), nil
}
