package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrSessionNotFound is returned when no session exists for a token hash.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when the session record has passed its expiry.
	ErrSessionExpired = errors.New("session expired")
	// ErrBackendUnavailable indicates the session backend is unreachable.
	ErrBackendUnavailable = errors.New("session backend unavailable")
)

// saveExclusiveScript revokes every session the user holds and stores the
// new one in a single atomic step, so the single-active-session policy
// can never leave two live tokens.
const saveExclusiveScript = `
local idx = KEYS[1]
local newkey = KEYS[2]
local blob = ARGV[1]
local ttl = tonumber(ARGV[2])

local members = redis.call("SMEMBERS", idx)
for i = 1, #members do
  redis.call("DEL", members[i])
end
redis.call("DEL", idx)
redis.call("SET", newkey, blob, "PX", ttl)
redis.call("SADD", idx, newkey)
redis.call("PEXPIRE", idx, ttl)
return #members
`

// revokeAllScript deletes every indexed session key plus the index.
const revokeAllScript = `
local idx = KEYS[1]
local members = redis.call("SMEMBERS", idx)
for i = 1, #members do
  redis.call("DEL", members[i])
end
redis.call("DEL", idx)
return #members
`

var (
	saveExclusiveLua = redis.NewScript(saveExclusiveScript)
	revokeAllLua     = redis.NewScript(revokeAllScript)
)

// Store persists sessions in Redis, keyed by token hash, with a per-user
// index for bulk revocation.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session store with the given key prefix.
func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ast"
	}
	return &Store{redis: redisClient, prefix: prefix}
}

func (s *Store) sessionKey(tokenHash [32]byte) string {
	return s.prefix + ":s:" + hex.EncodeToString(tokenHash[:])
}

func (s *Store) indexKey(userID string) string {
	return s.prefix + ":u:" + userID
}

// Save stores a session under the token hash. With exclusive set, all
// prior sessions of the same user are revoked atomically (single active
// session policy). Returns the number of sessions revoked.
func (s *Store) Save(ctx context.Context, tokenHash [32]byte, sess *Session, ttl time.Duration, exclusive bool) (int, error) {
	blob, err := encodeSession(sess)
	if err != nil {
		return 0, err
	}

	key := s.sessionKey(tokenHash)
	idx := s.indexKey(sess.UserID)

	if exclusive {
		revoked, err := saveExclusiveLua.Run(ctx, s.redis,
			[]string{idx, key}, blob, ttl.Milliseconds(),
		).Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return int(revoked), nil
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, key, blob, ttl)
	pipe.SAdd(ctx, idx, key)
	pipe.PExpire(ctx, idx, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return 0, nil
}

// Get loads the session for a token hash. Read-only; safe to call
// concurrently with issuance and revocation. Fails closed: expired
// records are deleted on read and reported as expired.
func (s *Store) Get(ctx context.Context, tokenHash [32]byte) (*Session, error) {
	data, err := s.redis.Get(ctx, s.sessionKey(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	sess, err := decodeSession(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > sess.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.sessionKey(tokenHash)).Result()
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// Delete revokes one session, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, tokenHash [32]byte, userID string) (bool, error) {
	pipe := s.redis.TxPipeline()
	del := pipe.Del(ctx, s.sessionKey(tokenHash))
	if userID != "" {
		pipe.SRem(ctx, s.indexKey(userID), s.sessionKey(tokenHash))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return del.Val() > 0, nil
}

// RevokeUser deletes every session held by an identity and returns how
// many were revoked.
func (s *Store) RevokeUser(ctx context.Context, userID string) (int, error) {
	revoked, err := revokeAllLua.Run(ctx, s.redis, []string{s.indexKey(userID)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return int(revoked), nil
}
