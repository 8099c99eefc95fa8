package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable indicates the audit store backend is unreachable.
var ErrStoreUnavailable = errors.New("audit store unavailable")

// Query filters an audit log read. Zero values are wildcards. Results are
// ordered timestamp-descending.
type Query struct {
	UserID     string
	EventTypes []string
	From       time.Time
	To         time.Time
	Limit      int
}

// Store is the append-only audit log contract. There is deliberately no
// update or delete operation; retention is an external policy.
type Store interface {
	Append(ctx context.Context, event Event) error
	Query(ctx context.Context, q Query) ([]Event, error)
}

// RedisStore persists events in a sorted set scored by event timestamp.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates an audit store with the given key prefix.
func NewRedisStore(redisClient redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "aud"
	}
	return &RedisStore{redis: redisClient, prefix: prefix}
}

func (s *RedisStore) key() string {
	return s.prefix + ":log"
}

// Append records one event. Events are JSON-encoded members; the score is
// the event timestamp in nanoseconds so range queries map directly onto
// ZREVRANGEBYSCORE.
func (s *RedisStore) Append(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	err = s.redis.ZAdd(ctx, s.key(), redis.Z{
		Score:  float64(event.Timestamp.UnixNano()),
		Member: string(data),
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Query reads events newest-first within the time range, then applies the
// identity and kind filters.
func (s *RedisStore) Query(ctx context.Context, q Query) ([]Event, error) {
	min, max := "-inf", "+inf"
	if !q.From.IsZero() {
		min = fmt.Sprintf("%d", q.From.UnixNano())
	}
	if !q.To.IsZero() {
		max = fmt.Sprintf("%d", q.To.UnixNano())
	}

	members, err := s.redis.ZRevRangeByScore(ctx, s.key(), &redis.ZRangeBy{
		Min: min,
		Max: max,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	kinds := make(map[string]struct{}, len(q.EventTypes))
	for _, k := range q.EventTypes {
		kinds[k] = struct{}{}
	}

	out := make([]Event, 0, len(members))
	for _, member := range members {
		var event Event
		if err := json.Unmarshal([]byte(member), &event); err != nil {
			continue
		}
		if q.UserID != "" && event.UserID != q.UserID {
			continue
		}
		if len(kinds) > 0 {
			if _, ok := kinds[event.EventType]; !ok {
				continue
			}
		}
		out = append(out, event)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}
