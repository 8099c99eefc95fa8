package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Rule caps a channel at Max admitted attempts within any trailing Window.
type Rule struct {
	Max    int
	Window time.Duration
}

// Decision is the result of an admission check. When Allowed is false,
// RetryAfter is the time until the oldest attempt leaves the window and
// capacity frees up.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
}

// Limiter enforces per-(bucket, channel) sliding-window ceilings using a
// Redis sorted set per bucket. Attempt timestamps are the member scores;
// members are unique tokens so simultaneous attempts never collapse into
// one entry.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
}

// admitScript trims attempts older than the trailing window, then either
// records the new attempt or reports how long until capacity frees. The
// whole check-and-admit runs atomically inside Redis.
const admitScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, 0, now - window)
local count = redis.call("ZCARD", key)
if count >= max then
  local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
  local retry = window
  if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
  end
  if retry < 1 then
    retry = 1
  end
  return {0, retry, 0}
end

redis.call("ZADD", key, now, member)
redis.call("PEXPIRE", key, window + 1000)
return {1, 0, max - count - 1}
`

var admitLua = redis.NewScript(admitScript)

// New creates a sliding-window [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, prefix string) *Limiter {
	if prefix == "" {
		prefix = "arl"
	}
	return &Limiter{redis: redisClient, prefix: prefix}
}

func (l *Limiter) key(channel, bucket string) string {
	return l.prefix + ":" + channel + ":" + bucket
}

// Admit performs the atomic check-and-record for one attempt. Rejected
// attempts are not recorded; the window only counts admitted work, so a
// rejected caller cannot extend its own penalty.
func (l *Limiter) Admit(ctx context.Context, channel, bucket string, rule Rule) (Decision, error) {
	if rule.Max <= 0 || rule.Window <= 0 {
		return Decision{Allowed: true}, nil
	}

	nowMillis := time.Now().UnixMilli()
	member := uuid.NewString()

	res, err := admitLua.Run(ctx, l.redis,
		[]string{l.key(channel, bucket)},
		nowMillis, rule.Window.Milliseconds(), rule.Max, member,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrBackendUnavailable)
	}

	if res[0] != 1 {
		return Decision{
			Allowed:    false,
			RetryAfter: time.Duration(res[1]) * time.Millisecond,
		}, nil
	}

	return Decision{Allowed: true, Remaining: int(res[2])}, nil
}

// Reset clears the window for a bucket. Called after full authentication
// succeeds so a legitimate user does not carry failed-attempt debt.
func (l *Limiter) Reset(ctx context.Context, channel, bucket string) error {
	if err := l.redis.Del(ctx, l.key(channel, bucket)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}
