package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/schoolsync/authcore/internal"
)

const challengeRecordVersion1 = 1

var (
	ErrChallengeNotFound = errors.New("otp challenge not found")
	ErrChallengeExpired  = errors.New("otp challenge expired")
	ErrChallengeMismatch = errors.New("otp code mismatch")
	ErrChallengeBackend  = errors.New("otp challenge backend unavailable")
)

// Challenge is one pending one-time-password challenge. The raw code is
// never stored; CodeHash holds its SHA-256. TOTP challenges carry no code
// (HasCode=false) — they only mark that the credential step passed and a
// second factor is outstanding.
type Challenge struct {
	ChallengeID string
	HasCode     bool
	CodeHash    [32]byte
	Attempts    uint16
	IssuedAt    int64
	ExpiresAt   int64
}

// ChallengeStore persists OTP challenges keyed by (identity, channel).
// Keying by the pair is what enforces the single-live-challenge
// invariant: writing a new challenge atomically replaces the prior one.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewChallengeStore creates a challenge store with the given key prefix.
func NewChallengeStore(redisClient redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "aoc"
	}
	return &ChallengeStore{redis: redisClient, prefix: prefix}
}

func (s *ChallengeStore) key(userID, channel string) string {
	return s.prefix + ":" + channel + ":" + userID
}

// Put stores a challenge, replacing any pending challenge for the same
// (identity, channel). The Redis TTL doubles as the expiry sweep.
func (s *ChallengeStore) Put(ctx context.Context, userID, channel string, record *Challenge, ttl time.Duration) error {
	encoded, err := encodeChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(userID, channel), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Get returns the pending challenge for (identity, channel). Expired
// records are deleted on read and reported as expired.
func (s *ChallengeStore) Get(ctx context.Context, userID, channel string) (*Challenge, error) {
	data, err := s.redis.Get(ctx, s.key(userID, channel)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	record, err := decodeChallenge(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(userID, channel)).Result()
		return nil, ErrChallengeExpired
	}
	return record, nil
}

// Delete removes the pending challenge, reporting whether one existed.
func (s *ChallengeStore) Delete(ctx context.Context, userID, channel string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(userID, channel)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return n > 0, nil
}

// Consume validates a submitted code hash against the pending challenge
// and marks it consumed on success, atomically. A mismatch increments the
// challenge's attempt counter under the same transaction. Exactly one of
// two concurrent submissions of the correct code can succeed.
func (s *ChallengeStore) Consume(ctx context.Context, userID, channel string, codeHash [32]byte) error {
	const maxRetries = 4
	key := s.key(userID, channel)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeChallenge(data)
			if err != nil {
				return err
			}

			if time.Now().Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrChallengeExpired
			}

			if !record.HasCode || !internal.ConstantTimeEqual(record.CodeHash, codeHash) {
				record.Attempts++
				ttl := time.Until(time.Unix(record.ExpiresAt, 0))
				if ttl <= 0 {
					ttl = time.Second
				}
				updated, err := encodeChallenge(record)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrChallengeMismatch
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrChallengeNotFound
			}
			if errors.Is(err, ErrChallengeExpired) || errors.Is(err, ErrChallengeMismatch) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
		return nil
	}

	return ErrChallengeNotFound
}

func encodeChallenge(record *Challenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)

	var hasCode byte
	if record.HasCode {
		hasCode = 1
	}
	buf.WriteByte(hasCode)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(record.CodeHash[:])

	if len(record.ChallengeID) > 255 {
		return nil, errors.New("challenge id length exceeded")
	}
	buf.WriteByte(byte(len(record.ChallengeID)))
	buf.WriteString(record.ChallengeID)

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errors.New("invalid challenge record version")
	}

	hasCode, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &Challenge{HasCode: hasCode == 1}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}

	idLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(reader, id); err != nil {
		return nil, err
	}
	record.ChallengeID = string(id)

	return record, nil
}
