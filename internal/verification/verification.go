// Package verification keeps the short-lived human-verification challenges.
// Answers live in Redis under a per-user key with an explicit expiry and are
// never persisted on the user record.
package verification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dchest/captcha"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "verify:"

// Challenge is a one-time captcha puzzle. The answer is returned to the
// caller only so it can be stored; the user sees the image.
type Challenge struct {
	Answer string
	Image  []byte
}

// KV is the expiring key-value backend the answers live in.
type KV interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error
}

type Store struct {
	kv  KV
	ttl time.Duration
}

func NewStore(kv KV, ttl time.Duration) *Store {
	return &Store{kv: kv, ttl: ttl}
}

// Issue generates a fresh challenge for the user, replacing any previous one.
func (s *Store) Issue(ctx context.Context, userID int64) (*Challenge, error) {
	digits := captcha.RandomDigits(4)

	answer := make([]byte, len(digits))
	for i, d := range digits {
		answer[i] = '0' + d
	}

	img := captcha.NewImage(uuid.NewString(), digits, captcha.StdWidth, captcha.StdHeight)
	var buf bytes.Buffer
	if _, err := img.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to render captcha: %w", err)
	}

	if err := s.kv.Set(ctx, key(userID), string(answer), s.ttl); err != nil {
		return nil, fmt.Errorf("failed to store challenge answer: %w", err)
	}
	return &Challenge{Answer: string(answer), Image: buf.Bytes()}, nil
}

// Check compares the answer against the stored one. Expired or absent
// challenges simply fail, prompting a reissue. A correct answer consumes the
// challenge.
func (s *Store) Check(ctx context.Context, userID int64, answer string) (bool, error) {
	stored, err := s.kv.Get(ctx, key(userID))
	if err != nil {
		return false, err
	}
	if stored == "" || stored != answer {
		return false, nil
	}
	if err := s.kv.Del(ctx, key(userID)); err != nil {
		return false, err
	}
	return true, nil
}

func key(userID int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, userID)
}

// RedisKV backs the store with a Redis client.
type RedisKV struct {
	rdb *redis.Client
}

func NewRedisKV(rdb *redis.Client) *RedisKV {
	return &RedisKV{rdb: rdb}
}

func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

func (r *RedisKV) Del(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}
