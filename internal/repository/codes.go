package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// CodePurpose separates the code spaces of different flows.
type CodePurpose string

const (
	PurposeReset  CodePurpose = "reset"
	PurposeVerify CodePurpose = "verify"
)

const (
	defaultCodePrefix = "code"

	fieldCode     = "code"
	fieldAttempts = "attempts"
	fieldVerified = "verified"
)

// consumeScript deletes the code if it matches ARGV[1] and, when ARGV[2] is
// "1", has been verified. Returns 1 on success.
var consumeScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'code')
if not v or v ~= ARGV[1] then
  return 0
end
if ARGV[2] == '1' and redis.call('HGET', KEYS[1], 'verified') ~= '1' then
  return 0
end
redis.call('DEL', KEYS[1])
return 1
`)

// verifyScript marks the code verified if it matches ARGV[1]. A wrong guess
// bumps the attempt counter and deletes the code once ARGV[2] (when
// positive) is reached. Returns 1 on a match. A missing key is never
// recreated.
var verifyScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'code')
if not v then
  return 0
end
if v == ARGV[1] then
  redis.call('HSET', KEYS[1], 'verified', '1')
  return 1
end
local n = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
local limit = tonumber(ARGV[2])
if limit > 0 and n >= limit then
  redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisCodeStore keeps one-time codes with a TTL, an attempt counter and a
// resend cooldown.
type RedisCodeStore struct {
	client *redis.Client
	prefix string
}

// NewRedisCodeStore returns a store using keys under keyPrefix.
func NewRedisCodeStore(client *redis.Client, keyPrefix string) *RedisCodeStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultCodePrefix
	}
	return &RedisCodeStore{client: client, prefix: prefix}
}

// Issue stores code for email unless a previous code was issued less than
// cooldown ago, in which case it returns false and keeps the old code.
func (s *RedisCodeStore) Issue(ctx context.Context, purpose CodePurpose, email, code string, ttl, cooldown time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("ttl must be positive")
	}
	if cooldown > 0 {
		ok, err := s.client.SetNX(ctx, s.cooldownKey(purpose, email), "1", cooldown).Result()
		if err != nil {
			return false, fmt.Errorf("redis setnx cooldown: %w", err)
		}
		if !ok {
			return false, nil
		}
	}

	key := s.key(purpose, email)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]any{
		fieldCode:     code,
		fieldAttempts: "0",
		fieldVerified: "0",
	})
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis store code: %w", err)
	}
	return true, nil
}

// Verify checks code and marks it verified. After maxAttempts wrong guesses
// the code is destroyed. A missing, expired or wrong code is ErrInvalidCode.
func (s *RedisCodeStore) Verify(ctx context.Context, purpose CodePurpose, email, code string, maxAttempts int) error {
	n, err := verifyScript.Run(ctx, s.client, []string{s.key(purpose, email)}, code, maxAttempts).Int()
	if err != nil {
		return fmt.Errorf("redis verify code: %w", err)
	}
	if n != 1 {
		return ErrInvalidCode
	}
	return nil
}

// Consume deletes the code if it matches. With requireVerified the code must
// have passed Verify first. A second Consume of the same code fails with
// ErrInvalidCode.
func (s *RedisCodeStore) Consume(ctx context.Context, purpose CodePurpose, email, code string, requireVerified bool) error {
	flag := "0"
	if requireVerified {
		flag = "1"
	}
	n, err := consumeScript.Run(ctx, s.client, []string{s.key(purpose, email)}, code, flag).Int()
	if err != nil {
		return fmt.Errorf("redis consume code: %w", err)
	}
	if n != 1 {
		return ErrInvalidCode
	}
	return nil
}

func (s *RedisCodeStore) key(purpose CodePurpose, email string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, purpose, strings.ToLower(strings.TrimSpace(email)))
}

func (s *RedisCodeStore) cooldownKey(purpose CodePurpose, email string) string {
	return s.key(purpose, email) + ":cooldown"
}
