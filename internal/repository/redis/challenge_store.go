package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"access-service/internal/client"
	"access-service/internal/models"
	"access-service/internal/util"
)

const (
	challengePrefix = "challenge:"
	storeTimeout    = 5 * time.Second
)

var ErrChallengeNotFound = errors.New("challenge not found")

// consumeChallengeScript deletes the challenge only if it is still the one
// the caller verified. Returns 1 when this call removed it.
var consumeChallengeScript = goredis.NewScript(`
local nonce = redis.call('HGET', KEYS[1], 'nonce')
if nonce and nonce == ARGV[1] then
    redis.call('DEL', KEYS[1])
    return 1
end
return 0
`)

// failChallengeScript counts a wrong guess against the challenge and drops
// it once max attempts are used. Returns {attempts, discarded}.
var failChallengeScript = goredis.NewScript(`
local nonce = redis.call('HGET', KEYS[1], 'nonce')
if not nonce or nonce ~= ARGV[1] then
    return {0, 0}
end
local attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
if attempts >= tonumber(ARGV[2]) then
    redis.call('DEL', KEYS[1])
    return {attempts, 1}
end
return {attempts, 0}
`)

// restoreChallengeScript recreates a challenge only when the key is free.
var restoreChallengeScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 0
end
redis.call('HSET', KEYS[1], 'hash', ARGV[1], 'nonce', ARGV[2], 'attempts', ARGV[3],
    'issued_at', ARGV[4], 'expires_at', ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[6])
return 1
`)

// ChallengeStore keeps at most one live challenge per (purpose, identifier).
type ChallengeStore struct {
	client *client.RedisClient
}

func NewChallengeStore(client *client.RedisClient) *ChallengeStore {
	return &ChallengeStore{client: client}
}

func challengeKey(identifier string, purpose models.Purpose) string {
	return challengePrefix + string(purpose) + ":" + identifier
}

// Save replaces any previous challenge for the same pair.
func (s *ChallengeStore) Save(ctx context.Context, c *models.Challenge) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	key := challengeKey(c.Identifier, c.Purpose)
	ttl := c.ExpiresAt.Sub(c.IssuedAt)
	if ttl <= 0 {
		return fmt.Errorf("challenge expires before it is issued")
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"hash", c.CodeHash,
		"nonce", c.Nonce,
		"attempts", 0,
		"issued_at", c.IssuedAt.UnixMilli(),
		"expires_at", c.ExpiresAt.UnixMilli(),
	)
	pipe.PExpire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to save challenge",
			zap.String("purpose", string(c.Purpose)),
			util.Identifier("identifier", c.Identifier),
			zap.Error(err))
		return fmt.Errorf("failed to save challenge: %w", err)
	}
	return nil
}

func (s *ChallengeStore) Load(ctx context.Context, identifier string, purpose models.Purpose) (*models.Challenge, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, challengeKey(identifier, purpose))
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	if len(fields) == 0 || fields["nonce"] == "" {
		return nil, ErrChallengeNotFound
	}

	issued, err := strconv.ParseInt(fields["issued_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt challenge issued_at: %w", err)
	}
	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt challenge expires_at: %w", err)
	}
	attempts, _ := strconv.Atoi(fields["attempts"])

	return &models.Challenge{
		Identifier: identifier,
		Purpose:    purpose,
		CodeHash:   fields["hash"],
		Nonce:      fields["nonce"],
		Attempts:   attempts,
		IssuedAt:   time.UnixMilli(issued).UTC(),
		ExpiresAt:  time.UnixMilli(expires).UTC(),
	}, nil
}

// Consume removes the challenge if its nonce still matches. Of several
// concurrent callers holding the same nonce, exactly one gets true.
func (s *ChallengeStore) Consume(ctx context.Context, identifier string, purpose models.Purpose, nonce string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	res, err := s.client.Run(ctx, consumeChallengeScript, []string{challengeKey(identifier, purpose)}, nonce)
	if err != nil {
		return false, fmt.Errorf("failed to consume challenge: %w", err)
	}
	n, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected result type from consume script: %T", res)
	}
	return n == 1, nil
}

// RecordFailure counts a wrong code. discarded is true when the challenge
// was deleted for running out of attempts.
func (s *ChallengeStore) RecordFailure(ctx context.Context, identifier string, purpose models.Purpose, nonce string, maxAttempts int) (int, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	res, err := s.client.Run(ctx, failChallengeScript, []string{challengeKey(identifier, purpose)}, nonce, maxAttempts)
	if err != nil {
		return 0, false, fmt.Errorf("failed to record challenge failure: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, false, fmt.Errorf("unexpected result format from failure script")
	}
	attempts, _ := vals[0].(int64)
	discarded, _ := vals[1].(int64)
	return int(attempts), discarded == 1, nil
}

// Restore puts back a challenge that was consumed by a request that then
// failed. It does nothing if the challenge has expired or a newer one has
// been issued for the pair since.
func (s *ChallengeStore) Restore(ctx context.Context, c *models.Challenge, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	ttl := c.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return false, nil
	}
	res, err := s.client.Run(ctx, restoreChallengeScript, []string{challengeKey(c.Identifier, c.Purpose)},
		c.CodeHash, c.Nonce, c.Attempts, c.IssuedAt.UnixMilli(), c.ExpiresAt.UnixMilli(), ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("failed to restore challenge: %w", err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}
