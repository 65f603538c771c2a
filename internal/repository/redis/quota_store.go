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

const subscriptionPrefix = "subscription:"

var ErrSubscriptionNotFound = errors.New("subscription not found")

type ConsumeStatus int

const (
	// ConsumeMissing means no live subscription exists; nothing changed.
	ConsumeMissing ConsumeStatus = iota - 1
	// ConsumeExhausted means the allowance is used up; nothing changed.
	ConsumeExhausted
	// ConsumeOK means used was incremented by one.
	ConsumeOK
)

type ConsumeResult struct {
	Status    ConsumeStatus
	Used      int
	Allowance int
}

// consumeScript is the only writer of the used counter: it increments used
// iff the period is live and used < allowance (or allowance is unlimited).
// An expired subscription is deleted and reported missing.
// Returns {status, used, allowance}.
var consumeScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
    return {-1, 0, 0}
end
local f = redis.call('HMGET', KEYS[1], 'allowance', 'used', 'period_end')
local allowance = tonumber(f[1])
local used = tonumber(f[2]) or 0
local period_end = tonumber(f[3]) or 0
if allowance == nil then
    return redis.error_reply('subscription without allowance')
end
if period_end <= tonumber(ARGV[1]) then
    redis.call('DEL', KEYS[1])
    return {-1, 0, 0}
end
if allowance == -1 or used < allowance then
    used = redis.call('HINCRBY', KEYS[1], 'used', 1)
    return {1, used, allowance}
end
return {0, used, allowance}
`)

// seedScript writes an implicit free-tier subscription unless a live one
// already exists. Returns 1 when it wrote.
var seedScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
    local period_end = tonumber(redis.call('HGET', KEYS[1], 'period_end')) or 0
    if period_end > tonumber(ARGV[1]) then
        return 0
    end
    redis.call('DEL', KEYS[1])
end
redis.call('HSET', KEYS[1],
    'tier', ARGV[2], 'allowance', ARGV[3], 'used', ARGV[4], 'price', 0,
    'period_start', ARGV[1], 'period_end', ARGV[5])
return 1
`)

// QuotaStore holds the subscription registry and its usage counter in one
// Redis hash per account.
type QuotaStore struct {
	client *client.RedisClient
}

func NewQuotaStore(client *client.RedisClient) *QuotaStore {
	return &QuotaStore{client: client}
}

func subscriptionKey(accountID string) string {
	return subscriptionPrefix + accountID
}

// Get returns the live subscription, or ErrSubscriptionNotFound when none
// exists or its period has ended.
func (s *QuotaStore) Get(ctx context.Context, accountID string, now time.Time) (*models.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, subscriptionKey(accountID))
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrSubscriptionNotFound
	}

	sub, err := decodeSubscription(accountID, fields)
	if err != nil {
		util.Error("Corrupt subscription record", zap.String("account_id", accountID), zap.Error(err))
		return nil, err
	}
	if sub.Expired(now) {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

// Activate replaces the account's subscription wholesale.
func (s *QuotaStore) Activate(ctx context.Context, sub *models.Subscription) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	key := subscriptionKey(sub.AccountID)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"tier", string(sub.Tier),
		"allowance", sub.MonthlyAllowance,
		"used", sub.UsedThisPeriod,
		"price", sub.Price,
		"period_start", sub.PeriodStart.UnixMilli(),
		"period_end", sub.PeriodEnd.UnixMilli(),
		"order_ref", sub.OrderRef,
		"payment_ref", sub.PaymentRef,
	)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to activate subscription",
			zap.String("account_id", sub.AccountID),
			zap.String("tier", string(sub.Tier)),
			zap.Error(err))
		return fmt.Errorf("failed to activate subscription: %w", err)
	}
	return nil
}

// Consume atomically takes one unit of allowance.
func (s *QuotaStore) Consume(ctx context.Context, accountID string, now time.Time) (ConsumeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	res, err := s.client.Run(ctx, consumeScript, []string{subscriptionKey(accountID)}, now.UnixMilli())
	if err != nil {
		util.Error("Failed to execute consume script", zap.String("account_id", accountID), zap.Error(err))
		return ConsumeResult{}, fmt.Errorf("failed to consume quota: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return ConsumeResult{}, fmt.Errorf("unexpected result format from consume script")
	}
	status, _ := vals[0].(int64)
	used, _ := vals[1].(int64)
	allowance, _ := vals[2].(int64)

	return ConsumeResult{Status: ConsumeStatus(status), Used: int(used), Allowance: int(allowance)}, nil
}

// SeedFree materializes the implicit free tier with the given usage, unless
// a live subscription appeared in the meantime.
func (s *QuotaStore) SeedFree(ctx context.Context, accountID string, used int, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	free, _ := models.LookupTier(string(models.TierFree))
	res, err := s.client.Run(ctx, seedScript, []string{subscriptionKey(accountID)},
		now.UnixMilli(),
		string(models.TierFree),
		free.Allowance,
		used,
		now.Add(models.SubscriptionPeriod).UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to seed free tier: %w", err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}

func decodeSubscription(accountID string, f map[string]string) (*models.Subscription, error) {
	allowance, err := strconv.Atoi(f["allowance"])
	if err != nil {
		return nil, fmt.Errorf("invalid allowance: %w", err)
	}
	used, _ := strconv.Atoi(f["used"])
	price, _ := strconv.ParseInt(f["price"], 10, 64)
	start, _ := strconv.ParseInt(f["period_start"], 10, 64)
	end, err := strconv.ParseInt(f["period_end"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid period_end: %w", err)
	}

	return &models.Subscription{
		AccountID:        accountID,
		Tier:             models.Tier(f["tier"]),
		MonthlyAllowance: allowance,
		UsedThisPeriod:   used,
		Price:            price,
		PeriodStart:      time.UnixMilli(start).UTC(),
		PeriodEnd:        time.UnixMilli(end).UTC(),
		OrderRef:         f["order_ref"],
		PaymentRef:       f["payment_ref"],
	}, nil
}
