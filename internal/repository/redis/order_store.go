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

const orderPrefix = "order:"

var ErrOrderNotFound = errors.New("order not found")

// transitionOrderScript moves an order from ARGV[1] to ARGV[2] status.
// Returns 1 on success, 0 when the order is in another status, -1 when it
// does not exist.
var transitionOrderScript = goredis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
    return -1
end
if status ~= ARGV[1] then
    return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[2])
return 1
`)

// OrderStore keeps open payment orders until the processor confirms them
// or they expire.
type OrderStore struct {
	client *client.RedisClient
}

func NewOrderStore(client *client.RedisClient) *OrderStore {
	return &OrderStore{client: client}
}

func orderKey(id string) string {
	return orderPrefix + id
}

func (s *OrderStore) Save(ctx context.Context, order *models.Order, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	key := orderKey(order.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"account_id", order.AccountID,
		"tier", string(order.Tier),
		"amount", order.Amount,
		"currency", order.Currency,
		"receipt", order.Receipt,
		"status", string(order.Status),
		"created_at", order.CreatedAt.UnixMilli(),
	)
	if ttl > 0 {
		pipe.PExpire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to save order",
			zap.String("order_id", order.ID),
			util.Identifier("account_id", order.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

func (s *OrderStore) Load(ctx context.Context, id string) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, orderKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrOrderNotFound
	}
	amount, err := strconv.ParseInt(fields["amount"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt order amount: %w", err)
	}
	created, _ := strconv.ParseInt(fields["created_at"], 10, 64)

	return &models.Order{
		ID:        id,
		Amount:    amount,
		Currency:  fields["currency"],
		Receipt:   fields["receipt"],
		Status:    models.OrderStatus(fields["status"]),
		AccountID: fields["account_id"],
		Tier:      models.Tier(fields["tier"]),
		CreatedAt: time.UnixMilli(created).UTC(),
	}, nil
}

// Transition changes the order status only if it is currently from. Of
// several concurrent callers exactly one gets true.
func (s *OrderStore) Transition(ctx context.Context, id string, from, to models.OrderStatus) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	res, err := s.client.Run(ctx, transitionOrderScript, []string{orderKey(id)}, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("failed to update order: %w", err)
	}
	switch n, _ := res.(int64); n {
	case 1:
		return true, nil
	case -1:
		return false, ErrOrderNotFound
	default:
		return false, nil
	}
}
