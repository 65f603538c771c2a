package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"access-service/internal/client"
)

const (
	preferencePrefix = "prefs:"
	notifiedPrefix   = "alerts:notified:"

	fieldNotifications = "notifications_enabled"
	fieldLanguage      = "language"

	// MaxNotifiedIDs bounds the per-account set of already-alerted posts.
	MaxNotifiedIDs = 200
)

// claimNotifiedScript adds each post id that is not yet in the set and
// returns the ones it added, then trims the set to the newest ARGV[2].
// ARGV[1] is the score (unix ms), ARGV[3..] are post ids.
var claimNotifiedScript = goredis.NewScript(`
local added = {}
for i = 3, #ARGV do
    if redis.call('ZADD', KEYS[1], 'NX', ARGV[1], ARGV[i]) == 1 then
        table.insert(added, ARGV[i])
    end
end
local cap = tonumber(ARGV[2])
local size = redis.call('ZCARD', KEYS[1])
if size > cap then
    redis.call('ZREMRANGEBYRANK', KEYS[1], 0, size - cap - 1)
end
return added
`)

// PreferenceStore keeps per-account notification and language settings
// plus the keyword-alert dedup set.
type PreferenceStore struct {
	client *client.RedisClient
}

func NewPreferenceStore(client *client.RedisClient) *PreferenceStore {
	return &PreferenceStore{client: client}
}

// NotificationsEnabled defaults to true for accounts that never chose.
func (s *PreferenceStore) NotificationsEnabled(ctx context.Context, email string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	val, err := s.client.HGet(ctx, preferencePrefix+email, fieldNotifications)
	if errors.Is(err, client.ErrKeyNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get notification preference: %w", err)
	}
	enabled, err := strconv.ParseBool(val)
	if err != nil {
		return true, nil
	}
	return enabled, nil
}

func (s *PreferenceStore) SetNotificationsEnabled(ctx context.Context, email string, enabled bool) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if err := s.client.HSet(ctx, preferencePrefix+email, fieldNotifications, strconv.FormatBool(enabled)); err != nil {
		return fmt.Errorf("failed to set notification preference: %w", err)
	}
	return nil
}

// Language returns "" when the account never changed language.
func (s *PreferenceStore) Language(ctx context.Context, email string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	val, err := s.client.HGet(ctx, preferencePrefix+email, fieldLanguage)
	if errors.Is(err, client.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get language: %w", err)
	}
	return val, nil
}

func (s *PreferenceStore) SetLanguage(ctx context.Context, email, code string) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if err := s.client.HSet(ctx, preferencePrefix+email, fieldLanguage, code); err != nil {
		return fmt.Errorf("failed to set language: %w", err)
	}
	return nil
}

// ClaimNotified records postIDs as alerted for email and returns the subset
// that had not been alerted before. Concurrent callers never both claim the
// same id.
func (s *PreferenceStore) ClaimNotified(ctx context.Context, email string, postIDs []string, now time.Time) ([]string, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	args := make([]interface{}, 0, len(postIDs)+2)
	args = append(args, now.UnixMilli(), MaxNotifiedIDs)
	for _, id := range postIDs {
		args = append(args, id)
	}

	res, err := s.client.Run(ctx, claimNotifiedScript, []string{notifiedPrefix + email}, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to claim notified posts: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected result format from claim script")
	}
	claimed := make([]string, 0, len(vals))
	for _, v := range vals {
		if id, ok := v.(string); ok {
			claimed = append(claimed, id)
		}
	}
	return claimed, nil
}

// NotifiedCount is the current size of the dedup set.
func (s *PreferenceStore) NotifiedCount(ctx context.Context, email string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return s.client.Client.ZCard(ctx, notifiedPrefix+email).Result()
}
