package bucketing

import (
	"fmt"
	"testing"

	"access-service/internal/config"

	"github.com/stretchr/testify/assert"
)

func newManager(accounts, events int) *BucketingManager {
	cfg := &config.Config{}
	cfg.Bucketing.AccountBuckets = accounts
	cfg.Bucketing.EventBuckets = events
	return NewBucketingManager(cfg)
}

func TestAccountBucketIsStableAndInRange(t *testing.T) {
	bm := newManager(16, 4)

	seen := map[int]bool{}
	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("user%d@example.com", i)
		b := bm.AccountBucket(id)
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 16)
		assert.Equal(t, b, bm.AccountBucket(id))
		seen[b] = true
	}
	assert.Greater(t, len(seen), 8, "murmur3 should spread 500 ids over most buckets")
}

func TestSingleBucket(t *testing.T) {
	bm := newManager(1, 1)
	assert.Equal(t, 0, bm.AccountBucket("a@b.c"))
	assert.Equal(t, 0, bm.EventBucket("a@b.c"))
}

func TestEventBucketUsesItsOwnRange(t *testing.T) {
	bm := newManager(256, 4)
	for i := 0; i < 100; i++ {
		b := bm.EventBucket(fmt.Sprintf("user%d@example.com", i))
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 4)
	}
}
