package bucketing

import (
	"hash"
	"sync"

	"access-service/internal/config"

	"github.com/spaolacci/murmur3"
)

// BucketingManager spreads account and event partitions across a fixed
// number of buckets so no single ScyllaDB partition grows unbounded.
type BucketingManager struct {
	accountBuckets int
	eventBuckets   int
	hasherPool     sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		accountBuckets: cfg.Bucketing.AccountBuckets,
		eventBuckets:   cfg.Bucketing.EventBuckets,
	}
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return bm
}

// AccountBucket returns the stable bucket for a normalized identifier.
func (bm *BucketingManager) AccountBucket(identifier string) int {
	return bm.getBucket(identifier, bm.accountBuckets)
}

// EventBucket returns the bucket for audit and post partitions.
func (bm *BucketingManager) EventBucket(key string) int {
	return bm.getBucket(key, bm.eventBuckets)
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	if numBuckets <= 1 {
		return 0
	}
	return int(bm.getHash(key) % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
