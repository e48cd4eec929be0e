package client

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/lru"
	"go.uber.org/zap"
)

// TimestampSource resolves block timestamps from the chain
type TimestampSource interface {
	GetBlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	BatchGetBlockTimestamps(ctx context.Context, numbers []uint64) (map[uint64]uint64, error)
}

// BlockTimes is an LRU-cached block timestamp resolver
type BlockTimes struct {
	source TimestampSource
	cache  *lru.Cache[uint64, uint64]
	logger *zap.Logger
}

// NewBlockTimes creates a resolver caching up to size timestamps
func NewBlockTimes(source TimestampSource, size int, logger *zap.Logger) *BlockTimes {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlockTimes{
		source: source,
		cache:  lru.NewCache[uint64, uint64](size),
		logger: logger.With(zap.String("component", "blocktimes")),
	}
}

// BlockTime returns the timestamp of a block, from cache when possible
func (b *BlockTimes) BlockTime(ctx context.Context, number uint64) (uint64, error) {
	if ts, ok := b.cache.Get(number); ok {
		return ts, nil
	}

	ts, err := b.source.GetBlockTimestamp(ctx, number)
	if err != nil {
		return 0, err
	}
	b.cache.Add(number, ts)
	return ts, nil
}

// Prefetch loads the timestamps of all uncached blocks in one batched request
func (b *BlockTimes) Prefetch(ctx context.Context, numbers []uint64) error {
	var missing []uint64
	seen := make(map[uint64]struct{}, len(numbers))
	for _, n := range numbers {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		if !b.cache.Contains(n) {
			missing = append(missing, n)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	times, err := b.source.BatchGetBlockTimestamps(ctx, missing)
	if err != nil {
		return fmt.Errorf("failed to prefetch %d block timestamps: %w", len(missing), err)
	}
	for n, ts := range times {
		b.cache.Add(n, ts)
	}

	b.logger.Debug("Prefetched block timestamps", zap.Int("blocks", len(missing)))
	return nil
}

// Len returns the number of cached timestamps
func (b *BlockTimes) Len() int {
	return b.cache.Len()
}
