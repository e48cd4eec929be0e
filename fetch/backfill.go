package fetch

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/0xmhha/pool-indexer/events"
	"github.com/0xmhha/pool-indexer/internal/metrics"
	"github.com/0xmhha/pool-indexer/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LogSource defines the range query used by the backfill
type LogSource interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
}

// TimePrefetcher warms block timestamps for a set of blocks in one round trip
type TimePrefetcher interface {
	Prefetch(ctx context.Context, numbers []uint64) error
}

// Config holds backfill configuration
type Config struct {
	// Address is the pool contract whose logs are fetched
	Address common.Address

	// BatchSize is the number of blocks covered by each range query
	BatchSize uint64
}

// Validate validates the backfill configuration
func (c *Config) Validate() error {
	if c.BatchSize == 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.Address == (common.Address{}) {
		return fmt.Errorf("contract address cannot be empty")
	}
	return nil
}

// Backfiller walks the historical log range in bounded batches
type Backfiller struct {
	source     LogSource
	normalizer *events.Normalizer
	prefetcher TimePrefetcher
	config     *Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewBackfiller creates a new Backfiller instance
func NewBackfiller(source LogSource, normalizer *events.Normalizer, config *Config, logger *zap.Logger) (*Backfiller, error) {
	if source == nil {
		return nil, fmt.Errorf("log source cannot be nil")
	}
	if normalizer == nil {
		return nil, fmt.Errorf("normalizer cannot be nil")
	}
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Backfiller{
		source:     source,
		normalizer: normalizer,
		config:     config,
		logger:     logger.With(zap.String("component", "backfill")),
	}, nil
}

// SetPrefetcher sets the block timestamp prefetcher used before normalizing a batch
func (b *Backfiller) SetPrefetcher(p TimePrefetcher) {
	b.prefetcher = p
}

// SetMetrics sets the metrics collector
func (b *Backfiller) SetMetrics(m *metrics.Metrics) {
	b.metrics = m
}

// Backfill fetches and normalizes every pool event in [from, toHead]. Batches run
// strictly in order. On the first I/O error the pass stops and the records
// normalized so far are returned together with the error.
func (b *Backfiller) Backfill(ctx context.Context, from, toHead uint64) ([]*types.TransactionRecord, error) {
	ranges := Ranges(from, toHead, b.config.BatchSize)
	if len(ranges) == 0 {
		b.logger.Debug("Nothing to backfill",
			zap.Uint64("from", from),
			zap.Uint64("to", toHead),
		)
		return nil, nil
	}

	b.logger.Info("Starting backfill",
		zap.Uint64("from", from),
		zap.Uint64("to", toHead),
		zap.Int("batches", len(ranges)),
	)

	var records []*types.TransactionRecord
	for i, r := range ranges {
		if err := ctx.Err(); err != nil {
			return records, fmt.Errorf("context cancelled before batch %s: %w", r, err)
		}

		start := time.Now()
		batch, err := b.FetchRange(ctx, r)
		records = append(records, batch...)
		b.metrics.RecordBackfillBatch(time.Since(start), len(batch), err)
		if err != nil {
			b.logger.Error("Backfill batch failed",
				zap.Stringer("range", r),
				zap.Int("records_kept", len(records)),
				zap.Error(err),
			)
			return records, fmt.Errorf("failed to fetch batch %s: %w", r, err)
		}

		b.logger.Debug("Backfill batch done",
			zap.Stringer("range", r),
			zap.Int("records", len(batch)),
			zap.Int("batch", i+1),
			zap.Int("batches", len(ranges)),
		)
	}

	b.logger.Info("Completed backfill",
		zap.Uint64("from", from),
		zap.Uint64("to", toHead),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// FetchRange queries every event kind over r concurrently and normalizes the
// merged logs in (block, index) order. Malformed logs are skipped. Records
// normalized before a failure are returned with the error.
func (b *Backfiller) FetchRange(ctx context.Context, r Range) ([]*types.TransactionRecord, error) {
	logs, err := b.queryKinds(ctx, r)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, nil
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	if b.prefetcher != nil {
		if err := b.prefetcher.Prefetch(ctx, distinctBlocks(logs)); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Per-log resolution below retries anything that is still missing
			b.logger.Warn("Block time prefetch failed",
				zap.Stringer("range", r),
				zap.Error(err),
			)
		}
	}

	records := make([]*types.TransactionRecord, 0, len(logs))
	for i := range logs {
		log := &logs[i]
		rec, err := b.normalizer.Normalize(ctx, log, types.SourceBackfill)
		if err != nil {
			if errors.Is(err, events.ErrMalformedLog) {
				b.metrics.RecordMalformed(string(types.SourceBackfill))
				b.logger.Warn("Dropping malformed log",
					zap.String("tx_hash", log.TxHash.Hex()),
					zap.Uint64("block", log.BlockNumber),
					zap.Uint("log_index", log.Index),
					zap.Error(err),
				)
				continue
			}
			return records, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (b *Backfiller) queryKinds(ctx context.Context, r Range) ([]gethtypes.Log, error) {
	kinds := b.normalizer.Kinds()

	var mu sync.Mutex
	var logs []gethtypes.Log

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range kinds {
		kind := kind
		g.Go(func() error {
			q := ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(r.From),
				ToBlock:   new(big.Int).SetUint64(r.To),
				Addresses: []common.Address{b.config.Address},
				Topics:    [][]common.Hash{{kind.Topic}},
			}
			res, err := b.source.FilterLogs(gctx, q)
			b.metrics.RecordLogQuery(kind.Name, err)
			if err != nil {
				return fmt.Errorf("failed to query %s logs: %w", kind.Name, err)
			}

			mu.Lock()
			logs = append(logs, res...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return logs, nil
}

func distinctBlocks(logs []gethtypes.Log) []uint64 {
	var out []uint64
	for i := range logs {
		n := logs[i].BlockNumber
		if len(out) == 0 || out[len(out)-1] != n {
			out = append(out, n)
		}
	}
	return out
}
