package client

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/0xmhha/pool-indexer/fetch"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"
)

// LogSource is a chain endpoint that can serve bounded log queries
type LogSource interface {
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// LogPoller emulates SubscribeFilterLogs over transports without eth_subscribe
// by polling FilterLogs for each new head.
type LogPoller struct {
	source   LogSource
	interval time.Duration
	maxRange uint64
	logger   *zap.Logger
}

// NewLogPoller creates a poller querying source every interval
func NewLogPoller(source LogSource, interval time.Duration, logger *zap.Logger) *LogPoller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPoller{
		source:   source,
		interval: interval,
		logger:   logger.With(zap.String("component", "poller")),
	}
}

// SetMaxRange bounds the block span of a single FilterLogs call; 0 means
// unbounded. Set it before subscribing.
func (p *LogPoller) SetMaxRange(blocks uint64) {
	p.maxRange = blocks
}

// SubscribeFilterLogs starts polling for logs matching q. Delivery starts at
// q.FromBlock when set, otherwise at the block after the current head.
// q.ToBlock is ignored.
func (p *LogPoller) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	var next uint64
	if q.FromBlock != nil {
		next = q.FromBlock.Uint64()
	} else {
		head, err := p.source.GetLatestBlockNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to start log poller: %w", err)
		}
		next = head + 1
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		pollCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-quit:
				cancel()
			case <-pollCtx.Done():
			}
		}()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-quit:
				return nil
			case <-ticker.C:
			}

			head, err := p.source.GetLatestBlockNumber(pollCtx)
			if err != nil {
				if pollCtx.Err() != nil {
					return nil
				}
				p.logger.Warn("Failed to poll head", zap.Error(err))
				continue
			}
			if head < next {
				continue
			}

			ranges := []fetch.Range{{From: next, To: head}}
			if p.maxRange > 0 {
				ranges = fetch.Ranges(next, head, p.maxRange)
			}

			for _, r := range ranges {
				query := q
				query.FromBlock = new(big.Int).SetUint64(r.From)
				query.ToBlock = new(big.Int).SetUint64(r.To)

				logs, err := p.source.FilterLogs(pollCtx, query)
				if err != nil {
					if pollCtx.Err() != nil {
						return nil
					}
					p.logger.Warn("Failed to poll logs",
						zap.Stringer("range", r),
						zap.Error(err))
					break
				}

				for _, l := range logs {
					select {
					case ch <- l:
					case <-quit:
						return nil
					}
				}
				// Delivered ranges are not queried again after a later failure
				next = r.To + 1
			}
		}
	}), nil
}
