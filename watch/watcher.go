package watch

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xmhha/pool-indexer/events"
	"github.com/0xmhha/pool-indexer/fetch"
	"github.com/0xmhha/pool-indexer/internal/constants"
	"github.com/0xmhha/pool-indexer/internal/metrics"
	"github.com/0xmhha/pool-indexer/storage"
	"github.com/0xmhha/pool-indexer/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"
)

// LogSubscriber opens a live log subscription
type LogSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- gethtypes.Log) (ethereum.Subscription, error)
}

// CatchUpSource serves the logs emitted between the high-water mark and the
// current head, which a fresh subscription does not replay.
type CatchUpSource interface {
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
}

// Store is the part of the record store used by the watcher
type Store interface {
	storage.Writer
	GetByHash(ctx context.Context, txHash string) (*types.TransactionRecord, error)
}

// Publisher receives every record the watcher persisted
type Publisher interface {
	Append(rec *types.TransactionRecord) bool
}

// Config holds watcher configuration
type Config struct {
	// Address is the pool contract whose logs are watched
	Address common.Address

	// BufferSize is the size of the delivery channel shared by all kinds
	BufferSize int

	// SeenCapacity bounds the seen-set
	SeenCapacity int

	// ResubscribeBackoff is the maximum delay between failed subscribe attempts
	ResubscribeBackoff time.Duration

	// CatchUpBatchSize bounds the block span of one catch-up query (0 = unbounded)
	CatchUpBatchSize uint64
}

func (c *Config) setDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = constants.DefaultWatchBufferSize
	}
	if c.SeenCapacity <= 0 {
		c.SeenCapacity = constants.DefaultSeenCapacity
	}
	if c.ResubscribeBackoff <= 0 {
		c.ResubscribeBackoff = constants.DefaultResubscribeBackoff
	}
}

// Watcher ingests the live event stream of the pool
type Watcher struct {
	subscriber LogSubscriber
	catchUp    CatchUpSource
	store      Store
	normalizer *events.Normalizer
	publisher  Publisher
	seen       *SeenSet
	config     Config
	logger     *zap.Logger
	metrics    *metrics.Metrics

	// highWater is the per-topic mark each kind resubscribes and catches up from
	mu        sync.Mutex
	highWater map[common.Hash]uint64
	running   atomic.Bool
}

// NewWatcher creates a new Watcher. publisher may be nil.
func NewWatcher(subscriber LogSubscriber, store Store, normalizer *events.Normalizer, publisher Publisher, config *Config, logger *zap.Logger) (*Watcher, error) {
	if subscriber == nil {
		return nil, fmt.Errorf("subscriber cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if normalizer == nil {
		return nil, fmt.Errorf("normalizer cannot be nil")
	}
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := *config
	cfg.setDefaults()

	return &Watcher{
		subscriber: subscriber,
		store:      store,
		normalizer: normalizer,
		publisher:  publisher,
		seen:       NewSeenSet(cfg.SeenCapacity),
		highWater:  make(map[common.Hash]uint64),
		config:     cfg,
		logger:     logger.With(zap.String("component", "watcher")),
	}, nil
}

// SetCatchUp sets the source used to close the gap after each (re)subscribe
func (w *Watcher) SetCatchUp(src CatchUpSource) {
	w.catchUp = src
}

// SetMetrics sets the metrics collector
func (w *Watcher) SetMetrics(m *metrics.Metrics) {
	w.metrics = m
}

// HighWaterMark returns the lowest mark across event kinds. Every kind has
// been delivered up to at least this block.
func (w *Watcher) HighWaterMark() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lowWaterLocked()
}

func (w *Watcher) lowWaterLocked() uint64 {
	var low uint64
	first := true
	for _, mark := range w.highWater {
		if first || mark < low {
			low, first = mark, false
		}
	}
	return low
}

func (w *Watcher) kindMark(topic common.Hash) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.highWater[topic]
}

// Seen returns the watcher's seen-set
func (w *Watcher) Seen() *SeenSet {
	return w.seen
}

// Running reports whether Run is active
func (w *Watcher) Running() bool {
	return w.running.Load()
}

func (w *Watcher) armHighWater(block uint64) {
	w.mu.Lock()
	for _, kind := range w.normalizer.Kinds() {
		w.highWater[kind.Topic] = block
	}
	w.mu.Unlock()
	w.metrics.SetHighWaterMark(block)
}

// raiseHighWater raises the mark of the kind with the given topic
func (w *Watcher) raiseHighWater(topic common.Hash, block uint64) {
	w.mu.Lock()
	if block <= w.highWater[topic] {
		w.mu.Unlock()
		return
	}
	w.highWater[topic] = block
	low := w.lowWaterLocked()
	w.mu.Unlock()
	w.metrics.SetHighWaterMark(low)
}

// Run subscribes to every event kind starting at fromBlock and handles
// deliveries until ctx is cancelled. Subscriptions that fail are re-established
// from the high-water mark of their own kind.
func (w *Watcher) Run(ctx context.Context, fromBlock uint64) error {
	if !w.running.CompareAndSwap(false, true) {
		return fmt.Errorf("watcher is already running")
	}
	defer w.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.armHighWater(fromBlock)

	logs := make(chan gethtypes.Log, w.config.BufferSize)
	ended := make(chan error, len(w.normalizer.Kinds()))

	var subs []event.Subscription
	defer func() {
		cancel()
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	for _, kind := range w.normalizer.Kinds() {
		kind := kind
		sub := event.ResubscribeErr(w.config.ResubscribeBackoff, func(_ context.Context, lastErr error) (event.Subscription, error) {
			return w.subscribe(ctx, kind, lastErr, logs)
		})
		subs = append(subs, sub)

		go func() {
			<-sub.Err()
			select {
			case ended <- fmt.Errorf("subscription to %s ended", kind.Name):
			default:
			}
		}()
	}

	w.logger.Info("Watching live events",
		zap.Uint64("from", fromBlock),
		zap.Int("kinds", len(subs)),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Watcher stopped", zap.Error(ctx.Err()))
			return ctx.Err()
		case err := <-ended:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("Live subscription ended", zap.Error(err))
			return err
		case l := <-logs:
			w.handle(ctx, &l)
		}
	}
}

func (w *Watcher) query(kind events.EventKind, from uint64) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		Addresses: []common.Address{w.config.Address},
		Topics:    [][]common.Hash{{kind.Topic}},
	}
}

func (w *Watcher) subscribe(ctx context.Context, kind events.EventKind, lastErr error, logs chan<- gethtypes.Log) (event.Subscription, error) {
	from := w.kindMark(kind.Topic)
	if lastErr != nil {
		w.metrics.RecordSubscription()
		w.logger.Warn("Resubscribing",
			zap.String("event", kind.Name),
			zap.Uint64("from", from),
			zap.Error(lastErr),
		)
	}

	sub, err := w.subscriber.SubscribeFilterLogs(ctx, w.query(kind, from), logs)
	if err != nil {
		w.logger.Warn("Subscribe failed",
			zap.String("event", kind.Name),
			zap.Error(err),
		)
		return nil, err
	}

	if w.catchUp != nil {
		go w.catchUpFrom(ctx, kind, from, logs)
	}
	return sub, nil
}

// catchUpFrom feeds the logs of kind in [from, head] into logs. Anything
// already persisted is dropped by the dedup checks in handle.
func (w *Watcher) catchUpFrom(ctx context.Context, kind events.EventKind, from uint64, logs chan<- gethtypes.Log) {
	head, err := w.catchUp.GetLatestBlockNumber(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("Catch-up head lookup failed", zap.String("event", kind.Name), zap.Error(err))
		}
		return
	}

	if from > head {
		return
	}
	ranges := []fetch.Range{{From: from, To: head}}
	if w.config.CatchUpBatchSize > 0 {
		ranges = fetch.Ranges(from, head, w.config.CatchUpBatchSize)
	}

	for _, r := range ranges {
		q := w.query(kind, r.From)
		q.ToBlock = new(big.Int).SetUint64(r.To)

		res, err := w.catchUp.FilterLogs(ctx, q)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warn("Catch-up query failed",
					zap.String("event", kind.Name),
					zap.Stringer("range", r),
					zap.Error(err),
				)
			}
			return
		}
		for _, l := range res {
			select {
			case logs <- l:
			case <-ctx.Done():
				return
			}
		}
	}

	w.logger.Debug("Catch-up done",
		zap.String("event", kind.Name),
		zap.Uint64("from", from),
		zap.Uint64("to", head),
	)
}

// handle runs one delivered log through the dedup checks and persists it
func (w *Watcher) handle(ctx context.Context, l *gethtypes.Log) {
	if l.Removed {
		w.metrics.RecordLiveOutcome(metrics.OutcomeRemoved)
		w.logger.Debug("Dropping removed log", zap.String("tx_hash", l.TxHash.Hex()))
		return
	}

	hash := l.TxHash.Hex()
	if !w.seen.MarkSeen(hash) {
		w.metrics.RecordLiveOutcome(metrics.OutcomeDuplicate)
		return
	}

	_, err := w.store.GetByHash(ctx, hash)
	switch {
	case err == nil:
		w.metrics.RecordLiveOutcome(metrics.OutcomeStored)
		return
	case !errors.Is(err, storage.ErrNotFound):
		w.seen.Remove(hash)
		w.metrics.RecordLiveOutcome(metrics.OutcomeError)
		w.logger.Error("Store lookup failed", zap.String("tx_hash", hash), zap.Error(err))
		return
	}

	rec, err := w.normalizer.NormalizeLive(ctx, l)
	if err != nil {
		if errors.Is(err, events.ErrMalformedLog) {
			w.metrics.RecordLiveOutcome(metrics.OutcomeMalformed)
			w.metrics.RecordMalformed(string(types.SourceLive))
			w.logger.Warn("Dropping malformed log",
				zap.String("tx_hash", hash),
				zap.Uint64("block", l.BlockNumber),
				zap.Error(err),
			)
			return
		}
		w.seen.Remove(hash)
		w.metrics.RecordLiveOutcome(metrics.OutcomeError)
		w.logger.Error("Failed to normalize live log", zap.String("tx_hash", hash), zap.Error(err))
		return
	}

	added, err := w.store.Add(ctx, rec)
	if err != nil {
		w.seen.Remove(hash)
		w.metrics.RecordLiveOutcome(metrics.OutcomeError)
		w.logger.Error("Failed to store live record", zap.String("tx_hash", hash), zap.Error(err))
		return
	}
	if !added {
		// The backfill persisted it between the lookup and the insert
		w.metrics.RecordLiveOutcome(metrics.OutcomeLostRace)
		return
	}

	if w.publisher != nil {
		w.publisher.Append(rec)
	}
	w.raiseHighWater(l.Topics[0], rec.BlockNumber)
	w.metrics.RecordLiveOutcome(metrics.OutcomeInserted)

	w.logger.Info("Indexed live transaction",
		zap.String("tx_hash", hash),
		zap.String("action", string(rec.Action)),
		zap.String("amount", rec.Amount),
		zap.Uint64("block", rec.BlockNumber),
	)
}
