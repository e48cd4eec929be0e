package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xmhha/pool-indexer/internal/constants"
	"github.com/0xmhha/pool-indexer/internal/metrics"
	"github.com/0xmhha/pool-indexer/storage"
	"github.com/0xmhha/pool-indexer/types"
	"github.com/0xmhha/pool-indexer/view"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrPassInFlight is returned when a backfill pass is requested while another runs
var ErrPassInFlight = errors.New("backfill pass already in flight")

// HeadSource reads the current chain head
type HeadSource interface {
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
}

// Backfiller produces the records of a historical block range
type Backfiller interface {
	Backfill(ctx context.Context, from, toHead uint64) ([]*types.TransactionRecord, error)
}

// Watcher ingests live events starting at a block
type Watcher interface {
	Run(ctx context.Context, fromBlock uint64) error
	HighWaterMark() uint64
}

// Config holds orchestrator configuration
type Config struct {
	// OriginBlock is the first block of the backfill range
	OriginBlock uint64

	// RetrySchedule is the cron spec of backfill retries; empty disables them
	RetrySchedule string

	// Periodic re-runs the backfill on every tick, not only after a failure
	Periodic bool

	// HeadRetryDelay is the delay between failed head reads at startup
	HeadRetryDelay time.Duration

	// WatcherRestartDelay is the delay before re-arming a watcher that stopped
	WatcherRestartDelay time.Duration

	// SnapshotLoaded skips the snapshot load in Run when the caller already
	// published the store contents to the view
	SnapshotLoaded bool
}

// Stats is a point-in-time summary of the indexer
type Stats struct {
	Records       int       `json:"records"`
	Deposits      int       `json:"deposits"`
	Withdrawals   int       `json:"withdrawals"`
	OriginBlock   uint64    `json:"originBlock"`
	ToHead        uint64    `json:"toHead"`
	HighWaterMark uint64    `json:"highWaterMark"`
	Passes        int       `json:"passes"`
	LastPassAt    time.Time `json:"lastPassAt,omitempty"`
	LastInserted  int       `json:"lastInserted"`
	LastError     string    `json:"lastError,omitempty"`
	PassRunning   bool      `json:"passRunning"`
}

// Indexer owns the store, the view and both ingestion paths
type Indexer struct {
	store      storage.Store
	head       HeadSource
	backfiller Backfiller
	watcher    Watcher
	view       *view.View
	config     Config
	logger     *zap.Logger
	metrics    *metrics.Metrics

	toHead      atomic.Uint64
	passRunning atomic.Bool

	mu           sync.RWMutex
	passes       int
	lastPassAt   time.Time
	lastInserted int
	lastErr      error
}

// New creates an indexer. watcher may be nil to run backfill only.
func New(store storage.Store, head HeadSource, backfiller Backfiller, watcher Watcher, v *view.View, config *Config, logger *zap.Logger) (*Indexer, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if head == nil {
		return nil, fmt.Errorf("head source cannot be nil")
	}
	if backfiller == nil {
		return nil, fmt.Errorf("backfiller cannot be nil")
	}
	if v == nil {
		return nil, fmt.Errorf("view cannot be nil")
	}
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := *config
	if cfg.HeadRetryDelay <= 0 {
		cfg.HeadRetryDelay = constants.DefaultHeadRetryDelay
	}
	if cfg.WatcherRestartDelay <= 0 {
		cfg.WatcherRestartDelay = cfg.HeadRetryDelay
	}

	return &Indexer{
		store:      store,
		head:       head,
		backfiller: backfiller,
		watcher:    watcher,
		view:       v,
		config:     cfg,
		logger:     logger.With(zap.String("component", "indexer")),
	}, nil
}

// SetMetrics sets the metrics collector
func (i *Indexer) SetMetrics(m *metrics.Metrics) {
	i.metrics = m
}

// View returns the published view
func (i *Indexer) View() *view.View {
	return i.view
}

// LoadSnapshot publishes the current store contents to the view. An unreadable
// store yields an empty snapshot.
func (i *Indexer) LoadSnapshot(ctx context.Context) int {
	return i.view.Load(storage.Snapshot(ctx, i.store, i.logger))
}

// waitForHead reads the chain head, retrying until it succeeds or ctx ends
func (i *Indexer) waitForHead(ctx context.Context) (uint64, error) {
	for {
		head, err := i.head.GetLatestBlockNumber(ctx)
		if err == nil {
			return head, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		i.logger.Warn("Failed to read chain head, retrying",
			zap.Duration("delay", i.config.HeadRetryDelay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(i.config.HeadRetryDelay):
		}
	}
}

// Run loads the snapshot, captures the head, then runs the watcher, the backfill
// pass and the retry scheduler until ctx is cancelled. Backfill failures never
// stop the watcher.
func (i *Indexer) Run(ctx context.Context) error {
	loaded := 0
	if !i.config.SnapshotLoaded {
		loaded = i.LoadSnapshot(ctx)
	}

	head, err := i.waitForHead(ctx)
	if err != nil {
		return nil
	}
	i.toHead.Store(head)

	i.logger.Info("Indexer starting",
		zap.Int("snapshot", loaded),
		zap.Uint64("origin", i.config.OriginBlock),
		zap.Uint64("to_head", head),
		zap.Bool("live", i.watcher != nil),
	)

	var sched *scheduler
	if i.config.RetrySchedule != "" {
		if sched, err = newScheduler(i, i.config.RetrySchedule, i.config.Periodic, i.logger); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if i.watcher != nil {
		g.Go(func() error {
			i.runWatcher(gctx, head)
			return nil
		})
	}

	g.Go(func() error {
		if _, err := i.RunBackfill(gctx); err != nil && gctx.Err() == nil {
			i.logger.Error("Backfill pass failed", zap.Error(err))
		}
		return nil
	})

	if sched != nil {
		g.Go(func() error {
			if err := sched.Run(gctx); err != nil {
				i.logger.Error("Retry scheduler stopped", zap.Error(err))
			}
			return nil
		})
	}

	err = g.Wait()
	i.logger.Info("Indexer stopped")
	return err
}

// runWatcher keeps the watcher armed, restarting it from its high-water mark
// whenever it stops before ctx is cancelled.
func (i *Indexer) runWatcher(ctx context.Context, from uint64) {
	for {
		err := i.watcher.Run(ctx, from)
		if ctx.Err() != nil {
			return
		}

		if hw := i.watcher.HighWaterMark(); hw > from {
			from = hw
		}
		i.logger.Warn("Watcher stopped, re-arming",
			zap.Uint64("from", from),
			zap.Duration("delay", i.config.WatcherRestartDelay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(i.config.WatcherRestartDelay):
		}
	}
}

// ToHead returns the head captured at startup
func (i *Indexer) ToHead() uint64 {
	return i.toHead.Load()
}

// RunBackfill runs one backfill pass over [origin, toHead], inserts the records
// that are not yet stored and merges them into the view. It returns the number
// of records inserted and the fetch and insert errors joined.
func (i *Indexer) RunBackfill(ctx context.Context) (int, error) {
	if !i.passRunning.CompareAndSwap(false, true) {
		return 0, ErrPassInFlight
	}
	defer i.passRunning.Store(false)

	from, to := i.config.OriginBlock, i.toHead.Load()
	records, fetchErr := i.backfiller.Backfill(ctx, from, to)

	var fresh []*types.TransactionRecord
	var insertErrs []error
	for _, rec := range records {
		if ctx.Err() != nil {
			insertErrs = append(insertErrs, ctx.Err())
			break
		}
		added, err := i.store.Add(ctx, rec)
		if err != nil {
			insertErrs = append(insertErrs, fmt.Errorf("failed to insert %s: %w", rec.TxHash, err))
			continue
		}
		if added {
			fresh = append(fresh, rec)
		}
	}
	i.view.Merge(fresh...)

	err := errors.Join(append([]error{fetchErr}, insertErrs...)...)
	i.recordPass(len(fresh), err)

	i.logger.Info("Backfill pass finished",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("fetched", len(records)),
		zap.Int("inserted", len(fresh)),
		zap.Error(err),
	)
	return len(fresh), err
}

func (i *Indexer) recordPass(inserted int, err error) {
	i.mu.Lock()
	i.passes++
	i.lastPassAt = time.Now()
	i.lastInserted = inserted
	i.lastErr = err
	i.mu.Unlock()

	i.metrics.RecordBackfillPass(err)
}

// LastPassFailed reports whether the most recent pass ended with an error
func (i *Indexer) LastPassFailed() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.lastErr != nil
}

// Stats returns a summary of the indexer state
func (i *Indexer) Stats() Stats {
	deposits, withdrawals := i.view.Counts()
	s := Stats{
		Records:     deposits + withdrawals,
		Deposits:    deposits,
		Withdrawals: withdrawals,
		OriginBlock: i.config.OriginBlock,
		ToHead:      i.toHead.Load(),
		PassRunning: i.passRunning.Load(),
	}
	if i.watcher != nil {
		s.HighWaterMark = i.watcher.HighWaterMark()
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	s.Passes = i.passes
	s.LastPassAt = i.lastPassAt
	s.LastInserted = i.lastInserted
	if i.lastErr != nil {
		s.LastError = i.lastErr.Error()
	}
	return s
}
