package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/0xmhha/pool-indexer/abi"
	"github.com/0xmhha/pool-indexer/events"
	"github.com/0xmhha/pool-indexer/internal/metrics"
	"github.com/0xmhha/pool-indexer/internal/testutil"
	"github.com/0xmhha/pool-indexer/storage"
	"github.com/0xmhha/pool-indexer/types"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

type capture struct {
	mu   sync.Mutex
	recs []*types.TransactionRecord
}

func (c *capture) Append(rec *types.TransactionRecord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
	return true
}

func (c *capture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recs)
}

func (c *capture) At(i int) *types.TransactionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recs[i]
}

// flakyStore wraps a memory store with injectable failures
type flakyStore struct {
	*storage.MemoryStore
	addFailures atomic.Int32
	lookupErr   error
	lostRace    bool
}

func (s *flakyStore) GetByHash(ctx context.Context, hash string) (*types.TransactionRecord, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	return s.MemoryStore.GetByHash(ctx, hash)
}

func (s *flakyStore) Add(ctx context.Context, rec *types.TransactionRecord) (bool, error) {
	if s.addFailures.Load() > 0 {
		s.addFailures.Add(-1)
		return false, errors.New("disk full")
	}
	if s.lostRace {
		backfilled := rec.Clone()
		backfilled.Source = types.SourceBackfill
		s.MemoryStore.Add(ctx, backfilled)
	}
	return s.MemoryStore.Add(ctx, rec)
}

type harness struct {
	chain   *testutil.FakeChain
	store   Store
	pub     *capture
	watcher *Watcher
	metrics *metrics.Metrics
	cancel  context.CancelFunc
	done    chan error
}

func newHarness(t *testing.T, chain *testutil.FakeChain, store Store) *harness {
	t.Helper()

	decoder, err := abi.NewPoolDecoder(testutil.PoolAddress)
	require.NoError(t, err)
	normalizer, err := events.NewNormalizer(testutil.PoolAddress, decoder, 6, chain, testutil.NewTestLogger(t))
	require.NoError(t, err)

	pub := &capture{}
	w, err := NewWatcher(chain, store, normalizer, pub, &Config{
		Address:            testutil.PoolAddress,
		BufferSize:         16,
		SeenCapacity:       128,
		ResubscribeBackoff: 50 * time.Millisecond,
	}, testutil.NewTestLogger(t))
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	w.SetMetrics(m)

	return &harness{chain: chain, store: store, pub: pub, watcher: w, metrics: m}
}

func (h *harness) start(t *testing.T, fromBlock uint64) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.watcher.Run(ctx, fromBlock) }()

	require.Eventually(t, func() bool {
		return h.chain.Subscriptions() == 2
	}, waitFor, 5*time.Millisecond, "watcher did not subscribe to both kinds")

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(waitFor):
			t.Error("watcher did not stop")
		}
	})
}

func (h *harness) outcome(name string) float64 {
	return promtest.ToFloat64(h.metrics.LiveLogsTotal.WithLabelValues(name))
}

func (h *harness) count(t *testing.T) int {
	t.Helper()
	n, err := h.store.(storage.Reader).Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestWatcherIndexesLiveLogs(t *testing.T) {
	h := newHarness(t, testutil.NewFakeChain(100), storage.NewMemoryStore())
	h.start(t, 100)

	h.chain.Emit(testutil.SwapLog(2_000_000, 2_000_000, 101, 0))
	h.chain.Emit(testutil.RedeemLog(500_000, 500_000, 102, 3))

	require.Eventually(t, func() bool { return h.pub.Len() == 2 }, waitFor, 5*time.Millisecond)

	first := h.pub.At(0)
	assert.Equal(t, types.ActionDeposit, first.Action)
	assert.Equal(t, "2.0", first.Amount)
	assert.Equal(t, types.SourceLive, first.Source)
	assert.Equal(t, testutil.BlockTime(101), first.Timestamp)

	second := h.pub.At(1)
	assert.Equal(t, types.ActionWithdraw, second.Action)
	assert.Equal(t, "0.5", second.Amount)

	assert.Equal(t, 2, h.count(t))
	// The swap and redeem marks are 101 and 102
	assert.Equal(t, uint64(101), h.watcher.HighWaterMark())
	assert.Equal(t, float64(2), h.outcome(metrics.OutcomeInserted))
}

func TestWatcherDedupsReplayedLogs(t *testing.T) {
	h := newHarness(t, testutil.NewFakeChain(100), storage.NewMemoryStore())
	h.start(t, 100)

	l := testutil.SwapLog(1_000_000, 1_000_000, 101, 0)
	h.chain.Emit(l)
	h.chain.Replay(l)
	h.chain.Replay(l)

	require.Eventually(t, func() bool {
		return h.outcome(metrics.OutcomeDuplicate) == 2
	}, waitFor, 5*time.Millisecond)

	assert.Equal(t, 1, h.pub.Len())
	assert.Equal(t, 1, h.count(t))
}

func TestWatcherLogAtHeadAppearsOnce(t *testing.T) {
	atHead := testutil.SwapLog(1_000_000, 1_000_000, 200, 0)
	store := storage.NewMemoryStore()
	h := newHarness(t, testutil.NewFakeChain(200, atHead), store)

	// The catch-up query covers the head block the watcher was armed at
	h.watcher.SetCatchUp(h.chain)
	h.start(t, 200)
	require.Eventually(t, func() bool { return h.pub.Len() == 1 }, waitFor, 5*time.Millisecond)

	// A later backfill of the same block is a no-op
	backfilled := h.pub.At(0).Clone()
	backfilled.Source = types.SourceBackfill
	added, err := store.Add(context.Background(), backfilled)
	require.NoError(t, err)
	assert.False(t, added)

	h.chain.Replay(atHead)
	require.Eventually(t, func() bool {
		return h.outcome(metrics.OutcomeDuplicate) == 1
	}, waitFor, 5*time.Millisecond)

	assert.Equal(t, 1, h.count(t))
	assert.Equal(t, 1, h.pub.Len())
}

func TestWatcherSkipsBackfilledRecords(t *testing.T) {
	atHead := testutil.SwapLog(1_000_000, 1_000_000, 200, 0)
	store := storage.NewMemoryStore()

	decoder, err := abi.NewPoolDecoder(testutil.PoolAddress)
	require.NoError(t, err)
	normalizer, err := events.NewNormalizer(testutil.PoolAddress, decoder, 6, nil, nil)
	require.NoError(t, err)
	rec, err := normalizer.NormalizeAt(&atHead, testutil.BlockTime(200), types.SourceBackfill)
	require.NoError(t, err)
	_, err = store.Add(context.Background(), rec)
	require.NoError(t, err)

	h := newHarness(t, testutil.NewFakeChain(200, atHead), store)
	h.watcher.SetCatchUp(h.chain)
	h.start(t, 200)

	require.Eventually(t, func() bool {
		return h.outcome(metrics.OutcomeStored) == 1
	}, waitFor, 5*time.Millisecond)

	assert.Equal(t, 0, h.pub.Len())
	got, err := store.GetByHash(context.Background(), rec.TxHash)
	require.NoError(t, err)
	assert.Equal(t, types.SourceBackfill, got.Source)
}

func TestWatcherResubscribes(t *testing.T) {
	h := newHarness(t, testutil.NewFakeChain(100), storage.NewMemoryStore())
	h.start(t, 100)

	h.chain.Emit(testutil.SwapLog(1_000_000, 1_000_000, 105, 0))
	require.Eventually(t, func() bool { return h.pub.Len() == 1 }, waitFor, 5*time.Millisecond)

	h.chain.FailSubscriptions(errors.New("connection reset"))
	require.Eventually(t, func() bool {
		return h.chain.Subscriptions() == 2
	}, waitFor, 5*time.Millisecond, "watcher did not resubscribe")

	h.chain.Emit(testutil.RedeemLog(1_000_000, 1_000_000, 106, 0))
	require.Eventually(t, func() bool { return h.pub.Len() == 2 }, waitFor, 5*time.Millisecond)

	assert.GreaterOrEqual(t, promtest.ToFloat64(h.metrics.Resubscribes), float64(2))
}

func TestWatcherCatchUpUsesPerKindMark(t *testing.T) {
	h := newHarness(t, testutil.NewFakeChain(100), storage.NewMemoryStore())
	h.watcher.SetCatchUp(h.chain)
	h.start(t, 100)
	require.Eventually(t, func() bool { return len(h.chain.Queries()) == 2 }, waitFor, 5*time.Millisecond)

	// The redeem is mined but its notification is lost; a later swap raises
	// only the swap mark.
	h.chain.AddLogs(testutil.RedeemLog(1_000_000, 1_000_000, 105, 0))
	h.chain.Emit(testutil.SwapLog(1_000_000, 1_000_000, 110, 0))
	require.Eventually(t, func() bool { return h.pub.Len() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, uint64(100), h.watcher.HighWaterMark())

	h.chain.FailSubscriptions(errors.New("connection reset"))
	require.Eventually(t, func() bool { return h.pub.Len() == 2 }, waitFor, 5*time.Millisecond,
		"redeem at block 105 was not recovered by the catch-up")
	assert.Equal(t, uint64(105), h.pub.At(1).BlockNumber)
	assert.Equal(t, types.ActionWithdraw, h.pub.At(1).Action)
	assert.Equal(t, uint64(105), h.watcher.HighWaterMark())

	var redeemFrom []uint64
	for _, q := range h.chain.Queries()[2:] {
		if q.Topics[0][0] == testutil.RedeemTopic {
			redeemFrom = append(redeemFrom, q.FromBlock.Uint64())
		}
	}
	assert.Contains(t, redeemFrom, uint64(100))
}

func TestWatcherDropsRemovedAndMalformedLogs(t *testing.T) {
	h := newHarness(t, testutil.NewFakeChain(100), storage.NewMemoryStore())
	h.start(t, 100)

	removed := testutil.SwapLog(1_000_000, 1_000_000, 101, 0)
	removed.Removed = true
	h.chain.Emit(removed)
	h.chain.Emit(testutil.MalformedLog(102, 0))
	h.chain.Emit(testutil.SwapLog(1_000_000, 1_000_000, 103, 0))

	require.Eventually(t, func() bool { return h.pub.Len() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, float64(1), h.outcome(metrics.OutcomeRemoved))
	assert.Equal(t, float64(1), h.outcome(metrics.OutcomeMalformed))
	assert.Equal(t, uint64(103), h.pub.At(0).BlockNumber)
}

func TestWatcherRetriesAfterStoreFailure(t *testing.T) {
	store := &flakyStore{MemoryStore: storage.NewMemoryStore()}
	store.addFailures.Store(1)
	h := newHarness(t, testutil.NewFakeChain(100), store)
	h.start(t, 100)

	l := testutil.SwapLog(1_000_000, 1_000_000, 101, 0)
	h.chain.Emit(l)
	require.Eventually(t, func() bool {
		return h.outcome(metrics.OutcomeError) == 1
	}, waitFor, 5*time.Millisecond)
	assert.False(t, h.watcher.Seen().Has(l.TxHash.Hex()), "failed hash must be forgotten")

	h.chain.Replay(l)
	require.Eventually(t, func() bool { return h.pub.Len() == 1 }, waitFor, 5*time.Millisecond)
}

func TestWatcherLostRace(t *testing.T) {
	store := &flakyStore{MemoryStore: storage.NewMemoryStore(), lostRace: true}
	h := newHarness(t, testutil.NewFakeChain(100), store)
	h.start(t, 100)

	h.chain.Emit(testutil.SwapLog(1_000_000, 1_000_000, 101, 0))
	require.Eventually(t, func() bool {
		return h.outcome(metrics.OutcomeLostRace) == 1
	}, waitFor, 5*time.Millisecond)

	assert.Equal(t, 0, h.pub.Len())
	assert.Equal(t, 1, h.count(t))
}

func TestWatcherLookupFailure(t *testing.T) {
	store := &flakyStore{MemoryStore: storage.NewMemoryStore(), lookupErr: storage.ErrClosed}
	h := newHarness(t, testutil.NewFakeChain(100), store)
	h.start(t, 100)

	l := testutil.SwapLog(1_000_000, 1_000_000, 101, 0)
	h.chain.Emit(l)
	require.Eventually(t, func() bool {
		return h.outcome(metrics.OutcomeError) == 1
	}, waitFor, 5*time.Millisecond)
	assert.False(t, h.watcher.Seen().Has(l.TxHash.Hex()))
	assert.Equal(t, 0, h.pub.Len())
}

func TestWatcherRunTwice(t *testing.T) {
	h := newHarness(t, testutil.NewFakeChain(100), storage.NewMemoryStore())
	h.start(t, 100)

	err := h.watcher.Run(context.Background(), 100)
	assert.Error(t, err)
	assert.True(t, h.watcher.Running())
}

func TestWatcherStopsOnCancel(t *testing.T) {
	h := newHarness(t, testutil.NewFakeChain(100), storage.NewMemoryStore())
	h.start(t, 100)

	h.cancel()
	select {
	case err := <-h.done:
		assert.ErrorIs(t, err, context.Canceled)
		h.done <- err
	case <-time.After(waitFor):
		t.Fatal("watcher did not stop")
	}
}

func TestNewWatcherValidation(t *testing.T) {
	chain := testutil.NewFakeChain(0)
	_, err := NewWatcher(nil, storage.NewMemoryStore(), nil, nil, &Config{}, nil)
	assert.Error(t, err)
	_, err = NewWatcher(chain, nil, nil, nil, &Config{}, nil)
	assert.Error(t, err)
	_, err = NewWatcher(chain, storage.NewMemoryStore(), nil, nil, &Config{}, nil)
	assert.Error(t, err)
}
