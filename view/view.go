package view

import (
	"sync"

	"github.com/0xmhha/pool-indexer/internal/metrics"
	"github.com/0xmhha/pool-indexer/types"
	"go.uber.org/zap"
)

// RecordPublisher fans newly merged records out to live consumers
type RecordPublisher interface {
	Publish(rec *types.TransactionRecord) bool
}

// View is the published, duplicate-free transaction list in insertion order
type View struct {
	mu      sync.RWMutex
	records []*types.TransactionRecord
	index   map[string]int

	bus     RecordPublisher
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates an empty view
func New(logger *zap.Logger) *View {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &View{
		index:  make(map[string]int),
		logger: logger.With(zap.String("component", "view")),
	}
}

// SetBus sets the publisher notified of every record merged after Load
func (v *View) SetBus(bus RecordPublisher) {
	v.bus = bus
}

// SetMetrics sets the metrics collector
func (v *View) SetMetrics(m *metrics.Metrics) {
	v.metrics = m
}

// insert appends rec when its hash is new. Callers hold v.mu.
func (v *View) insert(rec *types.TransactionRecord) bool {
	if rec == nil {
		return false
	}
	hash, err := types.NormalizeTxHash(rec.TxHash)
	if err != nil {
		v.logger.Warn("Ignoring record with invalid hash", zap.String("tx_hash", rec.TxHash))
		return false
	}
	if _, ok := v.index[hash]; ok {
		return false
	}
	v.index[hash] = len(v.records)
	v.records = append(v.records, rec)
	return true
}

// Load adds the initial snapshot without notifying the bus and returns the
// number of records added.
func (v *View) Load(records []*types.TransactionRecord) int {
	v.mu.Lock()
	added := 0
	for _, rec := range records {
		if v.insert(rec) {
			added++
		}
	}
	n := len(v.records)
	v.mu.Unlock()

	v.metrics.SetViewSize(n)
	v.logger.Info("Loaded snapshot", zap.Int("records", added))
	return added
}

// Merge adds every record whose hash is not yet in the view, in the given
// order, and returns how many were added.
func (v *View) Merge(records ...*types.TransactionRecord) int {
	v.mu.Lock()
	var fresh []*types.TransactionRecord
	for _, rec := range records {
		if v.insert(rec) {
			fresh = append(fresh, rec)
		}
	}
	n := len(v.records)
	v.mu.Unlock()

	if len(fresh) == 0 {
		return 0
	}
	v.metrics.SetViewSize(n)
	if v.bus != nil {
		for _, rec := range fresh {
			v.bus.Publish(rec)
		}
	}
	return len(fresh)
}

// Append adds a single record and reports whether it was new
func (v *View) Append(rec *types.TransactionRecord) bool {
	return v.Merge(rec) == 1
}

// Snapshot returns a copy of the view in insertion order
func (v *View) Snapshot() []*types.TransactionRecord {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*types.TransactionRecord, len(v.records))
	for i, rec := range v.records {
		out[i] = rec.Clone()
	}
	return out
}

// Get returns the record with the given hash
func (v *View) Get(txHash string) (*types.TransactionRecord, bool) {
	hash, err := types.NormalizeTxHash(txHash)
	if err != nil {
		return nil, false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	i, ok := v.index[hash]
	if !ok {
		return nil, false
	}
	return v.records[i].Clone(), true
}

// Len returns the number of records in the view
func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.records)
}

// Counts returns the number of deposits and withdrawals in the view
func (v *View) Counts() (deposits, withdrawals int) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, rec := range v.records {
		switch rec.Action {
		case types.ActionDeposit:
			deposits++
		case types.ActionWithdraw:
			withdrawals++
		}
	}
	return deposits, withdrawals
}

// Query applies q to a snapshot of the view
func (v *View) Query(q Query) Page {
	return q.Apply(v.Snapshot())
}
