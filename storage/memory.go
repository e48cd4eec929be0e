package storage

import (
	"context"
	"sync"

	"github.com/0xmhha/pool-indexer/types"
)

// MemoryStore is an in-memory Store used by tests and ephemeral runs
type MemoryStore struct {
	mu      sync.RWMutex
	records []*types.TransactionRecord
	byHash  map[string]int
	closed  bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash: make(map[string]int),
	}
}

// GetAll returns every record in insertion order
func (m *MemoryStore) GetAll(ctx context.Context) ([]*types.TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	out := make([]*types.TransactionRecord, len(m.records))
	for i, rec := range m.records {
		out[i] = rec.Clone()
	}
	return out, nil
}

// GetByHash returns a record by transaction hash
func (m *MemoryStore) GetByHash(ctx context.Context, txHash string) (*types.TransactionRecord, error) {
	hash, err := types.NormalizeTxHash(txHash)
	if err != nil {
		return nil, ErrNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	idx, ok := m.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return m.records[idx].Clone(), nil
}

// Count returns the number of stored records
func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return len(m.records), nil
}

// Add inserts rec unless its hash is already stored
func (m *MemoryStore) Add(ctx context.Context, rec *types.TransactionRecord) (bool, error) {
	rec, err := validateForInsert(rec)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}

	if _, exists := m.byHash[rec.TxHash]; exists {
		return false, nil
	}
	m.byHash[rec.TxHash] = len(m.records)
	m.records = append(m.records, rec)
	return true, nil
}

// Reset removes every record
func (m *MemoryStore) Reset(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	n := len(m.records)
	m.records = nil
	m.byHash = make(map[string]int)
	return n, nil
}

// Close marks the store closed
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
