package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/0xmhha/pool-indexer/types"
	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// PebbleStore implements Store using PebbleDB
type PebbleStore struct {
	db     *pebble.DB
	config *Config
	logger *zap.Logger
	closed atomic.Bool

	// writeMu serializes check-then-insert so one hash is persisted once
	writeMu sync.Mutex
	nextSeq uint64
}

// NewPebbleStore creates a new PebbleDB store
func NewPebbleStore(cfg *Config) (*PebbleStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	compactions := cfg.CompactionConcurrency
	if compactions < 1 {
		compactions = 1
	}

	// Configure PebbleDB options
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(int64(cfg.Cache) << 20), // Convert MB to bytes
		MaxOpenFiles:             cfg.MaxOpenFiles,
		MemTableSize:             uint64(cfg.WriteBuffer) << 20,
		DisableWAL:               cfg.DisableWAL,
		MaxConcurrentCompactions: func() int { return compactions },
		ReadOnly:                 cfg.ReadOnly,
	}
	defer opts.Cache.Unref()

	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &PebbleStore{
		db:     db,
		config: cfg,
		logger: zap.NewNop(),
	}

	if err := store.loadNextSeq(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load sequence: %w", err)
	}

	return store, nil
}

// SetLogger sets the logger for the store
func (s *PebbleStore) SetLogger(logger *zap.Logger) {
	s.logger = logger.With(zap.String("component", "pebble"))
}

func (s *PebbleStore) loadNextSeq() error {
	value, closer, err := s.db.Get(NextSeqKey())
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			s.nextSeq = 0
			return nil
		}
		return err
	}
	defer closer.Close()

	seq, err := DecodeUint64(value)
	if err != nil {
		return err
	}
	s.nextSeq = seq
	return nil
}

// ensureNotClosed checks if storage is closed
func (s *PebbleStore) ensureNotClosed() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// ensureNotReadOnly checks if storage is read-only
func (s *PebbleStore) ensureNotReadOnly() error {
	if s.config.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

// Close closes the storage and releases resources
func (s *PebbleStore) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetAll returns every record in insertion order
func (s *PebbleStore) GetAll(ctx context.Context) ([]*types.TransactionRecord, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	prefix := RecordKeyPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: PrefixUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	records := make([]*types.TransactionRecord, 0)
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := DecodeRecord(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("failed to decode record at %s: %w", iter.Key(), err)
		}
		records = append(records, rec)
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}
	return records, nil
}

// GetByHash returns a record by transaction hash
func (s *PebbleStore) GetByHash(ctx context.Context, txHash string) (*types.TransactionRecord, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	hash, err := types.NormalizeTxHash(txHash)
	if err != nil {
		return nil, ErrNotFound
	}

	value, closer, err := s.db.Get(TxHashIndexKey(hash))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get hash index: %w", err)
	}
	seq, err := DecodeUint64(value)
	closer.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to decode sequence: %w", err)
	}

	data, closer, err := s.db.Get(RecordKey(seq))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, fmt.Errorf("%w: index points at missing record %d", ErrInvalidData, seq)
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	defer closer.Close()

	return DecodeRecord(data)
}

// Count returns the number of stored records
func (s *PebbleStore) Count(ctx context.Context) (int, error) {
	if err := s.ensureNotClosed(); err != nil {
		return 0, err
	}

	prefix := TxHashIndexPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: PrefixUpperBound(prefix),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		count++
	}
	return count, iter.Error()
}

// Add inserts rec unless its hash is already stored. The record, the hash index
// and the next sequence are written in one synced batch.
func (s *PebbleStore) Add(ctx context.Context, rec *types.TransactionRecord) (bool, error) {
	if err := s.ensureNotClosed(); err != nil {
		return false, err
	}
	if err := s.ensureNotReadOnly(); err != nil {
		return false, err
	}

	rec, err := validateForInsert(rec)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.ensureNotClosed(); err != nil {
		return false, err
	}

	_, closer, err := s.db.Get(TxHashIndexKey(rec.TxHash))
	if err == nil {
		closer.Close()
		return false, nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return false, fmt.Errorf("failed to check hash index: %w", err)
	}

	data, err := EncodeRecord(rec)
	if err != nil {
		return false, err
	}

	seq := s.nextSeq
	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(RecordKey(seq), data, nil); err != nil {
		return false, fmt.Errorf("failed to set record: %w", err)
	}
	if err := batch.Set(TxHashIndexKey(rec.TxHash), EncodeUint64(seq), nil); err != nil {
		return false, fmt.Errorf("failed to set hash index: %w", err)
	}
	if err := batch.Set(NextSeqKey(), EncodeUint64(seq+1), nil); err != nil {
		return false, fmt.Errorf("failed to set sequence: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return false, fmt.Errorf("failed to commit record: %w", err)
	}

	s.nextSeq = seq + 1
	s.logger.Debug("Stored record",
		zap.String("tx_hash", rec.TxHash),
		zap.Uint64("seq", seq),
		zap.String("source", string(rec.Source)))
	return true, nil
}

// Reset deletes every record and index entry and returns how many records were removed
func (s *PebbleStore) Reset(ctx context.Context) (int, error) {
	if err := s.ensureNotClosed(); err != nil {
		return 0, err
	}
	if err := s.ensureNotReadOnly(); err != nil {
		return 0, err
	}

	count, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, prefix := range [][]byte{RecordKeyPrefix(), TxHashIndexPrefix()} {
		if err := batch.DeleteRange(prefix, PrefixUpperBound(prefix), nil); err != nil {
			return 0, fmt.Errorf("failed to delete range %s: %w", prefix, err)
		}
	}
	if err := batch.Delete(NextSeqKey(), nil); err != nil {
		return 0, fmt.Errorf("failed to delete sequence: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to commit reset: %w", err)
	}

	s.nextSeq = 0
	s.logger.Info("Reset store", zap.Int("records", count))
	return count, nil
}
