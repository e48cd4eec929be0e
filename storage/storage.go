package storage

import (
	"context"
	"errors"

	"github.com/0xmhha/pool-indexer/types"
)

// Common errors
var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidData is returned when data cannot be decoded
	ErrInvalidData = errors.New("invalid data")

	// ErrInvalidRecord is returned when a record fails validation on insert
	ErrInvalidRecord = errors.New("invalid record")

	// ErrClosed is returned when operating on a closed storage
	ErrClosed = errors.New("storage closed")

	// ErrReadOnly is returned when attempting to write to a read-only storage
	ErrReadOnly = errors.New("storage is read-only")
)

// Reader provides read-only access to the canonical record set
type Reader interface {
	// GetAll returns every stored record in insertion order
	GetAll(ctx context.Context) ([]*types.TransactionRecord, error)

	// GetByHash returns the record with the given transaction hash, or ErrNotFound
	GetByHash(ctx context.Context, txHash string) (*types.TransactionRecord, error)

	// Count returns the number of stored records
	Count(ctx context.Context) (int, error)
}

// Writer provides write access to the canonical record set
type Writer interface {
	// Add inserts rec unless a record with the same hash exists.
	// It reports whether the record was inserted.
	Add(ctx context.Context, rec *types.TransactionRecord) (bool, error)
}

// Store combines Reader and Writer. Implementations are safe for concurrent use.
type Store interface {
	Reader
	Writer

	// Close closes the storage and releases resources
	Close() error
}

// Resetter is implemented by stores that support wiping every record.
// It is used by administrative tooling only.
type Resetter interface {
	Reset(ctx context.Context) (int, error)
}

// validateForInsert normalizes the record hash and validates the record
func validateForInsert(rec *types.TransactionRecord) (*types.TransactionRecord, error) {
	if err := rec.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidRecord, err)
	}
	hash, _ := types.NormalizeTxHash(rec.TxHash)
	out := rec.Clone()
	out.TxHash = hash
	return out, nil
}
