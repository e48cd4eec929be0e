package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/0xmhha/pool-indexer/types"
	"github.com/ethereum/go-ethereum/rlp"
)

// EncodeRecord encodes a record using RLP
func EncodeRecord(rec *types.TransactionRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("record cannot be nil")
	}

	data, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return data, nil
}

// DecodeRecord decodes a record from RLP
func DecodeRecord(data []byte) (*types.TransactionRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: data cannot be empty", ErrInvalidData)
	}

	var rec types.TransactionRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: failed to decode record: %v", ErrInvalidData, err)
	}
	return &rec, nil
}

// EncodeUint64 encodes a uint64 as 8 big-endian bytes
func EncodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// DecodeUint64 decodes 8 big-endian bytes into a uint64
func DecodeUint64(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: invalid uint64 length %d", ErrInvalidData, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}
