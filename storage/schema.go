package storage

import (
	"fmt"
)

// Key prefixes for different data types
const (
	prefixMeta   = "/meta/"
	prefixTxs    = "/data/tx/"
	prefixTxHash = "/index/txh/"
)

// Metadata keys
const (
	keyNextSeq = prefixMeta + "seq"
)

// NextSeqKey returns the key holding the next record sequence number
func NextSeqKey() []byte {
	return []byte(keyNextSeq)
}

// RecordKey returns the key for storing the record with sequence seq.
// The zero-padded sequence keeps lexicographic and insertion order equal.
// Format: /data/tx/{seq:020d}
func RecordKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixTxs, seq))
}

// RecordKeyPrefix returns the prefix shared by all record keys
func RecordKeyPrefix() []byte {
	return []byte(prefixTxs)
}

// TxHashIndexKey returns the key for the transaction hash index
// Format: /index/txh/{txhash}
func TxHashIndexKey(txHash string) []byte {
	return []byte(prefixTxHash + txHash)
}

// TxHashIndexPrefix returns the prefix shared by all hash index keys
func TxHashIndexPrefix() []byte {
	return []byte(prefixTxHash)
}

// PrefixUpperBound returns the smallest key greater than every key with prefix
func PrefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
