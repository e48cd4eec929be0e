package storage

import (
	"context"

	"github.com/0xmhha/pool-indexer/types"
	"go.uber.org/zap"
)

// Snapshot reads every stored record. A failing store yields an empty snapshot
// so callers can start with no history instead of failing.
func Snapshot(ctx context.Context, r Reader, logger *zap.Logger) []*types.TransactionRecord {
	records, err := r.GetAll(ctx)
	if err != nil {
		if logger != nil {
			logger.Warn("Store unavailable, starting from an empty snapshot", zap.Error(err))
		}
		return []*types.TransactionRecord{}
	}
	return records
}
