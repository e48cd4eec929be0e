package graphql

import (
	"strconv"
	"time"

	"github.com/0xmhha/pool-indexer/indexer"
	"github.com/0xmhha/pool-indexer/types"
	"github.com/0xmhha/pool-indexer/view"
)

func recordToMap(r *types.TransactionRecord) map[string]interface{} {
	if r == nil {
		return nil
	}
	return map[string]interface{}{
		"txHash":      r.TxHash,
		"timestamp":   strconv.FormatUint(r.Timestamp, 10),
		"date":        r.Date,
		"action":      r.Action,
		"amount":      r.Amount,
		"user":        r.User,
		"blockNumber": strconv.FormatUint(r.BlockNumber, 10),
		"logIndex":    int(r.LogIndex),
		"source":      string(r.Source),
	}
}

func pageToMap(p view.Page) map[string]interface{} {
	items := make([]interface{}, len(p.Items))
	for i, r := range p.Items {
		items[i] = recordToMap(r)
	}
	return map[string]interface{}{
		"items":      items,
		"total":      p.Total,
		"page":       p.Page,
		"pageSize":   p.PageSize,
		"totalPages": p.TotalPages,
	}
}

func statsToMap(s indexer.Stats) map[string]interface{} {
	m := map[string]interface{}{
		"records":       s.Records,
		"deposits":      s.Deposits,
		"withdrawals":   s.Withdrawals,
		"originBlock":   strconv.FormatUint(s.OriginBlock, 10),
		"toHead":        strconv.FormatUint(s.ToHead, 10),
		"highWaterMark": strconv.FormatUint(s.HighWaterMark, 10),
		"passes":        s.Passes,
		"lastInserted":  s.LastInserted,
		"passRunning":   s.PassRunning,
	}
	if !s.LastPassAt.IsZero() {
		m["lastPassAt"] = s.LastPassAt.UTC().Format(time.RFC3339)
	}
	if s.LastError != "" {
		m["lastError"] = s.LastError
	}
	return m
}
