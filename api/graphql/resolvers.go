package graphql

import (
	"fmt"

	"github.com/0xmhha/pool-indexer/types"
	"github.com/0xmhha/pool-indexer/view"
	"github.com/graphql-go/graphql"
	"go.uber.org/zap"
)

// resolveTransactions resolves a filtered, sorted page of records
func (s *Schema) resolveTransactions(p graphql.ResolveParams) (interface{}, error) {
	var q view.Query
	if v, ok := p.Args["sort"].(view.SortField); ok {
		q.Sort = v
	}
	if v, ok := p.Args["order"].(view.SortOrder); ok {
		q.Order = v
	}
	if v, ok := p.Args["search"].(string); ok {
		q.Search = v
	}
	if v, ok := p.Args["searchIn"].(view.SearchField); ok {
		q.SearchIn = v
	}
	if v, ok := p.Args["action"].(types.Action); ok {
		q.Action = v
	}
	if v, ok := p.Args["page"].(int); ok {
		if v < 0 {
			return nil, fmt.Errorf("page must not be negative")
		}
		q.Page = v
	}
	if v, ok := p.Args["pageSize"].(int); ok {
		if v < 0 {
			return nil, fmt.Errorf("pageSize must not be negative")
		}
		q.PageSize = v
	}

	return pageToMap(s.reader.Query(q)), nil
}

// resolveTransaction resolves a record by transaction hash
func (s *Schema) resolveTransaction(p graphql.ResolveParams) (interface{}, error) {
	hashStr, ok := p.Args["txHash"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid transaction hash")
	}
	hash, err := types.NormalizeTxHash(hashStr)
	if err != nil {
		return nil, err
	}

	rec, found := s.reader.Get(hash)
	if !found {
		s.logger.Debug("transaction not found", zap.String("tx_hash", hash))
		return nil, nil
	}
	return recordToMap(rec), nil
}

// resolveStats resolves the indexer statistics
func (s *Schema) resolveStats(p graphql.ResolveParams) (interface{}, error) {
	if s.stats == nil {
		return nil, nil
	}
	return statsToMap(s.stats.Stats()), nil
}
