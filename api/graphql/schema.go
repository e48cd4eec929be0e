package graphql

import (
	"github.com/0xmhha/pool-indexer/indexer"
	"github.com/0xmhha/pool-indexer/types"
	"github.com/0xmhha/pool-indexer/view"
	"github.com/graphql-go/graphql"
	"go.uber.org/zap"
)

// Reader is the read side of the published view
type Reader interface {
	Query(q view.Query) view.Page
	Get(txHash string) (*types.TransactionRecord, bool)
}

// StatsProvider reports indexer statistics
type StatsProvider interface {
	Stats() indexer.Stats
}

// Schema holds the GraphQL schema
type Schema struct {
	schema graphql.Schema
	reader Reader
	stats  StatsProvider
	logger *zap.Logger
}

// NewSchema creates a new GraphQL schema. stats may be nil, in which case the
// stats field resolves to null.
func NewSchema(reader Reader, stats StatsProvider, logger *zap.Logger) (*Schema, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Schema{
		reader: reader,
		stats:  stats,
		logger: logger,
	}

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"transactions": &graphql.Field{
				Type: graphql.NewNonNull(transactionPageType),
				Args: graphql.FieldConfigArgument{
					"sort":     &graphql.ArgumentConfig{Type: sortFieldEnumType},
					"order":    &graphql.ArgumentConfig{Type: sortOrderEnumType},
					"search":   &graphql.ArgumentConfig{Type: graphql.String},
					"searchIn": &graphql.ArgumentConfig{Type: searchFieldEnumType},
					"action":   &graphql.ArgumentConfig{Type: actionEnumType},
					"page":     &graphql.ArgumentConfig{Type: graphql.Int},
					"pageSize": &graphql.ArgumentConfig{Type: graphql.Int},
				},
				Resolve: s.resolveTransactions,
			},
			"transaction": &graphql.Field{
				Type: transactionType,
				Args: graphql.FieldConfigArgument{
					"txHash": &graphql.ArgumentConfig{
						Type: graphql.NewNonNull(hashType),
					},
				},
				Resolve: s.resolveTransaction,
			},
			"stats": &graphql.Field{
				Type:    statsType,
				Resolve: s.resolveStats,
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
	if err != nil {
		return nil, err
	}
	s.schema = schema
	return s, nil
}
