package graphql

import (
	"github.com/0xmhha/pool-indexer/types"
	"github.com/0xmhha/pool-indexer/view"
	"github.com/graphql-go/graphql"
)

var (
	// Scalar types
	bigIntType  = graphql.String
	addressType = graphql.String
	hashType    = graphql.String

	actionEnumType      *graphql.Enum
	sortFieldEnumType   *graphql.Enum
	sortOrderEnumType   *graphql.Enum
	searchFieldEnumType *graphql.Enum

	transactionType     *graphql.Object
	transactionPageType *graphql.Object
	statsType           *graphql.Object
)

func init() {
	initTypes()
}

func initTypes() {
	actionEnumType = graphql.NewEnum(graphql.EnumConfig{
		Name: "Action",
		Values: graphql.EnumValueConfigMap{
			"DEPOSIT":  &graphql.EnumValueConfig{Value: types.ActionDeposit},
			"WITHDRAW": &graphql.EnumValueConfig{Value: types.ActionWithdraw},
		},
	})

	sortFieldEnumType = graphql.NewEnum(graphql.EnumConfig{
		Name: "SortField",
		Values: graphql.EnumValueConfigMap{
			"DATE":    &graphql.EnumValueConfig{Value: view.SortDate},
			"ACTION":  &graphql.EnumValueConfig{Value: view.SortAction},
			"AMOUNT":  &graphql.EnumValueConfig{Value: view.SortAmount},
			"USER":    &graphql.EnumValueConfig{Value: view.SortUser},
			"TX_HASH": &graphql.EnumValueConfig{Value: view.SortTxHash},
		},
	})

	sortOrderEnumType = graphql.NewEnum(graphql.EnumConfig{
		Name: "SortOrder",
		Values: graphql.EnumValueConfigMap{
			"ASC":  &graphql.EnumValueConfig{Value: view.Asc},
			"DESC": &graphql.EnumValueConfig{Value: view.Desc},
		},
	})

	searchFieldEnumType = graphql.NewEnum(graphql.EnumConfig{
		Name: "SearchField",
		Values: graphql.EnumValueConfigMap{
			"ALL":     &graphql.EnumValueConfig{Value: view.SearchAll},
			"TX_HASH": &graphql.EnumValueConfig{Value: view.SearchTxHash},
			"DATE":    &graphql.EnumValueConfig{Value: view.SearchDate},
			"ACTION":  &graphql.EnumValueConfig{Value: view.SearchAction},
			"AMOUNT":  &graphql.EnumValueConfig{Value: view.SearchAmount},
			"USER":    &graphql.EnumValueConfig{Value: view.SearchUser},
		},
	})

	transactionType = graphql.NewObject(graphql.ObjectConfig{
		Name:        "Transaction",
		Description: "A deposit or withdrawal on the pool",
		Fields: graphql.Fields{
			"txHash":      &graphql.Field{Type: graphql.NewNonNull(hashType)},
			"timestamp":   &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"date":        &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"action":      &graphql.Field{Type: graphql.NewNonNull(actionEnumType)},
			"amount":      &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"user":        &graphql.Field{Type: graphql.NewNonNull(addressType)},
			"blockNumber": &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"logIndex":    &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"source":      &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})

	transactionPageType = graphql.NewObject(graphql.ObjectConfig{
		Name: "TransactionPage",
		Fields: graphql.Fields{
			"items":      &graphql.Field{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(transactionType)))},
			"total":      &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"page":       &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"pageSize":   &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"totalPages": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		},
	})

	statsType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Stats",
		Fields: graphql.Fields{
			"records":       &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"deposits":      &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"withdrawals":   &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"originBlock":   &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"toHead":        &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"highWaterMark": &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"passes":        &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"lastPassAt":    &graphql.Field{Type: graphql.String},
			"lastInserted":  &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"lastError":     &graphql.Field{Type: graphql.String},
			"passRunning":   &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
		},
	})
}
