package view

import (
	"math"
	"testing"

	"github.com/0xmhha/pool-indexer/internal/testutil"
	"github.com/0xmhha/pool-indexer/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() []*types.TransactionRecord {
	a := testutil.NewRecord(3, types.ActionDeposit, "10.0")
	b := testutil.NewRecord(1, types.ActionWithdraw, "2.5")
	c := testutil.NewRecord(2, types.ActionDeposit, "9.75")
	d := testutil.NewRecord(4, types.ActionDeposit, "2.5")
	c.User = "0x1234567890AbcdEF1234567890aBcdef12345678"
	return []*types.TransactionRecord{a, b, c, d}
}

func blocks(items []*types.TransactionRecord) []uint64 {
	out := make([]uint64, len(items))
	for i, r := range items {
		out[i] = r.BlockNumber
	}
	return out
}

func TestQuerySort(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		want  []uint64
	}{
		{"default is date asc", Query{}, []uint64{1, 2, 3, 4}},
		{"date desc", Query{Sort: SortDate, Order: Desc}, []uint64{4, 3, 2, 1}},
		// 10.0 > 9.75 numerically but not lexically; ties keep input order
		{"amount asc", Query{Sort: SortAmount}, []uint64{1, 4, 2, 3}},
		{"amount desc", Query{Sort: SortAmount, Order: Desc}, []uint64{3, 2, 1, 4}},
		{"action asc", Query{Sort: SortAction}, []uint64{3, 2, 4, 1}},
		{"user asc", Query{Sort: SortUser}, []uint64{2, 3, 1, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := tt.query.Apply(sampleRecords())
			assert.Equal(t, tt.want, blocks(page.Items))
		})
	}
}

func TestQuerySearch(t *testing.T) {
	records := sampleRecords()

	page := Query{Search: "ABCDEF"}.Apply(records)
	assert.Equal(t, []uint64{2}, blocks(page.Items), "search is case-insensitive")

	page = Query{Search: "withdraw"}.Apply(records)
	assert.Equal(t, []uint64{1}, blocks(page.Items))

	page = Query{Search: "2.5", SearchIn: SearchAmount}.Apply(records)
	assert.Equal(t, []uint64{1, 4}, blocks(page.Items))

	page = Query{Search: "deposit", SearchIn: SearchUser}.Apply(records)
	assert.Empty(t, page.Items)

	page = Query{Search: records[0].TxHash[2:12], SearchIn: SearchTxHash}.Apply(records)
	assert.Equal(t, []uint64{3}, blocks(page.Items))
}

func TestQueryActionFilter(t *testing.T) {
	page := Query{Action: types.ActionDeposit, Sort: SortDate}.Apply(sampleRecords())
	assert.Equal(t, []uint64{2, 3, 4}, blocks(page.Items))
	assert.Equal(t, 3, page.Total)
}

func TestQueryPagination(t *testing.T) {
	var records []*types.TransactionRecord
	for i := 1; i <= 25; i++ {
		records = append(records, testutil.NewRecord(i, types.ActionDeposit, "1.0"))
	}

	page := Query{}.Apply(records)
	assert.Equal(t, 10, page.PageSize)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 25, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Len(t, page.Items, 10)

	page = Query{Page: 3}.Apply(records)
	require.Len(t, page.Items, 5)
	assert.Equal(t, uint64(21), page.Items[0].BlockNumber)

	page = Query{Page: 4}.Apply(records)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)

	page = Query{PageSize: 1000}.Apply(records)
	assert.Equal(t, 100, page.PageSize)
	assert.Len(t, page.Items, 25)

	page = Query{}.Apply(nil)
	assert.Equal(t, 0, page.TotalPages)
	assert.NotNil(t, page.Items)
}

func TestQueryHugePage(t *testing.T) {
	records := sampleRecords()
	for _, p := range []int{1 << 62, 1<<62 + 1, math.MaxInt} {
		page := Query{Page: p, PageSize: 100}.Apply(records)
		assert.Empty(t, page.Items, "page %d", p)
		assert.Equal(t, p, page.Page)
		assert.Equal(t, 4, page.Total)
	}
}

func TestQueryDoesNotMutateInput(t *testing.T) {
	records := sampleRecords()
	before := blocks(records)
	Query{Sort: SortAmount, Order: Desc}.Apply(records)
	assert.Equal(t, before, blocks(records))
}

func TestViewQuery(t *testing.T) {
	v := New(nil)
	v.Load(sampleRecords())
	page := v.Query(Query{Sort: SortDate, Order: Desc, PageSize: 2})
	assert.Equal(t, []uint64{4, 3}, blocks(page.Items))
	assert.Equal(t, 2, page.TotalPages)
}

func TestParseEnums(t *testing.T) {
	f, err := ParseSortField("Amount")
	require.NoError(t, err)
	assert.Equal(t, SortAmount, f)

	f, err = ParseSortField("")
	require.NoError(t, err)
	assert.Equal(t, SortDate, f)

	_, err = ParseSortField("gas")
	assert.Error(t, err)

	o, err := ParseSortOrder("DESC")
	require.NoError(t, err)
	assert.Equal(t, Desc, o)
	_, err = ParseSortOrder("sideways")
	assert.Error(t, err)

	s, err := ParseSearchField("user")
	require.NoError(t, err)
	assert.Equal(t, SearchUser, s)
	_, err = ParseSearchField("blockNumber")
	assert.Error(t, err)

	assert.Equal(t, "txHash", SortTxHash.String())
	assert.Equal(t, "desc", Desc.String())
	assert.Equal(t, "all", SearchAll.String())
}
