package view

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/0xmhha/pool-indexer/internal/constants"
	"github.com/0xmhha/pool-indexer/types"
)

// SortField selects the record field a query sorts by
type SortField int

const (
	SortDate SortField = iota
	SortAction
	SortAmount
	SortUser
	SortTxHash
)

var sortFieldNames = map[SortField]string{
	SortDate:   "date",
	SortAction: "action",
	SortAmount: "amount",
	SortUser:   "user",
	SortTxHash: "txHash",
}

// String implements fmt.Stringer
func (f SortField) String() string {
	if s, ok := sortFieldNames[f]; ok {
		return s
	}
	return fmt.Sprintf("SortField(%d)", int(f))
}

// ParseSortField parses a sort field name. The empty string selects date.
func ParseSortField(s string) (SortField, error) {
	if s == "" {
		return SortDate, nil
	}
	for f, name := range sortFieldNames {
		if strings.EqualFold(name, s) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown sort field %q", s)
}

// SortOrder is the sort direction
type SortOrder int

const (
	Asc SortOrder = iota
	Desc
)

// String implements fmt.Stringer
func (o SortOrder) String() string {
	if o == Desc {
		return "desc"
	}
	return "asc"
}

// ParseSortOrder parses "asc" or "desc". The empty string selects asc.
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(s) {
	case "", "asc":
		return Asc, nil
	case "desc":
		return Desc, nil
	default:
		return 0, fmt.Errorf("unknown sort order %q", s)
	}
}

// SearchField restricts a text search to one field
type SearchField int

const (
	SearchAll SearchField = iota
	SearchTxHash
	SearchDate
	SearchAction
	SearchAmount
	SearchUser
)

var searchFieldNames = map[SearchField]string{
	SearchAll:    "all",
	SearchTxHash: "txHash",
	SearchDate:   "date",
	SearchAction: "action",
	SearchAmount: "amount",
	SearchUser:   "user",
}

// String implements fmt.Stringer
func (f SearchField) String() string {
	if s, ok := searchFieldNames[f]; ok {
		return s
	}
	return fmt.Sprintf("SearchField(%d)", int(f))
}

// ParseSearchField parses a search field name. The empty string selects all.
func ParseSearchField(s string) (SearchField, error) {
	if s == "" {
		return SearchAll, nil
	}
	for f, name := range searchFieldNames {
		if strings.EqualFold(name, s) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown search field %q", s)
}

// searchAccessors maps each searchable field to its text rendering
var searchAccessors = map[SearchField]func(*types.TransactionRecord) string{
	SearchTxHash: func(r *types.TransactionRecord) string { return r.TxHash },
	SearchDate:   func(r *types.TransactionRecord) string { return r.Date },
	SearchAction: func(r *types.TransactionRecord) string { return string(r.Action) },
	SearchAmount: func(r *types.TransactionRecord) string { return r.Amount },
	SearchUser:   func(r *types.TransactionRecord) string { return r.User },
}

var searchAllOrder = []SearchField{SearchTxHash, SearchDate, SearchAction, SearchAmount, SearchUser}

func matches(r *types.TransactionRecord, needle string, field SearchField) bool {
	if needle == "" {
		return true
	}
	if field != SearchAll {
		get, ok := searchAccessors[field]
		return ok && strings.Contains(strings.ToLower(get(r)), needle)
	}
	for _, f := range searchAllOrder {
		if strings.Contains(strings.ToLower(searchAccessors[f](r)), needle) {
			return true
		}
	}
	// The raw timestamp is searchable too
	return strings.Contains(strconv.FormatUint(r.Timestamp, 10), needle)
}

// compareAmounts orders decimal amount strings numerically
func compareAmounts(a, b string) int {
	ra, okA := new(big.Rat).SetString(a)
	rb, okB := new(big.Rat).SetString(b)
	switch {
	case okA && okB:
		return ra.Cmp(rb)
	case okA:
		return -1
	case okB:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

func compareUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// comparators returns a three-way comparison for each sort field
var comparators = map[SortField]func(a, b *types.TransactionRecord) int{
	SortDate:   func(a, b *types.TransactionRecord) int { return compareUint(a.Timestamp, b.Timestamp) },
	SortAction: func(a, b *types.TransactionRecord) int { return strings.Compare(string(a.Action), string(b.Action)) },
	SortAmount: func(a, b *types.TransactionRecord) int { return compareAmounts(a.Amount, b.Amount) },
	SortUser: func(a, b *types.TransactionRecord) int {
		return strings.Compare(strings.ToLower(a.User), strings.ToLower(b.User))
	},
	SortTxHash: func(a, b *types.TransactionRecord) int { return strings.Compare(a.TxHash, b.TxHash) },
}

// Query describes a sorted, filtered and paginated read of the view
type Query struct {
	Sort     SortField
	Order    SortOrder
	Search   string
	SearchIn SearchField

	// Action, when set, keeps only records of that action
	Action types.Action

	// Page is 1-based
	Page     int
	PageSize int
}

// Page is one page of query results
type Page struct {
	Items      []*types.TransactionRecord `json:"items"`
	Total      int                        `json:"total"`
	Page       int                        `json:"page"`
	PageSize   int                        `json:"pageSize"`
	TotalPages int                        `json:"totalPages"`
}

func (q Query) normalized() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = constants.DefaultPageSize
	}
	if q.PageSize > constants.MaxPageSize {
		q.PageSize = constants.MaxPageSize
	}
	q.Search = strings.ToLower(strings.TrimSpace(q.Search))
	return q
}

// Filter returns the records matching the action filter and search text,
// sorted by the query's field and order. Ties keep their input order.
func (q Query) Filter(records []*types.TransactionRecord) []*types.TransactionRecord {
	q = q.normalized()

	out := make([]*types.TransactionRecord, 0, len(records))
	for _, r := range records {
		if q.Action != "" && r.Action != q.Action {
			continue
		}
		if !matches(r, q.Search, q.SearchIn) {
			continue
		}
		out = append(out, r)
	}

	cmp, ok := comparators[q.Sort]
	if !ok {
		cmp = comparators[SortDate]
	}
	sort.SliceStable(out, func(i, j int) bool {
		c := cmp(out[i], out[j])
		if q.Order == Desc {
			return c > 0
		}
		return c < 0
	})
	return out
}

// Apply filters, sorts and paginates records. The input slice is not modified.
func (q Query) Apply(records []*types.TransactionRecord) Page {
	q = q.normalized()
	filtered := q.Filter(records)

	page := Page{
		Items:    []*types.TransactionRecord{},
		Total:    len(filtered),
		Page:     q.Page,
		PageSize: q.PageSize,
	}
	page.TotalPages = (page.Total + q.PageSize - 1) / q.PageSize

	// Compare page numbers before multiplying so huge pages cannot overflow
	if q.Page > page.TotalPages {
		return page
	}
	start := (q.Page - 1) * q.PageSize
	end := start + q.PageSize
	if end > len(filtered) {
		end = len(filtered)
	}
	page.Items = filtered[start:end]
	return page
}
