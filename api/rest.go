package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/0xmhha/pool-indexer/types"
	"github.com/0xmhha/pool-indexer/view"
	"github.com/go-chi/chi/v5"
)

// parseQuery builds a view query from request parameters. Absent parameters
// keep the view defaults.
func parseQuery(values url.Values) (view.Query, error) {
	var (
		q   view.Query
		err error
	)

	if q.Sort, err = view.ParseSortField(values.Get("sort")); err != nil {
		return q, err
	}
	if q.Order, err = view.ParseSortOrder(values.Get("order")); err != nil {
		return q, err
	}
	if q.SearchIn, err = view.ParseSearchField(values.Get("searchIn")); err != nil {
		return q, err
	}
	q.Search = values.Get("search")

	if a := values.Get("action"); a != "" {
		if q.Action, err = types.ParseAction(a); err != nil {
			return q, err
		}
	}
	if q.Page, err = parseNonNegative(values, "page"); err != nil {
		return q, err
	}
	if q.PageSize, err = parseNonNegative(values, "pageSize"); err != nil {
		return q, err
	}
	return q, nil
}

func parseNonNegative(values url.Values, key string) (int, error) {
	raw := values.Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return n, nil
}

// handleTransactions serves a filtered, sorted page of records
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.reader.Query(q))
}

// handleTransaction serves one record by transaction hash
func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	hash, err := types.NormalizeTxHash(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, ok := s.reader.Get(hash)
	if !ok {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleStats serves the indexer statistics
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusNotFound, "stats not available")
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Stats())
}
