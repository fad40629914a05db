package sphinx

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/pior/sphinx/searchd"
	"github.com/pior/sphinx/wire"
)

// MinMultiQueryVersion is the first search version able to carry several
// queries in one request. Optimise does nothing below it.
const MinMultiQueryVersion = searchd.SearchVersion098

// sourceQuery is a query added to an OptimizedQuery.
type sourceQuery struct {
	text        string
	cfg         *searchd.SearchConfig
	seq         int
	fingerprint string
	hash        uint64
}

// fingerprint identifies the matching stage of a query: its text, select
// clause, match mode and filters. Filters are sorted by canonical form so
// their order does not matter.
func fingerprint(text string, cfg *searchd.SearchConfig) string {
	filters := make([]string, len(cfg.Filters))
	for i, f := range cfg.Filters {
		filters[i] = f.String()
	}
	slices.Sort(filters)

	var sb strings.Builder
	sb.WriteString(text)
	sb.WriteByte(0)
	sb.WriteString(cfg.Select)
	sb.WriteByte(0)
	sb.WriteString(strconv.FormatUint(uint64(cfg.MatchMode), 10))
	for _, f := range filters {
		sb.WriteByte(0)
		sb.WriteString(f)
	}
	return sb.String()
}

// QueryGroup is a run of queries sharing a fingerprint, sent as one
// multiquery. Start is the position of its first query in sorted order.
type QueryGroup struct {
	Start int
	Count int
}

// OptimizedQuery is a batch of search queries that searchd can answer with
// fewer matching passes. Optimise groups queries that share their text,
// select clause, match mode and filters; each group is sent as one
// multiquery. Results are returned in the order queries were added.
//
// Until Optimise is called, every query is its own group.
type OptimizedQuery struct {
	version searchd.Version
	queries []sourceQuery

	// order[pos] is the sequence number of the query at sorted position pos.
	order     []int
	groups    []QueryGroup
	optimised bool
}

// NewOptimizedQuery returns an empty batch for search version v.
func NewOptimizedQuery(v searchd.Version) *OptimizedQuery {
	return &OptimizedQuery{version: v}
}

// Add appends a copy of the query. Later changes to cfg do not affect it.
// It drops any previous grouping.
func (q *OptimizedQuery) Add(text string, cfg *searchd.SearchConfig) error {
	if cfg.Version != q.version {
		return &searchd.ClientUsageError{
			Message: fmt.Sprintf("optimized query version %s does not match added query version %s", q.version, cfg.Version),
		}
	}

	cfg = cfg.Clone()
	fp := fingerprint(text, cfg)
	q.queries = append(q.queries, sourceQuery{
		text:        text,
		cfg:         cfg,
		seq:         len(q.queries),
		fingerprint: fp,
		hash:        xxh3.HashString(fp),
	})
	q.unoptimise()
	return nil
}

// Len returns the number of queries.
func (q *OptimizedQuery) Len() int { return len(q.queries) }

// Version returns the search version of the batch.
func (q *OptimizedQuery) Version() searchd.Version { return q.version }

// Optimise groups queries by fingerprint. The sort is stable: queries of a
// group keep their relative order.
func (q *OptimizedQuery) Optimise() {
	if q.optimised {
		return
	}
	if q.version < MinMultiQueryVersion {
		q.optimised = true
		return
	}

	q.order = q.order[:0]
	for i := range q.queries {
		q.order = append(q.order, i)
	}
	slices.SortStableFunc(q.order, func(a, b int) int {
		qa, qb := &q.queries[a], &q.queries[b]
		if c := cmp.Compare(qa.hash, qb.hash); c != 0 {
			return c
		}
		return strings.Compare(qa.fingerprint, qb.fingerprint)
	})

	q.groups = q.groups[:0]
	for pos, seq := range q.order {
		if pos > 0 && q.queries[q.order[pos-1]].fingerprint == q.queries[seq].fingerprint {
			q.groups[len(q.groups)-1].Count++
			continue
		}
		q.groups = append(q.groups, QueryGroup{Start: pos, Count: 1})
	}
	q.optimised = true
}

// Groups returns the groups in sorted order.
func (q *OptimizedQuery) Groups() []QueryGroup {
	return q.groups
}

// ResponseIndex returns the position at which the query at sorted position
// pos was added.
func (q *OptimizedQuery) ResponseIndex(pos int) int {
	return q.order[pos]
}

// unoptimise resets the plan to one group per query, in addition order.
func (q *OptimizedQuery) unoptimise() {
	q.optimised = false
	q.order = q.order[:0]
	q.groups = q.groups[:0]
	for i := range q.queries {
		q.order = append(q.order, i)
		q.groups = append(q.groups, QueryGroup{Start: i, Count: 1})
	}
}

// request builds the multiquery of group g.
func (q *OptimizedQuery) request(g QueryGroup) (*wire.Buffer, error) {
	body := wire.NewBuffer(0, true)
	for pos := g.Start; pos < g.Start+g.Count; pos++ {
		sq := &q.queries[q.order[pos]]
		if err := searchd.EncodeSearch(body, sq.text, sq.cfg); err != nil {
			return nil, err
		}
	}
	return searchd.BuildRequest(searchd.CommandSearch, q.version, body, g.Count), nil
}
