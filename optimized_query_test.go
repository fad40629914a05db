package sphinx

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pior/sphinx/searchd"
)

func TestFingerprint_FilterOrder(t *testing.T) {
	a := searchd.NewSearchConfig(searchd.SearchVersion099)
	a.AddRangeFilter("price", 10, 100, false)
	a.AddValuesFilter("color", []uint64{1, 2}, true)

	b := searchd.NewSearchConfig(searchd.SearchVersion099)
	b.AddValuesFilter("color", []uint64{1, 2}, true)
	b.AddRangeFilter("price", 10, 100, false)

	assert.Equal(t, fingerprint("shoes", a), fingerprint("shoes", b))
}

func TestFingerprint_IgnoresSortingStage(t *testing.T) {
	a := searchd.NewSearchConfig(searchd.SearchVersion099)
	b := searchd.NewSearchConfig(searchd.SearchVersion099)
	b.Offset = 40
	b.SortMode = searchd.SortExtended
	b.SortBy = "price desc"
	b.GroupBy = "brand"

	assert.Equal(t, fingerprint("shoes", a), fingerprint("shoes", b))
}

func TestFingerprint_Differs(t *testing.T) {
	base := func() *searchd.SearchConfig {
		cfg := searchd.NewSearchConfig(searchd.SearchVersion099)
		cfg.AddRangeFilter("price", 10, 100, false)
		return cfg
	}
	want := fingerprint("shoes", base())

	tests := []struct {
		name   string
		text   string
		modify func(*searchd.SearchConfig)
	}{
		{"text", "boots", func(*searchd.SearchConfig) {}},
		{"select", "shoes", func(c *searchd.SearchConfig) { c.Select = "id, price" }},
		{"match mode", "shoes", func(c *searchd.SearchConfig) { c.MatchMode = searchd.MatchAny }},
		{"filter bounds", "shoes", func(c *searchd.SearchConfig) { c.Filters[0].Max = 200 }},
		{"filter exclude", "shoes", func(c *searchd.SearchConfig) { c.Filters[0].Exclude = true }},
		{"extra filter", "shoes", func(c *searchd.SearchConfig) { c.AddFloatRangeFilter("rating", 1, 5, false) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.modify(cfg)
			assert.NotEqual(t, want, fingerprint(tt.text, cfg))
		})
	}
}

func TestOptimizedQuery_Optimise(t *testing.T) {
	q := NewOptimizedQuery(searchd.SearchVersion099)
	texts := []string{"red", "blue", "red", "green", "blue", "red"}
	for i, text := range texts {
		cfg := searchd.NewSearchConfig(searchd.SearchVersion099)
		cfg.Offset = uint32(i)
		require.NoError(t, q.Add(text, cfg))
	}

	q.Optimise()
	groups := q.Groups()
	require.Len(t, groups, 3)

	// Groups partition the sorted sequence contiguously.
	next := 0
	counts := map[string]int{}
	for _, g := range groups {
		assert.Equal(t, next, g.Start)
		next += g.Count

		text := texts[q.ResponseIndex(g.Start)]
		for pos := g.Start; pos < g.Start+g.Count; pos++ {
			assert.Equal(t, text, texts[q.ResponseIndex(pos)])
		}
		counts[text] = g.Count
	}
	assert.Equal(t, len(texts), next)
	assert.Equal(t, map[string]int{"red": 3, "blue": 2, "green": 1}, counts)

	// The response index is a permutation of the input order.
	seen := make([]int, 0, len(texts))
	for pos := range q.Len() {
		seen = append(seen, q.ResponseIndex(pos))
	}
	slices.Sort(seen)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, seen)
}

func TestOptimizedQuery_StableWithinGroup(t *testing.T) {
	q := NewOptimizedQuery(searchd.SearchVersion099)
	for range 4 {
		require.NoError(t, q.Add("same", searchd.NewSearchConfig(searchd.SearchVersion099)))
	}

	q.Optimise()
	require.Equal(t, []QueryGroup{{Start: 0, Count: 4}}, q.Groups())
	for pos := range 4 {
		assert.Equal(t, pos, q.ResponseIndex(pos))
	}
}

func TestOptimizedQuery_OldVersion(t *testing.T) {
	q := NewOptimizedQuery(searchd.SearchVersion0971)
	for range 3 {
		require.NoError(t, q.Add("same", searchd.NewSearchConfig(searchd.SearchVersion0971)))
	}

	q.Optimise()
	assert.Equal(t, []QueryGroup{{Start: 0, Count: 1}, {Start: 1, Count: 1}, {Start: 2, Count: 1}}, q.Groups())
	for pos := range 3 {
		assert.Equal(t, pos, q.ResponseIndex(pos))
	}
}

func TestOptimizedQuery_AddDropsGrouping(t *testing.T) {
	q := NewOptimizedQuery(searchd.SearchVersion099)
	require.NoError(t, q.Add("a", searchd.NewSearchConfig(searchd.SearchVersion099)))
	require.NoError(t, q.Add("a", searchd.NewSearchConfig(searchd.SearchVersion099)))
	q.Optimise()
	require.Len(t, q.Groups(), 1)

	require.NoError(t, q.Add("a", searchd.NewSearchConfig(searchd.SearchVersion099)))
	assert.Len(t, q.Groups(), 3)

	q.Optimise()
	assert.Equal(t, []QueryGroup{{Start: 0, Count: 3}}, q.Groups())
}

func TestOptimizedQuery_AddCopiesConfig(t *testing.T) {
	cfg := searchd.NewSearchConfig(searchd.SearchVersion099)
	q := NewOptimizedQuery(searchd.SearchVersion099)
	require.NoError(t, q.Add("shoes", cfg))

	cfg.AddRangeFilter("price", 10, 100, false)
	cfg.Offset = 20
	require.NoError(t, q.Add("shoes", searchd.NewSearchConfig(searchd.SearchVersion099)))

	// The first query keeps no filter, so both queries share a group.
	q.Optimise()
	require.Equal(t, []QueryGroup{{Start: 0, Count: 2}}, q.Groups())

	req, err := q.request(q.Groups()[0])
	require.NoError(t, err)
	_, err = searchd.ParseRequestHeader(req)
	require.NoError(t, err)
	for range 2 {
		_, got, err := searchd.DecodeSearchRequest(req, searchd.SearchVersion099)
		require.NoError(t, err)
		assert.Empty(t, got.Filters)
		assert.Zero(t, got.Offset)
	}

	// A filtered query added after the change groups apart.
	require.NoError(t, q.Add("shoes", cfg))
	q.Optimise()
	assert.Len(t, q.Groups(), 2)
}

func TestOptimizedQuery_VersionMismatch(t *testing.T) {
	q := NewOptimizedQuery(searchd.SearchVersion099)
	err := q.Add("a", searchd.NewSearchConfig(searchd.SearchVersion098))

	var usageErr *searchd.ClientUsageError
	require.ErrorAs(t, err, &usageErr)
	assert.Zero(t, q.Len())
}

func TestOptimizedQuery_Request(t *testing.T) {
	q := NewOptimizedQuery(searchd.SearchVersion099)
	for _, text := range []string{"b", "a", "b"} {
		require.NoError(t, q.Add(text, searchd.NewSearchConfig(searchd.SearchVersion099)))
	}
	q.Optimise()

	for _, g := range q.Groups() {
		req, err := q.request(g)
		require.NoError(t, err)

		h, err := searchd.ParseRequestHeader(req)
		require.NoError(t, err)
		assert.Equal(t, searchd.CommandSearch, h.Command)
		assert.Equal(t, uint32(g.Count), h.QueryCount)
		assert.Equal(t, int(h.Length), req.Len()+4)

		for pos := g.Start; pos < g.Start+g.Count; pos++ {
			text, _, err := searchd.DecodeSearchRequest(req, h.Version)
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "a", "b"}[q.ResponseIndex(pos)], text)
		}
		assert.Zero(t, req.Len())
	}
}
