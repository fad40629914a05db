package searchd

import (
	"maps"
	"slices"
)

// GeoAnchor is a geographical anchor point. Latitude and longitude are in
// radians, read from the named attributes.
type GeoAnchor struct {
	LatAttr  string
	LongAttr string
	Lat      float32
	Long     float32
}

// AttributeOverride replaces attribute values of given documents for the
// duration of one query.
type AttributeOverride struct {
	Type   AttrType
	Values map[uint64]Value
}

// SearchConfig holds every search setting for one query. A config is bound
// to one command version: fields the version does not carry are ignored by
// its encoder, and filters it cannot express are rejected.
//
// Build a config with NewSearchConfig and the Add/Set helpers, then treat it
// as read-only. Use Clone to derive a variant.
type SearchConfig struct {
	Version Version

	Offset uint32 // Matches to skip
	Limit  uint32 // Matches to return

	MinID, MaxID uint64 // Document id range, 0 means unbounded

	// 0x101 only
	MinTimestamp, MaxTimestamp uint32
	MinGroupID, MaxGroupID     uint32
	Groups                     []uint32

	MatchMode   MatchMode
	SortMode    SortMode
	SortBy      string
	RankingMode RankMode
	RankExpr    string // Sent with RankExpr on 0x116

	Weights []uint32 // Per-field weights in field order
	Indexes string

	Filters []Filter

	GroupFunc     GroupFunc
	GroupBy       string
	GroupSort     string
	GroupDistinct string
	MaxMatches    uint32

	Cutoff       uint32
	RetryCount   uint32 // Distributed search retries
	RetryDelay   uint32 // Distributed search retry delay, ms
	MaxQueryTime uint32 // ms, 0 means unlimited

	Anchors      []GeoAnchor
	IndexWeights map[string]uint32
	FieldWeights map[string]uint32
	Comment      string

	Overrides map[string]AttributeOverride
	Select    string
}

// NewSearchConfig returns a config with searchd's defaults for version v.
func NewSearchConfig(v Version) *SearchConfig {
	return &SearchConfig{
		Version:      v,
		Limit:        20,
		MaxTimestamp: 0xFFFFFFFF,
		MaxGroupID:   0xFFFFFFFF,
		MatchMode:    MatchAll,
		SortMode:     SortRelevance,
		RankingMode:  RankProximityBM25,
		GroupFunc:    GroupByDay,
		MaxMatches:   1000,
		GroupSort:    "@group desc",
		Indexes:      "*",
		Select:       "*",
	}
}

// AddRangeFilter keeps documents whose attr is in [min, max], or outside
// it when exclude is set.
func (c *SearchConfig) AddRangeFilter(attr string, min, max uint64, exclude bool) *SearchConfig {
	c.Filters = append(c.Filters, NewRangeFilter(attr, min, max, exclude))
	return c
}

// AddValuesFilter keeps documents whose attr is one of values, or none of
// them when exclude is set.
func (c *SearchConfig) AddValuesFilter(attr string, values []uint64, exclude bool) *SearchConfig {
	c.Filters = append(c.Filters, NewValuesFilter(attr, values, exclude))
	return c
}

// AddFloatRangeFilter is AddRangeFilter for float attributes. It needs
// version 0x113.
func (c *SearchConfig) AddFloatRangeFilter(attr string, min, max float32, exclude bool) *SearchConfig {
	c.Filters = append(c.Filters, NewFloatRangeFilter(attr, min, max, exclude))
	return c
}

// Filter returns the i-th filter.
func (c *SearchConfig) Filter(i int) (Filter, error) {
	if i < 0 || i >= len(c.Filters) {
		return Filter{}, usageErrorf("filter index %d out of range [0,%d)", i, len(c.Filters))
	}
	return c.Filters[i], nil
}

// AddAnchor sets the geo anchor used by @geodist. Coordinates are in
// radians.
func (c *SearchConfig) AddAnchor(latAttr, longAttr string, lat, long float32) *SearchConfig {
	c.Anchors = append(c.Anchors, GeoAnchor{LatAttr: latAttr, LongAttr: longAttr, Lat: lat, Long: long})
	return c
}

// SetIndexWeight multiplies the weights of matches from index.
func (c *SearchConfig) SetIndexWeight(index string, weight uint32) *SearchConfig {
	if c.IndexWeights == nil {
		c.IndexWeights = make(map[string]uint32)
	}
	c.IndexWeights[index] = weight
	return c
}

// SetFieldWeight sets the weight of a named field.
func (c *SearchConfig) SetFieldWeight(field string, weight uint32) *SearchConfig {
	if c.FieldWeights == nil {
		c.FieldWeights = make(map[string]uint32)
	}
	c.FieldWeights[field] = weight
	return c
}

// AddOverride sets the override value of attr for one document. The type
// of the latest call for an attribute wins.
func (c *SearchConfig) AddOverride(attr string, typ AttrType, docID uint64, value Value) *SearchConfig {
	if c.Overrides == nil {
		c.Overrides = make(map[string]AttributeOverride)
	}
	o := c.Overrides[attr]
	if o.Values == nil {
		o.Values = make(map[uint64]Value)
	}
	o.Type = typ
	o.Values[docID] = value
	c.Overrides[attr] = o
	return c
}

// Clone returns a deep copy of c.
func (c *SearchConfig) Clone() *SearchConfig {
	out := *c
	out.Groups = slices.Clone(c.Groups)
	out.Weights = slices.Clone(c.Weights)
	out.Anchors = slices.Clone(c.Anchors)
	out.Filters = make([]Filter, len(c.Filters))
	for i, f := range c.Filters {
		f.Values = slices.Clone(f.Values)
		out.Filters[i] = f
	}
	if c.Filters == nil {
		out.Filters = nil
	}
	out.IndexWeights = maps.Clone(c.IndexWeights)
	out.FieldWeights = maps.Clone(c.FieldWeights)
	if c.Overrides != nil {
		out.Overrides = make(map[string]AttributeOverride, len(c.Overrides))
		for name, o := range c.Overrides {
			out.Overrides[name] = AttributeOverride{Type: o.Type, Values: maps.Clone(o.Values)}
		}
	}
	return &out
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
