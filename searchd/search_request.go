package searchd

import (
	"maps"
	"slices"

	"github.com/pior/sphinx/wire"
)

// Search request bodies, one function per command version. Each appends one
// query to b; a multiquery is the concatenation of several bodies.

func encodeSearch096(b *wire.Buffer, query string, c *SearchConfig) error {
	if len(c.Filters) > 0 {
		return usageErrorf("filters are not supported by search version %s", c.Version)
	}

	b.PutUint32(c.Offset)
	b.PutUint32(c.Limit)
	b.PutUint32(uint32(c.MatchMode))
	b.PutUint32(uint32(c.SortMode))
	putUint32s(b, c.Groups)
	b.PutString(query)
	putUint32s(b, c.Weights)
	b.PutString(c.Indexes)
	b.PutUint32(uint32(c.MinID))
	b.PutUint32(uint32(c.MaxID))
	b.PutUint32(c.MinTimestamp)
	b.PutUint32(c.MaxTimestamp)
	b.PutUint32(c.MinGroupID)
	b.PutUint32(c.MaxGroupID)
	return nil
}

// encodeSearch097 handles 0x104 and 0x107. The latter adds the exclude
// flag to filters and the group sort clause.
func encodeSearch097(b *wire.Buffer, query string, c *SearchConfig) error {
	b.PutUint32(c.Offset)
	b.PutUint32(c.Limit)
	b.PutUint32(uint32(c.MatchMode))
	b.PutUint32(uint32(c.SortMode))
	b.PutString(c.SortBy)
	b.PutString(query)
	putUint32s(b, c.Weights)
	b.PutString(c.Indexes)
	b.PutUint32(uint32(c.MinID))
	b.PutUint32(uint32(c.MaxID))

	if err := putFilters(b, c); err != nil {
		return err
	}

	b.PutUint32(uint32(c.GroupFunc))
	b.PutString(c.GroupBy)
	b.PutUint32(c.MaxMatches)
	if c.Version >= SearchVersion0971 {
		b.PutString(c.GroupSort)
	}
	return nil
}

// encodeSearch098 handles 0x113 and 0x116. The latter widens filter values
// to 64 bits and appends the ranking expression, attribute overrides and
// the select clause.
func encodeSearch098(b *wire.Buffer, query string, c *SearchConfig) error {
	v099 := c.Version >= SearchVersion099

	b.PutUint32(c.Offset)
	b.PutUint32(c.Limit)
	b.PutUint32(uint32(c.MatchMode))
	b.PutUint32(uint32(c.RankingMode))
	if v099 && c.RankingMode == RankExpr {
		b.PutString(c.RankExpr)
	}
	b.PutUint32(uint32(c.SortMode))
	b.PutString(c.SortBy)
	b.PutString(query)
	putUint32s(b, c.Weights)
	b.PutString(c.Indexes)

	b.PutUint32(1) // 64-bit id range marker
	b.PutUint64(c.MinID)
	b.PutUint64(c.MaxID)

	if err := putFilters(b, c); err != nil {
		return err
	}

	b.PutUint32(uint32(c.GroupFunc))
	b.PutString(c.GroupBy)
	b.PutUint32(c.MaxMatches)
	b.PutString(c.GroupSort)
	b.PutUint32(c.Cutoff)
	b.PutUint32(c.RetryCount)
	b.PutUint32(c.RetryDelay)
	b.PutString(c.GroupDistinct)

	b.PutUint32(uint32(len(c.Anchors)))
	for _, a := range c.Anchors {
		b.PutString(a.LatAttr)
		b.PutString(a.LongAttr)
		b.PutFloat32(a.Lat)
		b.PutFloat32(a.Long)
	}

	putWeights(b, c.IndexWeights)
	b.PutUint32(c.MaxQueryTime)
	putWeights(b, c.FieldWeights)
	b.PutString(c.Comment)

	if !v099 {
		return nil
	}

	if err := putOverrides(b, c.Overrides); err != nil {
		return err
	}
	b.PutString(c.Select)
	return nil
}

func putFilters(b *wire.Buffer, c *SearchConfig) error {
	b.PutUint32(uint32(len(c.Filters)))
	for _, f := range c.Filters {
		if err := f.serialize(b, c.Version); err != nil {
			return err
		}
	}
	return nil
}

func putUint32s(b *wire.Buffer, values []uint32) {
	b.PutUint32(uint32(len(values)))
	for _, v := range values {
		b.PutUint32(v)
	}
}

// putWeights writes a name to weight map in name order.
func putWeights(b *wire.Buffer, weights map[string]uint32) {
	b.PutUint32(uint32(len(weights)))
	for _, name := range sortedKeys(weights) {
		b.PutString(name)
		b.PutUint32(weights[name])
	}
}

// putOverrides writes overrides in attribute name order, documents in id
// order. Float overrides are sent as floats, bigint as 64-bit words and
// everything else as 32-bit words.
func putOverrides(b *wire.Buffer, overrides map[string]AttributeOverride) error {
	b.PutUint32(uint32(len(overrides)))
	for _, name := range sortedKeys(overrides) {
		o := overrides[name]
		b.PutString(name)
		b.PutUint32(uint32(o.Type))
		b.PutUint32(uint32(len(o.Values)))

		ids := slices.Sorted(maps.Keys(o.Values))
		for _, id := range ids {
			b.PutUint64(id)
			val := o.Values[id]
			switch o.Type {
			case AttrFloat:
				f, err := val.Float()
				if err != nil {
					return err
				}
				b.PutFloat32(f)
			case AttrBigInt:
				n, err := val.Uint64()
				if err != nil {
					return err
				}
				b.PutUint64(n)
			default:
				n, err := val.Uint32()
				if err != nil {
					return err
				}
				b.PutUint32(n)
			}
		}
	}
	return nil
}

// Request decoders mirror the encoders. searchd does this work in
// production; here they serve fake servers and round-trip checks.

func decodeSearch096(b *wire.Buffer, v Version) (string, *SearchConfig, error) {
	c := NewSearchConfig(v)
	c.Offset = b.Uint32()
	c.Limit = b.Uint32()
	c.MatchMode = MatchMode(b.Uint32())
	c.SortMode = SortMode(b.Uint32())
	c.Groups = readUint32s(b)
	query := b.ReadString()
	c.Weights = readUint32s(b)
	c.Indexes = b.ReadString()
	c.MinID = uint64(b.Uint32())
	c.MaxID = uint64(b.Uint32())
	c.MinTimestamp = b.Uint32()
	c.MaxTimestamp = b.Uint32()
	c.MinGroupID = b.Uint32()
	c.MaxGroupID = b.Uint32()
	if !b.OK() {
		return "", nil, fieldError("search request", b.Err())
	}
	return query, c, nil
}

func decodeSearch097(b *wire.Buffer, v Version) (string, *SearchConfig, error) {
	c := NewSearchConfig(v)
	c.Offset = b.Uint32()
	c.Limit = b.Uint32()
	c.MatchMode = MatchMode(b.Uint32())
	c.SortMode = SortMode(b.Uint32())
	c.SortBy = b.ReadString()
	query := b.ReadString()
	c.Weights = readUint32s(b)
	c.Indexes = b.ReadString()
	c.MinID = uint64(b.Uint32())
	c.MaxID = uint64(b.Uint32())
	if !b.OK() {
		return "", nil, fieldError("search request", b.Err())
	}

	if err := readFilters(b, c); err != nil {
		return "", nil, err
	}

	c.GroupFunc = GroupFunc(b.Uint32())
	c.GroupBy = b.ReadString()
	c.MaxMatches = b.Uint32()
	if v >= SearchVersion0971 {
		c.GroupSort = b.ReadString()
	}
	if !b.OK() {
		return "", nil, fieldError("group settings", b.Err())
	}
	return query, c, nil
}

func decodeSearch098(b *wire.Buffer, v Version) (string, *SearchConfig, error) {
	v099 := v >= SearchVersion099

	c := NewSearchConfig(v)
	c.Offset = b.Uint32()
	c.Limit = b.Uint32()
	c.MatchMode = MatchMode(b.Uint32())
	c.RankingMode = RankMode(b.Uint32())
	if v099 && c.RankingMode == RankExpr {
		c.RankExpr = b.ReadString()
	}
	c.SortMode = SortMode(b.Uint32())
	c.SortBy = b.ReadString()
	query := b.ReadString()
	c.Weights = readUint32s(b)
	c.Indexes = b.ReadString()

	if marker := b.Uint32(); b.OK() && marker != 1 {
		return "", nil, &MessageError{Field: "id range", Message: "missing 64-bit id range marker"}
	}
	c.MinID = b.Uint64()
	c.MaxID = b.Uint64()
	if !b.OK() {
		return "", nil, fieldError("search request", b.Err())
	}

	if err := readFilters(b, c); err != nil {
		return "", nil, err
	}

	c.GroupFunc = GroupFunc(b.Uint32())
	c.GroupBy = b.ReadString()
	c.MaxMatches = b.Uint32()
	c.GroupSort = b.ReadString()
	c.Cutoff = b.Uint32()
	c.RetryCount = b.Uint32()
	c.RetryDelay = b.Uint32()
	c.GroupDistinct = b.ReadString()
	if !b.OK() {
		return "", nil, fieldError("group settings", b.Err())
	}

	n := b.Uint32()
	for range n {
		var a GeoAnchor
		a.LatAttr = b.ReadString()
		a.LongAttr = b.ReadString()
		a.Lat = b.Float32()
		a.Long = b.Float32()
		if !b.OK() {
			return "", nil, fieldError("anchor", b.Err())
		}
		c.Anchors = append(c.Anchors, a)
	}

	c.IndexWeights = readWeights(b)
	c.MaxQueryTime = b.Uint32()
	c.FieldWeights = readWeights(b)
	c.Comment = b.ReadString()
	if !b.OK() {
		return "", nil, fieldError("weights", b.Err())
	}

	if !v099 {
		return query, c, nil
	}

	overrides, err := readOverrides(b)
	if err != nil {
		return "", nil, err
	}
	c.Overrides = overrides
	c.Select = b.ReadString()
	if !b.OK() {
		return "", nil, fieldError("select", b.Err())
	}
	return query, c, nil
}

func readFilters(b *wire.Buffer, c *SearchConfig) error {
	n := b.Uint32()
	if !b.OK() {
		return fieldError("filter count", b.Err())
	}
	for range n {
		f, err := readFilter(b, c.Version)
		if err != nil {
			return err
		}
		c.Filters = append(c.Filters, f)
	}
	return nil
}

func readUint32s(b *wire.Buffer) []uint32 {
	n := b.Uint32()
	var out []uint32
	for range n {
		v := b.Uint32()
		if !b.OK() {
			return out
		}
		out = append(out, v)
	}
	return out
}

func readWeights(b *wire.Buffer) map[string]uint32 {
	n := b.Uint32()
	if n == 0 {
		return nil
	}
	out := make(map[string]uint32, min(n, 1024))
	for range n {
		name := b.ReadString()
		w := b.Uint32()
		if !b.OK() {
			return out
		}
		out[name] = w
	}
	return out
}

func readOverrides(b *wire.Buffer) (map[string]AttributeOverride, error) {
	n := b.Uint32()
	if !b.OK() {
		return nil, fieldError("override count", b.Err())
	}
	if n == 0 {
		return nil, nil
	}

	out := make(map[string]AttributeOverride, min(n, 1024))
	for range n {
		name := b.ReadString()
		o := AttributeOverride{Type: AttrType(b.Uint32()), Values: make(map[uint64]Value)}
		count := b.Uint32()
		for range count {
			id := b.Uint64()
			switch o.Type {
			case AttrFloat:
				o.Values[id] = FloatValue(b.Float32())
			case AttrBigInt:
				o.Values[id] = Uint64Value(b.Uint64())
			default:
				o.Values[id] = Uint32Value(b.Uint32())
			}
			if !b.OK() {
				return nil, fieldError("override", b.Err())
			}
		}
		if !b.OK() {
			return nil, fieldError("override", b.Err())
		}
		out[name] = o
	}
	return out, nil
}
