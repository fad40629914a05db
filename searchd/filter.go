package searchd

import (
	"strconv"
	"strings"

	"github.com/pior/sphinx/wire"
)

// FilterType is the filter type tag sent from version 0x113 on.
type FilterType uint32

const (
	FilterValues     FilterType = 0
	FilterRange      FilterType = 1
	FilterFloatRange FilterType = 2
)

func (t FilterType) String() string {
	switch t {
	case FilterValues:
		return "values"
	case FilterRange:
		return "range"
	case FilterFloatRange:
		return "float-range"
	}
	return "filter(" + strconv.FormatUint(uint64(t), 10) + ")"
}

// Filter restricts matches by attribute value. It is a closed variant:
// Type selects which of Values, Min/Max or FloatMin/FloatMax is used.
// Filters are plain values and copy by assignment.
type Filter struct {
	Type    FilterType
	Attr    string
	Exclude bool

	Values   []uint64 // FilterValues
	Min, Max uint64   // FilterRange

	FloatMin, FloatMax float32 // FilterFloatRange
}

func NewRangeFilter(attr string, min, max uint64, exclude bool) Filter {
	return Filter{Type: FilterRange, Attr: attr, Min: min, Max: max, Exclude: exclude}
}

func NewValuesFilter(attr string, values []uint64, exclude bool) Filter {
	return Filter{Type: FilterValues, Attr: attr, Values: append([]uint64(nil), values...), Exclude: exclude}
}

func NewFloatRangeFilter(attr string, min, max float32, exclude bool) Filter {
	return Filter{Type: FilterFloatRange, Attr: attr, FloatMin: min, FloatMax: max, Exclude: exclude}
}

// String returns the canonical form used to fingerprint queries:
// an optional "!" for excluding filters, the attribute name and ";", then
// "min;max" for ranges or "v1;v2;...;" for value sets.
func (f Filter) String() string {
	var sb strings.Builder
	if f.Exclude {
		sb.WriteByte('!')
	}
	sb.WriteString(f.Attr)
	sb.WriteByte(';')

	switch f.Type {
	case FilterRange:
		sb.WriteString(strconv.FormatUint(f.Min, 10))
		sb.WriteByte(';')
		sb.WriteString(strconv.FormatUint(f.Max, 10))
	case FilterFloatRange:
		sb.WriteString(strconv.FormatFloat(float64(f.FloatMin), 'g', -1, 32))
		sb.WriteByte(';')
		sb.WriteString(strconv.FormatFloat(float64(f.FloatMax), 'g', -1, 32))
	case FilterValues:
		for _, v := range f.Values {
			sb.WriteString(strconv.FormatUint(v, 10))
			sb.WriteByte(';')
		}
	}
	return sb.String()
}

// serialize writes the filter block for version v.
//
//	0x104:  attr, (0, min, max | count, values...)
//	0x107:  as 0x104 followed by the exclude flag
//	0x113:  attr, type, (count, values... | min, max | fmin, fmax), exclude
//	0x116:  as 0x113 with 64-bit values and range bounds
func (f Filter) serialize(b *wire.Buffer, v Version) error {
	switch {
	case v < SearchVersion097:
		return usageErrorf("filters are not supported by search version %s", v)

	case v < SearchVersion098:
		if f.Type == FilterFloatRange {
			return usageErrorf("float range filter on %q is not supported by search version %s", f.Attr, v)
		}
		if f.Exclude && v < SearchVersion0971 {
			return usageErrorf("exclude filter on %q is not supported by search version %s", f.Attr, v)
		}
		b.PutString(f.Attr)
		if f.Type == FilterRange {
			b.PutUint32(0)
			b.PutUint32(uint32(f.Min))
			b.PutUint32(uint32(f.Max))
		} else {
			b.PutUint32(uint32(len(f.Values)))
			for _, val := range f.Values {
				b.PutUint32(uint32(val))
			}
		}
		if v >= SearchVersion0971 {
			b.PutUint32(boolWord(f.Exclude))
		}
		return nil
	}

	wide := v >= SearchVersion099
	b.PutString(f.Attr)
	b.PutUint32(uint32(f.Type))
	switch f.Type {
	case FilterValues:
		b.PutUint32(uint32(len(f.Values)))
		for _, val := range f.Values {
			putWord(b, val, wide)
		}
	case FilterRange:
		putWord(b, f.Min, wide)
		putWord(b, f.Max, wide)
	case FilterFloatRange:
		b.PutFloat32(f.FloatMin)
		b.PutFloat32(f.FloatMax)
	default:
		return usageErrorf("unknown filter type %d on %q", f.Type, f.Attr)
	}
	b.PutUint32(boolWord(f.Exclude))
	return nil
}

// readFilter mirrors serialize.
func readFilter(b *wire.Buffer, v Version) (Filter, error) {
	var f Filter
	f.Attr = b.ReadString()

	if v < SearchVersion098 {
		first := b.Uint32()
		if first == 0 {
			f.Type = FilterRange
			f.Min = uint64(b.Uint32())
			f.Max = uint64(b.Uint32())
		} else {
			f.Type = FilterValues
			f.Values = make([]uint64, 0, min(first, 1024))
			for range first {
				f.Values = append(f.Values, uint64(b.Uint32()))
				if !b.OK() {
					break
				}
			}
		}
		if v >= SearchVersion0971 {
			f.Exclude = b.Uint32() != 0
		}
		if !b.OK() {
			return f, fieldError("filter", b.Err())
		}
		return f, nil
	}

	wide := v >= SearchVersion099
	f.Type = FilterType(b.Uint32())
	switch f.Type {
	case FilterValues:
		n := b.Uint32()
		f.Values = make([]uint64, 0, min(n, 1024))
		for range n {
			f.Values = append(f.Values, readWord(b, wide))
			if !b.OK() {
				break
			}
		}
	case FilterRange:
		f.Min = readWord(b, wide)
		f.Max = readWord(b, wide)
	case FilterFloatRange:
		f.FloatMin = b.Float32()
		f.FloatMax = b.Float32()
	default:
		return f, &MessageError{Field: "filter type", Message: "unknown filter type " + f.Type.String()}
	}
	f.Exclude = b.Uint32() != 0
	if !b.OK() {
		return f, fieldError("filter", b.Err())
	}
	return f, nil
}

func putWord(b *wire.Buffer, v uint64, wide bool) {
	if wide {
		b.PutUint64(v)
	} else {
		b.PutUint32(uint32(v))
	}
}

func readWord(b *wire.Buffer, wide bool) uint64 {
	if wide {
		return b.Uint64()
	}
	return uint64(b.Uint32())
}

func boolWord(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}
