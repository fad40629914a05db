package searchd

import (
	"github.com/pior/sphinx/wire"
)

// Response encoders are the server side of the decoders above. The client
// never sends responses; fake servers in tests and tools do.

func encodeResponse096(b *wire.Buffer, r *Response) error {
	b.PutUint32(uint32(len(r.Matches)))
	for _, m := range r.Matches {
		b.PutUint32(uint32(m.DocID))
		b.PutUint32(m.GroupID)
		b.PutUint32(m.Timestamp)
		b.PutUint32(m.Weight)
	}
	putTotals(b, r)
	return nil
}

func encodeResponse097(b *wire.Buffer, r *Response) error {
	putSchema(b, r)
	b.PutUint32(uint32(len(r.Matches)))
	for _, m := range r.Matches {
		b.PutUint32(uint32(m.DocID))
		b.PutUint32(m.Weight)
		for _, a := range r.Attributes {
			n, err := m.Attrs[a.Name].Uint32()
			if err != nil {
				return err
			}
			b.PutUint32(n)
		}
	}
	putTotals(b, r)
	return nil
}

func encodeResponse098(b *wire.Buffer, r *Response) error {
	b.PutUint32(uint32(r.Status))
	if r.Status != StatusOK {
		msg := r.Warning
		b.PutString(msg)
		if r.Status != StatusWarning {
			return nil
		}
	}

	putSchema(b, r)
	b.PutUint32(uint32(len(r.Matches)))
	b.PutUint32(boolWord(r.ID64))
	for _, m := range r.Matches {
		if r.ID64 {
			b.PutUint64(m.DocID)
		} else {
			b.PutUint32(uint32(m.DocID))
		}
		b.PutUint32(m.Weight)
		for _, a := range r.Attributes {
			if err := putAttrValue(b, a.Type, m.Attrs[a.Name], r.Version); err != nil {
				return err
			}
		}
	}
	putTotals(b, r)
	return nil
}

func putAttrValue(b *wire.Buffer, t AttrType, v Value, ver Version) error {
	v099 := ver >= SearchVersion099

	switch {
	case t == AttrFloat:
		f, err := v.Float()
		if err != nil {
			return err
		}
		b.PutFloat32(f)
	case v099 && t == AttrBigInt:
		n, err := v.Uint64()
		if err != nil {
			return err
		}
		b.PutUint64(n)
	case v099 && t == AttrString:
		s, err := v.Str()
		if err != nil {
			return err
		}
		b.PutString(s)
	case t.IsMulti():
		vec, err := v.Vector()
		if err != nil {
			return err
		}
		wide := v099 && (t == AttrMulti64 || t.Elem() == AttrBigInt)
		if wide {
			b.PutUint32(uint32(len(vec) * 2))
		} else {
			b.PutUint32(uint32(len(vec)))
		}
		for _, e := range vec {
			switch {
			case t.Elem() == AttrFloat:
				f, err := e.Float()
				if err != nil {
					return err
				}
				b.PutFloat32(f)
			case wide:
				n, err := e.Uint64()
				if err != nil {
					return err
				}
				b.PutUint64(n)
			default:
				n, err := e.Uint32()
				if err != nil {
					return err
				}
				b.PutUint32(n)
			}
		}
	default:
		n, err := v.Uint32()
		if err != nil {
			return err
		}
		b.PutUint32(n)
	}
	return nil
}

func putSchema(b *wire.Buffer, r *Response) {
	b.PutUint32(uint32(len(r.Fields)))
	for _, f := range r.Fields {
		b.PutString(f)
	}
	b.PutUint32(uint32(len(r.Attributes)))
	for _, a := range r.Attributes {
		b.PutString(a.Name)
		b.PutUint32(uint32(a.Type))
	}
}

func putTotals(b *wire.Buffer, r *Response) {
	b.PutUint32(r.Total)
	b.PutUint32(r.TotalFound)
	b.PutUint32(r.TimeMs)
	b.PutUint32(uint32(len(r.Words)))
	for _, w := range r.Words {
		b.PutString(w.Word)
		b.PutUint32(w.Docs)
		b.PutUint32(w.Hits)
	}
}
