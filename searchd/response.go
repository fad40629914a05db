package searchd

import (
	"github.com/pior/sphinx/wire"
)

// Attribute is one entry of a response schema.
type Attribute struct {
	Name string
	Type AttrType
}

// Match is one matched document.
type Match struct {
	DocID  uint64
	Weight uint32

	// 0x101 only
	GroupID   uint32
	Timestamp uint32

	Attrs map[string]Value
}

// WordStats holds per-word statistics of a query.
type WordStats struct {
	Word string
	Docs uint32 // Documents containing the word
	Hits uint32 // Occurrences of the word
}

// Response is one decoded search result.
type Response struct {
	Version Version
	Status  Status // Per-query status, OK before 0x113

	// Warning is the server message of a query that completed with a
	// WARNING status. The rest of the response is complete.
	Warning string

	Fields     []string
	Attributes []Attribute
	Matches    []Match
	ID64       bool

	Total      uint32 // Matches returned
	TotalFound uint32 // Documents matched
	TimeMs     uint32
	Words      []WordStats
}

// Word returns the statistics of w.
func (r *Response) Word(w string) (WordStats, bool) {
	for _, ws := range r.Words {
		if ws.Word == w {
			return ws, true
		}
	}
	return WordStats{}, false
}

func decodeResponse096(b *wire.Buffer, v Version) (*Response, error) {
	r := &Response{Version: v}

	n := b.Uint32()
	if !b.OK() {
		return nil, &MessageError{Field: "match count", Message: "cannot read any data, probably a zero-length response", Err: b.Err()}
	}
	for range n {
		var m Match
		m.DocID = uint64(b.Uint32())
		m.GroupID = b.Uint32()
		m.Timestamp = b.Uint32()
		m.Weight = b.Uint32()
		if !b.OK() {
			return nil, fieldError("match", b.Err())
		}
		r.Matches = append(r.Matches, m)
	}

	if err := readTotals(b, r); err != nil {
		return nil, err
	}
	return r, nil
}

// decodeResponse097 handles 0x104 and 0x107: a schema followed by
// matches with 32-bit ids and one 32-bit word per attribute.
func decodeResponse097(b *wire.Buffer, v Version) (*Response, error) {
	r := &Response{Version: v}

	if err := readSchema(b, r); err != nil {
		return nil, err
	}

	n := b.Uint32()
	if !b.OK() {
		return nil, fieldError("match count", b.Err())
	}
	for range n {
		m := Match{Attrs: make(map[string]Value, len(r.Attributes))}
		m.DocID = uint64(b.Uint32())
		m.Weight = b.Uint32()
		for _, a := range r.Attributes {
			m.Attrs[a.Name] = Uint32Value(b.Uint32())
		}
		if !b.OK() {
			return nil, fieldError("match", b.Err())
		}
		r.Matches = append(r.Matches, m)
	}

	if err := readTotals(b, r); err != nil {
		return nil, err
	}
	return r, nil
}

// decodeResponse098 handles 0x113 and 0x116. A status word leads; a
// WARNING status still carries a full result and is reported through
// Response.Warning. Any other non-OK status is a MessageError.
func decodeResponse098(b *wire.Buffer, v Version) (*Response, error) {
	r := &Response{Version: v}

	r.Status = Status(b.Uint32())
	if !b.OK() {
		return nil, &MessageError{Field: "status", Message: "cannot read any data, probably a zero-length response", Err: b.Err()}
	}
	if r.Status != StatusOK {
		msg := b.ReadString()
		if !b.OK() {
			msg = "query status " + r.Status.String()
		}
		if r.Status != StatusWarning {
			return nil, &MessageError{Message: "query failed: " + msg}
		}
		r.Warning = msg
	}

	if err := readSchema(b, r); err != nil {
		return nil, err
	}

	n := b.Uint32()
	if !b.OK() {
		return nil, fieldError("match count", b.Err())
	}
	r.ID64 = b.Uint32() != 0
	if !b.OK() {
		return nil, fieldError("id64 flag", b.Err())
	}

	for range n {
		m := Match{Attrs: make(map[string]Value, len(r.Attributes))}
		if r.ID64 {
			m.DocID = b.Uint64()
		} else {
			m.DocID = uint64(b.Uint32())
		}
		m.Weight = b.Uint32()
		for _, a := range r.Attributes {
			m.Attrs[a.Name] = readAttrValue(b, a.Type, v)
		}
		if !b.OK() {
			return nil, fieldError("match", b.Err())
		}
		r.Matches = append(r.Matches, m)
	}

	if err := readTotals(b, r); err != nil {
		return nil, err
	}
	return r, nil
}

func readSchema(b *wire.Buffer, r *Response) error {
	n := b.Uint32()
	if !b.OK() {
		return &MessageError{Field: "field count", Message: "cannot read any data, probably a too short response", Err: b.Err()}
	}
	for range n {
		name := b.ReadString()
		if !b.OK() {
			return fieldError("field", b.Err())
		}
		r.Fields = append(r.Fields, name)
	}

	n = b.Uint32()
	if !b.OK() {
		return fieldError("attribute count", b.Err())
	}
	for range n {
		a := Attribute{Name: b.ReadString(), Type: AttrType(b.Uint32())}
		if !b.OK() {
			return fieldError("attribute", b.Err())
		}
		r.Attributes = append(r.Attributes, a)
	}
	return nil
}

// readAttrValue reads one attribute value. 64-bit and string attributes
// only exist from 0x116 on.
func readAttrValue(b *wire.Buffer, t AttrType, v Version) Value {
	v099 := v >= SearchVersion099

	switch {
	case t == AttrFloat:
		return FloatValue(b.Float32())
	case v099 && t == AttrBigInt:
		return Uint64Value(b.Uint64())
	case v099 && t == AttrString:
		return StringValue(b.ReadString())
	case t.IsMulti():
		n := b.Uint32()
		wide := v099 && (t == AttrMulti64 || t.Elem() == AttrBigInt)
		if wide {
			n /= 2
		}
		vec := make([]Value, 0, min(n, 1024))
		for range n {
			switch {
			case t.Elem() == AttrFloat:
				vec = append(vec, FloatValue(b.Float32()))
			case wide:
				vec = append(vec, Uint64Value(b.Uint64()))
			default:
				vec = append(vec, Uint32Value(b.Uint32()))
			}
			if !b.OK() {
				break
			}
		}
		return VectorValue(vec...)
	}
	return Uint32Value(b.Uint32())
}

func readTotals(b *wire.Buffer, r *Response) error {
	r.Total = b.Uint32()
	r.TotalFound = b.Uint32()
	r.TimeMs = b.Uint32()
	if !b.OK() {
		return fieldError("totals", b.Err())
	}

	n := b.Uint32()
	if !b.OK() {
		return fieldError("word count", b.Err())
	}
	for range n {
		ws := WordStats{Word: b.ReadString(), Docs: b.Uint32(), Hits: b.Uint32()}
		if !b.OK() {
			return fieldError("word statistics", b.Err())
		}
		r.Words = append(r.Words, ws)
	}
	return nil
}
