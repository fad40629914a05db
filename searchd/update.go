package searchd

import (
	"maps"
	"slices"

	"github.com/pior/sphinx/wire"
)

// AttributeUpdates is a batch of attribute value changes for one index.
// Every document carries one value per attribute, in attribute order.
type AttributeUpdates struct {
	Attributes []string
	Docs       map[uint64][]Value
}

// NewAttributeUpdates returns an empty batch for the given attributes.
func NewAttributeUpdates(attrs ...string) *AttributeUpdates {
	return &AttributeUpdates{Attributes: attrs, Docs: make(map[uint64][]Value)}
}

// AddAttribute appends an attribute name and drops documents added so far,
// since their value lists no longer match.
func (u *AttributeUpdates) AddAttribute(name string) {
	u.Attributes = append(u.Attributes, name)
	clear(u.Docs)
}

// AddDocument sets the new values of a document. Adding the same id twice
// keeps the latest values.
func (u *AttributeUpdates) AddDocument(docID uint64, values ...Value) error {
	if len(values) != len(u.Attributes) {
		return usageErrorf("attribute name count (%d) must match value count (%d) of document %d",
			len(u.Attributes), len(values), docID)
	}
	if u.Docs == nil {
		u.Docs = make(map[uint64][]Value)
	}
	u.Docs[docID] = slices.Clone(values)
	return nil
}

// Len returns the number of documents in the batch.
func (u *AttributeUpdates) Len() int { return len(u.Docs) }

// EncodeUpdate builds the body of an update request:
//
//	string index, uint32 n, n x string attr, uint32 m, m x {uint64 id, n x uint32 value}
//
// Documents are sent in id order. Float values are sent as their raw bits.
func EncodeUpdate(b *wire.Buffer, index string, u *AttributeUpdates) error {
	b.PutString(index)
	b.PutUint32(uint32(len(u.Attributes)))
	for _, a := range u.Attributes {
		b.PutString(a)
	}

	b.PutUint32(uint32(len(u.Docs)))
	for _, id := range slices.Sorted(maps.Keys(u.Docs)) {
		values := u.Docs[id]
		if len(values) != len(u.Attributes) {
			return usageErrorf("document %d has %d values for %d attributes", id, len(values), len(u.Attributes))
		}
		b.PutUint64(id)
		for _, v := range values {
			w, err := v.word32()
			if err != nil {
				return err
			}
			b.PutUint32(w)
		}
	}
	return nil
}

// DecodeUpdate reads an update request body. Values come back as uint32.
func DecodeUpdate(b *wire.Buffer) (string, *AttributeUpdates, error) {
	index := b.ReadString()
	n := b.Uint32()
	if !b.OK() {
		return "", nil, fieldError("update attributes", b.Err())
	}
	u := NewAttributeUpdates()
	for range n {
		u.Attributes = append(u.Attributes, b.ReadString())
	}

	docs := b.Uint32()
	if !b.OK() {
		return "", nil, fieldError("update documents", b.Err())
	}
	for range docs {
		id := b.Uint64()
		values := make([]Value, len(u.Attributes))
		for i := range values {
			values[i] = Uint32Value(b.Uint32())
		}
		if !b.OK() {
			return "", nil, fieldError("update document", b.Err())
		}
		u.Docs[id] = values
	}
	return index, u, nil
}

// DecodeUpdateResponse reads the number of updated documents.
func DecodeUpdateResponse(b *wire.Buffer) (uint32, error) {
	n := b.Uint32()
	if !b.OK() {
		return 0, fieldError("updated count", b.Err())
	}
	return n, nil
}
