package searchd

import (
	"github.com/pior/sphinx/wire"
)

// KeywordResult is one keyword extracted from a query.
type KeywordResult struct {
	Tokenized  string
	Normalized string

	// Filled only when statistics were requested.
	Docs uint32
	Hits uint32
}

// EncodeKeywords builds the body of a keywords request:
//
//	string query, string index, uint32 with-stats
func EncodeKeywords(b *wire.Buffer, index, query string, withStats bool) {
	b.PutString(query)
	b.PutString(index)
	b.PutUint32(boolWord(withStats))
}

// DecodeKeywords reads a keywords request body.
func DecodeKeywords(b *wire.Buffer) (index, query string, withStats bool, err error) {
	query = b.ReadString()
	index = b.ReadString()
	withStats = b.Uint32() != 0
	if !b.OK() {
		return "", "", false, fieldError("keywords request", b.Err())
	}
	return index, query, withStats, nil
}

// DecodeKeywordsResponse reads the keyword list. withStats must match the
// request.
func DecodeKeywordsResponse(b *wire.Buffer, withStats bool) ([]KeywordResult, error) {
	n := b.Uint32()
	if !b.OK() {
		return nil, fieldError("keyword count", b.Err())
	}

	out := make([]KeywordResult, 0, min(n, 1024))
	for range n {
		var k KeywordResult
		k.Tokenized = b.ReadString()
		k.Normalized = b.ReadString()
		if withStats {
			k.Docs = b.Uint32()
			k.Hits = b.Uint32()
		}
		if !b.OK() {
			return nil, fieldError("keyword", b.Err())
		}
		out = append(out, k)
	}
	return out, nil
}

// EncodeKeywordsResponse appends a keyword list. Used by servers and tests.
func EncodeKeywordsResponse(b *wire.Buffer, keywords []KeywordResult, withStats bool) {
	b.PutUint32(uint32(len(keywords)))
	for _, k := range keywords {
		b.PutString(k.Tokenized)
		b.PutString(k.Normalized)
		if withStats {
			b.PutUint32(k.Docs)
			b.PutUint32(k.Hits)
		}
	}
}
