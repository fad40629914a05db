package searchd

import "fmt"

// Command identifies a searchd request type.
type Command uint16

const (
	CommandSearch   Command = 0
	CommandExcerpt  Command = 1
	CommandUpdate   Command = 2
	CommandKeywords Command = 3
)

func (c Command) String() string {
	switch c {
	case CommandSearch:
		return "search"
	case CommandExcerpt:
		return "excerpt"
	case CommandUpdate:
		return "update"
	case CommandKeywords:
		return "keywords"
	}
	return fmt.Sprintf("command(%d)", uint16(c))
}

// Status is the status word of a response header, and of each search
// sub-response from version 0x113 on.
type Status uint16

const (
	StatusOK      Status = 0
	StatusError   Status = 1
	StatusRetry   Status = 2
	StatusWarning Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	case StatusRetry:
		return "retry"
	case StatusWarning:
		return "warning"
	}
	return fmt.Sprintf("status(%d)", uint16(s))
}

// Version is a command version. Each search version changes the presence,
// width or order of fields in the request and response bodies.
type Version uint16

const (
	SearchVersion096  Version = 0x101
	SearchVersion097  Version = 0x104
	SearchVersion0971 Version = 0x107
	SearchVersion098  Version = 0x113
	SearchVersion099  Version = 0x116

	UpdateVersion   Version = 0x101
	KeywordsVersion Version = 0x100
	ExcerptVersion  Version = 0x100
)

// ClientProtocolVersion is written by the client during the handshake.
const ClientProtocolVersion uint32 = 1

// HeaderSize is the size of a response header: status, version, length.
const HeaderSize = 8

func (v Version) String() string {
	return fmt.Sprintf("0x%x", uint16(v))
}

// MatchMode selects how query words are matched.
type MatchMode uint32

const (
	MatchAll       MatchMode = 0
	MatchAny       MatchMode = 1
	MatchPhrase    MatchMode = 2
	MatchBoolean   MatchMode = 3
	MatchExtended  MatchMode = 4
	MatchFullScan  MatchMode = 5
	MatchExtended2 MatchMode = 6
)

// SortMode selects how matches are ordered.
type SortMode uint32

const (
	SortRelevance    SortMode = 0
	SortAttrDesc     SortMode = 1
	SortAttrAsc      SortMode = 2
	SortTimeSegments SortMode = 3
	SortExtended     SortMode = 4
	SortExpr         SortMode = 5
)

// RankMode selects the ranking function for extended matching.
type RankMode uint32

const (
	RankProximityBM25 RankMode = 0
	RankBM25          RankMode = 1
	RankNone          RankMode = 2
	RankWordCount     RankMode = 3
	RankProximity     RankMode = 4
	RankMatchAny      RankMode = 5
	RankFieldMask     RankMode = 6
	RankSPH04         RankMode = 7
	RankExpr          RankMode = 8
)

// GroupFunc selects how the group-by attribute is bucketed.
type GroupFunc uint32

const (
	GroupByDay   GroupFunc = 0
	GroupByWeek  GroupFunc = 1
	GroupByMonth GroupFunc = 2
	GroupByYear  GroupFunc = 3
	GroupByAttr  GroupFunc = 4
)

// AttrType is an attribute type tag as sent in a response schema.
type AttrType uint32

const (
	AttrInteger   AttrType = 1
	AttrTimestamp AttrType = 2
	AttrOrdinal   AttrType = 3
	AttrBool      AttrType = 4
	AttrFloat     AttrType = 5
	AttrBigInt    AttrType = 6
	AttrString    AttrType = 7

	// AttrMulti is a flag marking a multi-valued attribute; the low bits
	// carry the element type.
	AttrMulti AttrType = 0x40000000

	// AttrMulti64 is a multi-valued attribute of 64-bit elements. Its count
	// word is the number of 32-bit words, two per element.
	AttrMulti64 AttrType = 0x40000002
)

// IsMulti reports whether t is a multi-valued attribute.
func (t AttrType) IsMulti() bool { return t&AttrMulti != 0 }

// Elem returns the element type of a multi-valued attribute.
func (t AttrType) Elem() AttrType { return t &^ AttrMulti }

func (t AttrType) String() string {
	switch t {
	case AttrInteger:
		return "integer"
	case AttrTimestamp:
		return "timestamp"
	case AttrOrdinal:
		return "ordinal"
	case AttrBool:
		return "bool"
	case AttrFloat:
		return "float"
	case AttrBigInt:
		return "bigint"
	case AttrString:
		return "string"
	case AttrMulti64:
		return "multi64"
	}
	if t.IsMulti() {
		return "multi(" + t.Elem().String() + ")"
	}
	return fmt.Sprintf("attr(%d)", uint32(t))
}
