package searchd

import (
	"github.com/pior/sphinx/wire"
)

// SearchCodec groups the body layouts of one search command version.
type SearchCodec struct {
	Version Version

	// Encode appends one query body.
	Encode func(b *wire.Buffer, query string, c *SearchConfig) error

	// DecodeRequest reads one query body.
	DecodeRequest func(b *wire.Buffer, v Version) (string, *SearchConfig, error)

	// DecodeResponse reads one result.
	DecodeResponse func(b *wire.Buffer, v Version) (*Response, error)

	// EncodeResponse appends one result.
	EncodeResponse func(b *wire.Buffer, r *Response) error
}

var searchCodecs = map[Version]SearchCodec{
	SearchVersion096: {
		Version:        SearchVersion096,
		Encode:         encodeSearch096,
		DecodeRequest:  decodeSearch096,
		DecodeResponse: decodeResponse096,
		EncodeResponse: encodeResponse096,
	},
	SearchVersion097: {
		Version:        SearchVersion097,
		Encode:         encodeSearch097,
		DecodeRequest:  decodeSearch097,
		DecodeResponse: decodeResponse097,
		EncodeResponse: encodeResponse097,
	},
	SearchVersion0971: {
		Version:        SearchVersion0971,
		Encode:         encodeSearch097,
		DecodeRequest:  decodeSearch097,
		DecodeResponse: decodeResponse097,
		EncodeResponse: encodeResponse097,
	},
	SearchVersion098: {
		Version:        SearchVersion098,
		Encode:         encodeSearch098,
		DecodeRequest:  decodeSearch098,
		DecodeResponse: decodeResponse098,
		EncodeResponse: encodeResponse098,
	},
	SearchVersion099: {
		Version:        SearchVersion099,
		Encode:         encodeSearch098,
		DecodeRequest:  decodeSearch098,
		DecodeResponse: decodeResponse098,
		EncodeResponse: encodeResponse098,
	},
}

// Lookup returns the codec of search version v.
func Lookup(v Version) (SearchCodec, error) {
	c, ok := searchCodecs[v]
	if !ok {
		return SearchCodec{}, usageErrorf("unsupported search version %s", v)
	}
	return c, nil
}

// Versions lists the supported search versions, oldest first.
func Versions() []Version {
	return []Version{SearchVersion096, SearchVersion097, SearchVersion0971, SearchVersion098, SearchVersion099}
}

// EncodeSearch appends the body of one query using the version of c.
func EncodeSearch(b *wire.Buffer, query string, c *SearchConfig) error {
	codec, err := Lookup(c.Version)
	if err != nil {
		return err
	}
	return codec.Encode(b, query, c)
}

// NewSearchRequest builds a complete single-query search request.
func NewSearchRequest(query string, c *SearchConfig) (*wire.Buffer, error) {
	body := wire.NewBuffer(0, true)
	if err := EncodeSearch(body, query, c); err != nil {
		return nil, err
	}
	return BuildRequest(CommandSearch, c.Version, body, 1), nil
}

// DecodeSearchRequest reads one query body of version v.
func DecodeSearchRequest(b *wire.Buffer, v Version) (string, *SearchConfig, error) {
	codec, err := Lookup(v)
	if err != nil {
		return "", nil, err
	}
	return codec.DecodeRequest(b, v)
}

// DecodeResponse reads one result of version v. A result with a WARNING
// status is returned without error and with Response.Warning set.
func DecodeResponse(b *wire.Buffer, v Version) (*Response, error) {
	codec, err := Lookup(v)
	if err != nil {
		return nil, err
	}
	return codec.DecodeResponse(b, v)
}

// EncodeResponse appends one result in the layout of version v.
func EncodeResponse(b *wire.Buffer, r *Response, v Version) error {
	codec, err := Lookup(v)
	if err != nil {
		return err
	}
	rr := *r
	rr.Version = v
	return codec.EncodeResponse(b, &rr)
}
