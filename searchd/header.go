package searchd

import (
	"github.com/pior/sphinx/wire"
)

// Header is the fixed 8-byte response header.
type Header struct {
	Status  Status
	Version Version
	Length  uint32
}

// ParseHeader reads a response header. A short header is a ServerError.
func ParseHeader(b *wire.Buffer) (Header, error) {
	var h Header
	h.Status = Status(b.Uint16())
	if !b.OK() {
		return h, &ServerError{Message: "unable to read response status"}
	}
	h.Version = Version(b.Uint16())
	if !b.OK() {
		return h, &ServerError{Message: "unable to read response version"}
	}
	h.Length = b.Uint32()
	if !b.OK() {
		return h, &ServerError{Message: "unable to read response length"}
	}
	return h, nil
}

// PutHeader writes a response header. Used by servers and tests.
func PutHeader(b *wire.Buffer, h Header) {
	b.PutUint16(uint16(h.Status))
	b.PutUint16(uint16(h.Version))
	b.PutUint32(h.Length)
}

// BuildRequest prepends the request header to body:
//
//	uint16 command, uint16 version, uint32 length [, uint32 query count]
//
// The query count word is only sent with search requests from version
// 0x113 on, and is included in the length.
func BuildRequest(cmd Command, v Version, body *wire.Buffer, queryCount int) *wire.Buffer {
	req := wire.NewBuffer(body.Len()+12, true)
	req.PutUint16(uint16(cmd))
	req.PutUint16(uint16(v))
	if hasQueryCount(cmd, v) {
		req.PutUint32(uint32(body.Len() + 4))
		req.PutUint32(uint32(queryCount))
	} else {
		req.PutUint32(uint32(body.Len()))
	}
	req.PutBuffer(body)
	return req
}

func hasQueryCount(cmd Command, v Version) bool {
	return cmd == CommandSearch && v >= SearchVersion098
}

// RequestHeader is the header of a request as seen by a server.
type RequestHeader struct {
	Command    Command
	Version    Version
	Length     uint32 // Body length, including the query count word
	QueryCount uint32 // 1 when the version carries no count
}

// ParseRequestHeader reads a request header and, for search requests that
// carry one, the query count.
func ParseRequestHeader(b *wire.Buffer) (RequestHeader, error) {
	h := RequestHeader{QueryCount: 1}
	h.Command = Command(b.Uint16())
	h.Version = Version(b.Uint16())
	h.Length = b.Uint32()
	if !b.OK() {
		return h, fieldError("request header", b.Err())
	}
	if hasQueryCount(h.Command, h.Version) {
		h.QueryCount = b.Uint32()
		if !b.OK() {
			return h, fieldError("query count", b.Err())
		}
	}
	return h, nil
}

// StatusMessage reads the message carried by the body of a response whose
// header status is not OK.
func StatusMessage(b *wire.Buffer) string {
	msg := b.ReadString()
	if !b.OK() {
		return ""
	}
	return msg
}
