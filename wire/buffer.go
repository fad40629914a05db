// Package wire implements the growable byte buffer used to build and parse
// searchd protocol messages.
//
// A Buffer has a write cursor (values are appended at the end) and a read
// cursor (values are consumed from the front). Reads past the unread region
// set a sticky error instead of panicking, so a decoder can run a sequence of
// reads and check OK once per field:
//
//	count := buf.Uint32()
//	if !buf.OK() {
//	    return fmt.Errorf("match count: %w", buf.Err())
//	}
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DefaultSize is the initial capacity used when a zero size is requested.
const DefaultSize = 1024

// ShortReadError is recorded when a read needs more bytes than are unread.
type ShortReadError struct {
	Want int // bytes needed by the read
	Have int // unread bytes at the time of the read
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("short buffer: need %d bytes, have %d", e.Want, e.Have)
}

// Buffer is a growable byte buffer with big-endian (network order) or
// host-order encoding. Invariant: start <= end <= len(data).
type Buffer struct {
	data  []byte
	start int // read cursor
	end   int // write cursor
	err   error

	order binary.ByteOrder
}

// NewBuffer returns an empty buffer with the given initial capacity.
// With convertEndian set, values are encoded in network byte order;
// otherwise host byte order is used.
func NewBuffer(size int, convertEndian bool) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	b := &Buffer{data: make([]byte, size)}
	b.SetConvertEndian(convertEndian)
	return b
}

// FromBytes returns a network-order buffer whose unread region is a copy of p.
func FromBytes(p []byte) *Buffer {
	b := NewBuffer(len(p)+1, true)
	copy(b.data, p)
	b.end = len(p)
	return b
}

// SetConvertEndian switches between network and host byte order.
func (b *Buffer) SetConvertEndian(convert bool) {
	if convert {
		b.order = binary.BigEndian
	} else {
		b.order = binary.NativeEndian
	}
}

// ConvertEndian reports whether values are encoded in network byte order.
func (b *Buffer) ConvertEndian() bool {
	return b.order == binary.BigEndian
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int { return b.end - b.start }

// Cap returns the current capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Written returns the write cursor, the total number of bytes appended.
func (b *Buffer) Written() int { return b.end }

// Bytes returns the unread region. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.data[b.start:b.end] }

// All returns every byte written so far, including already consumed ones.
func (b *Buffer) All() []byte { return b.data[:b.end] }

// OK reports whether no read has failed so far.
func (b *Buffer) OK() bool { return b.err == nil }

// Err returns the first read error, if any.
func (b *Buffer) Err() error { return b.err }

// Reset empties the buffer and clears the error, keeping its capacity.
func (b *Buffer) Reset() {
	b.start, b.end = 0, 0
	b.err = nil
}

// grow doubles the capacity until n more bytes fit after the write cursor.
// Bytes [0,end) keep their positions.
func (b *Buffer) grow(n int) {
	if b.end+n <= len(b.data) {
		return
	}
	size := len(b.data)
	if size == 0 {
		size = DefaultSize
	}
	for b.end+n > size {
		size *= 2
	}
	data := make([]byte, size)
	copy(data, b.data[:b.end])
	b.data = data
}

// PutUint16 appends v in the buffer byte order.
func (b *Buffer) PutUint16(v uint16) {
	b.grow(2)
	b.order.PutUint16(b.data[b.end:], v)
	b.end += 2
}

// PutUint32 appends v in the buffer byte order.
func (b *Buffer) PutUint32(v uint32) {
	b.grow(4)
	b.order.PutUint32(b.data[b.end:], v)
	b.end += 4
}

// PutUint64 appends v in the buffer byte order.
func (b *Buffer) PutUint64(v uint64) {
	b.grow(8)
	b.order.PutUint64(b.data[b.end:], v)
	b.end += 8
}

// PutFloat32 writes the raw IEEE-754 bits of v as a 32-bit word.
func (b *Buffer) PutFloat32(v float32) {
	b.PutUint32(math.Float32bits(v))
}

// PutString writes a 4-byte length followed by the raw bytes of s.
func (b *Buffer) PutString(s string) {
	b.grow(4 + len(s))
	b.PutUint32(uint32(len(s)))
	b.end += copy(b.data[b.end:], s)
}

// PutBytes appends p without a length prefix.
func (b *Buffer) PutBytes(p []byte) {
	b.grow(len(p))
	b.end += copy(b.data[b.end:], p)
}

// PutBuffer appends the unread region of other without consuming it.
func (b *Buffer) PutBuffer(other *Buffer) {
	b.PutBytes(other.Bytes())
}

// take consumes n bytes, or records a ShortReadError and returns nil.
// Once an error is recorded every later read fails too.
func (b *Buffer) take(n int) []byte {
	if b.err != nil {
		return nil
	}
	if b.end-b.start < n {
		b.err = &ShortReadError{Want: n, Have: b.end - b.start}
		return nil
	}
	p := b.data[b.start : b.start+n]
	b.start += n
	return p
}

// Uint16 reads a 16-bit word. It returns 0 after a short read.
func (b *Buffer) Uint16() uint16 {
	p := b.take(2)
	if p == nil {
		return 0
	}
	return b.order.Uint16(p)
}

// Uint32 reads a 32-bit word. It returns 0 after a short read.
func (b *Buffer) Uint32() uint32 {
	p := b.take(4)
	if p == nil {
		return 0
	}
	return b.order.Uint32(p)
}

// Uint64 reads a 64-bit word. It returns 0 after a short read.
func (b *Buffer) Uint64() uint64 {
	p := b.take(8)
	if p == nil {
		return 0
	}
	return b.order.Uint64(p)
}

// Float32 reads a 32-bit word as IEEE-754 bits.
func (b *Buffer) Float32() float32 {
	return math.Float32frombits(b.Uint32())
}

// ReadString reads a 4-byte length and that many bytes.
func (b *Buffer) ReadString() string {
	n := b.Uint32()
	if b.err != nil {
		return ""
	}
	p := b.take(int(n))
	if p == nil {
		return ""
	}
	return string(p)
}

// ReadBytes consumes n bytes and returns a copy of them.
func (b *Buffer) ReadBytes(n int) []byte {
	p := b.take(n)
	if p == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, p)
	return out
}
