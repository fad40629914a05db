//go:build unix

package wire

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Progress is the outcome of one non-blocking read or write step.
type Progress int

const (
	// Done means every expected byte has been transferred.
	Done Progress = iota
	// Progressed means some bytes moved and more remain.
	Progressed
	// WouldBlock means nothing moved; wait for the next readiness event.
	WouldBlock
)

func (p Progress) String() string {
	switch p {
	case Done:
		return "done"
	case Progressed:
		return "progressed"
	case WouldBlock:
		return "would-block"
	}
	return fmt.Sprintf("Progress(%d)", int(p))
}

var (
	// ErrPeerClosed is returned when recv reports end of stream.
	ErrPeerClosed = errors.New("connection closed by peer")

	// ErrWriteOnWritable is returned when send fails with EAGAIN on a
	// descriptor that poll reported writable.
	ErrWriteOnWritable = errors.New("cannot write on writable socket")

	// ErrZeroWrite is returned when send accepts no bytes.
	ErrZeroWrite = errors.New("written 0 bytes on writable socket")
)

// ProgressRead performs one recv on fd, appending at most *remaining bytes
// after the write cursor and decrementing *remaining by the amount read.
// Capacity doubles when the buffer is full.
func (b *Buffer) ProgressRead(fd int, remaining *int) (Progress, error) {
	if *remaining <= 0 {
		return Done, nil
	}
	if b.end >= len(b.data) {
		b.grow(1)
	}
	free := len(b.data) - b.end
	want := min(*remaining, free)

	n, err := unix.Read(fd, b.data[b.end:b.end+want])
	if err != nil {
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINPROGRESS) {
			return WouldBlock, nil
		}
		return WouldBlock, fmt.Errorf("recv: %w", err)
	}
	if n == 0 {
		return WouldBlock, ErrPeerClosed
	}

	b.end += n
	*remaining -= n
	if *remaining > 0 {
		return Progressed, nil
	}
	return Done, nil
}

// ProgressWrite performs one send on fd of the bytes [*sent, end) and
// advances *sent by the amount written. The read cursor is not used, so a
// request buffer can be resent from the start after a reconnect.
func (b *Buffer) ProgressWrite(fd int, sent *int) (Progress, error) {
	if *sent >= b.end {
		return Done, nil
	}

	n, err := unix.Write(fd, b.data[*sent:b.end])
	if err != nil {
		switch {
		case errors.Is(err, unix.EINTR):
			return WouldBlock, nil
		case errors.Is(err, unix.EAGAIN):
			return WouldBlock, ErrWriteOnWritable
		}
		return WouldBlock, fmt.Errorf("send: %w", err)
	}
	if n == 0 {
		return WouldBlock, ErrZeroWrite
	}

	*sent += n
	if *sent < b.end {
		return Progressed, nil
	}
	return Done, nil
}
