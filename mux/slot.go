//go:build unix

package mux

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/pior/sphinx/searchd"
	"github.com/pior/sphinx/wire"
)

// slot is one request and its connection. All buffers are owned by the
// slot.
type slot struct {
	index int
	fd    int
	state State

	request   *wire.Buffer
	handshake *wire.Buffer // server version in, client version out
	header    *wire.Buffer
	response  *wire.Buffer

	sent      int // bytes of the current outgoing buffer already sent
	remaining int // bytes still expected by the current read

	retries   int
	countdown int // ms before the current state times out

	status  searchd.Status
	version searchd.Version
}

// enter sets the state and re-arms the countdown. A finished slot never
// times out.
func (s *slot) enter(state State, timeout time.Duration) {
	s.state = state
	if state == StateFinished {
		s.countdown = noTimeout
		return
	}
	s.arm(timeout)
}

// arm restarts the countdown. A zero timeout expires on the next poll.
func (s *slot) arm(timeout time.Duration) {
	s.countdown = int(min(timeout.Milliseconds(), noTimeout))
}

func (s *slot) close() {
	if s.fd >= 0 {
		unix.Close(s.fd)
		s.fd = -1
	}
}
