package mux

import "fmt"

// State is the position of a slot in the connection state machine.
//
//	WaitConnect -> ReadVersion -> WriteVersion -> WriteRequest
//	            -> ReadHeader -> ReadResponse -> Finished
//
// A connect timeout with retries left moves the slot to WaitRetry, which
// opens a new socket and returns to WaitConnect once the retry delay is over.
type State int

const (
	StateWaitConnect State = iota
	StateReadVersion
	StateWriteVersion
	StateWriteRequest
	StateReadHeader
	StateReadResponse
	StateFinished
	StateFailed
	StateWaitRetry
)

func (s State) String() string {
	switch s {
	case StateWaitConnect:
		return "wait-connect"
	case StateReadVersion:
		return "read-version"
	case StateWriteVersion:
		return "write-version"
	case StateWriteRequest:
		return "write-request"
	case StateReadHeader:
		return "read-response-header"
	case StateReadResponse:
		return "read-response"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	case StateWaitRetry:
		return "wait-retry-connect"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// waitsForRead reports whether the slot expects a readable event.
func (s State) waitsForRead() bool {
	return s == StateReadVersion || s == StateReadHeader || s == StateReadResponse
}

// waitsForWrite reports whether the slot expects a writable event.
func (s State) waitsForWrite() bool {
	return s == StateWaitConnect || s == StateWriteVersion || s == StateWriteRequest
}
