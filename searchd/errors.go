package searchd

import (
	"errors"
	"fmt"
)

// Error types for searchd operations.
// Every error except Warning aborts the call that produced it. None of them
// is retried: the only retry in the client happens while connecting.

// ConnectionError wraps transport failures.
//
// Common causes:
//   - DNS resolution failure
//   - Connect failure or connect timeout with no retries left
//   - Read or write timeout
//   - Peer closed the connection
//   - Unexpected poll event for the current state
type ConnectionError struct {
	Op    string // Stage that failed (connect, read response header, ...)
	Query int    // 1-based query slot, 0 when not tied to a slot
	Err   error  // Underlying error
}

func (e *ConnectionError) Error() string {
	if e.Query > 0 {
		return fmt.Sprintf("query %d: connection error during %s: %v", e.Query, e.Op, e.Err)
	}
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) IsFatal() bool { return true }

// ServerError reports a searchd protocol violation: a handshake version
// below 1 or a malformed response header.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

func (e *ServerError) IsFatal() bool { return true }

// MessageError reports a response that could not be decoded, or a non-OK,
// non-warning status carrying the server message.
type MessageError struct {
	Field   string // Field being decoded, empty for status errors
	Message string
	Err     error // Underlying error, if any
}

func (e *MessageError) Error() string {
	msg := "message error: "
	if e.Field != "" {
		msg += e.Field + ": "
	}
	msg += e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MessageError) Unwrap() error {
	return e.Err
}

func (e *MessageError) IsFatal() bool { return true }

// ClientUsageError signals API misuse. It is a programming error and is
// never retried.
//
// Common causes:
//   - Batch and query command versions differ
//   - Attribute count and value count differ
//   - Too many parallel connections
//   - A filter kind the target version cannot encode
type ClientUsageError struct {
	Message string
}

func (e *ClientUsageError) Error() string {
	return "client usage error: " + e.Message
}

func (e *ClientUsageError) IsFatal() bool { return true }

// ValueTypeError is returned when a Value is read as the wrong variant.
type ValueTypeError struct {
	Have ValueKind
	Want ValueKind
}

func (e *ValueTypeError) Error() string {
	return fmt.Sprintf("value is of type %s, not %s", e.Have, e.Want)
}

func (e *ValueTypeError) IsFatal() bool { return true }

// Warning is a non-fatal condition reported by searchd with a WARNING
// status. Responses returned alongside a Warning are complete.
type Warning struct {
	Message string
}

func (e *Warning) Error() string {
	return "warning: " + e.Message
}

func (e *Warning) IsFatal() bool { return false }

// FatalError is implemented by every error type of this package.
type FatalError interface {
	error
	IsFatal() bool
}

// IsFatal reports whether err aborts the call. Unknown errors are fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var e FatalError
	if errors.As(err, &e) {
		return e.IsFatal()
	}
	return true
}

// IsTransport reports whether err comes from the network or from a
// misbehaving server, as opposed to a decode failure or API misuse.
func IsTransport(err error) bool {
	var connErr *ConnectionError
	var srvErr *ServerError
	return errors.As(err, &connErr) || errors.As(err, &srvErr)
}

func usageErrorf(format string, args ...any) error {
	return &ClientUsageError{Message: fmt.Sprintf(format, args...)}
}

// fieldError builds a MessageError for a short or malformed field.
func fieldError(field string, err error) error {
	return &MessageError{Field: field, Message: "cannot decode", Err: err}
}
