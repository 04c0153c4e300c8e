package resp

import (
	"errors"
	"fmt"

	"github.com/pior/resp/protocol"
)

var (
	// ErrBrokenConnection is returned by every read on a connection that
	// already failed at the transport level.
	ErrBrokenConnection = errors.New("attempting to read from a broken connection")

	// ErrNotConnected is returned when an operation needs a socket that was
	// never created.
	ErrNotConnected = errors.New("connection is not established")

	// ErrNil is returned by typed readers when the server sent an absent
	// bulk string or array.
	ErrNil = errors.New("resp: nil reply")

	// ErrUnexpectedReply is returned by typed readers when the reply has
	// another shape than the one requested. The reply was fully consumed,
	// the connection is still usable.
	ErrUnexpectedReply = errors.New("resp: unexpected reply type")
)

// ConnectionError wraps any transport level failure: connect refusal, TLS
// handshake or hostname verification failure, write, flush, read, timeout
// mutation or close failure, and malformed framing.
//
// A Connection that returned a ConnectionError is broken and must be
// discarded.
type ConnectionError struct {
	Op  string // Operation that failed (connect, handshake, verify, write, flush, read, timeout, close)
	Msg string // Optional description, replaces the generic message when set
	Err error  // Underlying error, if any
}

func (e *ConnectionError) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return "resp: " + e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return "resp: " + e.Msg
	default:
		return fmt.Sprintf("resp: connection error during %s: %v", e.Op, e.Err)
	}
}

// Unwrap returns the underlying error for error chain inspection
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// withMessage returns a copy of e described by msg, keeping the same cause.
func (e *ConnectionError) withMessage(msg string) *ConnectionError {
	return &ConnectionError{Op: e.Op, Msg: msg, Err: e.Err}
}

// IsConnectionError reports whether err is a transport level failure.
func IsConnectionError(err error) bool {
	var e *ConnectionError
	return errors.As(err, &e)
}

// IsDataError reports whether err is an error reply from the server.
// Data errors are local to one command and leave the connection usable.
func IsDataError(err error) bool {
	return protocol.IsDataError(err)
}

// ShouldDiscard reports whether the connection that produced err must be
// discarded rather than reused.
//
// Returns false for:
//   - nil
//   - DataError
//   - ErrNil
//   - ErrUnexpectedReply
//
// Returns true for everything else, unknown errors included.
func ShouldDiscard(err error) bool {
	if err == nil {
		return false
	}
	if IsDataError(err) || errors.Is(err, ErrNil) || errors.Is(err, ErrUnexpectedReply) {
		return false
	}
	return true
}

// toConnectionError makes sure err is a *ConnectionError, wrapping it for op
// when needed.
func toConnectionError(op string, err error) *ConnectionError {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce
	}
	return &ConnectionError{Op: op, Err: err}
}

func unexpectedReply(want protocol.Kind, got protocol.Reply) error {
	return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedReply, got.Kind, want)
}
