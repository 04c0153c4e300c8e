package protocol

import (
	"errors"
	"strings"
)

// DataError represents an error reply ("-ERR ...") from the server.
// The reply was well formed, so the protocol state is still valid: the
// command failed but the connection can be REUSED.
//
// Common causes:
//   - Unknown command or wrong number of arguments
//   - Operation against a key holding the wrong kind of value (WRONGTYPE)
//   - Authentication required or rejected (NOAUTH, WRONGPASS)
type DataError struct {
	Message string
}

func (e *DataError) Error() string {
	return e.Message
}

// Prefix returns the error code, the first word of the message
// ("ERR", "WRONGTYPE", "NOAUTH", ...).
func (e *DataError) Prefix() string {
	code, _, _ := strings.Cut(e.Message, " ")
	return code
}

// ProtocolError represents a reply the client could not parse.
// It indicates either a server bug or a desynchronized stream; either way the
// position in the stream is unknown.
//
// Common causes:
//   - Unknown reply marker byte
//   - Non-numeric or out of range length / integer
//   - Missing CRLF after a bulk payload
//
// Connection handling: CLOSE connection
type ProtocolError struct {
	Message string
	Err     error // Underlying error, if any
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return "protocol error: " + e.Message + ": " + e.Err.Error()
	}
	return "protocol error: " + e.Message
}

// Unwrap returns the underlying error for error chain inspection
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsDataError reports whether err carries a server error reply.
func IsDataError(err error) bool {
	var e *DataError
	return errors.As(err, &e)
}

// IsProtocolError reports whether err is a framing failure.
func IsProtocolError(err error) bool {
	var e *ProtocolError
	return errors.As(err, &e)
}
