package protocol

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
)

var crlfBytes = []byte(CRLF)

// ReadReply reads and parses exactly one reply from r, leaving r positioned
// right after it.
//
// A top-level error reply is returned as a KindError Reply together with its
// *DataError, so callers that only look at the error still see the failure.
// Error entries nested in an array are embedded as KindError elements.
//
// Other errors returned indicate the stream is no longer usable:
//   - io.EOF / io.ErrUnexpectedEOF: connection closed, possibly mid-reply
//   - *ProtocolError: malformed reply
//   - other I/O errors (timeouts, resets) from the underlying reader
func ReadReply(r *bufio.Reader) (Reply, error) {
	reply, err := readReply(r)
	if err != nil {
		return Reply{}, err
	}
	if reply.Kind == KindError {
		return reply, reply.Err
	}
	return reply, nil
}

func readReply(r *bufio.Reader) (Reply, error) {
	line, err := readLine(r)
	if err != nil {
		return Reply{}, err
	}
	if len(line) == 0 {
		return Reply{}, &ProtocolError{Message: "empty reply line"}
	}

	switch line[0] {
	case MarkerStatus:
		return StatusReply(string(line[1:])), nil

	case MarkerError:
		return ErrorReply(string(line[1:])), nil

	case MarkerInteger:
		n, err := parseInt(line[1:])
		if err != nil {
			return Reply{}, &ProtocolError{Message: "invalid integer reply", Err: err}
		}
		return IntegerReply(n), nil

	case MarkerBulk:
		n, err := parseLength(line[1:], MaxBulkLength)
		if err != nil {
			return Reply{}, &ProtocolError{Message: "invalid bulk length", Err: err}
		}
		if n == NullLength {
			return BulkReply(nil), nil
		}
		return readBulkBody(r, n)

	case MarkerArray:
		n, err := parseLength(line[1:], MaxArrayLength)
		if err != nil {
			return Reply{}, &ProtocolError{Message: "invalid array length", Err: err}
		}
		if n == NullLength {
			return ArrayReply(), nil
		}
		elems := make([]Reply, 0, min(n, 1024))
		for range n {
			elem, err := readReply(r)
			if err != nil {
				return Reply{}, err
			}
			elems = append(elems, elem)
		}
		return ArrayReply(elems...), nil

	default:
		return Reply{}, &ProtocolError{Message: "unknown reply: " + strconv.Quote(string(line))}
	}
}

// ReadErrorLine is a best-effort probe used after a failed write: the server
// may have explained why it is closing the connection before doing so.
// It returns the error message if the next reply is an error line.
// It never returns an error; any failure is reported as ("", false).
func ReadErrorLine(r *bufio.Reader) (string, bool) {
	if r == nil {
		return "", false
	}
	marker, err := r.Peek(1)
	if err != nil || marker[0] != MarkerError {
		return "", false
	}
	line, err := readLine(r)
	if err != nil {
		return "", false
	}
	return string(line[1:]), true
}

// readLine returns the next line without its CRLF. The returned slice is only
// valid until the next read on r.
func readLine(r *bufio.Reader) ([]byte, error) {
	// Zero allocation read, falls back to ReadBytes for lines longer than the buffer
	line, err := r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		buf := append([]byte(nil), line...)
		var rest []byte
		rest, err = r.ReadBytes('\n')
		line = append(buf, rest...)
	}
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if !bytes.HasSuffix(line, crlfBytes) {
		return nil, &ProtocolError{Message: "line not terminated by CRLF"}
	}
	return line[:len(line)-2], nil
}

func readBulkBody(r *bufio.Reader, n int) (Reply, error) {
	// Data and CRLF together in a single read
	data := make([]byte, n+2)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Reply{}, err
	}
	if !bytes.HasSuffix(data, crlfBytes) {
		return Reply{}, &ProtocolError{Message: "invalid bulk terminator"}
	}
	return BulkReply(data[:n]), nil
}

func parseInt(b []byte) (int64, error) {
	return strconv.ParseInt(string(b), 10, 64)
}

func parseLength(b []byte, limit int) (int, error) {
	n, err := parseInt(b)
	if err != nil {
		return 0, err
	}
	if n < NullLength || n > int64(limit) {
		return 0, strconv.ErrRange
	}
	return int(n), nil
}
