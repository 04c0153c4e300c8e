package protocol

import (
	"bufio"
	"strconv"
)

// WriteCommand serializes a command and its arguments to w.
// Format: *<n>\r\n followed by one $<len>\r\n<bytes>\r\n per part,
// the command name being the first part.
//
// WriteCommand never flushes w, so callers can pipeline.
//
// bufio.Writer errors are sticky: once the underlying writer failed, every
// following write returns the same error. Checking the last write is enough.
func WriteCommand(w *bufio.Writer, cmd Command, args ...[]byte) error {
	writeHeader(w, MarkerArray, len(args)+1)
	writeBulk(w, cmd.Raw())
	for _, arg := range args {
		writeBulk(w, arg)
	}
	// Zero length write surfaces a sticky error without touching the buffer
	_, err := w.Write(nil)
	return err
}

// WriteStrings is WriteCommand for string arguments.
func WriteStrings(w *bufio.Writer, cmd Command, args ...string) error {
	bargs := make([][]byte, len(args))
	for i, arg := range args {
		bargs[i] = []byte(arg)
	}
	return WriteCommand(w, cmd, bargs...)
}

func writeHeader(w *bufio.Writer, marker byte, n int) {
	var scratch [20]byte
	w.WriteByte(marker)
	w.Write(strconv.AppendInt(scratch[:0], int64(n), 10))
	w.WriteString(CRLF)
}

func writeBulk(w *bufio.Writer, b []byte) {
	writeHeader(w, MarkerBulk, len(b))
	w.Write(b)
	w.WriteString(CRLF)
}
