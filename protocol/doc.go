// Package protocol provides a low-level wire codec for the RESP2 protocol
// spoken by Redis-compatible servers.
//
// This package serves as the codec collaborator of the resp connection layer.
// It only turns commands into bytes and bytes into replies; it never owns a
// socket, never flushes, and keeps no state between calls.
//
// # Core Types
//
//   - Command: anything that can render its wire name (Cmd implements it)
//   - Reply: a tagged union over the five RESP2 reply shapes
//   - DataError: a well-formed error reply sent by the server
//   - ProtocolError: malformed framing, the stream can no longer be trusted
//
// # Encoding
//
// WriteCommand encodes a command as an array of bulk strings:
//
//	bw := bufio.NewWriter(conn)
//	err := protocol.WriteCommand(bw, protocol.SET, []byte("k"), []byte("v"))
//	// *3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n
//
// WriteCommand does not flush. Callers can pipeline any number of commands
// before a single Flush.
//
// # Decoding
//
// ReadReply decodes exactly one reply:
//
//	reply, err := protocol.ReadReply(bufio.NewReader(conn))
//	if err != nil {
//	    var dataErr *protocol.DataError
//	    if errors.As(err, &dataErr) {
//	        // the command failed, the stream is still usable
//	    }
//	    return err
//	}
//
// A top-level error reply is returned both as a KindError reply and as a
// *DataError. Error entries nested in an array are embedded as KindError
// elements and do not fail the read.
//
// # Error Handling
//
//   - DataError: server-side command failure, connection can be REUSED
//   - ProtocolError: unknown marker or malformed length, CLOSE connection
//   - any other error: I/O failure from the underlying reader, CLOSE connection
//
// Use IsDataError to tell the first kind from the others.
package protocol
