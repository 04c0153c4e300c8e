package resp

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pior/resp/protocol"
)

// Result is one slot of a pipelined batch: the reply of the command, or the
// error reply the server sent for it.
type Result struct {
	Reply protocol.Reply
	Err   *protocol.DataError
}

// Failed reports whether the server rejected the command of this slot.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Value returns the reply, or the data error as an error.
func (r Result) Value() (protocol.Reply, error) {
	if r.Err != nil {
		return r.Reply, r.Err
	}
	return r.Reply, nil
}

// ReadStatus flushes and reads a status reply (+OK).
func (c *Connection) ReadStatus() (string, error) {
	reply, err := c.readFlushed()
	if err != nil {
		return "", err
	}
	switch reply.Kind {
	case protocol.KindStatus:
		return reply.Str, nil
	case protocol.KindBulk:
		if reply.Bulk == nil {
			return "", ErrNil
		}
		return decodeText(reply.Bulk), nil
	}
	return "", unexpectedReply(protocol.KindStatus, reply)
}

// ReadBulk flushes and reads a bulk reply as text.
// Invalid UTF-8 sequences are replaced by U+FFFD; use ReadBulkBytes for
// binary values. An absent value returns ErrNil.
func (c *Connection) ReadBulk() (string, error) {
	b, err := c.ReadBulkBytes()
	if err != nil {
		return "", err
	}
	return decodeText(b), nil
}

// ReadBulkBytes flushes and reads a bulk reply. An absent value returns ErrNil.
func (c *Connection) ReadBulkBytes() ([]byte, error) {
	reply, err := c.readFlushed()
	if err != nil {
		return nil, err
	}
	switch reply.Kind {
	case protocol.KindBulk:
		if reply.Bulk == nil {
			return nil, ErrNil
		}
		return reply.Bulk, nil
	case protocol.KindStatus:
		return []byte(reply.Str), nil
	}
	return nil, unexpectedReply(protocol.KindBulk, reply)
}

// ReadInteger flushes and reads an integer reply.
func (c *Connection) ReadInteger() (int64, error) {
	reply, err := c.readFlushed()
	if err != nil {
		return 0, err
	}
	if reply.Kind != protocol.KindInteger {
		return 0, unexpectedReply(protocol.KindInteger, reply)
	}
	return reply.Int, nil
}

// ReadMultiBulk flushes and reads an array of bulk strings as text.
// Absent elements are nil, an empty bulk is a pointer to "". An absent array
// returns ErrNil.
func (c *Connection) ReadMultiBulk() ([]*string, error) {
	elems, err := c.ReadMultiBulkBytes()
	if err != nil {
		return nil, err
	}
	strs := make([]*string, len(elems))
	for i, elem := range elems {
		if elem == nil {
			continue
		}
		s := decodeText(elem)
		strs[i] = &s
	}
	return strs, nil
}

// ReadMultiBulkBytes flushes and reads an array of bulk strings.
// Absent elements are nil. An absent array returns ErrNil.
func (c *Connection) ReadMultiBulkBytes() ([][]byte, error) {
	elems, err := c.readArray(true)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(elems))
	for i, elem := range elems {
		switch elem.Kind {
		case protocol.KindBulk:
			out[i] = elem.Bulk
		case protocol.KindStatus:
			out[i] = []byte(elem.Str)
		case protocol.KindError:
			return nil, elem.Err
		default:
			return nil, unexpectedReply(protocol.KindBulk, elem)
		}
	}
	return out, nil
}

// ReadIntegerMultiBulk flushes and reads an array of integers.
func (c *Connection) ReadIntegerMultiBulk() ([]int64, error) {
	elems, err := c.readArray(true)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(elems))
	for i, elem := range elems {
		switch elem.Kind {
		case protocol.KindInteger:
			out[i] = elem.Int
		case protocol.KindError:
			return nil, elem.Err
		default:
			return nil, unexpectedReply(protocol.KindInteger, elem)
		}
	}
	return out, nil
}

// ReadObjectMultiBulk flushes and reads an array of replies of any shape.
// Error entries are kept as KindError elements.
func (c *Connection) ReadObjectMultiBulk() ([]protocol.Reply, error) {
	return c.readArray(true)
}

// ReadUnflushedObjectMultiBulk reads an array of replies without flushing
// first, to keep draining the replies of an earlier flush.
func (c *Connection) ReadUnflushedObjectMultiBulk() ([]protocol.Reply, error) {
	return c.readArray(false)
}

// ReadGeneric flushes and reads one reply in its most general shape.
// An error reply is returned as a *protocol.DataError.
func (c *Connection) ReadGeneric() (protocol.Reply, error) {
	return c.readFlushed()
}

// ReadBatch flushes once and reads count replies.
//
// Every slot of the result holds either the reply or the error reply of the
// matching command, in send order, so count commands always yield count
// results. A transport failure aborts the batch and returns no results.
func (c *Connection) ReadBatch(count int) ([]Result, error) {
	if err := c.checkBroken("read"); err != nil {
		return nil, err
	}
	if err := c.Flush(); err != nil {
		return nil, err
	}

	if count < 0 {
		return nil, fmt.Errorf("resp: negative batch size %d", count)
	}

	results := make([]Result, 0, count)
	for range count {
		reply, err := c.readReply()
		if err != nil {
			var dataErr *protocol.DataError
			if !errors.As(err, &dataErr) {
				return nil, err
			}
			results = append(results, Result{Reply: reply, Err: dataErr})
			continue
		}
		results = append(results, Result{Reply: reply})
	}
	return results, nil
}

func (c *Connection) readArray(flush bool) ([]protocol.Reply, error) {
	var reply protocol.Reply
	var err error
	if flush {
		reply, err = c.readFlushed()
	} else {
		reply, err = c.readReply()
	}
	if err != nil {
		return nil, err
	}
	if reply.Kind != protocol.KindArray {
		return nil, unexpectedReply(protocol.KindArray, reply)
	}
	if reply.Array == nil {
		return nil, ErrNil
	}
	return reply.Array, nil
}

// readFlushed flushes the pending commands and reads one reply.
// A broken connection fails before touching the socket.
func (c *Connection) readFlushed() (protocol.Reply, error) {
	if err := c.checkBroken("read"); err != nil {
		return protocol.Reply{}, err
	}
	if err := c.Flush(); err != nil {
		return protocol.Reply{}, err
	}
	return c.readReply()
}

// checkBroken fails fast on a broken connection, before any socket I/O.
func (c *Connection) checkBroken(op string) error {
	if c.broken {
		return &ConnectionError{Op: op, Err: ErrBrokenConnection}
	}
	return nil
}

// readReply decodes exactly one reply. Error replies are returned as
// *protocol.DataError and leave the connection usable; anything else that
// fails breaks it.
func (c *Connection) readReply() (protocol.Reply, error) {
	if err := c.checkBroken("read"); err != nil {
		return protocol.Reply{}, err
	}
	if c.reader == nil {
		ce := &ConnectionError{Op: "read", Err: ErrNotConnected}
		c.markBroken(ce)
		return protocol.Reply{}, ce
	}

	reply, err := c.codec.ReadReply(c.reader)
	if err != nil {
		if protocol.IsDataError(err) {
			return reply, err
		}
		ce := toConnectionError("read", err)
		c.markBroken(ce)
		return protocol.Reply{}, ce
	}
	return reply, nil
}

// decodeText decodes UTF-8, replacing invalid sequences like a Java or
// Python decoder would.
func decodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}
