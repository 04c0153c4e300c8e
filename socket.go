package resp

import (
	"errors"
	"io"
	"net"
	"syscall"
	"time"
)

// socket owns one transport connection and tracks its facets separately:
// a peer that half-closes its side leaves the socket open but unusable, which
// a single "open" flag cannot express.
//
// The read timeout is applied as a fresh deadline before every read on the
// underlying connection, so it bounds each blocking read rather than a whole
// reply.
type socket struct {
	conn        net.Conn
	readTimeout time.Duration // zero blocks forever

	bound          bool
	connected      bool
	closed         bool
	inputShutdown  bool
	outputShutdown bool
}

func newSocket(conn net.Conn, readTimeout time.Duration) *socket {
	return &socket{
		conn:        conn,
		readTimeout: readTimeout,
		bound:       conn.LocalAddr() != nil,
		connected:   conn.RemoteAddr() != nil,
	}
}

// isConnected reports whether the socket can still carry a request and its reply.
func (s *socket) isConnected() bool {
	return s != nil &&
		s.bound &&
		!s.closed &&
		s.connected &&
		!s.inputShutdown &&
		!s.outputShutdown
}

func (s *socket) Read(p []byte) (int, error) {
	if s.readTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return 0, err
		}
	}
	n, err := s.conn.Read(p)
	if err == io.EOF {
		s.inputShutdown = true
	}
	return n, err
}

func (s *socket) Write(p []byte) (int, error) {
	n, err := s.conn.Write(p)
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, net.ErrClosed) {
		s.outputShutdown = true
	}
	return n, err
}

// setReadTimeout changes the timeout of the following reads. It fails if the
// underlying connection no longer accepts deadlines (closed socket).
func (s *socket) setReadTimeout(timeout time.Duration) error {
	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		return err
	}
	s.readTimeout = timeout
	return nil
}

// probe records a peer half-close detected without blocking.
func (s *socket) probe() {
	if !s.isConnected() {
		return
	}
	// An expired deadline of the last read would fail the peek
	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		s.inputShutdown = true
		return
	}
	if peerClosed(s.conn) {
		s.inputShutdown = true
	}
}

func (s *socket) Close() error {
	s.closed = true
	return s.conn.Close()
}

// closeQuietly closes the socket, ignoring any error.
func (s *socket) closeQuietly() {
	if s != nil {
		_ = s.Close()
	}
}
