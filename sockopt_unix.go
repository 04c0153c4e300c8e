//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package resp

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// controlSocket sets the options that must be in place before connect.
func controlSocket(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// peerClosed peeks at the socket without blocking or consuming data and
// reports whether the peer has shut down its side of the connection.
// Sockets that do not expose a file descriptor are reported open.
func peerClosed(conn net.Conn) bool {
	if tc, ok := conn.(interface{ NetConn() net.Conn }); ok {
		conn = tc.NetConn()
	}
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return true
	}

	closed := false
	var buf [1]byte
	err = raw.Read(func(fd uintptr) bool {
		n, _, err := unix.Recvfrom(int(fd), buf[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		switch {
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR:
			// nothing to read, peer still there
		case err != nil:
			closed = true
		case n == 0:
			closed = true
		}
		return true
	})
	if err != nil {
		return true
	}
	return closed
}
