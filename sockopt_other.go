//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package resp

import (
	"net"
	"syscall"
)

func controlSocket(network, address string, c syscall.RawConn) error {
	return nil
}

func peerClosed(conn net.Conn) bool {
	return false
}
