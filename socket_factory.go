package resp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// SocketFactory creates the transport sockets used by a Connection.
//
// The default TCPSocketFactory dials TCP with the recommended socket options
// and optional TLS. Custom factories can provide a custom address resolver,
// a unix domain socket (see UnixSocketFactory) or custom socket options.
//
// Setters only take effect on the next CreateSocket call.
type SocketFactory interface {
	CreateSocket(ctx context.Context) (net.Conn, error)
	Description() string

	Host() string
	SetHost(host string)
	Port() int
	SetPort(port int)

	ConnectionTimeout() time.Duration
	SetConnectionTimeout(timeout time.Duration)
	SoTimeout() time.Duration
	SetSoTimeout(timeout time.Duration)
}

// TCPSocketFactory is the default SocketFactory.
type TCPSocketFactory struct {
	endpoint Endpoint

	// for testing purposes only
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

var _ SocketFactory = (*TCPSocketFactory)(nil)

// NewTCPSocketFactory creates a factory for the given endpoint.
func NewTCPSocketFactory(endpoint Endpoint) *TCPSocketFactory {
	return &TCPSocketFactory{endpoint: endpoint}
}

// CreateSocket connects to the endpoint.
//
// The socket is created with SO_REUSEADDR, keep-alive, TCP_NODELAY and a zero
// linger (close resets the connection instead of lingering on unsent data).
// These are fixed: they make a dead peer fail fast.
//
// When TLS is enabled the handshake runs under the connect timeout, then the
// HostnameVerifier, if any, checks the session.
//
// Any failure closes whatever was created and returns a *ConnectionError.
// No retry is attempted.
func (f *TCPSocketFactory) CreateSocket(ctx context.Context) (conn net.Conn, err error) {
	defer func() {
		if err != nil && conn != nil {
			_ = conn.Close()
			conn = nil
		}
	}()

	if timeout := f.endpoint.ConnectionTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	dial := f.dial
	if dial == nil {
		dialer := &net.Dialer{Control: controlSocket}
		dial = dialer.DialContext
	}

	conn, err = dial(ctx, "tcp", f.Description())
	if err != nil {
		return conn, &ConnectionError{Op: "connect", Msg: "failed connecting to " + f.Description(), Err: err}
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err = configureTCP(tcpConn); err != nil {
			return conn, &ConnectionError{Op: "connect", Msg: "failed configuring socket to " + f.Description(), Err: err}
		}
	}

	if !f.endpoint.TLS {
		return conn, nil
	}

	tlsConn := tls.Client(conn, f.tlsConfig())
	conn = tlsConn

	if err = tlsConn.HandshakeContext(ctx); err != nil {
		return conn, &ConnectionError{Op: "handshake", Msg: "tls handshake with " + f.Description() + " failed", Err: err}
	}

	if verify := f.endpoint.HostnameVerifier; verify != nil && !verify(f.endpoint.Host, tlsConn.ConnectionState()) {
		msg := fmt.Sprintf("The connection to '%s' failed ssl/tls hostname verification.", f.endpoint.Host)
		return conn, &ConnectionError{Op: "verify", Msg: msg}
	}

	return conn, nil
}

// tlsConfig returns the configured client context, defaulting the server
// name to the endpoint host.
func (f *TCPSocketFactory) tlsConfig() *tls.Config {
	var cfg *tls.Config
	if f.endpoint.TLSConfig != nil {
		cfg = f.endpoint.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = f.endpoint.Host
	}
	return cfg
}

func configureTCP(conn *net.TCPConn) error {
	if err := conn.SetKeepAlive(true); err != nil {
		return err
	}
	if err := conn.SetNoDelay(true); err != nil {
		return err
	}
	return conn.SetLinger(0)
}

func (f *TCPSocketFactory) Description() string {
	return f.endpoint.Addr()
}

func (f *TCPSocketFactory) Host() string {
	return f.endpoint.Host
}

func (f *TCPSocketFactory) SetHost(host string) {
	f.endpoint.Host = host
}

func (f *TCPSocketFactory) Port() int {
	return f.endpoint.Port
}

func (f *TCPSocketFactory) SetPort(port int) {
	f.endpoint.Port = port
}

func (f *TCPSocketFactory) ConnectionTimeout() time.Duration {
	return f.endpoint.ConnectionTimeout
}

func (f *TCPSocketFactory) SetConnectionTimeout(timeout time.Duration) {
	f.endpoint.ConnectionTimeout = timeout
}

func (f *TCPSocketFactory) SoTimeout() time.Duration {
	return f.endpoint.SoTimeout
}

func (f *TCPSocketFactory) SetSoTimeout(timeout time.Duration) {
	f.endpoint.SoTimeout = timeout
}

// UnixSocketFactory connects over a unix domain socket.
// Host is the socket path, Port is unused.
type UnixSocketFactory struct {
	path              string
	connectionTimeout time.Duration
	soTimeout         time.Duration
}

var _ SocketFactory = (*UnixSocketFactory)(nil)

// NewUnixSocketFactory creates a factory for the socket at path.
func NewUnixSocketFactory(path string, connectionTimeout, soTimeout time.Duration) *UnixSocketFactory {
	return &UnixSocketFactory{
		path:              path,
		connectionTimeout: connectionTimeout,
		soTimeout:         soTimeout,
	}
}

func (f *UnixSocketFactory) CreateSocket(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: f.connectionTimeout}
	conn, err := dialer.DialContext(ctx, "unix", f.path)
	if err != nil {
		return nil, &ConnectionError{Op: "connect", Msg: "failed connecting to " + f.Description(), Err: err}
	}
	return conn, nil
}

func (f *UnixSocketFactory) Description() string {
	return "unix:" + f.path
}

func (f *UnixSocketFactory) Host() string {
	return f.path
}

func (f *UnixSocketFactory) SetHost(path string) {
	f.path = path
}

func (f *UnixSocketFactory) Port() int {
	return 0
}

func (f *UnixSocketFactory) SetPort(int) {}

func (f *UnixSocketFactory) ConnectionTimeout() time.Duration {
	return f.connectionTimeout
}

func (f *UnixSocketFactory) SetConnectionTimeout(timeout time.Duration) {
	f.connectionTimeout = timeout
}

func (f *UnixSocketFactory) SoTimeout() time.Duration {
	return f.soTimeout
}

func (f *UnixSocketFactory) SetSoTimeout(timeout time.Duration) {
	f.soTimeout = timeout
}
