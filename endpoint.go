package resp

import (
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/pior/resp/protocol"
)

// DefaultTimeout is the connect and read timeout used when none is configured.
const DefaultTimeout = 2 * time.Second

// HostnameVerifier checks the negotiated TLS session against the host the
// client meant to reach. Returning false aborts the connection.
type HostnameVerifier func(host string, state tls.ConnectionState) bool

// Endpoint describes where and how to open a transport socket.
type Endpoint struct {
	Host string
	Port int

	// ConnectionTimeout bounds the TCP connect and the TLS handshake.
	// Zero means no limit.
	ConnectionTimeout time.Duration

	// SoTimeout bounds every blocking read on the socket.
	// Zero means block forever.
	SoTimeout time.Duration

	// TLS wraps the socket in a TLS client session.
	TLS bool

	// TLSConfig is the client context and session parameters.
	// If nil, a default config verifying the server certificate against Host is used.
	TLSConfig *tls.Config

	// HostnameVerifier runs after the handshake, only when TLS is set.
	HostnameVerifier HostnameVerifier
}

// DefaultEndpoint returns the endpoint of a local server on the default port.
func DefaultEndpoint() Endpoint {
	return Endpoint{
		Host:              protocol.DefaultHost,
		Port:              protocol.DefaultPort,
		ConnectionTimeout: DefaultTimeout,
		SoTimeout:         DefaultTimeout,
	}
}

// Addr returns the host:port form of the endpoint.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}
