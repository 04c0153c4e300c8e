package resp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sirupsen/logrus"

	"github.com/pior/resp/internal/logger"
	"github.com/pior/resp/protocol"
)

// DefaultBufferSize is the size of the read and write buffers of a connection.
const DefaultBufferSize = 8192

// errorLineWait bounds the wait for a server error line after a failed write.
const errorLineWait = 20 * time.Millisecond

// Codec turns commands into bytes and bytes into replies.
// protocol.Codec is the default implementation.
type Codec interface {
	WriteCommand(w *bufio.Writer, cmd protocol.Command, args ...[]byte) error
	ReadReply(r *bufio.Reader) (protocol.Reply, error)
	ReadErrorLine(r *bufio.Reader) (string, bool)
}

// Option configures a Connection.
type Option func(*Connection)

// WithCodec replaces the wire codec.
func WithCodec(codec Codec) Option {
	return func(c *Connection) {
		c.codec = codec
	}
}

// WithLogger sets the logger the connection reports its lifecycle to.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Connection) {
		c.baseLog = log
	}
}

// WithBufferSize sets the size of the read and write buffers.
func WithBufferSize(size int) Option {
	return func(c *Connection) {
		c.bufferSize = size
	}
}

// Connection is a single client connection to a server.
//
// It creates its socket lazily, writes commands into a buffer that is only
// flushed when a reply is requested (or Flush is called), and reads replies
// in the order the commands were sent. This makes pipelining the default:
// any number of SendCommand calls can precede the reads.
//
// Any transport failure marks the connection broken. A broken connection is
// never repaired: the owner must close it and create a new one.
//
// A Connection is not safe for concurrent use.
type Connection struct {
	id         snowflake.ID
	factory    SocketFactory
	codec      Codec
	bufferSize int
	baseLog    logrus.FieldLogger
	log        logrus.FieldLogger

	sock   *socket
	writer *bufio.Writer
	reader *bufio.Reader

	broken          bool
	infiniteTimeout bool
}

// New creates an unconnected Connection to the given endpoint.
func New(endpoint Endpoint, opts ...Option) *Connection {
	return NewConnection(NewTCPSocketFactory(endpoint), opts...)
}

// NewConnection creates an unconnected Connection using factory to open its socket.
func NewConnection(factory SocketFactory, opts ...Option) *Connection {
	c := &Connection{
		id:         nextConnectionID(),
		factory:    factory,
		codec:      protocol.Codec{},
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.ForConnection(c.baseLog, c.id.String(), factory.Description())
	return c
}

// ID returns the process-unique identifier of the connection.
func (c *Connection) ID() snowflake.ID {
	return c.id
}

// Connect opens the socket if the connection is not connected.
func (c *Connection) Connect() error {
	return c.ConnectContext(context.Background())
}

// ConnectContext is Connect with a context bounding socket creation.
func (c *Connection) ConnectContext(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}

	// A socket left half-closed by the peer is released before being replaced
	c.sock.closeQuietly()

	conn, err := c.factory.CreateSocket(ctx)
	if err != nil {
		ce := toConnectionError("connect", err)
		if ce.Msg == "" {
			ce = ce.withMessage("failed connecting to " + c.factory.Description())
		}
		c.markBroken(ce)
		return ce
	}

	c.sock = newSocket(conn, c.factory.SoTimeout())
	c.infiniteTimeout = false
	c.writer = bufio.NewWriterSize(c.sock, c.bufferSize)
	c.reader = bufio.NewReaderSize(c.sock, c.bufferSize)

	c.log.WithField("local", conn.LocalAddr()).Debug("resp: connected")
	return nil
}

// IsConnected reports whether the socket exists, is bound, connected, not
// closed, and neither of its halves has been shut down.
func (c *Connection) IsConnected() bool {
	return c.sock.isConnected()
}

// IsBroken reports whether the connection failed at the transport level.
// Once true, it stays true.
func (c *Connection) IsBroken() bool {
	return c.broken
}

// ProbePeer checks, without blocking, whether the peer closed its side of an
// idle connection, and returns IsConnected afterwards.
// It must not be called while replies are pending.
func (c *Connection) ProbePeer() bool {
	if c.reader != nil && c.reader.Buffered() > 0 {
		return c.IsConnected()
	}
	c.sock.probe()
	return c.IsConnected()
}

// Socket returns the transport connection, nil before the first connect.
func (c *Connection) Socket() net.Conn {
	if c.sock == nil {
		return nil
	}
	return c.sock.conn
}

// SendCommand connects if needed and writes cmd into the output buffer.
// It does not flush: replies are read (and the buffer flushed) by the
// Read* methods.
//
// On failure the connection is broken. If the server explained why before
// closing, its error line becomes the message of the returned error.
// A broken connection fails without touching the socket.
func (c *Connection) SendCommand(cmd protocol.Command, args ...[]byte) error {
	if err := c.checkBroken("write"); err != nil {
		return err
	}

	err := c.Connect()
	if err == nil {
		err = c.codec.WriteCommand(c.writer, cmd, args...)
	}
	if err == nil {
		return nil
	}

	ce := toConnectionError("write", err)
	// When a client sends a request with an invalid protocol, the server sends
	// back an error message before closing the connection.
	if msg := c.serverErrorLine(); msg != "" {
		ce = ce.withMessage(msg)
	}
	c.markBroken(ce)
	return ce
}

// SendCommandString is SendCommand with string arguments.
func (c *Connection) SendCommandString(cmd protocol.Command, args ...string) error {
	bargs := make([][]byte, len(args))
	for i, arg := range args {
		bargs[i] = []byte(arg)
	}
	return c.SendCommand(cmd, bargs...)
}

// serverErrorLine is a best-effort read of an error line left by the server.
// Reading it is optional, so it never fails: any error or panic from the
// codec yields an empty string. It waits at most errorLineWait for the line.
func (c *Connection) serverErrorLine() (msg string) {
	if c.reader == nil || c.sock == nil || c.sock.closed {
		return ""
	}
	timeout := c.sock.readTimeout
	c.sock.readTimeout = errorLineWait
	defer func() { c.sock.readTimeout = timeout }()

	defer func() {
		if recover() != nil {
			msg = ""
		}
	}()
	msg, _ = c.codec.ReadErrorLine(c.reader)
	return msg
}

// Flush writes the buffered commands to the socket.
func (c *Connection) Flush() error {
	if err := c.checkBroken("flush"); err != nil {
		return err
	}
	if c.writer == nil {
		return nil
	}
	if err := c.writer.Flush(); err != nil {
		ce := &ConnectionError{Op: "flush", Err: err}
		c.markBroken(ce)
		return ce
	}
	return nil
}

// Disconnect flushes pending commands and closes the socket.
// It is a no-op when there is no open socket. A broken connection or a socket
// the peer half-closed is closed without flushing. The socket is closed even
// if the flush or the close fails.
func (c *Connection) Disconnect() error {
	if c.sock == nil || c.sock.closed {
		return nil
	}
	defer c.sock.closeQuietly()

	if c.broken || !c.IsConnected() {
		return nil
	}

	if err := c.writer.Flush(); err != nil {
		ce := &ConnectionError{Op: "close", Err: err}
		c.markBroken(ce)
		return ce
	}
	if err := c.sock.Close(); err != nil {
		ce := &ConnectionError{Op: "close", Err: err}
		c.markBroken(ce)
		return ce
	}

	c.log.Debug("resp: disconnected")
	return nil
}

// Close is Disconnect, to satisfy io.Closer.
func (c *Connection) Close() error {
	return c.Disconnect()
}

func (c *Connection) markBroken(err error) {
	if !c.broken {
		c.log.WithError(err).Warn("resp: connection broken")
	}
	c.broken = true
}

// Host returns the host of the endpoint.
func (c *Connection) Host() string {
	return c.factory.Host()
}

// SetHost changes the host used by the next connect.
func (c *Connection) SetHost(host string) {
	c.factory.SetHost(host)
}

// Port returns the port of the endpoint.
func (c *Connection) Port() int {
	return c.factory.Port()
}

// SetPort changes the port used by the next connect.
func (c *Connection) SetPort(port int) {
	c.factory.SetPort(port)
}

// ConnectionTimeout returns the connect timeout.
func (c *Connection) ConnectionTimeout() time.Duration {
	return c.factory.ConnectionTimeout()
}

// SetConnectionTimeout changes the connect timeout used by the next connect.
func (c *Connection) SetConnectionTimeout(timeout time.Duration) {
	c.factory.SetConnectionTimeout(timeout)
}

// Ping sends PING and checks the server answers PONG.
func (c *Connection) Ping() error {
	if err := c.SendCommand(protocol.PING); err != nil {
		return err
	}
	status, err := c.ReadStatus()
	if err != nil {
		return err
	}
	if status != "PONG" {
		return fmt.Errorf("%w: ping answered %q", ErrUnexpectedReply, status)
	}
	return nil
}
