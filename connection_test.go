package resp

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pior/resp/internal/testutils"
	"github.com/pior/resp/protocol"
)

type countingFactory struct {
	SocketFactory
	created int
}

func (f *countingFactory) CreateSocket(ctx context.Context) (net.Conn, error) {
	f.created++
	return f.SocketFactory.CreateSocket(ctx)
}

func mockConnection(t *testing.T, replies ...string) (*Connection, *testutils.ConnectionMock) {
	t.Helper()
	mock := testutils.NewConnectionMock(replies...)
	c := NewConnection(newStubFactory(mock))
	require.NoError(t, c.Connect())
	return c, mock
}

func TestConnectionPing(t *testing.T) {
	_, endpoint := startFakeServer(t)

	c := New(endpoint)
	defer c.Close()

	require.NoError(t, c.SendCommand(protocol.PING))
	status, err := c.ReadStatus()
	require.NoError(t, err)
	require.Equal(t, "PONG", status)

	require.NoError(t, c.Ping())
	require.True(t, c.IsConnected())
	require.False(t, c.IsBroken())
}

func TestConnectionPipeline(t *testing.T) {
	_, endpoint := startFakeServer(t)

	c := New(endpoint)
	defer c.Close()

	require.NoError(t, c.SendCommandString(protocol.SET, "k", "v"))
	require.NoError(t, c.SendCommandString(protocol.GET, "k"))
	require.NoError(t, c.SendCommandString(protocol.DEL, "k"))

	results, err := c.ReadBatch(3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.Equal(t, protocol.StatusReply("OK"), results[0].Reply)
	require.Equal(t, protocol.BulkReply([]byte("v")), results[1].Reply)
	require.Equal(t, protocol.IntegerReply(1), results[2].Reply)
	for _, res := range results {
		require.False(t, res.Failed())
	}
}

func TestConnectionBatchPreservesOrder(t *testing.T) {
	_, endpoint := startFakeServer(t)

	c := New(endpoint)
	defer c.Close()

	const n = 200
	for i := range n {
		require.NoError(t, c.SendCommandString(protocol.ECHO, strconv.Itoa(i)))
	}

	results, err := c.ReadBatch(n)
	require.NoError(t, err)
	require.Len(t, results, n)
	for i, res := range results {
		require.Equal(t, strconv.Itoa(i), string(res.Reply.Bulk))
	}
}

func TestConnectionBatchIsolation(t *testing.T) {
	_, endpoint := startFakeServer(t)

	c := New(endpoint)
	defer c.Close()

	require.NoError(t, c.SendCommandString(protocol.SET, "k", "v"))
	require.NoError(t, c.SendCommandString(protocol.Cmd("BOGUS")))
	require.NoError(t, c.SendCommandString(protocol.GET, "k"))

	results, err := c.ReadBatch(3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.False(t, results[0].Failed())
	require.True(t, results[1].Failed())
	require.Equal(t, "ERR", results[1].Err.Prefix())
	require.False(t, results[2].Failed())

	_, err = results[1].Value()
	require.True(t, IsDataError(err))
	value, err := results[2].Value()
	require.NoError(t, err)
	require.Equal(t, "v", string(value.Bulk))

	require.False(t, c.IsBroken())
	require.NoError(t, c.Ping())
}

func TestConnectionRefused(t *testing.T) {
	c := New(closedPortEndpoint(t))

	err := c.Connect()
	require.Error(t, err)
	require.True(t, IsConnectionError(err))
	require.Contains(t, err.Error(), "failed connecting to")
	require.True(t, c.IsBroken())
	require.False(t, c.IsConnected())
}

func TestConnectionReadTimeout(t *testing.T) {
	_, endpoint := startFakeServer(t)
	endpoint.SoTimeout = 50 * time.Millisecond

	c := New(endpoint)
	defer c.Close()

	require.NoError(t, c.SendCommand(protocol.Cmd("HANG")))

	start := time.Now()
	_, err := c.ReadGeneric()
	elapsed := time.Since(start)

	require.True(t, IsConnectionError(err))
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	require.True(t, netErr.Timeout())
	require.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	require.Less(t, elapsed, time.Second)
	require.True(t, c.IsBroken())
}

func TestConnectionBrokenFailsFast(t *testing.T) {
	c, mock := mockConnection(t)

	require.NoError(t, c.SendCommand(protocol.PING))
	_, err := c.ReadStatus()
	require.True(t, IsConnectionError(err))
	require.True(t, c.IsBroken())

	written := mock.GetWrittenRequest()
	deadlines := len(mock.Deadlines)

	_, err = c.ReadStatus()
	require.ErrorIs(t, err, ErrBrokenConnection)
	require.Contains(t, err.Error(), "attempting to read from a broken connection")

	_, err = c.ReadBatch(2)
	require.ErrorIs(t, err, ErrBrokenConnection)
	_, err = c.ReadInteger()
	require.ErrorIs(t, err, ErrBrokenConnection)
	_, err = c.ReadUnflushedObjectMultiBulk()
	require.ErrorIs(t, err, ErrBrokenConnection)

	require.Equal(t, written, mock.GetWrittenRequest())
	require.Len(t, mock.Deadlines, deadlines)
	require.True(t, c.IsBroken())
}

func TestConnectionBrokenDoesNotWrite(t *testing.T) {
	var mu sync.Mutex
	var received int
	addr := createListener(t, func(conn net.Conn) {
		buf := make([]byte, 512)
		for {
			n, err := conn.Read(buf)
			mu.Lock()
			received += n
			mu.Unlock()
			if err != nil {
				return
			}
		}
	})
	receivedBytes := func() int {
		mu.Lock()
		defer mu.Unlock()
		return received
	}

	endpoint := endpointFor(t, addr)
	endpoint.SoTimeout = 50 * time.Millisecond
	c := New(endpoint)
	defer c.Close()

	// The server never answers, so the read times out and breaks the connection
	require.NoError(t, c.SendCommandString(protocol.PING))
	_, err := c.ReadGeneric()
	require.True(t, IsConnectionError(err))
	require.True(t, c.IsBroken())
	require.True(t, c.IsConnected())

	before := len("*1\r\n$4\r\nPING\r\n")
	require.Eventually(t, func() bool { return receivedBytes() == before }, time.Second, 5*time.Millisecond)

	err = c.SendCommandString(protocol.PING)
	require.ErrorIs(t, err, ErrBrokenConnection)
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "write", ce.Op)

	err = c.Flush()
	require.ErrorIs(t, err, ErrBrokenConnection)
	require.NoError(t, c.Disconnect())

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, before, receivedBytes())
}

func TestConnectionDisconnectBrokenSkipsFlush(t *testing.T) {
	c, mock := mockConnection(t)
	mock.ReadErr = syscall.ECONNRESET

	require.NoError(t, c.SendCommand(protocol.PING))
	_, err := c.ReadStatus()
	require.True(t, IsConnectionError(err))
	require.True(t, c.IsBroken())
	require.True(t, c.IsConnected())
	written := mock.GetWrittenRequest()

	// Left in the buffer by a caller that ignored the broken state
	_, _ = c.writer.WriteString("*1\r\n$4\r\nPING\r\n")

	require.NoError(t, c.Disconnect())
	require.True(t, mock.IsClosed())
	require.Equal(t, written, mock.GetWrittenRequest())
}

func TestConnectionConnectIsIdempotent(t *testing.T) {
	server, endpoint := startFakeServer(t)
	factory := &countingFactory{SocketFactory: NewTCPSocketFactory(endpoint)}

	c := NewConnection(factory)
	defer c.Close()

	require.NoError(t, c.Connect())
	require.NoError(t, c.Connect())
	require.NoError(t, c.Ping())

	require.Equal(t, 1, factory.created)
	require.Equal(t, 1, server.accepted())
}

func TestConnectionDisconnectTwice(t *testing.T) {
	_, endpoint := startFakeServer(t)

	c := New(endpoint)
	require.NoError(t, c.Disconnect())

	require.NoError(t, c.Connect())
	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
	require.False(t, c.IsConnected())
	require.False(t, c.IsBroken())
}

func TestConnectionDisconnectFlushesPendingCommands(t *testing.T) {
	c, mock := mockConnection(t)

	require.NoError(t, c.SendCommand(protocol.QUIT))
	require.Empty(t, mock.GetWrittenRequest())

	require.NoError(t, c.Disconnect())
	require.Equal(t, "*1\r\n$4\r\nQUIT\r\n", mock.GetWrittenRequest())
	require.True(t, mock.IsClosed())
}

func TestConnectionDisconnectFlushFailure(t *testing.T) {
	c, mock := mockConnection(t)
	mock.WriteErr = syscall.ECONNRESET

	require.NoError(t, c.SendCommand(protocol.PING))

	err := c.Disconnect()
	require.True(t, IsConnectionError(err))
	require.ErrorIs(t, err, syscall.ECONNRESET)
	require.True(t, c.IsBroken())
	require.True(t, mock.IsClosed())
}

func TestConnectionDisconnectClosesHalfClosedSocket(t *testing.T) {
	c, mock := mockConnection(t)

	_, err := c.ReadGeneric()
	require.True(t, IsConnectionError(err))
	require.False(t, c.IsConnected())
	require.False(t, mock.IsClosed())

	require.NoError(t, c.Disconnect())
	require.True(t, mock.IsClosed())
}

func TestConnectionWriteFailureCarriesServerError(t *testing.T) {
	mock := testutils.NewConnectionMock("-ERR Protocol error: invalid bulk length\r\n")
	mock.WriteErr = syscall.EPIPE

	c := NewConnection(newStubFactory(mock), WithBufferSize(16))

	err := c.SendCommand(protocol.SET, []byte("key"), []byte(strings.Repeat("x", 64)))
	require.True(t, IsConnectionError(err))
	require.ErrorIs(t, err, syscall.EPIPE)
	require.Contains(t, err.Error(), "ERR Protocol error: invalid bulk length")
	require.True(t, c.IsBroken())
	require.False(t, c.IsConnected())
}

func TestConnectionWriteFailureWithoutServerError(t *testing.T) {
	mock := testutils.NewConnectionMock()
	mock.WriteErr = syscall.EPIPE

	c := NewConnection(newStubFactory(mock), WithBufferSize(16))

	err := c.SendCommand(protocol.SET, []byte("key"), []byte(strings.Repeat("x", 64)))
	require.ErrorIs(t, err, syscall.EPIPE)

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "write", ce.Op)
	require.Empty(t, ce.Msg)
	require.True(t, c.IsBroken())
}

type failingWriteConn struct {
	net.Conn
}

func (c failingWriteConn) Write(p []byte) (int, error) {
	return 0, syscall.EPIPE
}

func TestConnectionWriteFailureDoesNotWaitForServer(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	c := NewConnection(newStubFactory(failingWriteConn{client}), WithBufferSize(16))
	require.NoError(t, c.Connect())
	require.NoError(t, c.SetTimeoutInfinite())

	start := time.Now()
	err := c.SendCommand(protocol.SET, []byte("key"), []byte(strings.Repeat("x", 64)))
	require.ErrorIs(t, err, syscall.EPIPE)
	require.Less(t, time.Since(start), time.Second)
	require.True(t, c.IsBroken())
}

func TestConnectionFlushFailure(t *testing.T) {
	c, mock := mockConnection(t)
	mock.WriteErr = syscall.EPIPE

	require.NoError(t, c.SendCommand(protocol.PING))

	err := c.Flush()
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "flush", ce.Op)
	require.True(t, c.IsBroken())
}

func TestConnectionFlushWithoutSocket(t *testing.T) {
	c := NewConnection(newStubFactory())
	require.NoError(t, c.Flush())
	require.False(t, c.IsBroken())
}

func TestConnectionDataErrorKeepsConnection(t *testing.T) {
	c, _ := mockConnection(t, "-WRONGTYPE Operation against a key holding the wrong kind of value\r\n", "+OK\r\n")

	_, err := c.ReadStatus()
	var dataErr *protocol.DataError
	require.ErrorAs(t, err, &dataErr)
	require.Equal(t, "WRONGTYPE", dataErr.Prefix())
	require.False(t, IsConnectionError(err))
	require.False(t, c.IsBroken())

	status, err := c.ReadStatus()
	require.NoError(t, err)
	require.Equal(t, "OK", status)
}

func TestConnectionProtocolErrorBreaks(t *testing.T) {
	c, _ := mockConnection(t, "?oops\r\n")

	_, err := c.ReadGeneric()
	require.True(t, IsConnectionError(err))
	require.True(t, protocol.IsProtocolError(err))
	require.True(t, c.IsBroken())
}

func TestConnectionTypedReaders(t *testing.T) {
	t.Run("bulk", func(t *testing.T) {
		c, _ := mockConnection(t, "$5\r\nhello\r\n", "$-1\r\n", "$2\r\n\xff\xfe\r\n")

		v, err := c.ReadBulk()
		require.NoError(t, err)
		require.Equal(t, "hello", v)

		_, err = c.ReadBulk()
		require.ErrorIs(t, err, ErrNil)
		require.False(t, c.IsBroken())

		b, err := c.ReadBulkBytes()
		require.NoError(t, err)
		require.Equal(t, []byte{0xff, 0xfe}, b)
	})

	t.Run("invalid utf8 text", func(t *testing.T) {
		c, _ := mockConnection(t, "$3\r\na\xffb\r\n")

		v, err := c.ReadBulk()
		require.NoError(t, err)
		require.Equal(t, "a\uFFFDb", v)
	})

	t.Run("integer", func(t *testing.T) {
		c, _ := mockConnection(t, ":-42\r\n")

		n, err := c.ReadInteger()
		require.NoError(t, err)
		require.Equal(t, int64(-42), n)
	})

	t.Run("multi bulk", func(t *testing.T) {
		payload := "*4\r\n$1\r\na\r\n$-1\r\n$0\r\n\r\n$1\r\nc\r\n"
		c, _ := mockConnection(t, payload, payload, "*-1\r\n")

		strs, err := c.ReadMultiBulk()
		require.NoError(t, err)
		require.Len(t, strs, 4)
		require.Equal(t, "a", *strs[0])
		require.Nil(t, strs[1])
		require.NotNil(t, strs[2])
		require.Equal(t, "", *strs[2])
		require.Equal(t, "c", *strs[3])

		raw, err := c.ReadMultiBulkBytes()
		require.NoError(t, err)
		require.Equal(t, [][]byte{[]byte("a"), nil, {}, []byte("c")}, raw)

		_, err = c.ReadMultiBulk()
		require.ErrorIs(t, err, ErrNil)
	})

	t.Run("integer multi bulk", func(t *testing.T) {
		c, _ := mockConnection(t, "*2\r\n:1\r\n:2\r\n")

		ints, err := c.ReadIntegerMultiBulk()
		require.NoError(t, err)
		require.Equal(t, []int64{1, 2}, ints)
	})

	t.Run("object multi bulk keeps nested errors", func(t *testing.T) {
		c, _ := mockConnection(t, "*3\r\n+OK\r\n-ERR nested\r\n*1\r\n:7\r\n")

		replies, err := c.ReadObjectMultiBulk()
		require.NoError(t, err)
		require.Len(t, replies, 3)
		require.Equal(t, protocol.StatusReply("OK"), replies[0])
		require.Equal(t, protocol.KindError, replies[1].Kind)
		require.Equal(t, "ERR nested", replies[1].Err.Message)
		require.Equal(t, protocol.ArrayReply(protocol.IntegerReply(7)), replies[2])
		require.False(t, c.IsBroken())
	})

	t.Run("unexpected type", func(t *testing.T) {
		c, _ := mockConnection(t, "+OK\r\n", ":1\r\n")

		_, err := c.ReadInteger()
		require.ErrorIs(t, err, ErrUnexpectedReply)
		require.False(t, c.IsBroken())
		require.False(t, ShouldDiscard(err))

		n, err := c.ReadInteger()
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
	})
}

func TestConnectionUnflushedReadDoesNotFlush(t *testing.T) {
	c, mock := mockConnection(t, "*1\r\n+QUEUED\r\n")

	require.NoError(t, c.SendCommand(protocol.PING))

	replies, err := c.ReadUnflushedObjectMultiBulk()
	require.NoError(t, err)
	require.Equal(t, []protocol.Reply{protocol.StatusReply("QUEUED")}, replies)
	require.Empty(t, mock.GetWrittenRequest())
}

func TestConnectionReadsApplyReadTimeout(t *testing.T) {
	c, mock := mockConnection(t, "+OK\r\n")

	before := time.Now()
	_, err := c.ReadStatus()
	require.NoError(t, err)

	require.NotEmpty(t, mock.Deadlines)
	require.True(t, mock.Deadlines[0].After(before))
}

func TestConnectionReadBatchAbortsOnTransportFailure(t *testing.T) {
	c, _ := mockConnection(t, "+OK\r\n")

	results, err := c.ReadBatch(2)
	require.Nil(t, results)
	require.True(t, IsConnectionError(err))
	require.ErrorIs(t, err, io.EOF)
	require.True(t, c.IsBroken())
}

func TestConnectionReadBatchNegativeCount(t *testing.T) {
	c, _ := mockConnection(t, "+OK\r\n")

	results, err := c.ReadBatch(-1)
	require.Error(t, err)
	require.Nil(t, results)
	require.False(t, c.IsBroken())

	results, err = c.ReadBatch(0)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestConnectionReadWithoutConnect(t *testing.T) {
	c := NewConnection(newStubFactory())

	_, err := c.ReadGeneric()
	require.ErrorIs(t, err, ErrNotConnected)
	require.True(t, c.IsBroken())
}

func TestConnectionPingUnexpectedAnswer(t *testing.T) {
	c, _ := mockConnection(t, "+HELLO\r\n")

	err := c.Ping()
	require.ErrorIs(t, err, ErrUnexpectedReply)
	require.False(t, c.IsBroken())
}

func TestConnectionProbePeer(t *testing.T) {
	// The handler returns right away: the server closes every connection
	addr := createListener(t, nil)

	c := New(endpointFor(t, addr))
	defer c.Close()

	require.NoError(t, c.Connect())
	require.Eventually(t, func() bool {
		return !c.ProbePeer()
	}, time.Second, 10*time.Millisecond)
	require.False(t, c.IsBroken())
}

func TestConnectionProbePeerAlive(t *testing.T) {
	_, endpoint := startFakeServer(t)

	c := New(endpoint)
	defer c.Close()

	require.NoError(t, c.Ping())
	require.True(t, c.ProbePeer())
	require.NoError(t, c.Ping())
}

func TestConnectionEndpointAccessors(t *testing.T) {
	c := New(Endpoint{Host: "localhost", Port: 6379, ConnectionTimeout: time.Second, SoTimeout: 2 * time.Second})

	assert.Equal(t, "localhost", c.Host())
	assert.Equal(t, 6379, c.Port())
	assert.Equal(t, time.Second, c.ConnectionTimeout())
	assert.Equal(t, 2*time.Second, c.SoTimeout())

	c.SetHost("example.com")
	c.SetPort(6380)
	c.SetConnectionTimeout(3 * time.Second)
	c.SetSoTimeout(4 * time.Second)

	assert.Equal(t, "example.com", c.Host())
	assert.Equal(t, 6380, c.Port())
	assert.Equal(t, 3*time.Second, c.ConnectionTimeout())
	assert.Equal(t, 4*time.Second, c.SoTimeout())
	assert.Nil(t, c.Socket())
	assert.NotZero(t, c.ID())
}

func TestConnectionIDsAreUnique(t *testing.T) {
	a := NewConnection(newStubFactory())
	b := NewConnection(newStubFactory())
	require.NotEqual(t, a.ID(), b.ID())
}

func TestConnectionReconnectAfterDisconnect(t *testing.T) {
	server, endpoint := startFakeServer(t)

	c := New(endpoint)
	defer c.Close()

	require.NoError(t, c.Ping())
	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Ping())

	require.Eventually(t, func() bool {
		return server.accepted() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestConnectionCustomCodec(t *testing.T) {
	codec := &recordingCodec{}
	c := NewConnection(newStubFactory(testutils.NewConnectionMock("+PONG\r\n")), WithCodec(codec))

	require.NoError(t, c.Ping())
	require.Equal(t, []string{"PING"}, codec.sent)
}

type recordingCodec struct {
	protocol.Codec
	sent []string
}

func (r *recordingCodec) WriteCommand(w *bufio.Writer, cmd protocol.Command, args ...[]byte) error {
	r.sent = append(r.sent, string(cmd.Raw()))
	return r.Codec.WriteCommand(w, cmd, args...)
}

func TestShouldDiscard(t *testing.T) {
	require.False(t, ShouldDiscard(nil))
	require.False(t, ShouldDiscard(&protocol.DataError{Message: "ERR x"}))
	require.False(t, ShouldDiscard(ErrNil))
	require.False(t, ShouldDiscard(ErrUnexpectedReply))
	require.True(t, ShouldDiscard(&ConnectionError{Op: "read", Err: io.EOF}))
	require.True(t, ShouldDiscard(errors.New("boom")))
	require.True(t, ShouldDiscard(context.Canceled))
}
