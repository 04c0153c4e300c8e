package resp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pior/resp/protocol"
)

func createListener(t testing.TB, handler func(conn net.Conn)) string {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start test server: %v", err)
	}

	t.Cleanup(func() {
		listener.Close()
	})

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}

			go func(c net.Conn) {
				defer c.Close()

				if handler != nil {
					handler(c)
				}
			}(conn)
		}
	}()

	return listener.Addr().String()
}

// fakeServer is a tiny in-memory server speaking enough RESP for the tests.
//
//	PING              +PONG
//	ECHO v            $v
//	SET k v           +OK
//	GET k             $v or $-1
//	DEL k...          :n
//	SLOW ms v         $v after ms milliseconds
//	HANG              never replies
//	QUIT              +OK then closes
//	anything else     -ERR unknown command
type fakeServer struct {
	mu    sync.Mutex
	data  map[string]string
	conns int
}

func startFakeServer(t testing.TB) (*fakeServer, Endpoint) {
	s := &fakeServer{data: map[string]string{}}
	addr := createListener(t, s.serve)
	return s, endpointFor(t, addr)
}

func endpointFor(t testing.TB, addr string) Endpoint {
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return Endpoint{
		Host:              host,
		Port:              port,
		ConnectionTimeout: time.Second,
		SoTimeout:         time.Second,
	}
}

// closedPortEndpoint returns an endpoint nobody listens on.
func closedPortEndpoint(t testing.TB) Endpoint {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	endpoint := endpointFor(t, l.Addr().String())
	require.NoError(t, l.Close())
	return endpoint
}

func (s *fakeServer) accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func (s *fakeServer) serve(conn net.Conn) {
	s.mu.Lock()
	s.conns++
	s.mu.Unlock()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		req, err := protocol.ReadReply(r)
		if err != nil || len(req.Array) == 0 {
			return
		}
		args := make([]string, len(req.Array))
		for i, arg := range req.Array {
			args[i] = string(arg.Bulk)
		}

		if !s.handle(w, args) {
			_ = w.Flush()
			return
		}
		if r.Buffered() == 0 {
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

func (s *fakeServer) handle(w *bufio.Writer, args []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch strings.ToUpper(args[0]) {
	case "PING":
		w.WriteString("+PONG\r\n")
	case "ECHO":
		writeBulk(w, args[1])
	case "SET":
		s.data[args[1]] = args[2]
		w.WriteString("+OK\r\n")
	case "GET":
		v, ok := s.data[args[1]]
		if !ok {
			w.WriteString("$-1\r\n")
		} else {
			writeBulk(w, v)
		}
	case "DEL":
		n := 0
		for _, k := range args[1:] {
			if _, ok := s.data[k]; ok {
				delete(s.data, k)
				n++
			}
		}
		fmt.Fprintf(w, ":%d\r\n", n)
	case "SLOW":
		ms, _ := strconv.Atoi(args[1])
		s.mu.Unlock()
		time.Sleep(time.Duration(ms) * time.Millisecond)
		s.mu.Lock()
		writeBulk(w, args[2])
	case "HANG":
		s.mu.Unlock()
		time.Sleep(time.Hour)
		s.mu.Lock()
	case "QUIT":
		w.WriteString("+OK\r\n")
		return false
	default:
		fmt.Fprintf(w, "-ERR unknown command '%s'\r\n", args[0])
	}
	return true
}

func writeBulk(w *bufio.Writer, v string) {
	fmt.Fprintf(w, "$%d\r\n%s\r\n", len(v), v)
}

// stubFactory hands out prepared net.Conns instead of dialing.
type stubFactory struct {
	*TCPSocketFactory
	conns   []net.Conn
	err     error
	created int
}

func newStubFactory(conns ...net.Conn) *stubFactory {
	return &stubFactory{
		TCPSocketFactory: NewTCPSocketFactory(Endpoint{Host: "stub", Port: 6379, SoTimeout: time.Second}),
		conns:            conns,
	}
}

func (f *stubFactory) CreateSocket(ctx context.Context) (net.Conn, error) {
	f.created++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.conns) == 0 {
		return nil, errors.New("stub: no connection left")
	}
	conn := f.conns[0]
	f.conns = f.conns[1:]
	return conn, nil
}
