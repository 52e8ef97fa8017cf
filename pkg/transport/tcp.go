package transport

import (
	"fmt"
	"net"
	"time"
)

const tcpPrefix = "tcp://"

// TCPTransport implements Transport over plain TCP sockets.
type TCPTransport struct {
	dialTimeout time.Duration
}

// NewTCPTransport builds a TCPTransport with the default connect timeout.
func NewTCPTransport() *TCPTransport {
	return &TCPTransport{dialTimeout: dialTimeoutSeconds * time.Second}
}

func (t *TCPTransport) Accepts(endpoint string) bool {
	scheme, _, err := SplitEndpoint(endpoint)
	return err == nil && scheme == SchemeTCP
}

func (t *TCPTransport) Connect(endpoint string) (Connection, error) {
	_, addr, err := SplitEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialTimeout("tcp", addr, t.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnectionRefused, addr, err)
	}
	return &tcpConnection{
		Conn:   conn,
		local:  tcpPrefix + conn.LocalAddr().String(),
		remote: tcpPrefix + conn.RemoteAddr().String(),
	}, nil
}

func (t *TCPTransport) Listen(bind string) (Listener, error) {
	_, addr, err := SplitEndpoint(bind)
	if err != nil {
		return nil, err
	}
	ln, err := listenTCP(addr)
	if err != nil {
		return nil, err
	}
	return &tcpListener{Listener: ln, endpoint: tcpPrefix + netJoinHostPort(ln.Addr())}, nil
}

// listenTCP is shared by the plain-TCP and WebSocket transports, which
// both bind a raw TCP listener (WS additionally layers an HTTP upgrade
// handler on top).
func listenTCP(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// tcpConnection adapts a net.Conn to the Connection interface.
type tcpConnection struct {
	net.Conn
	local, remote string
	disconnected  bool
}

func (c *tcpConnection) RemoteEndpoint() string { return c.remote }
func (c *tcpConnection) LocalEndpoint() string  { return c.local }

func (c *tcpConnection) Disconnect() error {
	if c.disconnected {
		return nil
	}
	c.disconnected = true
	return c.Conn.Close()
}

// tcpListener adapts a net.Listener to the Listener interface.
type tcpListener struct {
	net.Listener
	endpoint string
}

func (l *tcpListener) Accept() (Connection, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &tcpConnection{
		Conn:   conn,
		local:  tcpPrefix + conn.LocalAddr().String(),
		remote: tcpPrefix + conn.RemoteAddr().String(),
	}, nil
}

func (l *tcpListener) Endpoint() string { return l.endpoint }

// ErrConnectionRefused wraps any dial failure (§7 ConnectionError).
var ErrConnectionRefused = fmt.Errorf("connection refused")
