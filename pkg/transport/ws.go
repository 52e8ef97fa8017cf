package transport

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsPrefix = "ws://"

// WSTransport implements Transport over WebSocket connections, using
// github.com/gorilla/websocket (see DESIGN.md / SPEC_FULL.md §11 for why
// this dependency, not the stdlib, backs the ws:// scheme).
type WSTransport struct {
	dialer   *websocket.Dialer
	upgrader websocket.Upgrader
}

// NewWSTransport builds a WSTransport with the default connect timeout.
func NewWSTransport() *WSTransport {
	return &WSTransport{
		dialer: &websocket.Dialer{HandshakeTimeout: dialTimeoutSeconds * time.Second},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (t *WSTransport) Accepts(endpoint string) bool {
	scheme, _, err := SplitEndpoint(endpoint)
	return err == nil && scheme == SchemeWS
}

func (t *WSTransport) Connect(endpoint string) (Connection, error) {
	_, addr, err := SplitEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	url := "ws://" + addr
	conn, _, err := t.dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: ws dial %s: %v", ErrConnectionRefused, url, err)
	}
	return newWSConnection(conn), nil
}

func (t *WSTransport) Listen(bind string) (Listener, error) {
	_, addr, err := SplitEndpoint(bind)
	if err != nil {
		return nil, err
	}
	l := &wsListener{
		transport: t,
		incoming:  make(chan Connection, 64),
		errs:      make(chan error, 1),
	}
	server := &http.Server{Addr: addr, Handler: l}
	ln, err := listenTCP(addr)
	if err != nil {
		return nil, err
	}
	l.endpoint = wsPrefix + netJoinHostPort(ln.Addr())
	l.server = server
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			select {
			case l.errs <- err:
			default:
			}
		}
	}()
	return l, nil
}

// wsListener adapts an http.Server upgrading every request to a Connection.
type wsListener struct {
	transport *WSTransport
	endpoint  string
	server    *http.Server
	incoming  chan Connection
	errs      chan error
}

func (l *wsListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := l.transport.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	l.incoming <- newWSConnection(conn)
}

func (l *wsListener) Accept() (Connection, error) {
	select {
	case c := <-l.incoming:
		return c, nil
	case err := <-l.errs:
		return nil, err
	}
}

func (l *wsListener) Endpoint() string { return l.endpoint }

func (l *wsListener) Close() error {
	return l.server.Close()
}

// wsConnection adapts a gorilla *websocket.Conn, which exchanges discrete
// messages, to the io.Reader/io.Writer contract every Connection implements
// by buffering partially-consumed messages.
type wsConnection struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	rest   []byte
	closed bool
}

func newWSConnection(conn *websocket.Conn) *wsConnection {
	return &wsConnection{conn: conn}
}

func (c *wsConnection) Read(p []byte) (int, error) {
	if len(c.rest) == 0 {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		c.rest = data
	}
	n := copy(p, c.rest)
	c.rest = c.rest[n:]
	return n, nil
}

func (c *wsConnection) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConnection) RemoteEndpoint() string { return wsPrefix + c.conn.RemoteAddr().String() }
func (c *wsConnection) LocalEndpoint() string  { return wsPrefix + c.conn.LocalAddr().String() }

func (c *wsConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
