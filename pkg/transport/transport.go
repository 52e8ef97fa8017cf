// Package transport implements C1: bidirectional, length-framed, ordered
// byte streams over TCP/TLS/WebSocket/inproc (§4.1, §6). It follows the
// teacher's Transport contract in pkg/mcast/core/transport.go (connect/
// listen/send/recv-shaped) generalized from a single multicast group
// transport to a scheme-dispatching registry of point-to-point transports,
// the way original_source/libsplinter/src/transport/{inproc,ws}.rs do.
package transport

import (
	"fmt"
	"io"
	"net"
	"strings"
)

// Connection is a bidirectional, ordered byte stream between two
// endpoints. Disconnect is idempotent. Once handed to the mesh (C2), a
// Connection is exclusively owned by it.
type Connection interface {
	io.Reader
	io.Writer

	// RemoteEndpoint returns the scheme-prefixed endpoint of the far side.
	RemoteEndpoint() string
	// LocalEndpoint returns the scheme-prefixed endpoint of the near side.
	LocalEndpoint() string
	// Disconnect closes the connection. Calling it more than once is a
	// no-op that returns nil.
	Disconnect() error
}

// Listener accepts inbound Connections on a bound endpoint.
type Listener interface {
	Accept() (Connection, error)
	Endpoint() string
	Close() error
}

// Transport is implemented once per scheme (tcp, tcps, ws, inproc).
type Transport interface {
	// Accepts reports whether this transport recognizes the endpoint's
	// scheme prefix.
	Accepts(endpoint string) bool
	Connect(endpoint string) (Connection, error)
	Listen(bind string) (Listener, error)
}

// Scheme is the set of endpoint scheme prefixes defined in §6.
type Scheme string

const (
	SchemeTCP    Scheme = "tcp"
	SchemeTCPTLS Scheme = "tcps"
	SchemeWS     Scheme = "ws"
	SchemeInproc Scheme = "inproc"
)

// SplitEndpoint separates an endpoint's scheme from its address, e.g.
// "tcp://127.0.0.1:8080" -> ("tcp", "127.0.0.1:8080").
func SplitEndpoint(endpoint string) (Scheme, string, error) {
	idx := strings.Index(endpoint, "://")
	if idx < 0 {
		return "", "", fmt.Errorf("%w: endpoint %q has no scheme prefix", ErrInvalidEndpoint, endpoint)
	}
	return Scheme(endpoint[:idx]), endpoint[idx+3:], nil
}

// Registry dispatches connect/listen calls to the Transport registered for
// an endpoint's scheme prefix, the way the platform "composes multiple
// transports and dispatches by prefix" (§4.1).
type Registry struct {
	transports map[Scheme]Transport
}

// NewRegistry builds an empty transport registry.
func NewRegistry() *Registry {
	return &Registry{transports: make(map[Scheme]Transport)}
}

// Register associates a Transport implementation with a scheme. Re-
// registering a scheme replaces the previous implementation.
func (r *Registry) Register(scheme Scheme, t Transport) {
	r.transports[scheme] = t
}

func (r *Registry) lookup(endpoint string) (Transport, error) {
	scheme, _, err := SplitEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	t, ok := r.transports[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: no transport registered for scheme %q", ErrInvalidEndpoint, scheme)
	}
	return t, nil
}

// Connect dispatches to the registered transport for endpoint's scheme.
func (r *Registry) Connect(endpoint string) (Connection, error) {
	t, err := r.lookup(endpoint)
	if err != nil {
		return nil, err
	}
	return t.Connect(endpoint)
}

// Enabled reports whether endpoint's scheme has a registered transport,
// used by the peer manager to pick the first endpoint "matching an
// enabled transport" (§4.4) from an ordered candidate list.
func (r *Registry) Enabled(endpoint string) bool {
	_, err := r.lookup(endpoint)
	return err == nil
}

// Listen dispatches to the registered transport for bind's scheme.
func (r *Registry) Listen(bind string) (Listener, error) {
	t, err := r.lookup(bind)
	if err != nil {
		return nil, err
	}
	return t.Listen(bind)
}

// ErrInvalidEndpoint is returned for endpoints with an unknown or missing
// scheme prefix.
var ErrInvalidEndpoint = fmt.Errorf("invalid transport endpoint")

// dialTimeoutSeconds is the one default dial timeout all transports share
// (§5: "fixed connect timeout (default 10s)").
const dialTimeoutSeconds = 10

// netJoinHostPort is a small helper used by the tcp/tls listeners to
// report their bound address including a port chosen by the kernel (":0").
func netJoinHostPort(addr net.Addr) string {
	return addr.String()
}
