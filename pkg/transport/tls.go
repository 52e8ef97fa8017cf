package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

const tlsPrefix = "tcps://"

// TLSTransport implements Transport over TLS-wrapped TCP sockets. TLS
// certificate *loading* is an external collaborator's concern (§1
// Non-goals); this transport only consumes an already-built *tls.Config.
type TLSTransport struct {
	config      *tls.Config
	dialTimeout time.Duration
}

// NewTLSTransport builds a TLSTransport around a caller-provided
// *tls.Config (certificates, client auth policy, etc. already loaded).
func NewTLSTransport(config *tls.Config) *TLSTransport {
	return &TLSTransport{config: config, dialTimeout: dialTimeoutSeconds * time.Second}
}

func (t *TLSTransport) Accepts(endpoint string) bool {
	scheme, _, err := SplitEndpoint(endpoint)
	return err == nil && scheme == SchemeTCPTLS
}

func (t *TLSTransport) Connect(endpoint string) (Connection, error) {
	_, addr, err := SplitEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	dialer := &net.Dialer{Timeout: t.dialTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, t.config)
	if err != nil {
		return nil, fmt.Errorf("%w: tls dial %s: %v", ErrConnectionRefused, addr, err)
	}
	return &tcpConnection{
		Conn:   conn,
		local:  tlsPrefix + conn.LocalAddr().String(),
		remote: tlsPrefix + conn.RemoteAddr().String(),
	}, nil
}

func (t *TLSTransport) Listen(bind string) (Listener, error) {
	_, addr, err := SplitEndpoint(bind)
	if err != nil {
		return nil, err
	}
	ln, err := tls.Listen("tcp", addr, t.config)
	if err != nil {
		return nil, err
	}
	return &tcpListener{Listener: ln, endpoint: tlsPrefix + netJoinHostPort(ln.Addr())}, nil
}
