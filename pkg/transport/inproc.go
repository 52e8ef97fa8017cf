package transport

import (
	"fmt"
	"io"
	"sync"
)

const inprocPrefix = "inproc://"

// InprocTransport implements Transport for in-process, no-network
// connections, following original_source/libsplinter/src/transport/
// inproc.rs: a registry of named listeners; connecting to a name hands
// the listener one end of an in-memory pipe and returns the other end.
type InprocTransport struct {
	mu        sync.Mutex
	listeners map[string]*inprocListener
}

// NewInprocTransport builds an empty InprocTransport registry.
func NewInprocTransport() *InprocTransport {
	return &InprocTransport{listeners: make(map[string]*inprocListener)}
}

func (t *InprocTransport) Accepts(endpoint string) bool {
	scheme, _, err := SplitEndpoint(endpoint)
	return err == nil && scheme == SchemeInproc
}

func (t *InprocTransport) Connect(endpoint string) (Connection, error) {
	_, name, err := SplitEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	l, ok := t.listeners[name]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no inproc listener for %q", ErrConnectionRefused, name)
	}
	left, right := newInprocPipe(inprocPrefix+name+"#client", inprocPrefix+name+"#server")
	select {
	case l.incoming <- right:
	default:
		return nil, fmt.Errorf("%w: inproc listener %q backlog full", ErrConnectionRefused, name)
	}
	return left, nil
}

func (t *InprocTransport) Listen(bind string) (Listener, error) {
	_, name, err := SplitEndpoint(bind)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.listeners[name]; exists {
		return nil, fmt.Errorf("%w: inproc listener %q already bound", ErrConnectionRefused, name)
	}
	l := &inprocListener{
		transport: t,
		name:      name,
		incoming:  make(chan Connection, 64),
	}
	t.listeners[name] = l
	return l, nil
}

type inprocListener struct {
	transport *InprocTransport
	name      string
	incoming  chan Connection
	closeOnce sync.Once
}

func (l *inprocListener) Accept() (Connection, error) {
	c, ok := <-l.incoming
	if !ok {
		return nil, io.EOF
	}
	return c, nil
}

func (l *inprocListener) Endpoint() string { return inprocPrefix + l.name }

func (l *inprocListener) Close() error {
	l.closeOnce.Do(func() {
		l.transport.mu.Lock()
		delete(l.transport.listeners, l.name)
		l.transport.mu.Unlock()
		close(l.incoming)
	})
	return nil
}

// inprocPipe is one end of an in-memory, full-duplex byte pipe.
type inprocPipe struct {
	local, remote string
	reader        *io.PipeReader
	writer        *io.PipeWriter
	closeOnce     sync.Once
}

func newInprocPipe(localName, remoteName string) (a, b *inprocPipe) {
	ar, aw := io.Pipe()
	br, bw := io.Pipe()
	a = &inprocPipe{local: localName, remote: remoteName, reader: ar, writer: bw}
	b = &inprocPipe{local: remoteName, remote: localName, reader: br, writer: aw}
	return a, b
}

func (p *inprocPipe) Read(b []byte) (int, error)  { return p.reader.Read(b) }
func (p *inprocPipe) Write(b []byte) (int, error) { return p.writer.Write(b) }

func (p *inprocPipe) RemoteEndpoint() string { return p.remote }
func (p *inprocPipe) LocalEndpoint() string  { return p.local }

func (p *inprocPipe) Disconnect() error {
	var err error
	p.closeOnce.Do(func() {
		_ = p.reader.Close()
		err = p.writer.Close()
	})
	return err
}
