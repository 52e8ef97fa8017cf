// Package mesh implements C2: it multiplexes N transport connections onto
// a single bounded inbound queue, with an independent bounded outbound
// queue per connection (§4.1). It generalizes the teacher's
// ReliableTransport (pkg/mcast/core/transport.go), which polls one
// underlying transport and republishes onto a single `producer` channel,
// to a set of independently-owned connections, each with its own
// read/write worker goroutine.
package mesh

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Cargill/splinter-sub011/pkg/logging"
	"github.com/Cargill/splinter-sub011/pkg/transport"
	"github.com/Cargill/splinter-sub011/pkg/wire"
)

// Envelope pairs a connection id with its raw frame payload, in both the
// inbound and outbound direction.
type Envelope struct {
	ID      string
	Payload []byte
}

// disconnectedMarker marks a frame on the inbound queue that actually reports
// "this connection id is gone", so callers can observe the disconnect
// in-band with other traffic (§4.1 "a `Disconnected(id)` envelope is
// observable").
const disconnectedMarker = "\x00disconnected\x00"

// IsDisconnected reports whether env is a Disconnected(id) marker rather
// than application payload.
func (e Envelope) IsDisconnected() bool {
	return string(e.Payload) == disconnectedMarker
}

// Config bounds the mesh's inbound and outbound queue capacities.
type Config struct {
	InboundCapacity  int
	OutboundCapacity int
}

// DefaultConfig returns the §4.1 defaults: 512 for both directions.
func DefaultConfig() Config {
	return Config{InboundCapacity: 512, OutboundCapacity: 512}
}

type connState struct {
	conn     transport.Connection
	outbound chan []byte
	done     chan struct{}
	closeOnce sync.Once
}

// Mesh owns a set of transport connections, demultiplexing their inbound
// frames onto one shared channel and multiplexing outbound sends through
// a per-connection bounded queue.
type Mesh struct {
	log logging.Logger
	cfg Config

	mu    sync.Mutex
	conns map[string]*connState

	inbound  chan Envelope
	shutdown chan struct{}
	shutOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Mesh with the given configuration.
func New(cfg Config, log logging.Logger) *Mesh {
	if cfg.InboundCapacity <= 0 {
		cfg.InboundCapacity = DefaultConfig().InboundCapacity
	}
	if cfg.OutboundCapacity <= 0 {
		cfg.OutboundCapacity = DefaultConfig().OutboundCapacity
	}
	return &Mesh{
		log:      log,
		cfg:      cfg,
		conns:    make(map[string]*connState),
		inbound:  make(chan Envelope, cfg.InboundCapacity),
		shutdown: make(chan struct{}),
	}
}

// Add takes ownership of conn under id, starting its read and write
// workers. It fails if id is already present.
func (m *Mesh) Add(id string, conn transport.Connection) error {
	m.mu.Lock()
	if _, exists := m.conns[id]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: connection id %q already present", ErrDuplicateID, id)
	}
	cs := &connState{
		conn:     conn,
		outbound: make(chan []byte, m.cfg.OutboundCapacity),
		done:     make(chan struct{}),
	}
	m.conns[id] = cs
	m.mu.Unlock()

	m.wg.Add(2)
	go m.readWorker(id, cs)
	go m.writeWorker(id, cs)
	return nil
}

// Remove stops id's workers and returns ownership of its connection.
func (m *Mesh) Remove(id string) (transport.Connection, error) {
	m.mu.Lock()
	cs, ok := m.conns[id]
	if ok {
		delete(m.conns, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: connection id %q not found", ErrUnknownID, id)
	}
	cs.closeOnce.Do(func() { close(cs.done) })
	_ = cs.conn.Disconnect()
	return cs.conn, nil
}

// Send non-blockingly enqueues payload for id's outbound worker. It fails
// if id is unknown or the outbound queue is full (caller-visible
// backpressure, never a silent block — §8 boundary behavior).
func (m *Mesh) Send(env Envelope) error {
	m.mu.Lock()
	cs, ok := m.conns[env.ID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: connection id %q not found", ErrUnknownID, env.ID)
	}
	select {
	case cs.outbound <- env.Payload:
		return nil
	default:
		return fmt.Errorf("%w: connection %q outbound queue full", ErrBackpressure, env.ID)
	}
}

// Recv blocks until an inbound envelope is available or the mesh shuts
// down.
func (m *Mesh) Recv() (Envelope, error) {
	select {
	case env, ok := <-m.inbound:
		if !ok {
			return Envelope{}, ErrShutdown
		}
		return env, nil
	case <-m.shutdown:
		return Envelope{}, ErrShutdown
	}
}

// RecvTimeout blocks until an inbound envelope is available, the timeout
// elapses, or the mesh shuts down.
func (m *Mesh) RecvTimeout(d time.Duration) (Envelope, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case env, ok := <-m.inbound:
		if !ok {
			return Envelope{}, ErrShutdown
		}
		return env, nil
	case <-m.shutdown:
		return Envelope{}, ErrShutdown
	case <-timer.C:
		return Envelope{}, ErrTimeout
	}
}

// Shutdown signals every worker to drain its current message then exit;
// from then on Recv and RecvTimeout return ErrShutdown (the inbound
// channel itself is not closed). It is idempotent and safe to call
// multiple times.
func (m *Mesh) Shutdown() {
	m.shutOnce.Do(func() {
		close(m.shutdown)
		m.mu.Lock()
		ids := make([]string, 0, len(m.conns))
		for id := range m.conns {
			ids = append(ids, id)
		}
		m.mu.Unlock()
		for _, id := range ids {
			_, _ = m.Remove(id)
		}
		m.wg.Wait()
	})
}

func (m *Mesh) readWorker(id string, cs *connState) {
	defer m.wg.Done()
	for {
		select {
		case <-cs.done:
			return
		case <-m.shutdown:
			return
		default:
		}

		payload, err := wire.ReadFrame(cs.conn)
		if err != nil {
			m.log.Debugf("connection %s read error: %v", id, err)
			m.publishDisconnected(id)
			m.mu.Lock()
			if _, ok := m.conns[id]; ok {
				delete(m.conns, id)
			}
			m.mu.Unlock()
			cs.closeOnce.Do(func() { close(cs.done) })
			_ = cs.conn.Disconnect()
			return
		}

		select {
		case m.inbound <- Envelope{ID: id, Payload: payload}:
		case <-cs.done:
			return
		case <-m.shutdown:
			return
		}
	}
}

func (m *Mesh) writeWorker(id string, cs *connState) {
	defer m.wg.Done()
	for {
		select {
		case payload := <-cs.outbound:
			if err := wire.WriteFrame(cs.conn, payload); err != nil {
				m.log.Debugf("connection %s write error: %v", id, err)
				return
			}
		case <-cs.done:
			// Drain queued sends before exiting, per §4.1 shutdown semantics.
			for {
				select {
				case payload := <-cs.outbound:
					_ = wire.WriteFrame(cs.conn, payload)
				default:
					return
				}
			}
		case <-m.shutdown:
			return
		}
	}
}

func (m *Mesh) publishDisconnected(id string) {
	select {
	case m.inbound <- Envelope{ID: id, Payload: []byte(disconnectedMarker)}:
	default:
		m.log.Warnf("inbound queue full, dropped Disconnected(%s) notice", id)
	}
}

// Sentinel errors (§7).
var (
	ErrDuplicateID  = errors.New("duplicate connection id")
	ErrUnknownID    = errors.New("unknown connection id")
	ErrBackpressure = errors.New("outbound queue full")
	ErrShutdown     = errors.New("mesh shut down")
	ErrTimeout      = errors.New("recv timed out")
)
