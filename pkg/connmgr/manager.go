// Package connmgr implements C3: it owns the set of live connections,
// drives heartbeats, and performs reconnect with exponential backoff
// (§4.2). Its operations are direct method calls that share one mutex;
// there is no internal request queue.
package connmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Cargill/splinter-sub011/pkg/logging"
	"github.com/Cargill/splinter-sub011/pkg/mesh"
	"github.com/Cargill/splinter-sub011/pkg/token"
	"github.com/Cargill/splinter-sub011/pkg/transport"
	"github.com/Cargill/splinter-sub011/pkg/wire"
)

// State is a connection's lifecycle state as tracked by the manager.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Record is the manager's view of one connection.
type Record struct {
	ID               string
	Endpoint         string
	State            State
	LastHeartbeat    time.Time
	ReconnectAttempts int
	Outgoing         bool
}

// Notification is published to subscribers on every state change.
type Notification struct {
	ID    string
	State State
}

// Config tunes heartbeat cadence, staleness detection and reconnect policy.
type Config struct {
	HeartbeatInterval time.Duration // default 30s (§4.2)
	StaleAfter        time.Duration // default 3 * HeartbeatInterval
	Backoff           Backoff
	MaxAttempts       int // 0 == infinite (§4.2 default)
}

// DefaultConfig returns the §4.2 defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		StaleAfter:        90 * time.Second,
		Backoff:           DefaultBackoff(),
		MaxAttempts:       0,
	}
}

// Authorizer performs the handshake (§4.3) required before a connection
// counts as Connected. It is a capability the connection manager consumes;
// pkg/auth supplies the real implementation.
type Authorizer interface {
	Authorize(ctx context.Context, id string, conn transport.Connection, outgoing bool, tokens token.PeerTokenPair) error
}

type entry struct {
	Record
	conn      transport.Connection
	tokens    token.PeerTokenPair
	cancelCtx context.CancelFunc
}

// Manager is C3.
type Manager struct {
	log        logging.Logger
	cfg        Config
	registry   *transport.Registry
	mesh       *mesh.Mesh
	authorizer Authorizer

	mu        sync.Mutex
	conns     map[string]*entry
	listeners []func(Notification)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a connection manager bound to the given transport registry,
// mesh and authorizer.
func New(cfg Config, registry *transport.Registry, m *mesh.Mesh, authz Authorizer, log logging.Logger) *Manager {
	if cfg.HeartbeatInterval <= 0 {
		cfg = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		log:        log,
		cfg:        cfg,
		registry:   registry,
		mesh:       m,
		authorizer: authz,
		conns:      make(map[string]*entry),
		ctx:        ctx,
		cancel:     cancel,
	}
	mgr.wg.Add(2)
	go mgr.heartbeatLoop()
	go mgr.staleLoop()
	return mgr
}

// Subscribe registers a listener for connection state-change
// notifications.
func (m *Manager) Subscribe(fn func(Notification)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) notify(id string, state State) {
	m.mu.Lock()
	listeners := append([]func(Notification){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(Notification{ID: id, State: state})
	}
}

// RequestOutgoing returns once a connection to endpoint exists and is
// authorized, or a terminal error occurs. On transient failure it retries
// internally using the reconnect policy until MaxAttempts is exhausted.
func (m *Manager) RequestOutgoing(ctx context.Context, id, endpoint string, tokens token.PeerTokenPair) error {
	attempt := 0
	for {
		conn, err := m.registry.Connect(endpoint)
		if err == nil {
			authCtx, cancel := context.WithCancel(ctx)
			aerr := m.authorizer.Authorize(authCtx, id, conn, true, tokens)
			cancel()
			if aerr == nil {
				m.install(id, endpoint, conn, tokens, true)
				return nil
			}
			_ = conn.Disconnect()
			err = aerr
		}

		attempt++
		if m.cfg.MaxAttempts > 0 && attempt >= m.cfg.MaxAttempts {
			return fmt.Errorf("%w: exhausted %d attempts connecting to %s: %v", ErrConnectionFailed, attempt, endpoint, err)
		}
		delay := m.cfg.Backoff.Delay(attempt - 1)
		m.log.Debugf("connect to %s failed (%v), retrying in %s", endpoint, err, delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.ctx.Done():
			return ErrShutdown
		case <-time.After(delay):
		}
	}
}

// AddIncoming runs the authorization handshake on an already-accepted
// connection (as the accepting party) and, once it succeeds, installs the
// connection under id. A failed handshake disconnects it.
func (m *Manager) AddIncoming(ctx context.Context, id, endpoint string, conn transport.Connection, tokens token.PeerTokenPair) error {
	if err := m.authorizer.Authorize(ctx, id, conn, false, tokens); err != nil {
		_ = conn.Disconnect()
		return fmt.Errorf("%w: %v", ErrAuthorizationFailed, err)
	}
	m.install(id, endpoint, conn, tokens, false)
	return nil
}

func (m *Manager) install(id, endpoint string, conn transport.Connection, tokens token.PeerTokenPair, outgoing bool) {
	if err := m.mesh.Add(id, conn); err != nil {
		m.log.Errorf("mesh.Add(%s): %v", id, err)
		_ = conn.Disconnect()
		return
	}
	m.mu.Lock()
	m.conns[id] = &entry{
		Record: Record{
			ID:            id,
			Endpoint:      endpoint,
			State:         StateConnected,
			LastHeartbeat: time.Now(),
			Outgoing:      outgoing,
		},
		conn:   conn,
		tokens: tokens,
	}
	m.mu.Unlock()
	m.notify(id, StateConnected)
}

// Remove releases the connection for endpoint (by connection id), closing
// it and removing it from the mesh.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	_, ok := m.conns[id]
	if ok {
		delete(m.conns, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	_, _ = m.mesh.Remove(id)
	m.notify(id, StateDisconnected)
	return nil
}

// List returns a snapshot of all tracked connections.
func (m *Manager) List() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.conns))
	for _, e := range m.conns {
		out = append(out, e.Record)
	}
	return out
}

// ObserveHeartbeat updates the last-seen time for id, called by whatever
// reads frames off the mesh whenever a NetworkHeartbeat (or any frame)
// arrives from that connection.
func (m *Manager) ObserveHeartbeat(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.conns[id]; ok {
		e.LastHeartbeat = time.Now()
	}
}

func (m *Manager) heartbeatLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			frame, err := wire.Encode(wire.NewHeartbeatEnvelope())
			if err != nil {
				m.log.Errorf("encode heartbeat: %v", err)
				continue
			}
			for _, id := range m.connectionIDs() {
				if sendErr := m.mesh.Send(mesh.Envelope{ID: id, Payload: frame}); sendErr != nil {
					m.log.Debugf("heartbeat send to %s: %v", id, sendErr)
				}
			}
		}
	}
}

// staleEntry captures everything needed to redial a stale outgoing
// connection after its Record has been removed.
type staleEntry struct {
	id       string
	endpoint string
	outgoing bool
	tokens   token.PeerTokenPair
}

func (m *Manager) staleLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			var stale []staleEntry
			m.mu.Lock()
			for id, e := range m.conns {
				if now.Sub(e.LastHeartbeat) > m.cfg.StaleAfter {
					stale = append(stale, staleEntry{id: id, endpoint: e.Endpoint, outgoing: e.Outgoing, tokens: e.tokens})
				}
			}
			m.mu.Unlock()
			for _, se := range stale {
				m.log.Warnf("connection %s stale, disconnecting", se.id)
				_ = m.Remove(se.id)
				if se.outgoing {
					m.scheduleReconnect(se.id, se.endpoint, se.tokens)
				}
			}
		}
	}
}

// scheduleReconnect redials an outgoing connection that was just dropped
// for staleness, using the same RequestOutgoing retry/backoff path a
// fresh dial would (§4.2 "the manager then closes the connection and
// (for outgoing) schedules reconnect"). It runs until reconnected,
// MaxAttempts is exhausted, or the manager shuts down.
func (m *Manager) scheduleReconnect(id, endpoint string, tokens token.PeerTokenPair) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.RequestOutgoing(m.ctx, id, endpoint, tokens); err != nil {
			m.log.Debugf("reconnect to %s (%s) abandoned: %v", id, endpoint, err)
		}
	}()
}

func (m *Manager) connectionIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown stops the heartbeat/staleness workers. It does not close the
// underlying mesh or its connections; callers own that lifecycle
// separately.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}

// Sentinel errors (§7 ConnectionError/AuthorizationError).
var (
	ErrConnectionFailed    = errors.New("connection failed")
	ErrAuthorizationFailed = errors.New("authorization failed")
	ErrUnknownConnection   = errors.New("unknown connection")
	ErrShutdown            = errors.New("connection manager shut down")
)
