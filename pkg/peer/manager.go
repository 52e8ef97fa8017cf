package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Cargill/splinter-sub011/pkg/connmgr"
	"github.com/Cargill/splinter-sub011/pkg/logging"
	"github.com/Cargill/splinter-sub011/pkg/token"
	"github.com/Cargill/splinter-sub011/pkg/transport"
)

// State is a peer's connectivity state as observed by the manager.
type State int

const (
	StatePending State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Entry is the manager's view of one peer.
type Entry struct {
	NodeId       string
	Endpoints    []string
	Tokens       token.PeerTokenPair
	State        State
	ConnectionID string
}

// Notification is published to subscribers whenever a peer's state
// changes.
type Notification struct {
	NodeId string
	State  State
}

// Ref is a handle returned by AddPeer. The caller must call Drop exactly
// once when finished with the peering relationship; the underlying peer
// is torn down when the last Ref is dropped (§4.4 reference counting).
type Ref struct {
	key     string
	manager *Manager
	dropped bool
	mu      sync.Mutex
}

// Drop releases this reference. It is safe to call more than once; only
// the first call has effect.
func (r *Ref) Drop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dropped {
		return nil
	}
	r.dropped = true
	return r.manager.dropRef(r.key)
}

// Config tunes endpoint-cycling backoff between full passes over a
// peer's endpoint list.
type Config struct {
	DialTimeout    time.Duration
	CycleBackoff   connmgr.Backoff
}

// DefaultConfig returns sensible defaults: a 10s per-endpoint dial
// timeout and the standard §4.2 backoff between endpoint-list passes.
func DefaultConfig() Config {
	return Config{DialTimeout: 10 * time.Second, CycleBackoff: connmgr.DefaultBackoff()}
}

// Manager is C5: the peer manager.
type Manager struct {
	cfg      Config
	connmgr  *connmgr.Manager
	registry *transport.Registry
	log      logging.Logger

	mu        sync.Mutex
	peers     map[string]*Entry
	refs      *RefMap
	listeners []func(Notification)
	cancels   map[string]context.CancelFunc
}

// New builds a peer manager on top of the given connection manager and
// transport registry.
func New(cfg Config, cm *connmgr.Manager, registry *transport.Registry, log logging.Logger) *Manager {
	if cfg.CycleBackoff == (connmgr.Backoff{}) {
		cfg = DefaultConfig()
	}
	mgr := &Manager{
		cfg:      cfg,
		connmgr:  cm,
		registry: registry,
		log:      log,
		peers:    make(map[string]*Entry),
		refs:     NewRefMap(),
		cancels:  make(map[string]context.CancelFunc),
	}
	cm.Subscribe(mgr.onConnMgrNotification)
	return mgr
}

// onConnMgrNotification resumes endpoint-cycling for a peer whose
// connection C3 has just torn down, so long as the peer is still held by
// a live Ref (§4.4 "a peer whose last endpoint fails enters Disconnected
// and is retried on the C3 reconnect schedule"). A disconnect caused by
// dropRef itself is a no-op here: dropRef removes the peer's entry
// before asking C3 to close the connection, so the lookup below misses
// it.
func (m *Manager) onConnMgrNotification(n connmgr.Notification) {
	if n.State != connmgr.StateDisconnected {
		return
	}
	m.mu.Lock()
	entry, ok := m.peers[n.ID]
	if !ok || entry.State != StateConnected {
		m.mu.Unlock()
		return
	}
	entry.State = StatePending
	ctx, cancel := context.WithCancel(context.Background())
	m.cancels[n.ID] = cancel
	m.mu.Unlock()

	m.notify(entry.NodeId, StateDisconnected)
	go m.connectLoop(ctx, n.ID)
}

// Subscribe registers a listener for peer state-change notifications.
func (m *Manager) Subscribe(fn func(Notification)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) notify(nodeID string, state State) {
	m.mu.Lock()
	listeners := append([]func(Notification){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(Notification{NodeId: nodeID, State: state})
	}
}

// AddPeer increments the peer's reference count; on the first reference
// it begins cycling through endpoints, asking C3 to connect each in turn
// (§4.4). It returns immediately with a Ref the caller must Drop.
func (m *Manager) AddPeer(nodeID string, endpoints []string, tokens token.PeerTokenPair) (*Ref, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: no endpoints given for peer %q", ErrNoEndpoints, nodeID)
	}
	key := tokens.Key()
	count := m.refs.AddRef(key)
	if count == 1 {
		m.mu.Lock()
		m.peers[key] = &Entry{
			NodeId:       nodeID,
			Endpoints:    append([]string(nil), endpoints...),
			Tokens:       tokens,
			State:        StatePending,
			ConnectionID: key,
		}
		ctx, cancel := context.WithCancel(context.Background())
		m.cancels[key] = cancel
		m.mu.Unlock()
		go m.connectLoop(ctx, key)
	}
	return &Ref{key: key, manager: m}, nil
}

func (m *Manager) dropRef(key string) error {
	removed, err := m.refs.RemoveRef(key)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	m.mu.Lock()
	entry, ok := m.peers[key]
	cancel := m.cancels[key]
	delete(m.peers, key)
	delete(m.cancels, key)
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if ok && entry.ConnectionID != "" {
		_ = m.connmgr.Remove(entry.ConnectionID)
	}
	if ok {
		m.notify(entry.NodeId, StateDisconnected)
	}
	return nil
}

func (m *Manager) connectLoop(ctx context.Context, key string) {
	attempt := 0
	for {
		m.mu.Lock()
		entry, ok := m.peers[key]
		m.mu.Unlock()
		if !ok {
			return
		}

		connected := false
		for _, endpoint := range entry.Endpoints {
			if !m.registry.Enabled(endpoint) {
				continue
			}
			dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
			err := m.connmgr.RequestOutgoing(dialCtx, key, endpoint, entry.Tokens)
			cancel()
			if err == nil {
				m.mu.Lock()
				entry.State = StateConnected
				entry.ConnectionID = key
				m.mu.Unlock()
				m.notify(entry.NodeId, StateConnected)
				connected = true
				break
			}
			m.log.Debugf("peer %s: endpoint %s failed: %v", entry.NodeId, endpoint, err)
			select {
			case <-ctx.Done():
				return
			default:
			}
		}

		if connected {
			return
		}

		m.mu.Lock()
		entry.State = StateDisconnected
		m.mu.Unlock()
		m.notify(entry.NodeId, StateDisconnected)

		delay := m.cfg.CycleBackoff.Delay(attempt)
		attempt++
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// ListPeers returns a snapshot of all tracked peers.
func (m *Manager) ListPeers() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.peers))
	for _, e := range m.peers {
		out = append(out, *e)
	}
	return out
}

// ErrNoEndpoints is returned by AddPeer when given an empty endpoint
// list.
var ErrNoEndpoints = errors.New("no endpoints provided")
