// Package routing implements C8: the routing table mapping
// (circuit_id, service_id) to the node hosting that service, and node_id
// to the PeerTokenPair used to reach it. Written only by the admin
// service after a circuit goes Active or a roster change commits; read
// on every service message forward (§4.6).
package routing

import (
	"errors"
	"sync"

	"github.com/Cargill/splinter-sub011/pkg/token"
)

// ServiceKey names one routable service within a circuit.
type ServiceKey struct {
	CircuitId string
	ServiceId string
}

// Table is C8: a read-biased, bi-directional routing table guarded by an
// RWMutex (§5 "process-wide RwLock; writers only from admin service").
type Table struct {
	mu       sync.RWMutex
	services map[ServiceKey]string              // (circuit, service) -> node_id
	nodes    map[string]token.PeerTokenPair      // node_id -> token pair
	circuits map[string]map[string]struct{}      // circuit_id -> set of service_id, for atomic removal
}

// New builds an empty routing table.
func New() *Table {
	return &Table{
		services: make(map[ServiceKey]string),
		nodes:    make(map[string]token.PeerTokenPair),
		circuits: make(map[string]map[string]struct{}),
	}
}

// AddNode records how to reach node_id.
func (t *Table) AddNode(nodeID string, tokens token.PeerTokenPair) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[nodeID] = tokens
}

// AddService records that serviceID within circuitID is hosted by
// nodeID. The node must already be known via AddNode.
func (t *Table) AddService(circuitID, serviceID, nodeID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.nodes[nodeID]; !ok {
		return ErrUnknownNode
	}
	key := ServiceKey{CircuitId: circuitID, ServiceId: serviceID}
	t.services[key] = nodeID
	set, ok := t.circuits[circuitID]
	if !ok {
		set = make(map[string]struct{})
		t.circuits[circuitID] = set
	}
	set[serviceID] = struct{}{}
	return nil
}

// LookupService returns the node hosting (circuitID, serviceID).
func (t *Table) LookupService(circuitID, serviceID string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	nodeID, ok := t.services[ServiceKey{CircuitId: circuitID, ServiceId: serviceID}]
	if !ok {
		return "", ErrUnknownService
	}
	return nodeID, nil
}

// LookupNode returns the token pair used to reach nodeID.
func (t *Table) LookupNode(nodeID string) (token.PeerTokenPair, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tokens, ok := t.nodes[nodeID]
	if !ok {
		return token.PeerTokenPair{}, ErrUnknownNode
	}
	return tokens, nil
}

// RemoveCircuit atomically removes every service entry belonging to
// circuitID (§4.6 "a removal of a circuit atomically removes all its
// service entries").
func (t *Table) RemoveCircuit(circuitID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for serviceID := range t.circuits[circuitID] {
		delete(t.services, ServiceKey{CircuitId: circuitID, ServiceId: serviceID})
	}
	delete(t.circuits, circuitID)
}

// RemoveService removes a single (circuitID, serviceID) entry, e.g. for
// a roster change that drops one service without disbanding the whole
// circuit.
func (t *Table) RemoveService(circuitID, serviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.services, ServiceKey{CircuitId: circuitID, ServiceId: serviceID})
	if set, ok := t.circuits[circuitID]; ok {
		delete(set, serviceID)
	}
}

// Sentinel errors.
var (
	ErrUnknownService = errors.New("unknown (circuit, service)")
	ErrUnknownNode    = errors.New("unknown node")
)
