// Package peer implements C5: the peer manager, which tracks peering
// relationships by reference count and drives endpoint selection over
// the connection manager (C3).
package peer

import (
	"errors"
	"sync"
)

// RefMap reference-counts a set of string ids, removing an id once its
// count reaches zero. Grounded on the original implementation's
// `RefMap` (`add_ref`/`remove_ref`), with one deliberate change: removing
// an id that was never added returns an error instead of panicking,
// following Go's convention of reporting programmer errors through
// return values rather than aborting the process.
type RefMap struct {
	mu         sync.Mutex
	references map[string]uint64
}

// NewRefMap builds an empty RefMap.
func NewRefMap() *RefMap {
	return &RefMap{references: make(map[string]uint64)}
}

// AddRef increments the reference count for id, creating it at 1 if
// absent, and returns the new count.
func (m *RefMap) AddRef(id string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.references[id]++
	return m.references[id]
}

// RemoveRef decrements the reference count for id. If the count reaches
// zero, id is removed from the map and removed is true.
func (m *RefMap) RemoveRef(id string) (removed bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count, ok := m.references[id]
	if !ok {
		return false, ErrNoSuchReference
	}
	if count <= 1 {
		delete(m.references, id)
		return true, nil
	}
	m.references[id] = count - 1
	return false, nil
}

// Count returns the current reference count for id, or 0 if absent.
func (m *RefMap) Count(id string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.references[id]
}

// ErrNoSuchReference is returned by RemoveRef for an id that was never
// added (or has already been fully removed).
var ErrNoSuchReference = errors.New("no such reference")
