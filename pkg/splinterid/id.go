// Package splinterid defines the identifier types shared across every
// component: node, service, circuit and fully-qualified service ids. These
// are plain validated strings, the same shape the teacher uses for
// types.Partition/types.UID in pkg/mcast/types.
package splinterid

import (
	"fmt"
	"regexp"
	"strings"
)

// NodeId identifies a member node. It must be non-empty.
type NodeId string

// Validate returns an error if the NodeId is empty.
func (n NodeId) Validate() error {
	if len(n) == 0 {
		return fmt.Errorf("%w: node id is empty", ErrInvalidIdentifier)
	}
	return nil
}

var serviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]{4}$`)

// ServiceId is a 4-character alphanumeric token, unique within a circuit.
type ServiceId string

// Validate checks the 4-character alphanumeric shape.
func (s ServiceId) Validate() error {
	if !serviceIDPattern.MatchString(string(s)) {
		return fmt.Errorf("%w: service id %q must be 4 alphanumeric characters", ErrInvalidIdentifier, s)
	}
	return nil
}

var circuitIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]{5}-[a-zA-Z0-9]{5}$`)

// CircuitId is formatted XXXXX-XXXXX (two 5-character groups).
type CircuitId string

// Validate checks the XXXXX-XXXXX shape.
func (c CircuitId) Validate() error {
	if !circuitIDPattern.MatchString(string(c)) {
		return fmt.Errorf("%w: circuit id %q must match XXXXX-XXXXX", ErrInvalidIdentifier, c)
	}
	return nil
}

// FullyQualifiedServiceId is circuit_id::service_id, globally unique.
type FullyQualifiedServiceId string

// NewFQSI builds a FullyQualifiedServiceId from its parts.
func NewFQSI(circuit CircuitId, service ServiceId) FullyQualifiedServiceId {
	return FullyQualifiedServiceId(string(circuit) + "::" + string(service))
}

// Split decomposes the FQSI back into its circuit and service components.
func (f FullyQualifiedServiceId) Split() (CircuitId, ServiceId, error) {
	parts := strings.SplitN(string(f), "::", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: malformed fully qualified service id %q", ErrInvalidIdentifier, f)
	}
	return CircuitId(parts[0]), ServiceId(parts[1]), nil
}

func (f FullyQualifiedServiceId) String() string { return string(f) }

// ErrInvalidIdentifier is returned by Validate methods on malformed ids.
var ErrInvalidIdentifier = fmt.Errorf("invalid identifier")
