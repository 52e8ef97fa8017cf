package lifecycle

import (
	"fmt"

	"github.com/Cargill/splinter-sub011/pkg/admin/store"
	"github.com/Cargill/splinter-sub011/pkg/handlerpool"
)

var _ handlerpool.TypeResolver = (*Resolver)(nil)

// Resolver satisfies pkg/handlerpool.TypeResolver by looking a service's
// type up in its committed circuit's roster. Unlike the pending
// LifecycleService row (which disappears once Purge completes), the
// roster entry lives for as long as the circuit does, so this is the
// correct source for routing an inbound message to a handler factory
// — not the lifecycle table this package otherwise owns.
type Resolver struct {
	store store.Store
}

// NewResolver builds a Resolver over st.
func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// ServiceType returns the registered service_type for serviceID within
// circuitID.
func (r *Resolver) ServiceType(circuitID, serviceID string) (string, error) {
	circuit, found, err := r.store.GetCircuit(circuitID)
	if err != nil {
		return "", fmt.Errorf("lifecycle: resolve service type: %w", err)
	}
	if !found {
		return "", fmt.Errorf("lifecycle: resolve service type: %w", ErrUnknownCircuit)
	}
	for _, svc := range circuit.Roster {
		if svc.ServiceId == serviceID {
			return svc.ServiceType, nil
		}
	}
	return "", fmt.Errorf("lifecycle: resolve service type: %w", ErrUnknownService)
}
