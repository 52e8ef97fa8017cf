// Package handlerpool implements C12: a fixed-size worker pool that
// drains per-service inbound message queues, dispatching each message to
// a freshly constructed, stateless handler for the service's type
// (§4.10). Messages for the same fqsi are processed strictly in
// enqueue order; parallelism exists only across distinct fqsi, matching
// the teacher's one-goroutine-per-unit-of-work style generalized to a
// bounded pool instead of one goroutine per peer.
package handlerpool

import (
	"errors"
	"sync"

	"github.com/Cargill/splinter-sub011/pkg/interconnect"
	"github.com/Cargill/splinter-sub011/pkg/logging"
)

// Replier lets a handler send a reply toward the peer interconnect,
// without the pool needing the interconnect's full surface.
type Replier interface {
	SendCircuitMessage(circuitID, recipientService, senderService, correlationID string, body []byte) error
}

// MessageHandler processes exactly one inbound message.
type MessageHandler interface {
	Handle(msg interconnect.CircuitInbound, reply Replier) error
}

// MessageHandlerFactory constructs a new, stateless MessageHandler per
// invocation (§4.10 "a new handler is constructed per invocation").
type MessageHandlerFactory interface {
	New() MessageHandler
}

// TypeResolver maps a (circuit_id, service_id) pair to its registered
// service_type, so the pool knows which factory to use.
type TypeResolver interface {
	ServiceType(circuitID, serviceID string) (string, error)
}

type fqsiQueue struct {
	pending []interconnect.CircuitInbound
	running bool
}

// Pool is C12.
type Pool struct {
	log      logging.Logger
	resolver TypeResolver
	reply    Replier
	sem      chan struct{}

	mu        sync.Mutex
	factories map[string]MessageHandlerFactory
	queues    map[string]*fqsiQueue

	shutdown chan struct{}
	shutOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Pool with size concurrent workers.
func New(size int, resolver TypeResolver, reply Replier, log logging.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		log:       log,
		resolver:  resolver,
		reply:     reply,
		sem:       make(chan struct{}, size),
		factories: make(map[string]MessageHandlerFactory),
		queues:    make(map[string]*fqsiQueue),
		shutdown:  make(chan struct{}),
	}
}

// RegisterHandler associates serviceType with a factory.
func (p *Pool) RegisterHandler(serviceType string, factory MessageHandlerFactory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factories[serviceType] = factory
}

// Enqueue appends msg to fqsi's queue, starting a drain goroutine if one
// is not already running for fqsi. It satisfies interconnect.Inbox.
func (p *Pool) Enqueue(fqsi string, msg interconnect.CircuitInbound) error {
	select {
	case <-p.shutdown:
		return ErrShutdown
	default:
	}

	p.mu.Lock()
	q, ok := p.queues[fqsi]
	if !ok {
		q = &fqsiQueue{}
		p.queues[fqsi] = q
	}
	q.pending = append(q.pending, msg)
	start := !q.running
	if start {
		q.running = true
	}
	p.mu.Unlock()

	if start {
		p.wg.Add(1)
		go p.drain(fqsi)
	}
	return nil
}

func (p *Pool) drain(fqsi string) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		q := p.queues[fqsi]
		if len(q.pending) == 0 {
			q.running = false
			delete(p.queues, fqsi)
			p.mu.Unlock()
			return
		}
		msg := q.pending[0]
		q.pending = q.pending[1:]
		p.mu.Unlock()

		p.sem <- struct{}{}
		p.process(fqsi, msg)
		<-p.sem
	}
}

func (p *Pool) process(fqsi string, msg interconnect.CircuitInbound) {
	serviceType, err := p.resolver.ServiceType(msg.CircuitId, msg.RecipientService)
	if err != nil {
		p.log.Errorf("handlerpool: resolving service type for %s: %v", fqsi, err)
		return
	}

	p.mu.Lock()
	factory, ok := p.factories[serviceType]
	p.mu.Unlock()
	if !ok {
		p.log.Errorf("handlerpool: no handler registered for service type %q (%s)", serviceType, fqsi)
		return
	}

	h := factory.New()
	if err := h.Handle(msg, p.reply); err != nil {
		p.log.Debugf("handlerpool: handler for %s returned error: %v", fqsi, err)
	}
}

// Shutdown allows in-flight handlers to finish their current message,
// then waits for every drain goroutine to exit (§4.10 "in-flight
// handlers are allowed to finish their current message, then the pool
// joins").
func (p *Pool) Shutdown() {
	p.shutOnce.Do(func() { close(p.shutdown) })
	p.wg.Wait()
}

// ErrShutdown is returned by Enqueue once Shutdown has been called.
var ErrShutdown = errors.New("handlerpool: shut down")
