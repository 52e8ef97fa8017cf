// Package lifecycle implements C11: the service lifecycle executor that
// linearizes each service through Prepare → Finalize → Retire → Purge
// (§4.9), dispatching the pending command for every ready fqsi to a
// handler registered for its service_type.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Cargill/splinter-sub011/pkg/admin/store"
	"github.com/Cargill/splinter-sub011/pkg/logging"
)

// DefaultInterval is the executor's fixed scan cadence (§4.9 "fixed
// cadence (default 30s)").
const DefaultInterval = 30 * time.Second

// LifecycleHandler performs one pending lifecycle command for a
// service_type. Each method returns the batch of store commands that
// complete the step, which must include clearing or advancing the
// pending LifecycleService row; the executor runs the whole batch in one
// backend transaction (§4.9 "all commands from a single handler
// invocation are executed in one backend transaction").
//
// A handler for a 2PC-coordinated service_type drives pkg/twopc
// internally, reading and writing TwoPCContext/ConsensusAction/
// ConsensusEvent/CommitEntry rows through the same Store the executor
// gives it no direct access to — handlers receive only (fqsi, arguments)
// and must reach the store through their own constructor-injected
// reference, keeping the executor itself ignorant of any particular
// service_type's internals.
type LifecycleHandler interface {
	Prepare(fqsi string, args []store.Argument) ([]store.Command, error)
	Finalize(fqsi string, args []store.Argument) ([]store.Command, error)
	Retire(fqsi string, args []store.Argument) ([]store.Command, error)
	Purge(fqsi string, args []store.Argument) ([]store.Command, error)
}

// ErrNoHandler is returned (and only logged, never fatal) when a ready
// fqsi names a service_type with no registered handler.
var ErrNoHandler = errors.New("lifecycle: no handler registered for service type")

// ErrUnknownCircuit and ErrUnknownService are returned by Resolver.
var (
	ErrUnknownCircuit = errors.New("lifecycle: unknown circuit")
	ErrUnknownService = errors.New("lifecycle: unknown service")
)

// Executor is C11.
type Executor struct {
	log      logging.Logger
	store    store.Store
	interval time.Duration

	mu       sync.Mutex
	handlers map[string]LifecycleHandler

	alarmCh chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds an executor bound to st, scanning every interval (or
// DefaultInterval if interval <= 0) and on Alarm() wake-ups.
func New(st store.Store, interval time.Duration, log logging.Logger) *Executor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		log:      log,
		store:    st,
		interval: interval,
		handlers: make(map[string]LifecycleHandler),
		alarmCh:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterHandler binds a LifecycleHandler to every service with the
// given service_type.
func (e *Executor) RegisterHandler(serviceType string, h LifecycleHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[serviceType] = h
}

func (e *Executor) handlerFor(serviceType string) (LifecycleHandler, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handlers[serviceType]
	return h, ok
}

// Alarm wakes the executor for an immediate scan instead of waiting for
// the next tick (§4.9 "on explicit alarm() wake-ups"). Non-blocking: a
// wake-up already pending is not duplicated.
func (e *Executor) Alarm() {
	select {
	case e.alarmCh <- struct{}{}:
	default:
	}
}

// Run blocks, scanning on a fixed cadence and on Alarm() wake-ups, until
// Shutdown is called.
func (e *Executor) Run() {
	e.wg.Add(1)
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.tick()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.tick()
		case <-e.alarmCh:
			e.tick()
		}
	}
}

// Shutdown stops the scan loop and waits for the in-flight tick, if any,
// to finish.
func (e *Executor) Shutdown() {
	e.cancel()
	e.wg.Wait()
}

func (e *Executor) tick() {
	now := time.Now()
	ready, err := e.store.ListReadyServices(now)
	if err != nil {
		e.log.Errorf("lifecycle: list ready services: %v", err)
		return
	}
	for _, fqsi := range ready {
		e.process(fqsi, now)
	}
}

// process dispatches one ready fqsi's pending command to its registered
// handler and commits the resulting batch atomically. Any error — no
// pending row, no registered handler, a handler failure, or a commit
// failure — is logged and left for the next tick; no partial effect is
// ever committed (§4.9 "partial effects must never be observable").
func (e *Executor) process(fqsi string, now time.Time) {
	ls, found, err := e.store.GetLifecycleService(fqsi)
	if err != nil {
		e.log.Errorf("lifecycle: get lifecycle service %s: %v", fqsi, err)
		return
	}
	if !found {
		return
	}

	handler, ok := e.handlerFor(ls.ServiceType)
	if !ok {
		e.log.Warnf("lifecycle: %s: %v (service_type=%s)", fqsi, ErrNoHandler, ls.ServiceType)
		return
	}

	var (
		cmds []store.Command
		step string
	)
	switch ls.Command {
	case store.CommandPrepare:
		step = "prepare"
		cmds, err = handler.Prepare(fqsi, ls.Arguments)
	case store.CommandFinalize:
		step = "finalize"
		cmds, err = handler.Finalize(fqsi, ls.Arguments)
	case store.CommandRetire:
		step = "retire"
		cmds, err = handler.Retire(fqsi, ls.Arguments)
	case store.CommandPurge:
		step = "purge"
		cmds, err = handler.Purge(fqsi, ls.Arguments)
	default:
		e.log.Errorf("lifecycle: %s: unknown lifecycle command %v", fqsi, ls.Command)
		return
	}
	if err != nil {
		e.log.Warnf("lifecycle: %s: %s handler: %v (retrying next tick)", fqsi, step, err)
		return
	}
	if len(cmds) == 0 {
		return
	}
	if err := e.store.ExecuteBatch(cmds); err != nil {
		e.log.Errorf("lifecycle: %s: %s commit: %v (retrying next tick)", fqsi, step, err)
	}
}
