package lifecycle

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Cargill/splinter-sub011/pkg/admin/store"
	"github.com/Cargill/splinter-sub011/pkg/admin/store/memstore"
	"github.com/Cargill/splinter-sub011/pkg/logging"
)

// recordingHandler counts invocations per lifecycle step and returns a
// canned command batch, optionally failing the first N calls to a given
// step to exercise retry-on-next-tick.
type recordingHandler struct {
	mu        sync.Mutex
	prepares  int
	failUntil int
	done      chan struct{}
}

func (h *recordingHandler) Prepare(fqsi string, args []store.Argument) ([]store.Command, error) {
	h.mu.Lock()
	h.prepares++
	n := h.prepares
	h.mu.Unlock()

	if n <= h.failUntil {
		return nil, errors.New("not ready yet")
	}
	select {
	case h.done <- struct{}{}:
	default:
	}
	return []store.Command{store.RemoveLifecycleServiceCmd(fqsi)}, nil
}

func (h *recordingHandler) Finalize(fqsi string, args []store.Argument) ([]store.Command, error) {
	return nil, errors.New("unused")
}
func (h *recordingHandler) Retire(fqsi string, args []store.Argument) ([]store.Command, error) {
	return nil, errors.New("unused")
}
func (h *recordingHandler) Purge(fqsi string, args []store.Argument) ([]store.Command, error) {
	return nil, errors.New("unused")
}

func newTestExecutor(st store.Store) *Executor {
	return New(st, time.Hour, logging.New("lifecycle-test"))
}

func TestExecutor_DispatchesReadyServiceToRegisteredHandler(t *testing.T) {
	defer goleak.VerifyNone(t)

	st := memstore.New()
	fqsi := "circuit-AAAAA-BBBBB::svc0"
	if err := st.AddLifecycleService(store.LifecycleService{
		Fqsi: fqsi, ServiceType: "echo", Command: store.CommandPrepare,
	}); err != nil {
		t.Fatalf("AddLifecycleService: %v", err)
	}
	if err := st.SetAlarm(store.Alarm{Fqsi: fqsi, Kind: store.AlarmLifecycle, When: time.Now().Add(-time.Second)}); err != nil {
		t.Fatalf("SetAlarm: %v", err)
	}

	h := &recordingHandler{done: make(chan struct{}, 1)}
	e := newTestExecutor(st)
	e.RegisterHandler("echo", h)

	e.tick()

	if h.prepares != 1 {
		t.Fatalf("got %d prepare calls, want 1", h.prepares)
	}
	if _, found, _ := st.GetLifecycleService(fqsi); found {
		t.Fatal("expected lifecycle row removed after handler succeeded")
	}
}

func TestExecutor_FailedHandlerLeavesRowForRetry(t *testing.T) {
	defer goleak.VerifyNone(t)

	st := memstore.New()
	fqsi := "circuit-AAAAA-BBBBB::svc0"
	_ = st.AddLifecycleService(store.LifecycleService{Fqsi: fqsi, ServiceType: "echo", Command: store.CommandPrepare})
	_ = st.SetAlarm(store.Alarm{Fqsi: fqsi, Kind: store.AlarmLifecycle, When: time.Now().Add(-time.Second)})

	h := &recordingHandler{failUntil: 1, done: make(chan struct{}, 1)}
	e := newTestExecutor(st)
	e.RegisterHandler("echo", h)

	e.tick()
	if _, found, _ := st.GetLifecycleService(fqsi); !found {
		t.Fatal("expected lifecycle row to survive a failed attempt")
	}

	// The alarm is still in the past, so the same fqsi stays ready and a
	// second tick retries it.
	e.tick()
	if h.prepares != 2 {
		t.Fatalf("got %d prepare calls, want 2", h.prepares)
	}
	if _, found, _ := st.GetLifecycleService(fqsi); found {
		t.Fatal("expected lifecycle row removed once the retry succeeded")
	}
}

func TestExecutor_UnregisteredServiceTypeIsSkippedNotFatal(t *testing.T) {
	defer goleak.VerifyNone(t)

	st := memstore.New()
	fqsi := "circuit-AAAAA-BBBBB::svc0"
	_ = st.AddLifecycleService(store.LifecycleService{Fqsi: fqsi, ServiceType: "mystery", Command: store.CommandPrepare})
	_ = st.SetAlarm(store.Alarm{Fqsi: fqsi, Kind: store.AlarmLifecycle, When: time.Now().Add(-time.Second)})

	e := newTestExecutor(st)
	e.tick()

	if _, found, _ := st.GetLifecycleService(fqsi); !found {
		t.Fatal("expected row to remain pending with no handler registered")
	}
}

func TestExecutor_RunRespondsToAlarmThenShutsDownCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	st := memstore.New()
	fqsi := "circuit-AAAAA-BBBBB::svc0"
	_ = st.AddLifecycleService(store.LifecycleService{Fqsi: fqsi, ServiceType: "echo", Command: store.CommandPrepare})
	_ = st.SetAlarm(store.Alarm{Fqsi: fqsi, Kind: store.AlarmLifecycle, When: time.Now().Add(-time.Second)})

	h := &recordingHandler{done: make(chan struct{}, 1)}
	e := New(st, time.Hour, logging.New("lifecycle-test"))
	e.RegisterHandler("echo", h)

	go e.Run()
	e.Alarm()

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler to run")
	}

	e.Shutdown()
}

func TestResolver_ServiceTypeFromRoster(t *testing.T) {
	st := memstore.New()
	if err := st.AddCircuit(store.Circuit{
		CircuitId: "circuit-AAAAA-BBBBB",
		Roster: []store.Service{
			{ServiceId: "svc0", ServiceType: "echo"},
		},
	}); err != nil {
		t.Fatalf("AddCircuit: %v", err)
	}

	r := NewResolver(st)
	got, err := r.ServiceType("circuit-AAAAA-BBBBB", "svc0")
	if err != nil || got != "echo" {
		t.Fatalf("got %q, %v", got, err)
	}

	if _, err := r.ServiceType("circuit-AAAAA-BBBBB", "ghost"); !errors.Is(err, ErrUnknownService) {
		t.Fatalf("got %v, want ErrUnknownService", err)
	}
	if _, err := r.ServiceType("missing-circuit", "svc0"); !errors.Is(err, ErrUnknownCircuit) {
		t.Fatalf("got %v, want ErrUnknownCircuit", err)
	}
}
