package echo

import (
	"time"

	"github.com/Cargill/splinter-sub011/pkg/admin/store"
	"github.com/Cargill/splinter-sub011/pkg/lifecycle"
	"github.com/Cargill/splinter-sub011/pkg/logging"
)

var _ lifecycle.LifecycleHandler = (*LifecycleHandler)(nil)

// LifecycleHandler implements pkg/lifecycle.LifecycleHandler for the
// "echo" service_type. It has no 2PC work to drive: Prepare validates
// the arguments and advances the pending LifecycleService row to
// Finalize, Retire advances it to Purge, and Finalize and Purge just
// remove the row (§4.9).
type LifecycleHandler struct {
	Log logging.Logger
}

func advance(fqsi string, args []store.Argument, next store.LifecycleCommand) []store.Command {
	return []store.Command{
		store.RemoveLifecycleServiceCmd(fqsi),
		store.AddLifecycleServiceCmd(store.LifecycleService{
			Fqsi:        fqsi,
			ServiceType: "echo",
			Arguments:   args,
			Command:     next,
			Status:      store.LifecycleNew,
		}),
		store.SetAlarmCmd(store.Alarm{Fqsi: fqsi, Kind: store.AlarmLifecycle, When: time.Now()}),
	}
}

// Prepare validates the service's arguments and advances it to Finalize.
func (h *LifecycleHandler) Prepare(fqsi string, args []store.Argument) ([]store.Command, error) {
	if _, err := FromStoreArguments(args); err != nil {
		return nil, err
	}
	h.Log.Debugf("echo: %s prepared", fqsi)
	return advance(fqsi, args, store.CommandFinalize), nil
}

// Finalize has no work of its own for a plain (non-2PC) service type;
// it just clears the pending row. The service is now active until a
// roster change enqueues Retire.
func (h *LifecycleHandler) Finalize(fqsi string, args []store.Argument) ([]store.Command, error) {
	h.Log.Debugf("echo: %s finalized", fqsi)
	return []store.Command{store.RemoveLifecycleServiceCmd(fqsi)}, nil
}

// Retire advances to Purge; the service stops being routable once this
// step commits, but its lifecycle row isn't fully gone until Purge runs.
func (h *LifecycleHandler) Retire(fqsi string, args []store.Argument) ([]store.Command, error) {
	h.Log.Debugf("echo: %s retired", fqsi)
	return advance(fqsi, args, store.CommandPurge), nil
}

// Purge clears the final pending row; the service is gone.
func (h *LifecycleHandler) Purge(fqsi string, args []store.Argument) ([]store.Command, error) {
	h.Log.Debugf("echo: %s purged", fqsi)
	return []store.Command{store.RemoveLifecycleServiceCmd(fqsi)}, nil
}
