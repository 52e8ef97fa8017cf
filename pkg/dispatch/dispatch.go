// Package dispatch implements C6: a typed registry of handlers keyed by
// wire.Tag, decoding an inbound frame and invoking the matching handler
// with a reply sender bound to the originating connection.
package dispatch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Cargill/splinter-sub011/pkg/wire"
)

// MessageSender lets a handler reply on the same connection the inbound
// message arrived on (§4.5 "MessageSender<source_id>").
type MessageSender interface {
	Send(sourceID string, env wire.Envelope) error
}

// Handler processes one decoded envelope for a given tag.
type Handler interface {
	Handle(sourceID string, env wire.Envelope, sender MessageSender) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(sourceID string, env wire.Envelope, sender MessageSender) error

func (f HandlerFunc) Handle(sourceID string, env wire.Envelope, sender MessageSender) error {
	return f(sourceID, env, sender)
}

// Dispatcher is C6.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[wire.Tag]Handler
}

// New builds an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[wire.Tag]Handler)}
}

// Register associates a Handler with tag. Re-registering a tag replaces
// the previous handler.
func (d *Dispatcher) Register(tag wire.Tag, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[tag] = h
}

// Dispatch decodes raw into an Envelope and invokes the handler
// registered for its tag. An unknown tag or decode failure is a
// DispatchError (§7): the frame is dropped, the connection is not
// closed.
func (d *Dispatcher) Dispatch(sourceID string, raw []byte, sender MessageSender) error {
	env, err := wire.Decode(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDispatch, err)
	}

	d.mu.RLock()
	h, ok := d.handlers[env.Tag]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no handler registered for tag %s", ErrDispatch, env.Tag)
	}
	return h.Handle(sourceID, env, sender)
}

// ErrDispatch is returned for an unknown type tag or a decode failure.
var ErrDispatch = errors.New("dispatch error")
