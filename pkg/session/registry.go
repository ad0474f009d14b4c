package session

import (
	"fmt"
	"sync"

	"github.com/pulsegate/pulsegate-go/pkg/wire"
)

// Handler processes an inbound event.
type Handler interface {
	Handle(event wire.Event)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(event wire.Event)

// Handle calls f(event).
func (f HandlerFunc) Handle(event wire.Event) { f(event) }

// HandlerID identifies a registered handler for removal.
type HandlerID uint64

// registration pairs a handler with its id, preserving registration
// order.
type registration struct {
	id      HandlerID
	handler Handler
}

// registry maps event types to ordered handler lists. A misbehaving
// handler is isolated: panics are recovered and reported through the
// onError callback, and dispatch continues with the next handler.
type registry struct {
	mu       sync.RWMutex
	nextID   HandlerID
	handlers map[string][]registration

	// onError is called with recovered handler panics. Never nil.
	onError func(eventType string, err error)
}

func newRegistry(onError func(eventType string, err error)) *registry {
	if onError == nil {
		onError = func(string, error) {}
	}
	return &registry{
		handlers: make(map[string][]registration),
		onError:  onError,
	}
}

// add registers a handler for an event type and returns its id.
func (r *registry) add(eventType string, h Handler) HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.handlers[eventType] = append(r.handlers[eventType], registration{id: id, handler: h})
	return id
}

// remove unregisters a single handler. It is a no-op if the id is
// unknown.
func (r *registry) remove(eventType string, id HandlerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.handlers[eventType]
	for i, reg := range regs {
		if reg.id == id {
			r.handlers[eventType] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(r.handlers[eventType]) == 0 {
		delete(r.handlers, eventType)
	}
}

// removeAll unregisters every handler for an event type.
func (r *registry) removeAll(eventType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, eventType)
}

// count returns the number of handlers for an event type.
func (r *registry) count(eventType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[eventType])
}

// dispatch invokes every handler registered for the event's type, in
// registration order.
func (r *registry) dispatch(event wire.Event) {
	r.mu.RLock()
	regs := r.handlers[event.Type]
	snapshot := make([]registration, len(regs))
	copy(snapshot, regs)
	r.mu.RUnlock()

	for _, reg := range snapshot {
		r.invoke(event, reg.handler)
	}
}

// invoke calls one handler, recovering panics so one handler cannot
// break dispatch to the others or the read loop.
func (r *registry) invoke(event wire.Event, h Handler) {
	defer func() {
		if rec := recover(); rec != nil {
			r.onError(event.Type, fmt.Errorf("handler panic: %v", rec))
		}
	}()
	h.Handle(event)
}
