// Package eventbus implements the domain event bus: a single-producer,
// multi-consumer synchronous dispatcher. Components raise domain events
// (CA replaced, connectivity changed, session created, ...) and other
// components react by registering listeners for the event classes they
// care about.
package eventbus

import (
	"reflect"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/exp/slices"
)

// Event is any domain event. Implementations are typically small structs
// carrying just enough data for listeners to act (e.g. CaChanged{}).
type Event interface {
	// Class identifies the event's dynamic type for dispatch purposes.
	// reflect.TypeOf(event) is used when a caller does not override it.
	Class() string
}

// Result is returned by a Listener. A non-nil Cause is forwarded to the
// bus's error handler but never aborts dispatch to the remaining
// listeners.
type Result struct {
	Cause error
}

// Listener is a capability that can handle an emitted event.
type Listener interface {
	Handle(event Event) Result
}

// ListenerFunc adapts a plain function to the Listener interface.
type ListenerFunc func(event Event) Result

func (f ListenerFunc) Handle(event Event) Result { return f(event) }

// ErrorHandler receives the Cause of any listener that returns an error
// result. It is process-wide and optional.
type ErrorHandler func(event Event, listener Listener, err error)

// Bus dispatches events to registered listeners, in registration order,
// synchronously on the emitting goroutine. It is safe for concurrent
// Register/Emit calls: listener lists are copy-on-write so Emit never
// observes a half-mutated slice and never holds a lock while invoking a
// listener callback.
type Bus struct {
	logger       hclog.Logger
	errorHandler ErrorHandler

	mutex     sync.RWMutex
	listeners map[string][]Listener
}

// New creates an empty Bus. errorHandler may be nil, in which case
// listener errors are only logged.
func New(logger hclog.Logger, errorHandler ErrorHandler) *Bus {
	return &Bus{
		logger:       logger,
		errorHandler: errorHandler,
		listeners:    make(map[string][]Listener),
	}
}

// classOf resolves the dispatch key for an event: its own Class() if
// non-empty, otherwise its reflected type name.
func classOf(event Event) string {
	if class := event.Class(); class != "" {
		return class
	}
	return reflect.TypeOf(event).String()
}

// Register adds listener for class if it is not already registered for
// that class (set semantics by listener identity as sameListener decides
// it, since Listener may be a closure-backed ListenerFunc or a
// pointer-identity struct).
func (b *Bus) Register(class string, listener Listener) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	existing := b.listeners[class]
	for _, l := range existing {
		if sameListener(l, listener) {
			return
		}
	}

	next := append(slices.Clone(existing), listener)
	b.listeners[class] = next
}

// Unregister removes listener from class's subscriber list, if present.
func (b *Bus) Unregister(class string, listener Listener) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	existing := b.listeners[class]
	next := make([]Listener, 0, len(existing))
	for _, l := range existing {
		if !sameListener(l, listener) {
			next = append(next, l)
		}
	}
	b.listeners[class] = next
}

func sameListener(a, b Listener) bool {
	af, aok := a.(ListenerFunc)
	bf, bok := b.(ListenerFunc)
	if aok || bok {
		// function values are never comparable other than identity of the
		// slice/struct that wraps them; ListenerFunc values are only equal
		// to themselves by reference, so closures are always distinct
		// unless the caller passes back the exact same value.
		return aok && bok && reflect.ValueOf(af).Pointer() == reflect.ValueOf(bf).Pointer()
	}
	return a == b
}

// Emit dispatches event to every listener registered for its class, in
// registration order, exactly once per emission. Listener errors are
// forwarded to the error handler (if any) and logged; they never stop
// dispatch to the remaining listeners, and Emit itself never returns an
// error.
func (b *Bus) Emit(event Event) {
	class := classOf(event)

	b.mutex.RLock()
	listeners := b.listeners[class]
	b.mutex.RUnlock()

	for _, listener := range listeners {
		result := listener.Handle(event)
		if result.Cause != nil {
			if b.logger != nil {
				b.logger.Error("listener returned an error", "event_class", class, "error", result.Cause)
			}
			if b.errorHandler != nil {
				b.errorHandler(event, listener, result.Cause)
			}
		}
	}
}
