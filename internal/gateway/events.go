// ABOUTME: Event subscription table and sequential dispatch for gateway events.
// ABOUTME: Handlers are deduplicated by identity and isolated from each other.

package gateway

import (
	"encoding/json"
	"log/slog"
	"reflect"
	"sync"
)

// EventHandler receives the payload of one gateway event. Handlers for a
// single event run sequentially in registration order; a panic in one handler
// is recovered and logged without affecting the others or the read loop.
type EventHandler func(payload json.RawMessage)

type dispatcher struct {
	mu       sync.Mutex
	handlers map[string][]EventHandler
	logger   *slog.Logger
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	return &dispatcher{
		handlers: make(map[string][]EventHandler),
		logger:   logger,
	}
}

// subscribe registers handler for the named event. Dedup is by the handler's
// code pointer: registering the same function or method value twice under
// one name is a no-op, and two closures built from the same function literal
// count as the same handler even when they capture different state. Handlers
// that must coexist under one event name need distinct function literals.
// Subscriptions live for the lifetime of the client and survive reconnects.
func (d *dispatcher) subscribe(name string, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ptr := reflect.ValueOf(handler).Pointer()
	for _, existing := range d.handlers[name] {
		if reflect.ValueOf(existing).Pointer() == ptr {
			d.logger.Warn("duplicate event handler ignored", "event", name)
			return
		}
	}
	d.handlers[name] = append(d.handlers[name], handler)
	d.logger.Debug("registered event handler",
		"event", name,
		"handlers", len(d.handlers[name]),
	)
}

// dispatch invokes every handler registered for name, in order. Events with
// no handlers are new or unrecognized event types; they are logged and
// dropped for forward compatibility.
func (d *dispatcher) dispatch(name string, payload json.RawMessage) {
	d.mu.Lock()
	handlers := make([]EventHandler, len(d.handlers[name]))
	copy(handlers, d.handlers[name])
	d.mu.Unlock()

	if len(handlers) == 0 {
		d.logger.Debug("no handlers for event", "event", name)
		return
	}

	for _, handler := range handlers {
		d.invoke(name, handler, payload)
	}
}

// invoke runs one handler with panic isolation.
func (d *dispatcher) invoke(name string, handler EventHandler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked",
				"event", name,
				"panic", r,
			)
		}
	}()
	handler(payload)
}
