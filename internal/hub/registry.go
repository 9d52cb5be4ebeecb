package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Handler receives the raw arguments of a server invocation.
type Handler func(args []json.RawMessage)

type entry struct {
	id uint64
	fn Handler
}

// registry maps event names to subscribers. Dispatch order is
// subscription order.
type registry struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]entry
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string][]entry)}
}

func (r *registry) add(event string, fn Handler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.handlers[event] = append(r.handlers[event], entry{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(event, id) })
	}
}

func (r *registry) remove(event string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.handlers[event]
	for i, e := range list {
		if e.id == id {
			r.handlers[event] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(r.handlers[event]) == 0 {
		delete(r.handlers, event)
	}
}

// dispatch calls every handler for event and returns how many ran.
// The lock is not held while handlers run.
func (r *registry) dispatch(event string, args []json.RawMessage) int {
	r.mu.RLock()
	list := r.handlers[event]
	snapshot := make([]Handler, len(list))
	for i, e := range list {
		snapshot[i] = e.fn
	}
	r.mu.RUnlock()

	for _, fn := range snapshot {
		fn(args)
	}
	return len(snapshot)
}

// decodeFirst adapts a typed callback to a Handler that decodes the first
// argument into T. Undecodable payloads are logged and dropped.
func decodeFirst[T any](logger *slog.Logger, event string, fn func(T)) Handler {
	return func(args []json.RawMessage) {
		var v T
		if len(args) == 0 {
			logger.Warn("Hub event without payload", "event", event)
			return
		}
		if err := json.Unmarshal(args[0], &v); err != nil {
			logger.Warn("Failed to decode hub event", "event", event, "error", err)
			return
		}
		fn(v)
	}
}
