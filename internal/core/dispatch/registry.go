// Package dispatch routes a payload to the handler registered for its protocol number.
package dispatch

import (
	"fmt"
	"sort"
	"sync"

	"firestige.xyz/ministack/internal/core"
	"firestige.xyz/ministack/internal/core/buf"
)

// Handler consumes a payload. src is the sender address at the layer below
// (a MAC for link protocols, an IPv4 address for transport protocols).
type Handler[A any] func(b *buf.Buffer, src A)

// Registry maps protocol numbers to handlers.
type Registry[P ~uint8 | ~uint16, A any] struct {
	mu       sync.RWMutex
	handlers map[P]Handler[A]
}

// NewRegistry creates an empty registry.
func NewRegistry[P ~uint8 | ~uint16, A any]() *Registry[P, A] {
	return &Registry[P, A]{
		handlers: make(map[P]Handler[A]),
	}
}

// Register installs h for protocol, replacing any previous handler.
func (r *Registry[P, A]) Register(protocol P, h Handler[A]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[protocol] = h
}

// Unregister removes the handler for protocol.
func (r *Registry[P, A]) Unregister(protocol P) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, protocol)
}

// Dispatch hands b to the handler for protocol. The handler runs synchronously
// on the caller's goroutine.
func (r *Registry[P, A]) Dispatch(b *buf.Buffer, protocol P, src A) error {
	r.mu.RLock()
	h, ok := r.handlers[protocol]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: 0x%x", core.ErrProtocolNotFound, uint16(protocol))
	}
	h(b, src)
	return nil
}

// Protocols lists registered protocol numbers in ascending order.
func (r *Registry[P, A]) Protocols() []P {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]P, 0, len(r.handlers))
	for p := range r.handlers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
