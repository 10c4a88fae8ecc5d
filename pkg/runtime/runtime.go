// Package runtime defines the external handler contract that both the
// oracle and candidate implementations satisfy: a named function over
// value.Map inputs producing a value.Map output.
//
// Grounded on pkg/core/orchestrator's dispatch-by-name registry pattern
// (jhkimqd-chaos-utils), generalized from fault-injection actions to
// arbitrary verification node handlers.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jihwankim/vesper-verify/pkg/value"
)

// ErrNoHandler is returned by Execute when no handler is registered
// under the given node ID.
var ErrNoHandler = errors.New("runtime: no handler registered for node")

// Handler implements the verification logic for one node ID. It must
// be safe for concurrent use: the orchestrator may invoke the same
// handler from the oracle and candidate paths concurrently.
type Handler func(ctx context.Context, input value.Map) (value.Map, error)

// HandlerRegistry maps node IDs to Handlers. The zero value is usable.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry builds an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// RegisterHandler binds a node ID to a Handler, replacing any prior
// binding for that ID.
func (r *HandlerRegistry) RegisterHandler(nodeID string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[string]Handler)
	}
	r.handlers[nodeID] = h
}

// Has reports whether a handler is registered for nodeID.
func (r *HandlerRegistry) Has(nodeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[nodeID]
	return ok
}

// Execute invokes the handler registered for nodeID. Any panic raised
// by the handler is recovered and reported as an error, so a faulty
// handler can never take down the orchestrator's goroutines.
func (r *HandlerRegistry) Execute(ctx context.Context, nodeID string, input value.Map) (out value.Map, err error) {
	r.mu.RLock()
	h, ok := r.handlers[nodeID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, nodeID)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("runtime: handler %s panicked: %v", nodeID, rec)
		}
	}()
	return h(ctx, input)
}
