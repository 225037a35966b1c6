// Package command is the in-module stand-in for the "command-dispatch
// framework" spec.md marks out of scope (spec.md §1, §9 "Polymorphic
// command dispatch"): a registry mapping command names to handler
// capabilities, replacing the inheritance hierarchy the source uses.
package command

import (
	"context"
	"fmt"
	"sync"
)

// Handler is one registered command's capabilities.
type Handler struct {
	// RequiresAdmin marks an admin-only command (spec.md §6: "all
	// admin, not replicated to secondaries").
	RequiresAdmin bool
	// Run executes the command against its single JSON-encoded argument
	// (the wire transport's one bulk-string arg), returning the
	// JSON-encoded reply bulk string.
	Run func(ctx context.Context, argsJSON []byte) ([]byte, error)
}

// Registry is a plain map-based command table, grounded on the teacher's
// Handler.commands registration pattern (internal/protocol/handler.go);
// this module does not replicate the teacher's 64-bucket cmdMap lookup
// table, since admin commands here are not the hot path that
// optimization targets.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds name to the registry. Panics on duplicate registration,
// which is a programming error caught at daemon startup.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("command: %s already registered", name))
	}
	r.handlers[name] = h
}

// Lookup returns the handler for name, if registered.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}
