// Package tools defines the adapter contract every topology/inventory/outage/
// comment/hierarchy/memory tool implements, plus the generic result envelope
// they all write.
package tools

import (
	"context"

	"github.com/netopctl/topology-agent/orchestrator/state"
)

// Envelope is the uniform {payload, metadata, error?} shape every tool
// returns. It generalizes the untyped dict envelopes of the original
// implementation into a typed Go value while keeping the same three-field
// contract. A non-empty Error never causes the executor to abort sibling
// work; it is recorded inline so the correlator can mark the response
// partial.
type Envelope[T any] struct {
	Payload  T
	Metadata map[string]any
	Error    string
}

// ToState converts a typed Envelope into the untyped state.ToolEnvelope slot
// RequestState carries, JSON-shape preserved.
func (e Envelope[T]) ToState() state.ToolEnvelope {
	return state.ToolEnvelope{
		Payload:  e.Payload,
		Metadata: e.Metadata,
		Error:    e.Error,
	}
}

// ErrEnvelope builds an error envelope of type T's zero value, matching the
// original tools' "never raise, record inline" convention.
func ErrEnvelope[T any](errMsg string, metadata map[string]any) Envelope[T] {
	return Envelope[T]{Metadata: metadata, Error: errMsg}
}

// Tool is implemented by every adapter the planner can schedule. Run must
// never panic or return a non-nil error for ordinary tool-domain failures
// (missing driver, bad params, upstream timeout) — those are recorded in the
// returned state.ToolEnvelope's Error field instead. A non-nil error return
// is reserved for programmer errors the caller should treat as fatal.
type Tool interface {
	Name() state.Tool
	Run(ctx context.Context, st *state.RequestState, params map[string]any) (state.ToolEnvelope, error)
}

// Registry maps tool names to their adapters, built once at service startup
// and shared read-only across all requests.
type Registry struct {
	tools map[state.Tool]Tool
}

// NewRegistry builds a Registry from the given adapters, keyed by their own
// Name().
func NewRegistry(adapters ...Tool) *Registry {
	r := &Registry{tools: make(map[state.Tool]Tool, len(adapters))}
	for _, a := range adapters {
		r.tools[a.Name()] = a
	}
	return r
}

// Get returns the adapter registered for name, or ok=false if none is.
func (r *Registry) Get(name state.Tool) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}
