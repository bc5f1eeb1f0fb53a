// Package handle encodes ownership and lifetime discipline for graph
// objects (component C2), so that ordinary control flow — including
// panics and early returns, via defer — cannot leave the graph store in
// an inconsistent state. Wrapper code (package wrap) must never call
// package graph directly; every mutation path goes through a handle.
package handle

import (
	"sync/atomic"

	"github.com/99souls/watchgraph/backtrace"
	"github.com/99souls/watchgraph/graph"
	"github.com/99souls/watchgraph/internal/invariant"
)

// EntityHandle is an owning, reference-counted handle to an entity,
// typed by the body slot S it may mutate. The last Close call removes
// the entity from the store.
type EntityHandle[S graph.Body] struct {
	id    string
	store *graph.Store
	refs  *atomic.Int32
}

// NewEntity creates a new entity in store and returns its owning handle.
func NewEntity[S graph.Body](store *graph.Store, id string, body S, source backtrace.Source, scope string) (EntityHandle[S], error) {
	if err := store.UpsertEntity(id, body, source, scope); err != nil {
		return EntityHandle[S]{}, err
	}
	refs := &atomic.Int32{}
	refs.Store(1)
	return EntityHandle[S]{id: id, store: store, refs: refs}, nil
}

// ID returns the entity's identity string.
func (h EntityHandle[S]) ID() string { return h.id }

// Clone returns a new owning reference to the same entity, incrementing
// the shared refcount. Cloning never emits a change.
func (h EntityHandle[S]) Clone() EntityHandle[S] {
	h.refs.Add(1)
	return h
}

// Close drops this owning reference. The last Close call removes the
// entity from the store.
func (h EntityHandle[S]) Close() {
	if h.refs == nil {
		return
	}
	remaining := h.refs.Add(-1)
	invariant.Check(remaining >= 0, "EntityHandle closed more times than it was cloned")
	if remaining == 0 {
		h.store.RemoveEntity(h.id)
	}
}

// Downgrade returns a non-owning WeakEntityHandle to the same entity.
func (h EntityHandle[S]) Downgrade() WeakEntityHandle[S] {
	return WeakEntityHandle[S]{id: h.id, store: h.store}
}

// Mutate reads the current body, runs fn on a mutable copy, and upserts
// only if the body changed (content-hash comparison happens inside
// Store.UpsertEntity, giving the "no allocation in the no-change case"
// property at the store layer). fn must not re-enter store APIs — mutate
// closures are documented to be side-effect-free with respect to the
// graph store, this is not enforced by the type system.
func (h EntityHandle[S]) Mutate(source backtrace.Source, scope string, fn func(body *S)) error {
	body, ok := h.store.GetBody(h.id)
	var typed S
	if ok {
		typed, ok = body.(S)
		if !ok {
			return graph.ErrInvalidBodyTransition
		}
	}
	fn(&typed)
	return h.store.UpsertEntity(h.id, typed, source, scope)
}

// LinkTo creates an idempotent edge from this entity to other. No handle
// is returned; the edge persists until explicitly removed or either
// endpoint is dropped.
func (h EntityHandle[S]) LinkTo(other string, kind graph.EdgeKind) {
	h.store.AddEdge(h.id, other, kind)
}

// LinkToOwned creates an edge and returns an EdgeHandle that removes it
// on Close.
func (h EntityHandle[S]) LinkToOwned(other string, kind graph.EdgeKind) EdgeHandle {
	h.store.AddEdge(h.id, other, kind)
	return EdgeHandle{src: h.id, dst: other, kind: kind, store: h.store}
}

// LinkToScope marks this entity as owned by scope.
func (h EntityHandle[S]) LinkToScope(scope ScopeHandle) {
	h.store.UpsertScope(scope.id, scope.name, scope.source, scope.parent)
}

// WeakEntityHandle is a non-owning reference. Mutate is a silent no-op if
// no owning EntityHandle for the identity remains.
type WeakEntityHandle[S graph.Body] struct {
	id    string
	store *graph.Store
}

// ID returns the entity's identity string.
func (w WeakEntityHandle[S]) ID() string { return w.id }

// Mutate runs fn and upserts only if the entity still exists; it is a
// no-op (not an error) if the entity has already been dropped. This is
// what makes cross-peer updates (a receiver decrementing the sender's
// queue length) safe regardless of drop order.
func (w WeakEntityHandle[S]) Mutate(source backtrace.Source, scope string, fn func(body *S)) error {
	current, ok := w.store.GetBody(w.id)
	if !ok {
		return nil
	}
	typed, ok := current.(S)
	if !ok {
		return graph.ErrInvalidBodyTransition
	}
	fn(&typed)
	return w.store.UpsertEntity(w.id, typed, source, scope)
}

// ScopeHandle is an owning handle to a scope; the last Close removes the
// scope and transitively removes its member entities.
type ScopeHandle struct {
	id     string
	name   string
	source backtrace.Source
	parent string
	store  *graph.Store
	refs   *atomic.Int32
}

// NewScope creates a new scope and returns its owning handle.
func NewScope(store *graph.Store, id, name string, source backtrace.Source, parent string) ScopeHandle {
	store.UpsertScope(id, name, source, parent)
	refs := &atomic.Int32{}
	refs.Store(1)
	return ScopeHandle{id: id, name: name, source: source, parent: parent, store: store, refs: refs}
}

// ID returns the scope's identity string.
func (s ScopeHandle) ID() string { return s.id }

// Clone returns a new owning reference to the same scope.
func (s ScopeHandle) Clone() ScopeHandle {
	s.refs.Add(1)
	return s
}

// Close drops this owning reference; the last Close removes the scope.
func (s ScopeHandle) Close() {
	if s.refs == nil {
		return
	}
	remaining := s.refs.Add(-1)
	invariant.Check(remaining >= 0, "ScopeHandle closed more times than it was cloned")
	if remaining == 0 {
		s.store.RemoveScope(s.id)
	}
}

// EdgeHandle is an owning handle to an edge, storing only the (src, dst,
// kind) triple rather than strong references to the endpoints, so the
// handle graph remains a forest rather than a cycle. The last Close
// attempts RemoveEdge, a no-op if either endpoint is already gone.
type EdgeHandle struct {
	src, dst string
	kind     graph.EdgeKind
	store    *graph.Store
	closed   atomic.Bool
}

// Close removes the edge, if not already removed.
func (e *EdgeHandle) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.store.RemoveEdge(e.src, e.dst, e.kind)
}
