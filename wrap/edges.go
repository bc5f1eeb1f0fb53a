package wrap

import (
	"context"

	"github.com/99souls/watchgraph/causal"
	"github.com/99souls/watchgraph/graph"
)

// recordPoll creates a polls edge from the current causal target (if
// any) to target, for a synchronous non-suspending attempt (try-send,
// try-lock, and similar).
func recordPoll(ctx context.Context, store *graph.Store, target string) {
	ct, ok := causal.Current(ctx)
	if !ok {
		return
	}
	store.AddEdge(ct.ID, target, graph.EdgePolls)
}

// beginWait replaces any existing polls edge from the causal target with
// a waiting_on edge, for a suspending wait about to block. Call
// endWait on every exit path, cancellation included.
func beginWait(ctx context.Context, store *graph.Store, target string) (causal.EntityRef, bool) {
	ct, ok := causal.Current(ctx)
	if !ok {
		return causal.EntityRef{}, false
	}
	store.RemoveEdge(ct.ID, target, graph.EdgePolls)
	store.AddEdge(ct.ID, target, graph.EdgeWaitingOn)
	return ct, true
}

// endWait removes the waiting_on edge created by beginWait. Safe to call
// on any exit path (normal resolution or cancellation); idempotent.
func endWait(store *graph.Store, ct causal.EntityRef, target string) {
	store.RemoveEdge(ct.ID, target, graph.EdgeWaitingOn)
}

// holder returns the current causal target for a holds edge. When the
// caller never pushed one (e.g. a goroutine that never registered a
// future wrapper) there is no holder entity to point at, and no holds
// edge is emitted — fabricating an endpoint would leave the graph with
// an edge to an entity that does not exist, which a cut must never
// serialize. The underlying primitive state is still tracked through
// the entity body either way.
func holder(ctx context.Context) (causal.EntityRef, bool) {
	return causal.Current(ctx)
}
