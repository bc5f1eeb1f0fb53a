package wrap

import (
	"context"

	"github.com/99souls/watchgraph/backtrace"
	"github.com/99souls/watchgraph/causal"
	"github.com/99souls/watchgraph/graph"
	"github.com/99souls/watchgraph/handle"
)

// Future wraps a goroutine-computed result, pushing itself onto the
// causal stack for the duration of its body so nested wrapper calls
// attribute their edges to this future (component C4's push-on-entry /
// pop-on-return discipline).
type Future[T any] struct {
	self  handle.EntityHandle[FutureBody]
	store *graph.Store
	done  chan struct{}
	value T
	err   error
}

// Spawn starts fn on a new goroutine, running it with a context carrying
// this future as the current causal target. The returned Future's entity
// disappears when Close is called (typically via defer at the spawn
// site).
func Spawn[T any](ctx context.Context, store *graph.Store, id string, source backtrace.Source, scope string, fn func(ctx context.Context) (T, error)) (*Future[T], error) {
	h, err := handle.NewEntity[FutureBody](store, id, FutureBody{PendingCount: 1}, source, scope)
	if err != nil {
		return nil, err
	}
	f := &Future[T]{self: h, store: store, done: make(chan struct{})}
	innerCtx := causal.Push(ctx, causal.EntityRef{ID: id})
	go func() {
		v, err := fn(innerCtx)
		f.value, f.err = v, err
		_ = f.self.Mutate(source, "", func(b *FutureBody) { b.PendingCount = 0; b.ReadyCount = 1 })
		store.RecordEvent(id, graph.EventComplete, source)
		close(f.done)
	}()
	store.RecordEvent(id, graph.EventSpawn, source)
	return f, nil
}

// Await blocks for the future's result, or returns ctx.Err() if ctx is
// cancelled first (the future keeps running; cancellation here only
// stops the caller from waiting on it, matching Go's goroutine semantics
// — there is no implicit cancellation propagation into fn).
func (f *Future[T]) Await(ctx context.Context, source backtrace.Source) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
	}
	ct, hasCausal := beginWait(ctx, f.store, f.self.ID())
	defer func() {
		if hasCausal {
			endWait(f.store, ct, f.self.ID())
		}
	}()
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Close drops the future's owning handle, removing its entity.
func (f *Future[T]) Close() { f.self.Close() }
