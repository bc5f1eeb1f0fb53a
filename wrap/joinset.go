package wrap

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/99souls/watchgraph/backtrace"
	"github.com/99souls/watchgraph/causal"
	"github.com/99souls/watchgraph/graph"
	"github.com/99souls/watchgraph/handle"
	"github.com/99souls/watchgraph/identity"
)

// JoinSet is a bounded group of spawned tasks, grounded on
// errgroup.Group's SetLimit bound, generalized so every spawned task
// also gets its own future entity (component C3's "(uses future per
// task)" mapping) instead of being invisible to the graph the way a
// bare errgroup task is.
type JoinSet[T any] struct {
	store   *graph.Store
	procKey string
	scope   string

	mu      sync.Mutex
	ordinal uint64
	handles []handle.EntityHandle[FutureBody]

	group *errgroup.Group
	gctx  context.Context
}

// NewJoinSet creates a join set bounded to at most maxConcurrent
// in-flight tasks; maxConcurrent <= 0 means unbounded, matching
// errgroup.Group's default.
func NewJoinSet[T any](ctx context.Context, store *graph.Store, procKey, scope string, maxConcurrent int) *JoinSet[T] {
	g, gctx := errgroup.WithContext(ctx)
	if maxConcurrent > 0 {
		g.SetLimit(maxConcurrent)
	}
	return &JoinSet[T]{store: store, procKey: procKey, scope: scope, group: g, gctx: gctx}
}

// Spawn adds fn to the set. It registers a future entity immediately
// (so it is visible in the graph even while queued behind the
// concurrency limit) and runs fn once a slot frees up.
func (j *JoinSet[T]) Spawn(source backtrace.Source, fn func(ctx context.Context) (T, error)) error {
	j.mu.Lock()
	j.ordinal++
	id := identity.FutureID(j.procKey, j.ordinal)
	j.mu.Unlock()

	h, err := handle.NewEntity[FutureBody](j.store, id, FutureBody{PendingCount: 1}, source, j.scope)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.handles = append(j.handles, h)
	j.mu.Unlock()
	j.store.RecordEvent(id, graph.EventSpawn, source)

	j.group.Go(func() error {
		innerCtx := causal.Push(j.gctx, causal.EntityRef{ID: id})
		_, err := fn(innerCtx)
		_ = h.Mutate(source, "", func(b *FutureBody) { b.PendingCount = 0; b.ReadyCount = 1 })
		j.store.RecordEvent(id, graph.EventComplete, source)
		return err
	})
	return nil
}

// Wait blocks until every spawned task has completed (returning the
// first error, if any, per errgroup.Group semantics), then closes every
// task's future handle so the corresponding entities disappear from the
// graph.
func (j *JoinSet[T]) Wait() error {
	err := j.group.Wait()
	j.mu.Lock()
	handles := j.handles
	j.handles = nil
	j.mu.Unlock()
	for _, h := range handles {
		h.Close()
	}
	return err
}
