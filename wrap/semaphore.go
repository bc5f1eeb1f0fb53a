package wrap

import (
	"context"
	"sync"

	"github.com/99souls/watchgraph/backtrace"
	"github.com/99souls/watchgraph/graph"
	"github.com/99souls/watchgraph/handle"
	"github.com/99souls/watchgraph/identity"
	"github.com/99souls/watchgraph/internal/invariant"
)

// Semaphore is a weighted counting semaphore, grounded on the same
// sharded-permit accounting discipline the teacher's rate limiter used
// for its own token buckets, specialized here to plain unsharded
// counting (the instrumentation overhead, not lock contention, is what
// this spec cares about) plus per-holder refcounting so a multi-permit
// holder emits exactly one holds edge.
type Semaphore struct {
	mu      sync.Mutex
	max     int
	handed  int
	holders map[string]int // holder key -> permits held
	waiters map[int64]chan struct{}
	nextID  int64

	self  handle.EntityHandle[SemaphoreBody]
	store *graph.Store
}

// NewSemaphore creates a named semaphore entity with maxPermits permits.
func NewSemaphore(store *graph.Store, procKey, name string, maxPermits int, source backtrace.Source, scope string) (*Semaphore, error) {
	id := identity.SemaphoreID(procKey, name)
	h, err := handle.NewEntity[SemaphoreBody](store, id, SemaphoreBody{MaxPermits: maxPermits}, source, scope)
	if err != nil {
		return nil, err
	}
	return &Semaphore{max: maxPermits, holders: make(map[string]int), waiters: make(map[int64]chan struct{}), self: h, store: store}, nil
}

func (s *Semaphore) wake() {
	for _, ch := range s.waiters {
		close(ch)
	}
	s.waiters = make(map[int64]chan struct{})
}

// holderKey derives the stable per-holder token permits are refcounted
// under. A causal holder keys by its entity id and gets a holds edge; a
// caller with no causal target shares the empty key and gets no edge
// (there is no holder entity for one to point at). Acquire and Release
// derive the key the same way, so the two always agree for a given
// calling context.
func holderKey(ctx context.Context) (string, bool) {
	if ct, ok := holder(ctx); ok {
		return ct.ID, true
	}
	return "", false
}

// Acquire blocks until n permits are available.
func (s *Semaphore) Acquire(ctx context.Context, source backtrace.Source, n int) error {
	key, hasHolder := holderKey(ctx)

	s.mu.Lock()
	if s.max-s.handed >= n {
		s.handed += n
		first := s.holders[key] == 0
		s.holders[key] += n
		handed := s.handed
		s.mu.Unlock()
		_ = s.self.Mutate(source, "", func(b *SemaphoreBody) { b.MaxPermits = s.max; b.HandedOut = handed })
		if hasHolder && first {
			s.store.AddEdge(s.self.ID(), key, graph.EdgeHolds)
		}
		return nil
	}
	s.mu.Unlock()

	waitCt, hasCausal := beginWait(ctx, s.store, s.self.ID())
	defer func() {
		if hasCausal {
			endWait(s.store, waitCt, s.self.ID())
		}
	}()

	for {
		s.mu.Lock()
		if s.max-s.handed >= n {
			s.handed += n
			first := s.holders[key] == 0
			s.holders[key] += n
			handed := s.handed
			s.mu.Unlock()
			_ = s.self.Mutate(source, "", func(b *SemaphoreBody) { b.MaxPermits = s.max; b.HandedOut = handed })
			if hasHolder && first {
				s.store.AddEdge(s.self.ID(), key, graph.EdgeHolds)
			}
			return nil
		}
		id := s.nextID
		s.nextID++
		ch := make(chan struct{})
		s.waiters[id] = ch
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			s.mu.Lock()
			delete(s.waiters, id)
			s.mu.Unlock()
			return ctx.Err()
		}
	}
}

// Release gives back n permits previously acquired under the same
// calling context; the holds edge disappears only once that holder's
// refcount reaches zero.
func (s *Semaphore) Release(ctx context.Context, n int) {
	key, hasHolder := holderKey(ctx)

	s.mu.Lock()
	invariant.Check(s.holders[key] >= n, "Semaphore released more permits than this holder acquired")
	s.handed -= n
	s.holders[key] -= n
	last := s.holders[key] <= 0
	if last {
		delete(s.holders, key)
	}
	handed := s.handed
	s.wake()
	s.mu.Unlock()

	_ = s.self.Mutate(0, "", func(b *SemaphoreBody) { b.MaxPermits = s.max; b.HandedOut = handed })
	if hasHolder && last {
		s.store.RemoveEdge(s.self.ID(), key, graph.EdgeHolds)
	}
}

// Close drops the semaphore's owning handle.
func (s *Semaphore) Close() { s.self.Close() }
