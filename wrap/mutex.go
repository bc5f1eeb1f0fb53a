package wrap

import (
	"context"
	"sync"
	"time"

	"github.com/99souls/watchgraph/backtrace"
	"github.com/99souls/watchgraph/graph"
	"github.com/99souls/watchgraph/handle"
	"github.com/99souls/watchgraph/identity"
)

// Mutex is an instrumented sync.Mutex. While held, a holds edge runs
// from the lock entity to the causal target that acquired it.
type Mutex struct {
	mu    sync.Mutex
	self  handle.EntityHandle[LockBody]
	store *graph.Store
}

// Guard releases the lock on Close, removing the holds edge. Close is
// idempotent; releasing through Close works for both Mutex and RWLock
// acquisitions.
type Guard struct {
	release func()
	once    sync.Once
}

// Close releases the underlying lock and removes the holds edge.
func (g *Guard) Close() { g.once.Do(g.release) }

// NewMutex creates a named lock entity.
func NewMutex(store *graph.Store, procKey, name string, source backtrace.Source, scope string) (*Mutex, error) {
	id := identity.LockID(procKey, name)
	h, err := handle.NewEntity[LockBody](store, id, LockBody{Mode: LockMutex}, source, scope)
	if err != nil {
		return nil, err
	}
	return &Mutex{self: h, store: store}, nil
}

// TryLock attempts a non-blocking acquire.
func (m *Mutex) TryLock(ctx context.Context, source backtrace.Source) (*Guard, bool) {
	recordPoll(ctx, m.store, m.self.ID())
	if !m.mu.TryLock() {
		return nil, false
	}
	return m.acquire(ctx, source), true
}

// Lock blocks until acquired.
func (m *Mutex) Lock(ctx context.Context, source backtrace.Source) *Guard {
	if m.mu.TryLock() {
		return m.acquire(ctx, source)
	}
	ct, hasCausal := beginWait(ctx, m.store, m.self.ID())
	_ = m.self.Mutate(source, "", func(b *LockBody) { b.WaiterCount++ })
	start := time.Now()
	m.mu.Lock()
	m.store.ObserveLockWait(m.self.ID(), time.Since(start))
	_ = m.self.Mutate(source, "", func(b *LockBody) { b.WaiterCount-- })
	if hasCausal {
		endWait(m.store, ct, m.self.ID())
	}
	return m.acquire(ctx, source)
}

// Close drops the lock's owning handle, removing its entity when the
// last clone is closed.
func (m *Mutex) Close() { m.self.Close() }

func (m *Mutex) acquire(ctx context.Context, source backtrace.Source) *Guard {
	ct, hasHolder := holder(ctx)
	_ = m.self.Mutate(source, "", func(b *LockBody) { b.Mode = LockMutex; b.HolderCount = 1; b.Acquires++ })
	if hasHolder {
		m.store.AddEdge(m.self.ID(), ct.ID, graph.EdgeHolds)
	}
	return &Guard{release: func() {
		if hasHolder {
			m.store.RemoveEdge(m.self.ID(), ct.ID, graph.EdgeHolds)
		}
		_ = m.self.Mutate(0, "", func(b *LockBody) { b.HolderCount = 0; b.Releases++ })
		m.mu.Unlock()
	}}
}

// RWLock is an instrumented sync.RWMutex.
type RWLock struct {
	mu     sync.RWMutex
	self   handle.EntityHandle[LockBody]
	store  *graph.Store
	rmu    sync.Mutex
	rCount int
}

// NewRWLock creates a named read/write lock entity.
func NewRWLock(store *graph.Store, procKey, name string, source backtrace.Source, scope string) (*RWLock, error) {
	id := identity.LockID(procKey, name)
	h, err := handle.NewEntity[LockBody](store, id, LockBody{Mode: LockRead}, source, scope)
	if err != nil {
		return nil, err
	}
	return &RWLock{self: h, store: store}, nil
}

// Close drops the lock's owning handle.
func (l *RWLock) Close() { l.self.Close() }

// RLock acquires a shared read lock.
func (l *RWLock) RLock(ctx context.Context, source backtrace.Source) *Guard {
	if !l.tryRLock() {
		ct, hasCausal := beginWait(ctx, l.store, l.self.ID())
		start := time.Now()
		l.mu.RLock()
		l.store.ObserveLockWait(l.self.ID(), time.Since(start))
		l.bumpReaders(1)
		if hasCausal {
			endWait(l.store, ct, l.self.ID())
		}
	}
	ct, hasHolder := holder(ctx)
	_ = l.self.Mutate(source, "", func(b *LockBody) { b.Mode = LockRead; b.HolderCount = l.readers(); b.Acquires++ })
	if hasHolder {
		l.store.AddEdge(l.self.ID(), ct.ID, graph.EdgeHolds)
	}
	return &Guard{release: func() {
		if hasHolder {
			l.store.RemoveEdge(l.self.ID(), ct.ID, graph.EdgeHolds)
		}
		l.bumpReaders(-1)
		l.mu.RUnlock()
		_ = l.self.Mutate(0, "", func(b *LockBody) { b.Mode = LockRead; b.HolderCount = l.readers(); b.Releases++ })
	}}
}

func (l *RWLock) tryRLock() bool {
	if l.mu.TryRLock() {
		l.bumpReaders(1)
		return true
	}
	return false
}

func (l *RWLock) bumpReaders(delta int) {
	l.rmu.Lock()
	l.rCount += delta
	l.rmu.Unlock()
}

func (l *RWLock) readers() int {
	l.rmu.Lock()
	defer l.rmu.Unlock()
	return l.rCount
}

// WLock acquires the exclusive write lock.
func (l *RWLock) WLock(ctx context.Context, source backtrace.Source) *Guard {
	if !l.mu.TryLock() {
		ct, hasCausal := beginWait(ctx, l.store, l.self.ID())
		start := time.Now()
		l.mu.Lock()
		l.store.ObserveLockWait(l.self.ID(), time.Since(start))
		if hasCausal {
			endWait(l.store, ct, l.self.ID())
		}
	}
	ct, hasHolder := holder(ctx)
	_ = l.self.Mutate(source, "", func(b *LockBody) { b.Mode = LockWrite; b.HolderCount = 1; b.Acquires++ })
	if hasHolder {
		l.store.AddEdge(l.self.ID(), ct.ID, graph.EdgeHolds)
	}
	return &Guard{release: func() {
		if hasHolder {
			l.store.RemoveEdge(l.self.ID(), ct.ID, graph.EdgeHolds)
		}
		_ = l.self.Mutate(0, "", func(b *LockBody) { b.Mode = LockRead; b.HolderCount = 0; b.Releases++ })
		l.mu.Unlock()
	}}
}
