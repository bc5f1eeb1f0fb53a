package wrap

import (
	"context"
	"sync"

	"github.com/99souls/watchgraph/backtrace"
	"github.com/99souls/watchgraph/graph"
	"github.com/99souls/watchgraph/handle"
)

// Notify is a condition-variable-like wake signal with no payload:
// waiters suspended before a Notify call wake; a Notify with no waiters
// is not remembered (matches the host runtime's Notify primitive, not a
// sticky event).
type Notify struct {
	mu      sync.Mutex
	waiters map[int64]chan struct{}
	nextID  int64

	self  handle.EntityHandle[NotifyBody]
	store *graph.Store
}

// NewNotify creates a named notify entity.
func NewNotify(store *graph.Store, id string, source backtrace.Source, scope string) (*Notify, error) {
	h, err := handle.NewEntity[NotifyBody](store, id, NotifyBody{}, source, scope)
	if err != nil {
		return nil, err
	}
	return &Notify{waiters: make(map[int64]chan struct{}), self: h, store: store}, nil
}

// NotifyOne wakes at most one waiter, if any are currently suspended.
func (n *Notify) NotifyOne() {
	n.mu.Lock()
	for id, ch := range n.waiters {
		delete(n.waiters, id)
		close(ch)
		n.mu.Unlock()
		_ = n.self.Mutate(0, "", func(b *NotifyBody) { b.WaiterCount = n.count() })
		return
	}
	n.mu.Unlock()
}

// NotifyAll wakes every currently-suspended waiter.
func (n *Notify) NotifyAll() {
	n.mu.Lock()
	waiters := n.waiters
	n.waiters = make(map[int64]chan struct{})
	n.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
	_ = n.self.Mutate(0, "", func(b *NotifyBody) { b.WaiterCount = 0 })
}

func (n *Notify) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.waiters)
}

// Wait blocks until a Notify call wakes this waiter, or ctx is done.
func (n *Notify) Wait(ctx context.Context, source backtrace.Source) error {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	ch := make(chan struct{})
	n.waiters[id] = ch
	n.mu.Unlock()
	_ = n.self.Mutate(source, "", func(b *NotifyBody) { b.WaiterCount = n.count() })

	ct, hasCausal := beginWait(ctx, n.store, n.self.ID())
	defer func() {
		if hasCausal {
			endWait(n.store, ct, n.self.ID())
		}
	}()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		n.mu.Lock()
		delete(n.waiters, id)
		n.mu.Unlock()
		_ = n.self.Mutate(0, "", func(b *NotifyBody) { b.WaiterCount = n.count() })
		return ctx.Err()
	}
}

// Close drops the notify's owning handle.
func (n *Notify) Close() { n.self.Close() }
