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

// Watch is a single-slot value with change notification: every receiver
// always observes the latest value, never a queue of historical ones.
type Watch[T any] struct {
	mu      sync.Mutex
	value   T
	version uint64
	waiters map[int64]chan struct{}
	nextID  int64

	tx    handle.EntityHandle[WatchTxBody]
	rx    handle.EntityHandle[WatchRxBody]
	store *graph.Store
}

// NewWatch creates a watch pair seeded with initial, registering both
// endpoint entities and the paired_with edge between them.
func NewWatch[T any](store *graph.Store, procKey, name string, initial T, source backtrace.Source, scope string) (*Watch[T], error) {
	txID := identity.WatchID(procKey, name, identity.SideTx)
	rxID := identity.WatchID(procKey, name, identity.SideRx)
	txHandle, err := handle.NewEntity[WatchTxBody](store, txID, WatchTxBody{LastUpdateUnixNano: time.Now().UnixNano()}, source, scope)
	if err != nil {
		return nil, err
	}
	rxHandle, err := handle.NewEntity[WatchRxBody](store, rxID, WatchRxBody{}, source, scope)
	if err != nil {
		txHandle.Close()
		return nil, err
	}
	store.AddEdge(txID, rxID, graph.EdgePairedWith)
	return &Watch[T]{value: initial, waiters: make(map[int64]chan struct{}), tx: txHandle, rx: rxHandle, store: store}, nil
}

// Send updates the watched value and wakes every outstanding waiter.
func (w *Watch[T]) Send(source backtrace.Source, v T) {
	w.mu.Lock()
	w.value = v
	w.version++
	waiters := make([]chan struct{}, 0, len(w.waiters))
	for _, ch := range w.waiters {
		waiters = append(waiters, ch)
	}
	w.waiters = make(map[int64]chan struct{})
	w.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
	_ = w.tx.Mutate(source, "", func(b *WatchTxBody) { b.LastUpdateUnixNano = time.Now().UnixNano() })
	w.store.RecordEvent(w.tx.ID(), graph.EventChannelSend, source)
}

// Get returns the current value without waiting.
func (w *Watch[T]) Get() (T, uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value, w.version
}

// WaitChanged blocks until the value's version advances past lastSeen.
func (w *Watch[T]) WaitChanged(ctx context.Context, source backtrace.Source, lastSeen uint64) (T, uint64, error) {
	w.mu.Lock()
	if w.version != lastSeen {
		v, ver := w.value, w.version
		w.mu.Unlock()
		w.store.RecordEvent(w.rx.ID(), graph.EventChannelReceive, source)
		return v, ver, nil
	}
	id := w.nextID
	w.nextID++
	ch := make(chan struct{})
	w.waiters[id] = ch
	w.mu.Unlock()

	ct, hasCausal := beginWait(ctx, w.store, w.rx.ID())
	defer func() {
		if hasCausal {
			endWait(w.store, ct, w.rx.ID())
		}
	}()

	select {
	case <-ch:
		v, ver := w.Get()
		w.store.RecordEvent(w.rx.ID(), graph.EventChannelReceive, source)
		return v, ver, nil
	case <-ctx.Done():
		w.mu.Lock()
		delete(w.waiters, id)
		w.mu.Unlock()
		var zero T
		return zero, lastSeen, ctx.Err()
	}
}

// Close drops both endpoint handles.
func (w *Watch[T]) Close() {
	w.tx.Close()
	w.rx.Close()
}
