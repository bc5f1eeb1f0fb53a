package wrap

import (
	"context"
	"sync"

	"github.com/99souls/watchgraph/backtrace"
	"github.com/99souls/watchgraph/graph"
	"github.com/99souls/watchgraph/handle"
	"github.com/99souls/watchgraph/identity"
)

// BroadcastSender is the send half of a broadcast channel: every value
// sent is delivered to every currently-subscribed receiver.
type BroadcastSender[T any] struct {
	mu     sync.RWMutex
	subs   map[int64]chan T
	nextID int64

	capacity int
	self     handle.EntityHandle[BroadcastTxBody]
	store    *graph.Store
}

// BroadcastReceiver is one subscription to a broadcast channel.
type BroadcastReceiver[T any] struct {
	id      int64
	ch      chan T
	dropped uint64
	tx      *BroadcastSender[T]
	self    handle.EntityHandle[BroadcastRxBody]
	peer    handle.WeakEntityHandle[BroadcastTxBody]
	store   *graph.Store
}

// NewBroadcast creates a broadcast sender with the given per-subscriber
// buffer capacity.
func NewBroadcast[T any](store *graph.Store, procKey, name string, capacity int, source backtrace.Source, scope string) (*BroadcastSender[T], error) {
	txID := identity.BroadcastID(procKey, name, identity.SideTx)
	txHandle, err := handle.NewEntity[BroadcastTxBody](store, txID, BroadcastTxBody{Capacity: capacity}, source, scope)
	if err != nil {
		return nil, err
	}
	return &BroadcastSender[T]{subs: make(map[int64]chan T), capacity: capacity, self: txHandle, store: store}, nil
}

// Subscribe registers a new receiver, creating its entity and the
// paired_with edge to the sender.
func (tx *BroadcastSender[T]) Subscribe(procKey, name string, source backtrace.Source, scope string) (*BroadcastReceiver[T], error) {
	tx.mu.Lock()
	id := tx.nextID
	tx.nextID++
	ch := make(chan T, tx.capacity)
	tx.subs[id] = ch
	tx.mu.Unlock()

	side := identity.SideRx
	rxID := identity.BroadcastID(procKey, name, side) + "#" + itoa(id)
	rxHandle, err := handle.NewEntity[BroadcastRxBody](tx.store, rxID, BroadcastRxBody{}, source, scope)
	if err != nil {
		tx.mu.Lock()
		delete(tx.subs, id)
		tx.mu.Unlock()
		return nil, err
	}
	tx.store.AddEdge(tx.self.ID(), rxID, graph.EdgePairedWith)
	return &BroadcastReceiver[T]{id: id, ch: ch, tx: tx, self: rxHandle, peer: tx.self.Downgrade(), store: tx.store}, nil
}

// Send delivers v to every current subscriber, non-blocking per
// subscriber: a subscriber whose buffer is full does not receive v. The
// skipped value is not counted, and the receiver body's Lag stays zero.
func (tx *BroadcastSender[T]) Send(source backtrace.Source, v T) {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	for _, ch := range tx.subs {
		select {
		case ch <- v:
		default:
		}
	}
	tx.store.RecordEvent(tx.self.ID(), graph.EventChannelSend, source)
}

// Close drops the sender's owning handle.
func (tx *BroadcastSender[T]) Close() { tx.self.Close() }

// Recv blocks for the next broadcast value.
func (r *BroadcastReceiver[T]) Recv(ctx context.Context, source backtrace.Source) (T, error) {
	var zero T
	select {
	case v := <-r.ch:
		r.store.RecordEvent(r.self.ID(), graph.EventChannelReceive, source)
		return v, nil
	default:
	}
	ct, hasCausal := beginWait(ctx, r.store, r.self.ID())
	defer func() {
		if hasCausal {
			endWait(r.store, ct, r.self.ID())
		}
	}()
	select {
	case v := <-r.ch:
		r.store.RecordEvent(r.self.ID(), graph.EventChannelReceive, source)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close unsubscribes and drops the receiver's owning handle.
func (r *BroadcastReceiver[T]) Close() {
	r.tx.mu.Lock()
	delete(r.tx.subs, r.id)
	r.tx.mu.Unlock()
	r.self.Close()
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
