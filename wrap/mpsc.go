package wrap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/99souls/watchgraph/backtrace"
	"github.com/99souls/watchgraph/graph"
	"github.com/99souls/watchgraph/handle"
	"github.com/99souls/watchgraph/identity"
)

// ErrCounterpartGone is returned by a send/receive attempt whose peer
// endpoint has already been dropped (spec.md §3 "counterpart-gone
// outcome"; topology, not a dedicated close-cause event, encodes this).
var ErrCounterpartGone = errors.New("wrap: counterpart gone")

// MPSCSender is the send half of a bounded or unbounded multi-producer
// single-consumer channel.
type MPSCSender[T any] struct {
	ch        chan T
	capacity  int
	self      handle.EntityHandle[MPSCTxBody]
	peer      handle.WeakEntityHandle[MPSCRxBody]
	pairID    string
	store     *graph.Store
	closeOnce sync.Once
}

// MPSCReceiver is the receive half.
type MPSCReceiver[T any] struct {
	ch    chan T
	self  handle.EntityHandle[MPSCRxBody]
	peer  handle.WeakEntityHandle[MPSCTxBody]
	store *graph.Store
}

// NewMPSC creates a bounded (capacity > 0) or unbounded (capacity == 0,
// backed by a very large buffer since Go channels have no unbounded
// mode) MPSC pair, registering both endpoint entities and the
// paired_with edge between them.
func NewMPSC[T any](store *graph.Store, procKey, name string, capacity int, source backtrace.Source, scope string) (*MPSCSender[T], *MPSCReceiver[T], error) {
	bufSize := capacity
	if bufSize <= 0 {
		bufSize = 1 << 16
	}
	ch := make(chan T, bufSize)

	txID := identity.MPSCID(procKey, name, identity.SideTx)
	rxID := identity.MPSCID(procKey, name, identity.SideRx)

	txHandle, err := handle.NewEntity[MPSCTxBody](store, txID, MPSCTxBody{Capacity: capacity}, source, scope)
	if err != nil {
		return nil, nil, err
	}
	rxHandle, err := handle.NewEntity[MPSCRxBody](store, rxID, MPSCRxBody{}, source, scope)
	if err != nil {
		txHandle.Close()
		return nil, nil, err
	}
	store.AddEdge(txID, rxID, graph.EdgePairedWith)

	tx := &MPSCSender[T]{ch: ch, capacity: capacity, self: txHandle, peer: rxHandle.Downgrade(), pairID: rxID, store: store}
	rx := &MPSCReceiver[T]{ch: ch, self: rxHandle, peer: txHandle.Downgrade(), store: store}
	return tx, rx, nil
}

// TrySend attempts a non-blocking send. Reports ErrCounterpartGone if the
// receiver has already been dropped.
func (s *MPSCSender[T]) TrySend(ctx context.Context, source backtrace.Source, v T) error {
	if !s.store.Exists(s.pairID) {
		s.store.RecordEventDetail(s.self.ID(), graph.EventChannelSend, source, graph.EventDetail{CounterpartGone: true})
		return ErrCounterpartGone
	}
	recordPoll(ctx, s.store, s.self.ID())
	select {
	case s.ch <- v:
		_ = s.self.Mutate(source, "", func(b *MPSCTxBody) { b.QueueLen++; b.Capacity = s.capacity })
		s.store.RecordEvent(s.self.ID(), graph.EventChannelSend, source)
		return nil
	default:
		return errors.New("wrap: mpsc full")
	}
}

// Send blocks until the value is accepted, the context is cancelled, or
// the receiver is dropped.
func (s *MPSCSender[T]) Send(ctx context.Context, source backtrace.Source, v T) error {
	if !s.store.Exists(s.pairID) {
		s.store.RecordEventDetail(s.self.ID(), graph.EventChannelSend, source, graph.EventDetail{CounterpartGone: true})
		return ErrCounterpartGone
	}
	select {
	case s.ch <- v:
		_ = s.self.Mutate(source, "", func(b *MPSCTxBody) { b.QueueLen++; b.Capacity = s.capacity })
		s.store.RecordEvent(s.self.ID(), graph.EventChannelSend, source)
		return nil
	default:
	}
	ct, hasCausal := beginWait(ctx, s.store, s.self.ID())
	start := time.Now()
	defer func() {
		if hasCausal {
			endWait(s.store, ct, s.self.ID())
		}
	}()
	select {
	case s.ch <- v:
		_ = s.self.Mutate(source, "", func(b *MPSCTxBody) { b.QueueLen++; b.Capacity = s.capacity })
		s.store.RecordEventDetail(s.self.ID(), graph.EventChannelSend, source, graph.EventDetail{ObservedWaitNs: time.Since(start).Nanoseconds()})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drops the sender's owning handle, removing its entity when the
// last clone is closed, and closes the channel so a receiver blocked on
// an empty queue resolves with the counterpart-gone outcome rather than
// waiting forever.
func (s *MPSCSender[T]) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
	s.self.Close()
}

// Recv blocks for the next value. If the channel is empty and the sender
// has been dropped with no values pending, ErrCounterpartGone is
// returned (the topology itself — sender entity absent — already
// encodes this; the error lets the caller distinguish it from a
// successful value).
func (r *MPSCReceiver[T]) Recv(ctx context.Context, source backtrace.Source) (T, error) {
	var zero T
	select {
	case v, ok := <-r.ch:
		if !ok {
			r.store.RecordEventDetail(r.self.ID(), graph.EventChannelReceive, source, graph.EventDetail{CounterpartGone: true})
			return zero, ErrCounterpartGone
		}
		r.afterRecv(source, 0)
		return v, nil
	default:
	}
	ct, hasCausal := beginWait(ctx, r.store, r.self.ID())
	start := time.Now()
	defer func() {
		if hasCausal {
			endWait(r.store, ct, r.self.ID())
		}
	}()
	select {
	case v, ok := <-r.ch:
		if !ok {
			r.store.RecordEventDetail(r.self.ID(), graph.EventChannelReceive, source, graph.EventDetail{CounterpartGone: true})
			return zero, ErrCounterpartGone
		}
		r.afterRecv(source, time.Since(start).Nanoseconds())
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (r *MPSCReceiver[T]) afterRecv(source backtrace.Source, waitNs int64) {
	r.store.RecordEventDetail(r.self.ID(), graph.EventChannelReceive, source, graph.EventDetail{ObservedWaitNs: waitNs})
	_ = r.peer.Mutate(source, "", func(b *MPSCTxBody) {
		if b.QueueLen > 0 {
			b.QueueLen--
		}
	})
}

// Close drops the receiver's owning handle. Once closed, the paired_with
// edge is gone (removed as a side effect of entity removal) and the
// sender's next send observes ErrCounterpartGone.
func (r *MPSCReceiver[T]) Close() { r.self.Close() }
