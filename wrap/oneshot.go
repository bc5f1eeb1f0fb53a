package wrap

import (
	"context"
	"time"

	"github.com/99souls/watchgraph/backtrace"
	"github.com/99souls/watchgraph/graph"
	"github.com/99souls/watchgraph/handle"
	"github.com/99souls/watchgraph/identity"
)

// OneshotSender is the single-use send half of a oneshot channel.
type OneshotSender[T any] struct {
	ch    chan T
	self  handle.EntityHandle[OneshotTxBody]
	peer  string
	store *graph.Store
}

// OneshotReceiver is the single-use receive half.
type OneshotReceiver[T any] struct {
	ch    chan T
	self  handle.EntityHandle[OneshotRxBody]
	peer  handle.WeakEntityHandle[OneshotTxBody]
	store *graph.Store
}

// NewOneshot creates a oneshot pair, registering both endpoint entities
// and the paired_with edge between them.
func NewOneshot[T any](store *graph.Store, procKey, name string, source backtrace.Source, scope string) (*OneshotSender[T], *OneshotReceiver[T], error) {
	ch := make(chan T, 1)
	txID := identity.OneshotID(procKey, name, identity.SideTx)
	rxID := identity.OneshotID(procKey, name, identity.SideRx)
	txHandle, err := handle.NewEntity[OneshotTxBody](store, txID, OneshotTxBody{}, source, scope)
	if err != nil {
		return nil, nil, err
	}
	rxHandle, err := handle.NewEntity[OneshotRxBody](store, rxID, OneshotRxBody{}, source, scope)
	if err != nil {
		txHandle.Close()
		return nil, nil, err
	}
	store.AddEdge(txID, rxID, graph.EdgePairedWith)

	tx := &OneshotSender[T]{ch: ch, self: txHandle, peer: rxID, store: store}
	rx := &OneshotReceiver[T]{ch: ch, self: rxHandle, peer: txHandle.Downgrade(), store: store}
	return tx, rx, nil
}

// Send delivers v exactly once. Sending (or dropping without sending,
// via Close) consumes the sender.
func (s *OneshotSender[T]) Send(source backtrace.Source, v T) error {
	if !s.store.Exists(s.peer) {
		return ErrCounterpartGone
	}
	s.ch <- v
	_ = s.self.Mutate(source, "", func(b *OneshotTxBody) { b.Sent = true })
	s.store.RecordEvent(s.self.ID(), graph.EventChannelSend, source)
	s.self.Close()
	return nil
}

// Close drops the sender without sending; the receiver's next Recv
// observes the counterpart-gone outcome.
func (s *OneshotSender[T]) Close() {
	select {
	case <-s.ch:
		// already sent; nothing to signal
	default:
		close(s.ch)
	}
	s.self.Close()
}

// Recv blocks for the single value, or reports ErrCounterpartGone if the
// sender has been dropped without sending.
func (r *OneshotReceiver[T]) Recv(ctx context.Context, source backtrace.Source) (T, error) {
	var zero T
	select {
	case v, ok := <-r.ch:
		if !ok {
			r.store.RecordEventDetail(r.self.ID(), graph.EventChannelReceive, source, graph.EventDetail{CounterpartGone: true})
			return zero, ErrCounterpartGone
		}
		r.store.RecordEvent(r.self.ID(), graph.EventChannelReceive, source)
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
		r.store.RecordEventDetail(r.self.ID(), graph.EventChannelReceive, source, graph.EventDetail{ObservedWaitNs: time.Since(start).Nanoseconds()})
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close drops the receiver's owning handle.
func (r *OneshotReceiver[T]) Close() { r.self.Close() }
