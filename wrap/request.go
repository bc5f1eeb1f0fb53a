package wrap

import (
	"context"

	"github.com/99souls/watchgraph/backtrace"
	"github.com/99souls/watchgraph/graph"
	"github.com/99souls/watchgraph/handle"
	"github.com/99souls/watchgraph/identity"
)

// Request is the caller side of a round-trip request/response exchange
// over a reply channel. It starts pending and transitions to ok, error,
// or cancelled exactly once.
type Request[T any] struct {
	self   handle.EntityHandle[RequestBody]
	store  *graph.Store
	id     string
	respID string
	reply  chan requestResult[T]
}

type requestResult[T any] struct {
	value T
	err   error
}

// Responder is the callee side: it owns the Response entity and
// fulfills the pending Request by calling Respond or Fail exactly once.
type Responder[T any] struct {
	self  handle.EntityHandle[ResponseBody]
	store *graph.Store
	reply chan requestResult[T]
}

// NewRequest creates the request/response entity pair, both starting
// pending, linked by a paired_with edge, and returns the caller and
// callee handles. connection and requestID together with procKey form
// the stable cross-snapshot identity (spec.md §6).
func NewRequest[T any](store *graph.Store, procKey, connection, requestID, method, args string, source backtrace.Source, scope string) (*Request[T], *Responder[T], error) {
	reqID := identity.RequestID(procKey, connection, requestID)
	respID := identity.ResponseID(procKey, connection, requestID)

	reqHandle, err := handle.NewEntity[RequestBody](store, reqID, RequestBody{Method: method, Args: args, Status: StatusPending}, source, scope)
	if err != nil {
		return nil, nil, err
	}
	respHandle, err := handle.NewEntity[ResponseBody](store, respID, ResponseBody{Status: StatusPending}, source, scope)
	if err != nil {
		reqHandle.Close()
		return nil, nil, err
	}
	store.AddEdge(reqID, respID, graph.EdgePairedWith)

	reply := make(chan requestResult[T], 1)
	req := &Request[T]{self: reqHandle, store: store, id: reqID, respID: respID, reply: reply}
	resp := &Responder[T]{self: respHandle, store: store, reply: reply}
	return req, resp, nil
}

// Await blocks for the response. It reports ErrCounterpartGone if the
// responder is dropped (via Close) without ever calling Respond/Fail,
// and ctx.Err() if cancelled first; in the cancellation case the
// request's status becomes cancelled and no waiting_on edge survives.
func (r *Request[T]) Await(ctx context.Context, source backtrace.Source) (T, error) {
	var zero T
	select {
	case res := <-r.reply:
		return r.settle(source, res)
	default:
	}
	if !r.store.Exists(r.respID) {
		select {
		case res := <-r.reply:
			return r.settle(source, res)
		default:
		}
		_ = r.self.Mutate(source, "", func(b *RequestBody) { b.Status = StatusError })
		return zero, ErrCounterpartGone
	}
	ct, hasCausal := beginWait(ctx, r.store, r.id)
	defer func() {
		if hasCausal {
			endWait(r.store, ct, r.id)
		}
	}()
	select {
	case res := <-r.reply:
		return r.settle(source, res)
	case <-ctx.Done():
		_ = r.self.Mutate(source, "", func(b *RequestBody) { b.Status = StatusCancelled })
		return zero, ctx.Err()
	}
}

func (r *Request[T]) settle(source backtrace.Source, res requestResult[T]) (T, error) {
	status := StatusOK
	if res.err != nil {
		status = StatusError
	}
	_ = r.self.Mutate(source, "", func(b *RequestBody) { b.Status = status })
	return res.value, res.err
}

// Close drops the request's owning handle without waiting for a reply.
func (r *Request[T]) Close() { r.self.Close() }

// Respond fulfills the request with a successful value and closes the
// responder's handle; the caller's next Await returns v.
func (s *Responder[T]) Respond(source backtrace.Source, v T) {
	select {
	case s.reply <- requestResult[T]{value: v}:
	default:
	}
	_ = s.self.Mutate(source, "", func(b *ResponseBody) { b.Status = StatusOK })
	s.self.Close()
}

// Fail fulfills the request with an error and closes the responder's
// handle.
func (s *Responder[T]) Fail(source backtrace.Source, err error) {
	select {
	case s.reply <- requestResult[T]{err: err}:
	default:
	}
	_ = s.self.Mutate(source, "", func(b *ResponseBody) { b.Status = StatusError })
	s.self.Close()
}

// Close drops the responder's owning handle without ever responding.
// Topology (the response entity disappearing) is what tells the caller's
// next Await the counterpart is gone — no separate close-cause event, per
// spec.md §9.
func (s *Responder[T]) Close() { s.self.Close() }
