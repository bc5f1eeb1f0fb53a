// Package causal maintains the task-local stack of "currently polling
// future" (component C4), used to attribute every wrapper mutation to a
// precise causal target.
//
// Go has no goroutine-local storage, so the stack is expressed as an
// immutable context.Context chain: Push wraps ctx in a child that points
// back at its parent frame, mirroring the push-on-entry/pop-on-return
// span stack internal/telemetry/tracing already uses for trace
// correlation. A goroutine that is started without propagating the
// caller's context naturally starts with an empty stack, which is
// exactly the "cross-task communication never propagates the stack"
// invariant the design calls for.
package causal

import "context"

// EntityRef identifies the future entity currently at the top of the
// causal stack.
type EntityRef struct {
	ID string
}

type frame struct {
	target EntityRef
	parent *frame
}

type causalKey struct{}

// Push returns a context whose causal target is target, with ctx's
// existing stack (if any) as its parent. Call this on future poll entry;
// the returned context must be threaded into every nested wrapper call
// made during that poll for attribution to work (a documented calling
// convention, not compiler-enforced, matching the handle mutate-closure
// discipline).
func Push(ctx context.Context, target EntityRef) context.Context {
	parent, _ := ctx.Value(causalKey{}).(*frame)
	return context.WithValue(ctx, causalKey{}, &frame{target: target, parent: parent})
}

// Current returns the causal target at the top of ctx's stack, and
// whether one is present. Pop is implicit: a poll return simply stops
// using the pushed context, so the frame is collected and callers
// further up the call chain never observe it — this also gives
// cancellation-returns-with-an-empty-pop for free, since a cancelled
// poll's context is simply discarded.
func Current(ctx context.Context) (EntityRef, bool) {
	f, ok := ctx.Value(causalKey{}).(*frame)
	if !ok || f == nil {
		return EntityRef{}, false
	}
	return f.target, true
}
