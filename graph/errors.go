package graph

import "errors"

// Sentinel errors for the graph-relevant error kinds in the error
// handling design. CutDeadlineExceeded lives in package cut
// (cut.ErrCutDeadlineExceeded); UnresolvedFrame has no sentinel, an
// unresolved frame is flagged by backtrace.Frame.Unresolved instead.
var (
	// ErrInvalidBodyTransition is returned when a mutation targets an
	// entity whose stored body variant does not match the handle's slot.
	ErrInvalidBodyTransition = errors.New("graph: invalid body transition")

	// ErrUnknownScope names a reference to a scope identity that was
	// never upserted. No Store method returns it: UpsertEntity does not
	// validate the scope it is given.
	ErrUnknownScope = errors.New("graph: unknown scope")

	// ErrHandleExpired documents the HandleExpired error kind (spec.md
	// §7): a weak mutate on an already-dropped entity. handle.WeakEntityHandle.Mutate
	// never actually returns this — per spec it is a silent no-op — but
	// the sentinel is kept here so the five error kinds are all named in
	// one place for callers that want to log the distinction explicitly.
	ErrHandleExpired = errors.New("graph: handle expired")

	// ErrEgressLag documents the EgressLag error kind: a subscriber fell
	// behind the change bus's bounded queue and must reconcile from a
	// fresh Snapshot. Surfaced to subscribers via ChangeStream.Lagged(),
	// not returned from any method.
	ErrEgressLag = errors.New("graph: egress lag, reconcile from snapshot")
)
