package cut

import (
	"context"
	"time"

	"github.com/99souls/watchgraph/backtrace"
	"github.com/99souls/watchgraph/egress"
	"github.com/99souls/watchgraph/graph"
	"github.com/99souls/watchgraph/identity"
)

// Participant is also implemented process-side by LocalParticipant,
// which performs the actual spec.md §4.6 steps 2-3: allocate a new
// epoch, take a consistent snapshot, and package it as a cut response.
// A real deployment wraps this behind the wire (egress.Pump on the
// process side, a network RequestCut on the orchestrator side);
// LocalParticipant lets both live in the same process for tests and the
// cmd/watchgraphd demo.
type LocalParticipant struct {
	store   store
	process identity.Process
	frames  *backtrace.Table
	start   time.Time
}

// NewLocalParticipant wraps s for in-process cut participation.
func NewLocalParticipant(s *graph.Store, process identity.Process, frames *backtrace.Table) *LocalParticipant {
	return &LocalParticipant{store: s, process: process, frames: frames, start: time.Now()}
}

// Name implements Participant.
func (l *LocalParticipant) Name() string { return l.process.ProcKey }

// RequestCut implements Participant: it allocates a new epoch, takes a
// snapshot, and packages it as an egress.CutResponse. Respects ctx
// cancellation so a Coordinator's deadline can abort a participant that
// never gets this far (e.g. mid network round trip in a real
// deployment); the in-process case below always completes quickly since
// Snapshot only holds the store's lock briefly.
func (l *LocalParticipant) RequestCut(ctx context.Context, cutID uint64) (egress.CutResponse, error) {
	select {
	case <-ctx.Done():
		return egress.CutResponse{}, ctx.Err()
	default:
	}

	epoch := l.store.BeginEpoch()
	snap := l.store.Snapshot()

	resp := egress.CutResponse{
		SnapshotID: cutID,
		Epoch:      epoch,
		Process: egress.ProcessInfo{
			ID:               identity.ProcessID(l.process),
			Name:             l.process.Name,
			Pid:              l.process.Pid,
			LocalMonotonicMs: time.Since(l.start).Milliseconds(),
		},
		Entities: snap.Entities,
		Scopes:   snap.Scopes,
		Edges:    snap.Edges,
		Events:   snap.Events,
	}
	if l.frames != nil {
		resp.Backtraces, resp.UnresolvedEdges = l.symbolizeSources(snap)
	}
	return resp, nil
}

// symbolizeSources interns every distinct Source referenced by the
// snapshot's entities/scopes/events exactly once (spec.md §3's "Sources
// are deduplicated across the process and serialised once per
// snapshot"), resolving eagerly at cut time regardless of the table's
// configured SymbolizeMode — a cut is exactly the moment spec.md §4.5
// calls out as an acceptable place to pay symbolization cost.
func (l *LocalParticipant) symbolizeSources(snap graph.Snapshot) ([]egress.Backtrace, []egress.UnresolvedFrame) {
	seen := make(map[backtrace.Source]struct{})
	var out []egress.Backtrace
	var unresolved []egress.UnresolvedFrame

	add := func(src backtrace.Source) {
		if src == 0 {
			return
		}
		if _, ok := seen[src]; ok {
			return
		}
		seen[src] = struct{}{}
		frames := l.frames.Lookup(src)
		if frames == nil {
			return
		}
		bt := egress.Backtrace{Source: uint64(src)}
		for i, f := range frames.Resolved() {
			if f.Unresolved {
				unresolved = append(unresolved, egress.UnresolvedFrame{
					Source: uint64(src), FrameIndex: i, ModulePath: f.ModulePath, RelativePC: uint64(f.RelativePC),
				})
				continue
			}
			bt.Frames = append(bt.Frames, egress.ResolvedFrame{Function: f.Function, File: f.File, Line: f.Line})
		}
		out = append(out, bt)
	}

	for _, e := range snap.Entities {
		add(e.Source)
	}
	for _, s := range snap.Scopes {
		add(s.Source)
	}
	for _, ev := range snap.Events {
		add(ev.Source)
	}
	return out, unresolved
}
