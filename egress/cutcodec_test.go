package egress

import (
	"testing"

	"github.com/99souls/watchgraph/graph"
	"github.com/99souls/watchgraph/wrap"
)

func TestCutResponseEncodeDecodeRoundTrip(t *testing.T) {
	resp := CutResponse{
		SnapshotID: 7,
		Epoch:      3,
		Process:    ProcessInfo{ID: "process:test:1", Name: "test", Pid: 1, LocalMonotonicMs: 123},
		Entities: []graph.Entity{
			{ID: "lock1", Body: wrap.LockBody{Mode: wrap.LockMutex, HolderCount: 1, WaiterCount: 2}, Source: 5, OwningScope: "scope1"},
			{ID: "mpsc_tx1", Body: wrap.MPSCTxBody{QueueLen: 2, Capacity: 4}},
		},
		Scopes: []graph.Scope{{ID: "scope1", Name: "root", Source: 1, Parent: ""}},
		Edges:  []graph.Edge{{Src: "lock1", Dst: "task1", Kind: graph.EdgeHolds}},
		Events: []graph.Event{{Target: "lock1", Kind: graph.EventStateChanged, Source: 2, Seq: 9, ObservedWaitNs: 10, CounterpartGone: false}},
		Backtraces: []Backtrace{
			{Source: 5, Frames: []ResolvedFrame{{Function: "main.foo", File: "main.go", Line: 10}}},
		},
		UnresolvedEdges: []UnresolvedFrame{
			{Source: 6, FrameIndex: 0, ModulePath: "/bin/app", RelativePC: 0x100},
		},
	}

	body, err := EncodeCutResponse(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, err := DecodeCutResponse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decoded.SnapshotID != resp.SnapshotID || decoded.Epoch != resp.Epoch {
		t.Fatalf("header mismatch: %+v", decoded)
	}
	if decoded.Process != resp.Process {
		t.Fatalf("process mismatch: %+v vs %+v", decoded.Process, resp.Process)
	}
	if len(decoded.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(decoded.Entities))
	}
	lockBody, ok := decoded.Entities[0].Body.(wrap.LockBody)
	if !ok {
		t.Fatalf("expected a LockBody, got %T", decoded.Entities[0].Body)
	}
	if lockBody != resp.Entities[0].Body.(wrap.LockBody) {
		t.Fatalf("lock body mismatch: %+v", lockBody)
	}
	if decoded.Entities[0].OwningScope != "scope1" {
		t.Fatalf("expected owning scope to round-trip, got %q", decoded.Entities[0].OwningScope)
	}
	if len(decoded.Scopes) != 1 || decoded.Scopes[0].ID != "scope1" {
		t.Fatalf("scope mismatch: %+v", decoded.Scopes)
	}
	if len(decoded.Edges) != 1 || decoded.Edges[0].Kind != graph.EdgeHolds {
		t.Fatalf("edge mismatch: %+v", decoded.Edges)
	}
	if len(decoded.Events) != 1 || decoded.Events[0].Seq != 9 {
		t.Fatalf("event mismatch: %+v", decoded.Events)
	}
	if len(decoded.Backtraces) != 1 || decoded.Backtraces[0].Frames[0].Function != "main.foo" {
		t.Fatalf("backtrace mismatch: %+v", decoded.Backtraces)
	}
	if len(decoded.UnresolvedEdges) != 1 || decoded.UnresolvedEdges[0].ModulePath != "/bin/app" {
		t.Fatalf("unresolved frame mismatch: %+v", decoded.UnresolvedEdges)
	}
}

func TestCutResponseEncodeRejectsUnknownBodyKind(t *testing.T) {
	resp := CutResponse{
		Entities: []graph.Entity{{ID: "x", Body: unknownBody{}}},
	}
	if _, err := EncodeCutResponse(resp); err == nil {
		t.Fatal("expected an error for an unrecognized body kind")
	}
}

type unknownBody struct{}

func (unknownBody) Kind() graph.BodyKind { return graph.BodyKind("unknown_test") }
