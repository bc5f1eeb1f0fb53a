package graph

import (
	"testing"
)

type stringBody struct{ V string }

func (stringBody) Kind() BodyKind { return BodyKind("string_test") }

type otherBody struct{ V int }

func (otherBody) Kind() BodyKind { return BodyKind("other_test") }

func TestUpsertEntityPublishesOnChange(t *testing.T) {
	s := NewStore(Options{})
	stream := s.Subscribe()
	defer stream.Close()

	if err := s.UpsertEntity("e1", stringBody{V: "a"}, 0, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case c := <-stream.C():
		if c.Kind != ChangeUpsertEntity || c.Entity.ID != "e1" {
			t.Fatalf("unexpected change: %+v", c)
		}
	default:
		t.Fatal("expected a published change")
	}
}

func TestUpsertEntitySuppressesNoOpChange(t *testing.T) {
	s := NewStore(Options{})
	if err := s.UpsertEntity("e1", stringBody{V: "a"}, 0, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stream := s.Subscribe()
	defer stream.Close()

	if err := s.UpsertEntity("e1", stringBody{V: "a"}, 0, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case c := <-stream.C():
		t.Fatalf("expected no change for identical body, got %+v", c)
	default:
	}
}

func TestUpsertEntityRejectsBodyKindChange(t *testing.T) {
	s := NewStore(Options{})
	if err := s.UpsertEntity("e1", stringBody{V: "a"}, 0, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := s.UpsertEntity("e1", otherBody{V: 1}, 0, "")
	if err == nil {
		t.Fatal("expected an error for a body kind transition")
	}
}

func TestRemoveEntityRemovesIncidentEdges(t *testing.T) {
	s := NewStore(Options{})
	_ = s.UpsertEntity("a", stringBody{}, 0, "")
	_ = s.UpsertEntity("b", stringBody{}, 0, "")
	s.AddEdge("a", "b", EdgeHolds)
	if !s.HasEdge("a", "b", EdgeHolds) {
		t.Fatal("expected edge to exist")
	}
	s.RemoveEntity("a")
	if s.HasEdge("a", "b", EdgeHolds) {
		t.Fatal("expected edge to be removed along with its endpoint")
	}
	if s.Exists("a") {
		t.Fatal("expected entity to be gone")
	}
}

func TestRemoveScopeCascadesToMembers(t *testing.T) {
	s := NewStore(Options{})
	s.UpsertScope("scope1", "root", 0, "")
	if err := s.UpsertEntity("e1", stringBody{}, 0, "scope1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.RemoveScope("scope1")
	if s.Exists("e1") {
		t.Fatal("expected member entity to be removed transitively")
	}
}

func TestAddEdgeIsIdempotent(t *testing.T) {
	s := NewStore(Options{})
	s.AddEdge("a", "b", EdgeHolds)
	s.AddEdge("a", "b", EdgeHolds)
	if !s.HasEdge("a", "b", EdgeHolds) {
		t.Fatal("expected edge to exist")
	}
	s.RemoveEdge("a", "b", EdgeHolds)
	if s.HasEdge("a", "b", EdgeHolds) {
		t.Fatal("expected edge to be gone after a single remove")
	}
}

func TestBeginEpochIsMonotonic(t *testing.T) {
	s := NewStore(Options{})
	first := s.BeginEpoch()
	second := s.BeginEpoch()
	if second <= first {
		t.Fatalf("expected strictly increasing epochs, got %d then %d", first, second)
	}
}

func TestSnapshotReflectsLiveState(t *testing.T) {
	s := NewStore(Options{})
	_ = s.UpsertEntity("a", stringBody{V: "x"}, 0, "")
	_ = s.UpsertEntity("b", stringBody{V: "y"}, 0, "")
	s.AddEdge("a", "b", EdgeHolds)
	s.RecordEvent("a", EventStateChanged, 0)

	snap := s.Snapshot()
	if len(snap.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(snap.Entities))
	}
	if len(snap.Edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(snap.Edges))
	}
	if len(snap.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(snap.Events))
	}
}

func TestRecordEventRingBufferWraps(t *testing.T) {
	s := NewStore(Options{EventLogCapacity: 2})
	s.RecordEvent("a", EventStateChanged, 0)
	s.RecordEvent("a", EventStateChanged, 0)
	s.RecordEvent("a", EventStateChanged, 0)
	snap := s.Snapshot()
	if len(snap.Events) != 2 {
		t.Fatalf("expected ring buffer bounded to capacity 2, got %d", len(snap.Events))
	}
	if snap.Events[0].Seq != 2 || snap.Events[1].Seq != 3 {
		t.Fatalf("expected the two most recent events to survive, got seqs %d and %d", snap.Events[0].Seq, snap.Events[1].Seq)
	}
}

func TestChangeStreamLaggedOnFullBuffer(t *testing.T) {
	s := NewStore(Options{ChangeStreamBuffer: 1})
	stream := s.Subscribe()
	defer stream.Close()

	_ = s.UpsertEntity("a", stringBody{V: "1"}, 0, "")
	_ = s.UpsertEntity("a", stringBody{V: "2"}, 0, "")
	_ = s.UpsertEntity("a", stringBody{V: "3"}, 0, "")

	select {
	case <-stream.Lagged():
	default:
		t.Fatal("expected a lag signal once the subscriber buffer filled up")
	}
}

func TestRecordEventDetailCarriesAttributes(t *testing.T) {
	s := NewStore(Options{})
	ev := s.RecordEventDetail("rx", EventChannelReceive, 0, EventDetail{ObservedWaitNs: 1500, CounterpartGone: true})
	if ev.ObservedWaitNs != 1500 || !ev.CounterpartGone {
		t.Fatalf("unexpected event detail: %+v", ev)
	}
	events := s.Snapshot().Events
	if len(events) != 1 || events[0].ObservedWaitNs != 1500 || !events[0].CounterpartGone {
		t.Fatalf("unexpected ring contents: %+v", events)
	}
}
