package handle

import (
	"testing"

	"github.com/99souls/watchgraph/graph"
)

type counterBody struct{ N int }

func (counterBody) Kind() graph.BodyKind { return graph.BodyKind("counter_test") }

func TestEntityHandleCloseRemovesOnLastRef(t *testing.T) {
	s := graph.NewStore(graph.Options{})
	h, err := NewEntity[counterBody](s, "e1", counterBody{}, 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clone := h.Clone()
	h.Close()
	if !s.Exists("e1") {
		t.Fatal("expected entity to survive while a clone still holds it")
	}
	clone.Close()
	if s.Exists("e1") {
		t.Fatal("expected entity to be removed once the last reference closes")
	}
}

func TestWeakEntityHandleMutateIsNoOpAfterDrop(t *testing.T) {
	s := graph.NewStore(graph.Options{})
	h, err := NewEntity[counterBody](s, "e1", counterBody{}, 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	weak := h.Downgrade()
	h.Close()

	if err := weak.Mutate(0, "", func(b *counterBody) { b.N = 99 }); err != nil {
		t.Fatalf("expected a silent no-op, got error: %v", err)
	}
	if s.Exists("e1") {
		t.Fatal("mutate on an expired weak handle must not resurrect the entity")
	}
}

func TestMutateOnlyUpsertsOnChange(t *testing.T) {
	s := graph.NewStore(graph.Options{})
	h, err := NewEntity[counterBody](s, "e1", counterBody{N: 1}, 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer h.Close()

	stream := s.Subscribe()
	defer stream.Close()

	if err := h.Mutate(0, "", func(b *counterBody) { b.N = 1 }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case c := <-stream.C():
		t.Fatalf("expected no change for an identical mutate, got %+v", c)
	default:
	}

	if err := h.Mutate(0, "", func(b *counterBody) { b.N = 2 }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case c := <-stream.C():
		if c.Entity.ID != "e1" {
			t.Fatalf("unexpected change entity: %+v", c)
		}
	default:
		t.Fatal("expected a change for a real mutation")
	}
}

func TestLinkToOwnedRemovesEdgeOnClose(t *testing.T) {
	s := graph.NewStore(graph.Options{})
	a, err := NewEntity[counterBody](s, "a", counterBody{}, 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Close()
	b, err := NewEntity[counterBody](s, "b", counterBody{}, 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Close()

	edge := a.LinkToOwned("b", graph.EdgeHolds)
	if !s.HasEdge("a", "b", graph.EdgeHolds) {
		t.Fatal("expected edge to exist after LinkToOwned")
	}
	edge.Close()
	if s.HasEdge("a", "b", graph.EdgeHolds) {
		t.Fatal("expected edge to be removed after EdgeHandle.Close")
	}
	edge.Close() // idempotent
}

func TestScopeHandleCloseRemovesMembers(t *testing.T) {
	s := graph.NewStore(graph.Options{})
	scope := NewScope(s, "scope1", "root", 0, "")
	_, err := NewEntity[counterBody](s, "member", counterBody{}, 0, "scope1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	scope.Close()
	if s.Exists("member") {
		t.Fatal("expected member entity to be removed when its scope closes")
	}
}
