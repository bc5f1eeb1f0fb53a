package cut

import (
	"context"
	"testing"

	"github.com/99souls/watchgraph/backtrace"
	"github.com/99souls/watchgraph/graph"
	"github.com/99souls/watchgraph/handle"
	"github.com/99souls/watchgraph/identity"
)

type probeBody struct{}

func (probeBody) Kind() graph.BodyKind { return graph.BodyKind("probe_test") }

func TestLocalParticipantRequestCutProducesConsistentSnapshot(t *testing.T) {
	store := graph.NewStore(graph.Options{})
	frames := backtrace.NewTable(backtrace.Lazy, 0)
	src := frames.Capture(0)

	h, err := handle.NewEntity[probeBody](store, "probe1", probeBody{}, src, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer h.Close()

	process := identity.New("test-proc")
	participant := NewLocalParticipant(store, process, frames)

	resp, err := participant.RequestCut(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.SnapshotID != 1 {
		t.Fatalf("expected snapshot id 1, got %d", resp.SnapshotID)
	}
	if len(resp.Entities) != 1 {
		t.Fatalf("expected 1 entity in the snapshot, got %d", len(resp.Entities))
	}
	if len(resp.Backtraces) != 1 {
		t.Fatalf("expected 1 deduplicated backtrace, got %d", len(resp.Backtraces))
	}
}

func TestLocalParticipantRespectsContextCancellation(t *testing.T) {
	store := graph.NewStore(graph.Options{})
	process := identity.New("test-proc")
	participant := NewLocalParticipant(store, process, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := participant.RequestCut(ctx, 1)
	if err == nil {
		t.Fatal("expected an error for an already-cancelled context")
	}
}
