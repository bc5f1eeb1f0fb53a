package cut

import (
	"context"
	"testing"
	"time"

	"github.com/99souls/watchgraph/egress"
	"github.com/99souls/watchgraph/telemetry/events"
)

type fakeParticipant struct {
	name  string
	delay time.Duration
	fail  bool
}

func (f *fakeParticipant) Name() string { return f.name }

func (f *fakeParticipant) RequestCut(ctx context.Context, id uint64) (egress.CutResponse, error) {
	if f.fail {
		return egress.CutResponse{}, context.Canceled
	}
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return egress.CutResponse{}, ctx.Err()
	}
	return egress.CutResponse{SnapshotID: id, Process: egress.ProcessInfo{Name: f.name}}, nil
}

func TestRequestCutAllRespond(t *testing.T) {
	c := NewCoordinator(Options{})
	c.Register(&fakeParticipant{name: "a"})
	c.Register(&fakeParticipant{name: "b"})

	result, err := c.RequestCut(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Requested != 2 || result.Responded != 2 {
		t.Fatalf("expected 2 requested and 2 responded, got %+v", result)
	}
	if result.TimedOut != 0 || result.Disconnected != 0 {
		t.Fatalf("expected no timeouts or disconnects, got %+v", result)
	}
}

// TestRequestCutPartialOnSlowParticipant (scenario S5): one slow
// participant times out while the others still respond within the
// deadline, and the round reports a partial result rather than an error.
func TestRequestCutPartialOnSlowParticipant(t *testing.T) {
	c := NewCoordinator(Options{})
	c.Register(&fakeParticipant{name: "fast"})
	c.Register(&fakeParticipant{name: "slow", delay: time.Second})

	result, err := c.RequestCut(context.Background(), 30*time.Millisecond)
	if err != nil {
		t.Fatalf("expected a partial result, not an error: %v", err)
	}
	if result.Responded != 1 {
		t.Fatalf("expected exactly 1 responder, got %d", result.Responded)
	}
	if result.TimedOut != 1 {
		t.Fatalf("expected exactly 1 timeout, got %d", result.TimedOut)
	}
}

func TestRequestCutDisconnectedParticipant(t *testing.T) {
	c := NewCoordinator(Options{})
	c.Register(&fakeParticipant{name: "broken", fail: true})

	result, err := c.RequestCut(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Disconnected != 1 {
		t.Fatalf("expected 1 disconnected participant, got %+v", result)
	}
}

func TestRequestCutIDsAreMonotonic(t *testing.T) {
	c := NewCoordinator(Options{})
	c.Register(&fakeParticipant{name: "a"})

	r1, err := c.RequestCut(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r2, err := c.RequestCut(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r2.SnapshotID <= r1.SnapshotID {
		t.Fatalf("expected strictly increasing snapshot ids, got %d then %d", r1.SnapshotID, r2.SnapshotID)
	}
}

func TestRequestCutPublishesRoundEvent(t *testing.T) {
	bus := events.NewBus(nil)
	sub, err := bus.Subscribe(8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Close()

	c := NewCoordinator(Options{Events: bus})
	c.Register(&fakeParticipant{name: "a"})
	c.Register(&fakeParticipant{name: "slow", delay: time.Second})

	if _, err := c.RequestCut(context.Background(), 30*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case ev := <-sub.C():
		if ev.Category != events.CategoryCut || ev.Type != "round_complete" {
			t.Fatalf("unexpected event %s/%s", ev.Category, ev.Type)
		}
		if ev.Severity != "warn" {
			t.Fatalf("expected warn severity for a round with a timeout, got %q", ev.Severity)
		}
		if got := ev.Fields["timed_out"]; got != 1 {
			t.Fatalf("expected timed_out field 1, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a round_complete event")
	}
}
