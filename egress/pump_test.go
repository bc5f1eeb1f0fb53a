package egress

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/99souls/watchgraph/graph"
	"github.com/99souls/watchgraph/telemetry/events"
	"github.com/99souls/watchgraph/wrap"
)

func TestPumpSendHandshakeAndCutResponse(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	pump := NewPump(serverConn, Options{QueueBuffer: 8})
	defer pump.Close()

	if err := pump.SendHandshake(Handshake{TraceV1: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := pump.SendCutResponse(CutResponse{SnapshotID: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tag, body, err := ReadFrame(clientConn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tag != TagHandshake {
		t.Fatalf("expected handshake frame first, got tag %v", tag)
	}
	if _, err := DecodeHandshake(body); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}

	tag, body, err = ReadFrame(clientConn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tag != TagCutResponse {
		t.Fatalf("expected cut response frame second, got tag %v", tag)
	}
	resp, err := DecodeCutResponse(body)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if resp.SnapshotID != 1 {
		t.Fatalf("expected snapshot id 1, got %d", resp.SnapshotID)
	}
}

func TestPumpAttachForwardsChanges(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	store := graph.NewStore(graph.Options{ChangeStreamBuffer: 8})
	pump := NewPump(serverConn, Options{QueueBuffer: 8})
	defer pump.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pump.Attach(ctx, store)

	time.Sleep(10 * time.Millisecond)
	if err := store.UpsertEntity("e1", wrap.LockBody{Mode: wrap.LockMutex}, 0, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tag, body, err := ReadFrame(clientConn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tag != TagChange {
		t.Fatalf("expected a change frame, got tag %v", tag)
	}
	c, err := DecodeChange(body)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if c.Kind != graph.ChangeUpsertEntity || c.Entity == nil || c.Entity.ID != "e1" {
		t.Fatalf("unexpected change: %+v", c)
	}
}

func TestPumpDropsOnFullQueue(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	pump := NewPump(serverConn, Options{QueueBuffer: 1})
	defer pump.Close()

	for i := 0; i < 10; i++ {
		_ = pump.SendCutResponse(CutResponse{SnapshotID: uint64(i)})
	}
	published, dropped := pump.Stats()
	if published+dropped != 10 {
		t.Fatalf("expected 10 total frames accounted for, got %d published + %d dropped", published, dropped)
	}
}

func TestPumpPublishesGapEventOnDrop(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	bus := events.NewBus(nil)
	sub, err := bus.Subscribe(8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Close()

	pump := NewPump(serverConn, Options{QueueBuffer: 1, Events: bus})
	defer pump.Close()

	for i := 0; i < 10; i++ {
		_ = pump.SendCutResponse(CutResponse{SnapshotID: uint64(i)})
	}

	select {
	case ev := <-sub.C():
		if ev.Category != events.CategoryEgress || ev.Type != "queue_gap" {
			t.Fatalf("unexpected event %s/%s", ev.Category, ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a queue_gap event")
	}

	// One gap, not one event per dropped frame.
	select {
	case ev := <-sub.C():
		t.Fatalf("expected a single gap event, got a second: %s/%s", ev.Category, ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}
