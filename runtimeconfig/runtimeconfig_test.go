package runtimeconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/99souls/watchgraph/internal/telemetry/policy"
	"github.com/99souls/watchgraph/telemetry/events"
)

func TestNewStaticNormalizesPolicy(t *testing.T) {
	s := NewStatic(policy.RuntimePolicy{})
	got := s.Current()
	want := policy.Default()
	if got.Graph.ChangeStreamBuffer != want.Graph.ChangeStreamBuffer {
		t.Fatalf("expected normalized default %d, got %d", want.Graph.ChangeStreamBuffer, got.Graph.ChangeStreamBuffer)
	}
}

func TestCurrentFallsBackToDefaultWhenUnset(t *testing.T) {
	var s Source
	got := s.Current()
	want := policy.Default()
	if got.Cut.MaxConcurrent != want.Cut.MaxConcurrent {
		t.Fatalf("expected default MaxConcurrent %d, got %d", want.Cut.MaxConcurrent, got.Cut.MaxConcurrent)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := []byte("graph:\n  changestreambuffer: 0\ncut:\n  maxconcurrent: 8\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Cut.MaxConcurrent != 8 {
		t.Fatalf("expected MaxConcurrent 8, got %d", p.Cut.MaxConcurrent)
	}
	if p.Graph.ChangeStreamBuffer != policy.Default().Graph.ChangeStreamBuffer {
		t.Fatalf("expected a zero value to normalize to the default, got %d", p.Graph.ChangeStreamBuffer)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("cut:\n  maxconcurrent: 2\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bus := events.NewBus(nil)
	sub, err := bus.Subscribe(8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src, err := Watch(ctx, path, WatchOptions{Events: bus})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := src.Current().Cut.MaxConcurrent; got != 2 {
		t.Fatalf("expected initial MaxConcurrent 2, got %d", got)
	}

	if err := os.WriteFile(path, []byte("cut:\n  maxconcurrent: 9\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for src.Current().Cut.MaxConcurrent != 9 {
		select {
		case <-deadline:
			t.Fatalf("policy never reloaded; MaxConcurrent still %d", src.Current().Cut.MaxConcurrent)
		case <-time.After(10 * time.Millisecond):
		}
	}

	select {
	case ev := <-sub.C():
		if ev.Category != events.CategoryConfig || ev.Type != "reloaded" {
			t.Fatalf("unexpected event %s/%s", ev.Category, ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a config reload event")
	}
}
