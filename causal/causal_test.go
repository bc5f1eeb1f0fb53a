package causal

import (
	"context"
	"testing"
)

func TestPushAndCurrent(t *testing.T) {
	ctx := Push(context.Background(), EntityRef{ID: "future1"})
	ref, ok := Current(ctx)
	if !ok {
		t.Fatal("expected a causal target to be present")
	}
	if ref.ID != "future1" {
		t.Fatalf("expected future1, got %s", ref.ID)
	}
}

func TestCurrentEmptyOnBareContext(t *testing.T) {
	if _, ok := Current(context.Background()); ok {
		t.Fatal("expected no causal target on a bare context")
	}
}

func TestPushNesting(t *testing.T) {
	ctx := Push(context.Background(), EntityRef{ID: "outer"})
	inner := Push(ctx, EntityRef{ID: "inner"})

	ref, ok := Current(inner)
	if !ok || ref.ID != "inner" {
		t.Fatalf("expected inner to be current, got %+v ok=%v", ref, ok)
	}
	ref, ok = Current(ctx)
	if !ok || ref.ID != "outer" {
		t.Fatalf("expected the outer context to still report outer, got %+v ok=%v", ref, ok)
	}
}

func TestGoroutineWithoutPropagatedContextStartsEmpty(t *testing.T) {
	ctx := Push(context.Background(), EntityRef{ID: "parent-task"})
	_ = ctx

	done := make(chan bool, 1)
	go func() {
		_, ok := Current(context.Background())
		done <- ok
	}()
	if ok := <-done; ok {
		t.Fatal("expected a goroutine started from a bare context to have no causal target")
	}
}
