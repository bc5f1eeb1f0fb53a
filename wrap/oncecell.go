package wrap

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/99souls/watchgraph/backtrace"
	"github.com/99souls/watchgraph/graph"
	"github.com/99souls/watchgraph/handle"
	"github.com/99souls/watchgraph/identity"
)

// OnceCell is a once-initialized cell: concurrent callers racing
// GetOrInit all observe the same single initialization, coalesced
// through a singleflight.Group rather than a hand-rolled double-checked
// lock — the same coalescing primitive the digital-twin-style engines
// in the pack use for single-flight compilation passes.
type OnceCell[T any] struct {
	group singleflight.Group
	mu    sync.RWMutex
	value T
	state OnceCellState

	self handle.EntityHandle[OnceCellBody]
}

// NewOnceCell creates a named once-cell entity.
func NewOnceCell[T any](store *graph.Store, procKey, name string, source backtrace.Source, scope string) (*OnceCell[T], error) {
	id := identity.OnceCellID(procKey, name)
	h, err := handle.NewEntity[OnceCellBody](store, id, OnceCellBody{State: OnceCellEmpty}, source, scope)
	if err != nil {
		return nil, err
	}
	return &OnceCell[T]{state: OnceCellEmpty, self: h}, nil
}

// GetOrInit returns the initialized value, running init exactly once
// across all concurrent callers.
func (c *OnceCell[T]) GetOrInit(ctx context.Context, source backtrace.Source, init func() (T, error)) (T, error) {
	c.mu.RLock()
	if c.state == OnceCellInitialised {
		v := c.value
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	_ = c.self.Mutate(source, "", func(b *OnceCellBody) { b.State = OnceCellInitialising; b.WaiterCount++ })
	v, err, _ := c.group.Do("init", func() (any, error) {
		c.mu.Lock()
		if c.state == OnceCellInitialised {
			val := c.value
			c.mu.Unlock()
			return val, nil
		}
		c.mu.Unlock()
		val, err := init()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.value = val
		c.state = OnceCellInitialised
		c.mu.Unlock()
		return val, nil
	})
	if err != nil {
		_ = c.self.Mutate(source, "", func(b *OnceCellBody) { b.State = OnceCellEmpty; b.WaiterCount = 0 })
		var zero T
		return zero, err
	}
	_ = c.self.Mutate(source, "", func(b *OnceCellBody) { b.State = OnceCellInitialised; b.WaiterCount = 0 })
	return v.(T), nil
}

// Close drops the once-cell's owning handle.
func (c *OnceCell[T]) Close() { c.self.Close() }
