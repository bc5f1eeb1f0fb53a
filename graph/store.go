package graph

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/99souls/watchgraph/backtrace"
	"github.com/99souls/watchgraph/telemetry/logging"
	"github.com/99souls/watchgraph/telemetry/metrics"
)

// Store is the single source of truth for live entities, scopes, and
// edges within a process (component C1). All mutation goes through a
// handle (package handle); Store itself has no ownership discipline of
// its own, it only enforces graph-level invariants (body variant
// stability, edge idempotence, transitive scope removal).
type Store struct {
	mu           sync.RWMutex
	entities     map[string]*Entity
	scopes       map[string]*Scope
	edges        map[edgeKey]struct{}
	scopeMembers map[string]map[string]struct{} // scope id -> member entity ids

	events    []Event
	eventHead int
	eventLen  int
	seq       atomic.Uint64

	epoch atomic.Uint64

	bus *changeBus

	lockWaitWarn time.Duration
	logger       logging.Logger

	provider     metrics.Provider
	mEntities    metrics.Gauge
	mLagEvents   metrics.Counter
}

type edgeKey struct {
	Src, Dst string
	Kind     EdgeKind
}

// Options configures a new Store.
type Options struct {
	ChangeStreamBuffer int
	EventLogCapacity   int
	// LockWaitWarn logs a warning when a lock wrapper reports an
	// acquisition wait exceeding this duration. Zero disables the check.
	LockWaitWarn time.Duration
	Logger       logging.Logger
	Metrics      metrics.Provider
}

// NewStore creates an empty graph store.
func NewStore(opts Options) *Store {
	if opts.EventLogCapacity <= 0 {
		opts.EventLogCapacity = 4096
	}
	s := &Store{
		entities:     make(map[string]*Entity),
		scopes:       make(map[string]*Scope),
		edges:        make(map[edgeKey]struct{}),
		scopeMembers: make(map[string]map[string]struct{}),
		events:       make([]Event, opts.EventLogCapacity),
		bus:          newChangeBus(opts.ChangeStreamBuffer),
		lockWaitWarn: opts.LockWaitWarn,
		logger:       opts.Logger,
		provider:     opts.Metrics,
	}
	if s.provider != nil {
		s.mEntities = s.provider.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "watchgraph", Subsystem: "graph", Name: "entities", Help: "Live entity count",
		}})
		s.mLagEvents = s.provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "watchgraph", Subsystem: "graph", Name: "subscriber_lag_total", Help: "Subscriber lag signals raised",
		}})
	}
	return s
}

// Epoch returns the store's current cut epoch (advanced by BeginEpoch,
// called from the cut protocol).
func (s *Store) Epoch() uint64 { return s.epoch.Load() }

// BeginEpoch allocates a new epoch under an exclusive lock, so that
// mutations begun after this call are unambiguously tagged with the new
// epoch relative to the snapshot about to be taken (spec.md §4.6 step 2).
func (s *Store) BeginEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch.Add(1)
}

// UpsertEntity hashes body; if it differs from the last upsert (or the
// entity is new) it records the new body and publishes an
// ChangeUpsertEntity change. Otherwise nothing is published. Returns
// ErrInvalidBodyTransition if an existing entity's body kind differs
// from the incoming one.
func (s *Store) UpsertEntity(id string, body Body, source backtrace.Source, scope string) error {
	s.mu.Lock()
	existing, ok := s.entities[id]
	if ok {
		if existing.Body.Kind() != body.Kind() {
			s.mu.Unlock()
			return fmt.Errorf("%w: entity %s has kind %s, got %s", ErrInvalidBodyTransition, id, existing.Body.Kind(), body.Kind())
		}
		newHash := contentHash(body)
		if newHash == existing.contentHash {
			s.mu.Unlock()
			return nil
		}
		existing.Body = body
		existing.contentHash = newHash
		entityCopy := *existing
		s.mu.Unlock()
		s.bus.publish(Change{Kind: ChangeUpsertEntity, Entity: &entityCopy})
		return nil
	}

	e := &Entity{ID: id, Body: body, Source: source, OwningScope: scope, contentHash: contentHash(body)}
	s.entities[id] = e
	if scope != "" {
		members := s.scopeMembers[scope]
		if members == nil {
			members = make(map[string]struct{})
			s.scopeMembers[scope] = members
		}
		members[id] = struct{}{}
	}
	if s.mEntities != nil {
		s.mEntities.Set(float64(len(s.entities)))
	}
	entityCopy := *e
	s.mu.Unlock()
	s.bus.publish(Change{Kind: ChangeUpsertEntity, Entity: &entityCopy})
	return nil
}

// RemoveEntity removes the entity and every edge incident to it. It does
// not cascade through scope ownership; that is RemoveScope's job.
func (s *Store) RemoveEntity(id string) {
	s.mu.Lock()
	e, ok := s.entities[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.entities, id)
	if e.OwningScope != "" {
		if members := s.scopeMembers[e.OwningScope]; members != nil {
			delete(members, id)
		}
	}
	removed := s.removeEdgesFor(id)
	if s.mEntities != nil {
		s.mEntities.Set(float64(len(s.entities)))
	}
	s.mu.Unlock()

	s.bus.publish(Change{Kind: ChangeRemoveEntity, Entity: &Entity{ID: id}})
	for _, edge := range removed {
		edge := edge
		s.bus.publish(Change{Kind: ChangeRemoveEdge, Edge: &edge})
	}
}

// removeEdgesFor must be called with s.mu held.
func (s *Store) removeEdgesFor(id string) []Edge {
	var removed []Edge
	for k := range s.edges {
		if k.Src == id || k.Dst == id {
			delete(s.edges, k)
			removed = append(removed, Edge{Src: k.Src, Dst: k.Dst, Kind: k.Kind})
		}
	}
	return removed
}

// UpsertScope creates or updates a scope.
func (s *Store) UpsertScope(id, name string, source backtrace.Source, parent string) {
	s.mu.Lock()
	sc := &Scope{ID: id, Name: name, Source: source, Parent: parent}
	s.scopes[id] = sc
	if _, ok := s.scopeMembers[id]; !ok {
		s.scopeMembers[id] = make(map[string]struct{})
	}
	scopeCopy := *sc
	s.mu.Unlock()
	s.bus.publish(Change{Kind: ChangeUpsertScope, Scope: &scopeCopy})
}

// RemoveScope removes the scope and every entity currently owned by it,
// then removes each child scope (one whose Parent is id) the same way,
// so removal cascades transitively through nested scopes.
func (s *Store) RemoveScope(id string) {
	s.mu.Lock()
	if _, ok := s.scopes[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.scopes, id)
	members := s.scopeMembers[id]
	delete(s.scopeMembers, id)
	memberIDs := make([]string, 0, len(members))
	for mid := range members {
		memberIDs = append(memberIDs, mid)
	}
	var childIDs []string
	for cid, sc := range s.scopes {
		if sc.Parent == id {
			childIDs = append(childIDs, cid)
		}
	}
	s.mu.Unlock()

	s.bus.publish(Change{Kind: ChangeRemoveScope, Scope: &Scope{ID: id}})
	for _, mid := range memberIDs {
		s.RemoveEntity(mid)
	}
	for _, cid := range childIDs {
		s.RemoveScope(cid)
	}
}

// AddEdge is idempotent; a second add is a no-op. Identities of src/dst
// are not validated against the entity map here — edge creation precedes
// entity upsert in some wrapper flows (e.g. a paired_with edge created
// alongside the second endpoint); callers are responsible for ensuring
// both endpoints exist by the time a cut is taken, and nothing in the
// store or the cut path checks this.
func (s *Store) AddEdge(src, dst string, kind EdgeKind) {
	k := edgeKey{Src: src, Dst: dst, Kind: kind}
	s.mu.Lock()
	if _, ok := s.edges[k]; ok {
		s.mu.Unlock()
		return
	}
	s.edges[k] = struct{}{}
	s.mu.Unlock()
	s.bus.publish(Change{Kind: ChangeAddEdge, Edge: &Edge{Src: src, Dst: dst, Kind: kind}})
}

// RemoveEdge is idempotent; removing a non-present edge is a no-op.
func (s *Store) RemoveEdge(src, dst string, kind EdgeKind) {
	k := edgeKey{Src: src, Dst: dst, Kind: kind}
	s.mu.Lock()
	if _, ok := s.edges[k]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.edges, k)
	s.mu.Unlock()
	s.bus.publish(Change{Kind: ChangeRemoveEdge, Edge: &Edge{Src: src, Dst: dst, Kind: kind}})
}

// HasEdge reports whether the given edge currently exists.
func (s *Store) HasEdge(src, dst string, kind EdgeKind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.edges[edgeKey{Src: src, Dst: dst, Kind: kind}]
	return ok
}

// Exists reports whether an entity identity is currently present, used
// by WeakEntityHandle to implement its silent-no-op-on-gone semantics.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entities[id]
	return ok
}

// GetBody returns the current body for an entity, and whether it exists.
// Used by Mutate to give the caller's closure a reference to the live
// value rather than a zero value.
func (s *Store) GetBody(id string) (Body, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, false
	}
	return e.Body, true
}

// RecordEvent appends to the bounded event ring, assigning the next
// sequence number from the per-process monotonic counter.
func (s *Store) RecordEvent(target string, kind EventKind, source backtrace.Source) Event {
	return s.RecordEventDetail(target, kind, source, EventDetail{})
}

// EventDetail carries the optional attributes of a channel event: the
// wait a blocking send/receive observed before resolving, and whether
// the operation resolved because the counterpart endpoint was gone.
type EventDetail struct {
	ObservedWaitNs  int64
	CounterpartGone bool
}

// RecordEventDetail is RecordEvent with the optional channel-event
// attributes filled in.
func (s *Store) RecordEventDetail(target string, kind EventKind, source backtrace.Source, d EventDetail) Event {
	ev := Event{
		Target:          target,
		Kind:            kind,
		Source:          source,
		Seq:             s.seq.Add(1),
		Time:            time.Now(),
		ObservedWaitNs:  d.ObservedWaitNs,
		CounterpartGone: d.CounterpartGone,
	}
	s.mu.Lock()
	cap := len(s.events)
	idx := (s.eventHead + s.eventLen) % cap
	if s.eventLen < cap {
		s.eventLen++
	} else {
		s.eventHead = (s.eventHead + 1) % cap
	}
	s.events[idx] = ev
	s.mu.Unlock()
	s.bus.publish(Change{Kind: ChangeEvent, Event: &ev})
	return ev
}

// ObserveLockWait is called by lock wrappers after a blocking
// acquisition resolves; waits beyond the configured threshold are
// logged so stalls surface even between cuts.
func (s *Store) ObserveLockWait(id string, wait time.Duration) {
	if s.lockWaitWarn <= 0 || wait < s.lockWaitWarn || s.logger == nil {
		return
	}
	s.logger.WarnCtx(context.Background(), "graph: slow lock acquisition", "lock", id, "wait", wait)
}

// Subscribe returns a lazy sequence of change records.
func (s *Store) Subscribe() ChangeStream {
	return s.bus.subscribe()
}

// Snapshot returns a consistent view of the store (component C6 builds
// on this directly). The epoch transition itself is marked separately
// by BeginEpoch, under an exclusive lock; Snapshot only needs a shared
// lock for its serialization pass, held for the full read so that no
// entity or scope body can be mutated out from under the copy (a body
// mutation under UpsertEntity's exclusive lock would otherwise race
// with this method reading the same *Entity after an early unlock).
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	epoch := s.epoch.Load()
	snap := Snapshot{Epoch: epoch, Events: s.copyEventsLocked()}
	for _, e := range s.entities {
		snap.Entities = append(snap.Entities, *e)
	}
	for _, sc := range s.scopes {
		snap.Scopes = append(snap.Scopes, *sc)
	}
	for k := range s.edges {
		snap.Edges = append(snap.Edges, Edge{Src: k.Src, Dst: k.Dst, Kind: k.Kind})
	}
	return snap
}

// copyEventsLocked must be called with s.mu held.
func (s *Store) copyEventsLocked() []Event {
	out := make([]Event, s.eventLen)
	for i := 0; i < s.eventLen; i++ {
		out[i] = s.events[(s.eventHead+i)%len(s.events)]
	}
	return out
}
