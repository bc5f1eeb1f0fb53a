// Package graph is the process-wide registry of live entities, scopes,
// and edges (component C1): the single source of truth wrapper handles
// mutate and the collector's snapshots are drawn from.
package graph

import (
	"time"

	"github.com/99souls/watchgraph/backtrace"
)

// BodyKind discriminates the closed set of entity body variants.
type BodyKind string

const (
	KindMPSCTx      BodyKind = "mpsc_tx"
	KindMPSCRx      BodyKind = "mpsc_rx"
	KindBroadcastTx BodyKind = "broadcast_tx"
	KindBroadcastRx BodyKind = "broadcast_rx"
	KindWatchTx     BodyKind = "watch_tx"
	KindWatchRx     BodyKind = "watch_rx"
	KindOneshotTx   BodyKind = "oneshot_tx"
	KindOneshotRx   BodyKind = "oneshot_rx"
	KindLock        BodyKind = "lock"
	KindSemaphore   BodyKind = "semaphore"
	KindNotify      BodyKind = "notify"
	KindOnceCell    BodyKind = "once_cell"
	KindFuture      BodyKind = "future"
	KindRequest     BodyKind = "request"
	KindResponse    BodyKind = "response"
)

// Body is implemented by every entity body variant. Implementations live
// alongside the wrapper that owns them (package wrap) to keep the store
// itself ignorant of wrapper internals; the store only needs Kind() and
// the ability to hash the body for change suppression.
type Body interface {
	Kind() BodyKind
}

// Entity is a live observable object in the graph.
type Entity struct {
	ID          string
	Body        Body
	Source      backtrace.Source
	OwningScope string // empty if unscoped
	contentHash uint64
}

// Scope is a grouping entity owning the entities created within its
// dynamic extent.
type Scope struct {
	ID     string
	Name   string
	Source backtrace.Source
	Parent string // empty if root
}

// EdgeKind is the closed set of causal relations between two entities.
type EdgeKind string

const (
	EdgePolls      EdgeKind = "polls"
	EdgeWaitingOn  EdgeKind = "waiting_on"
	EdgeHolds      EdgeKind = "holds"
	EdgePairedWith EdgeKind = "paired_with"
)

// Edge is a directed relation between two entities, identified only by
// its (Src, Dst, Kind) triple.
type Edge struct {
	Src  string
	Dst  string
	Kind EdgeKind
}

// EventKind is the closed set of point-in-time observations.
type EventKind string

const (
	EventChannelSend    EventKind = "channel_send"
	EventChannelReceive EventKind = "channel_receive"
	EventStateChanged   EventKind = "state_changed"
	EventSpawn          EventKind = "spawn"
	EventComplete       EventKind = "complete"
)

// Event is a point-in-time observation pinned to an entity or scope.
type Event struct {
	Target           string
	Kind             EventKind
	Source           backtrace.Source
	Seq              uint64
	Time             time.Time
	ObservedWaitNs   int64 // optional; 0 if not applicable
	CounterpartGone  bool
}

// Change describes one incremental mutation published on the store's
// change stream (C1's fan-out, consumed by egress for 0x03 frames).
type Change struct {
	Kind   ChangeKind
	Entity *Entity
	Scope  *Scope
	Edge   *Edge
	Event  *Event
}

// ChangeKind discriminates the Change union.
type ChangeKind string

const (
	ChangeUpsertEntity ChangeKind = "upsert_entity"
	ChangeRemoveEntity ChangeKind = "remove_entity"
	ChangeUpsertScope  ChangeKind = "upsert_scope"
	ChangeRemoveScope  ChangeKind = "remove_scope"
	ChangeAddEdge      ChangeKind = "add_edge"
	ChangeRemoveEdge   ChangeKind = "remove_edge"
	ChangeEvent        ChangeKind = "event"
)

// Snapshot is a consistent point-in-time view of the store, as produced
// by the cut protocol (C6) or by a subscriber reconciling after a lag.
type Snapshot struct {
	Epoch    uint64
	Entities []Entity
	Scopes   []Scope
	Edges    []Edge
	Events   []Event
}
