// Package wrap provides near-drop-in instrumented replacements for Go's
// concurrency primitives (component C3): channels, locks, semaphores,
// notification, once-cells, futures, join-sets, and request/response
// handles. Each wrapper maintains its own entity body and emits edges at
// the moments described in the canonical edge discipline.
package wrap

import "github.com/99souls/watchgraph/graph"

// Body variants, one struct per row of the wrapper/body-variant table.
// Each is a small value type so content hashing (graph.contentHash) and
// the "no allocation in the no-change case" mutate path stay cheap.

type MPSCTxBody struct {
	QueueLen int
	Capacity int // 0 means unbounded
}

func (MPSCTxBody) Kind() graph.BodyKind { return graph.KindMPSCTx }

type MPSCRxBody struct{}

func (MPSCRxBody) Kind() graph.BodyKind { return graph.KindMPSCRx }

type BroadcastTxBody struct {
	Capacity int
}

func (BroadcastTxBody) Kind() graph.BodyKind { return graph.KindBroadcastTx }

type BroadcastRxBody struct {
	Lag uint64
}

func (BroadcastRxBody) Kind() graph.BodyKind { return graph.KindBroadcastRx }

type WatchTxBody struct {
	LastUpdateUnixNano int64
}

func (WatchTxBody) Kind() graph.BodyKind { return graph.KindWatchTx }

type WatchRxBody struct{}

func (WatchRxBody) Kind() graph.BodyKind { return graph.KindWatchRx }

type OneshotTxBody struct {
	Sent bool
}

func (OneshotTxBody) Kind() graph.BodyKind { return graph.KindOneshotTx }

type OneshotRxBody struct{}

func (OneshotRxBody) Kind() graph.BodyKind { return graph.KindOneshotRx }

// LockKind discriminates the three lock modes.
type LockKind string

const (
	LockMutex LockKind = "mutex"
	LockRead  LockKind = "read"
	LockWrite LockKind = "write"
)

type LockBody struct {
	Mode        LockKind
	HolderCount int
	WaiterCount int
	Acquires    uint64
	Releases    uint64
}

func (LockBody) Kind() graph.BodyKind { return graph.KindLock }

type SemaphoreBody struct {
	MaxPermits int
	HandedOut  int
}

func (SemaphoreBody) Kind() graph.BodyKind { return graph.KindSemaphore }

type NotifyBody struct {
	WaiterCount int
}

func (NotifyBody) Kind() graph.BodyKind { return graph.KindNotify }

// OnceCellState is the closed set of OnceCell lifecycle states.
type OnceCellState string

const (
	OnceCellEmpty        OnceCellState = "empty"
	OnceCellInitialising OnceCellState = "initialising"
	OnceCellInitialised  OnceCellState = "initialised"
)

type OnceCellBody struct {
	State       OnceCellState
	WaiterCount int
}

func (OnceCellBody) Kind() graph.BodyKind { return graph.KindOnceCell }

type FutureBody struct {
	PendingCount int
	ReadyCount   int
}

func (FutureBody) Kind() graph.BodyKind { return graph.KindFuture }

// RequestStatus is the closed set of request/response lifecycle states.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusOK        RequestStatus = "ok"
	StatusError     RequestStatus = "error"
	StatusCancelled RequestStatus = "cancelled"
)

type RequestBody struct {
	Method string
	Args   string
	Status RequestStatus
}

func (RequestBody) Kind() graph.BodyKind { return graph.KindRequest }

type ResponseBody struct {
	Status RequestStatus
}

func (ResponseBody) Kind() graph.BodyKind { return graph.KindResponse }
