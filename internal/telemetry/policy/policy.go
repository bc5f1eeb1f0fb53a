package policy

// Runtime policy for the graph runtime. Swapped atomically (callers hold an
// immutable snapshot pointer) to avoid locks on hot paths. Zero values fall
// back to defaults established in Default().

import "time"

// RuntimePolicy centralizes the runtime-tunable knobs for the graph store,
// the cut protocol, backtrace sampling, and the ambient telemetry stack.
type RuntimePolicy struct {
	Graph     GraphPolicy
	Cut       CutPolicy
	Backtrace BacktracePolicy
	Tracing   TracingPolicy
	Events    EventBusPolicy
}

type GraphPolicy struct {
	ChangeStreamBuffer int           // per-subscriber change event buffer depth
	EventLogCapacity   int           // ring buffer capacity for recorded events
	LockWaitWarn       time.Duration // log a warning if a lock acquisition exceeds this
}

type CutPolicy struct {
	DefaultDeadline time.Duration // per-participant ack deadline for a cut round
	MaxConcurrent   int           // max in-flight cut rounds
}

type BacktracePolicy struct {
	SampleOneIn int // capture 1 in N handle operations; 1 means capture always
	InternLimit int // max distinct frames retained in the intern table
}

type TracingPolicy struct {
	SamplePercent           float64
	ErrorBoostPercent       float64
	LatencyBoostThresholdMs int64
	LatencyBoostPercent     float64
}

type EventBusPolicy struct {
	MaxSubscriberBuffer int
}

// Default returns a RuntimePolicy populated with conservative defaults.
func Default() RuntimePolicy {
	return RuntimePolicy{
		Graph: GraphPolicy{
			ChangeStreamBuffer: 256,
			EventLogCapacity:   4096,
			LockWaitWarn:       50 * time.Millisecond,
		},
		Cut: CutPolicy{
			DefaultDeadline: 2 * time.Second,
			MaxConcurrent:   4,
		},
		Backtrace: BacktracePolicy{
			SampleOneIn: 1,
			InternLimit: 16384,
		},
		Tracing: TracingPolicy{SamplePercent: 20},
		Events:  EventBusPolicy{MaxSubscriberBuffer: 1024},
	}
}

// Normalize ensures sane bounds without mutating original; returns a cleaned copy.
func (p RuntimePolicy) Normalize() RuntimePolicy {
	c := p
	if c.Graph.ChangeStreamBuffer <= 0 {
		c.Graph.ChangeStreamBuffer = 256
	}
	if c.Graph.EventLogCapacity <= 0 {
		c.Graph.EventLogCapacity = 4096
	}
	if c.Graph.LockWaitWarn <= 0 {
		c.Graph.LockWaitWarn = 50 * time.Millisecond
	}
	if c.Cut.DefaultDeadline <= 0 {
		c.Cut.DefaultDeadline = 2 * time.Second
	}
	if c.Cut.MaxConcurrent <= 0 {
		c.Cut.MaxConcurrent = 4
	}
	if c.Backtrace.SampleOneIn <= 0 {
		c.Backtrace.SampleOneIn = 1
	}
	if c.Backtrace.InternLimit <= 0 {
		c.Backtrace.InternLimit = 16384
	}
	if c.Tracing.SamplePercent < 0 {
		c.Tracing.SamplePercent = 0
	}
	if c.Tracing.SamplePercent > 100 {
		c.Tracing.SamplePercent = 100
	}
	if c.Events.MaxSubscriberBuffer <= 0 {
		c.Events.MaxSubscriberBuffer = 1024
	}
	return c
}

