// Package cut implements the cooperative, cross-process point-in-time
// snapshot protocol (component C6): an orchestrator-assigned cut id
// fans out to every connected process, each allocates a new epoch and
// serializes a consistent view of its graph store, and the orchestrator
// collects responses until a deadline, reporting partial cuts as
// first-class results rather than errors (spec.md §4.6).
package cut

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/99souls/watchgraph/egress"
	"github.com/99souls/watchgraph/graph"
	internaltracing "github.com/99souls/watchgraph/internal/telemetry/tracing"
	"github.com/99souls/watchgraph/telemetry/events"
	"github.com/99souls/watchgraph/telemetry/metrics"
)

// ErrCutDeadlineExceeded documents the CutDeadlineExceeded error kind
// (spec.md §7). It is never returned to the non-responding process
// (which is never notified); it is only recorded on the orchestrator
// side, in a ParticipantResult's Status field, not returned as a Go
// error from RequestCut.
var ErrCutDeadlineExceeded = errors.New("cut: participant exceeded deadline")

// ParticipantStatus is a participant's outcome for one cut round.
type ParticipantStatus string

const (
	StatusResponded    ParticipantStatus = "responded"
	StatusTimedOut     ParticipantStatus = "timed_out"
	StatusDisconnected ParticipantStatus = "disconnected"
)

// Participant is the orchestrator's view of one connected process: a
// synchronous call that performs the round trip (send cut request,
// await response or the ctx deadline). Real deployments implement this
// over the wire (egress's framing); this package's Coordinator also
// accepts in-process Participants directly, for tests and the
// cmd/watchgraphd demo host.
type Participant interface {
	// Name identifies the participant for ParticipantResult.
	Name() string
	// RequestCut asks the participant to produce a cut response for id,
	// returning ctx.Err() if ctx is done first (the coordinator maps
	// that to StatusTimedOut or StatusDisconnected based on which).
	RequestCut(ctx context.Context, id uint64) (egress.CutResponse, error)
}

// ParticipantResult is one participant's outcome within a CutResult.
type ParticipantResult struct {
	Name     string
	Status   ParticipantStatus
	Response egress.CutResponse
}

// CutResult is the orchestrator's aggregate view of one cut round
// (spec.md §6's snapshot-now response shape, plus per-participant
// detail).
type CutResult struct {
	SnapshotID   uint64
	Requested    int
	Responded    int
	TimedOut     int
	Disconnected int
	Participants []ParticipantResult
}

// Coordinator assigns monotonic cut ids and fans a cut request out to
// every registered participant. It runs inside the collector process in
// a real deployment, but the protocol client lives in this package for
// test/demo purposes (spec.md's C6 description says nothing requires it
// to be external, only that it drives the protocol).
type Coordinator struct {
	nextID uint64

	mu           sync.RWMutex
	participants []Participant

	inFlight *semaphore.Weighted

	bus    events.Bus
	tracer internaltracing.Tracer

	provider  metrics.Provider
	mCuts     metrics.Counter
	mTimedOut metrics.Counter
}

// Options configures a new Coordinator.
type Options struct {
	// MaxConcurrent bounds in-flight cut rounds so a second cut can
	// proceed independently of a first, up to this bound (spec.md
	// §4.6's tie-break rule). <= 0 means unbounded.
	MaxConcurrent int
	Metrics       metrics.Provider
	Events        events.Bus
	Tracer        internaltracing.Tracer
}

// NewCoordinator creates an empty Coordinator.
func NewCoordinator(opts Options) *Coordinator {
	max := int64(opts.MaxConcurrent)
	if max <= 0 {
		max = 1 << 20 // effectively unbounded
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = internaltracing.NewTracer(false)
	}
	c := &Coordinator{inFlight: semaphore.NewWeighted(max), bus: opts.Events, tracer: tracer, provider: opts.Metrics}
	if c.provider != nil {
		c.mCuts = c.provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "watchgraph", Subsystem: "cut", Name: "rounds_total", Help: "Cut rounds requested",
		}})
		c.mTimedOut = c.provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "watchgraph", Subsystem: "cut", Name: "participant_timeouts_total", Help: "Participants that missed a cut deadline",
		}})
	}
	return c
}

// Register adds a participant to future cut rounds.
func (c *Coordinator) Register(p Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.participants = append(c.participants, p)
}

// RequestCut assigns a new cut id and fans it out to every registered
// participant with the given deadline. Overlapping cuts (a second
// requested before the first completes) proceed independently, bounded
// only by MaxConcurrent (spec.md §4.6 tie-break rule); cut ids are
// strictly monotonic per Coordinator instance ("per orchestrator
// session").
func (c *Coordinator) RequestCut(ctx context.Context, deadline time.Duration) (CutResult, error) {
	if err := c.inFlight.Acquire(ctx, 1); err != nil {
		return CutResult{}, err
	}
	defer c.inFlight.Release(1)

	id := atomic.AddUint64(&c.nextID, 1)
	if c.mCuts != nil {
		c.mCuts.Inc(1)
	}
	ctx, span := c.tracer.StartSpan(ctx, "cut.request")
	defer span.End()
	span.SetAttribute("cut_id", id)

	c.mu.RLock()
	participants := make([]Participant, len(c.participants))
	copy(participants, c.participants)
	c.mu.RUnlock()

	result := CutResult{SnapshotID: id, Requested: len(participants)}
	results := make([]ParticipantResult, len(participants))

	roundCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	// Each participant's outcome is collected independently: one slow or
	// disconnected participant must never cancel the others, which is
	// why per-participant errors are folded into results rather than
	// returned from g.Wait() (a deliberate divergence from errgroup's
	// default fail-fast behavior).
	var g errgroup.Group
	for i, p := range participants {
		i, p := i, p
		g.Go(func() error {
			resp, err := p.RequestCut(roundCtx, id)
			switch {
			case err == nil:
				results[i] = ParticipantResult{Name: p.Name(), Status: StatusResponded, Response: resp}
			case errors.Is(roundCtx.Err(), context.DeadlineExceeded):
				results[i] = ParticipantResult{Name: p.Name(), Status: StatusTimedOut}
			default:
				results[i] = ParticipantResult{Name: p.Name(), Status: StatusDisconnected}
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		switch r.Status {
		case StatusResponded:
			result.Responded++
		case StatusTimedOut:
			result.TimedOut++
			if c.mTimedOut != nil {
				c.mTimedOut.Inc(1)
			}
		case StatusDisconnected:
			result.Disconnected++
		}
	}
	result.Participants = results

	if c.bus != nil {
		severity := "info"
		if result.TimedOut > 0 || result.Disconnected > 0 {
			severity = "warn"
		}
		_ = c.bus.PublishCtx(ctx, events.Event{
			Category: events.CategoryCut,
			Type:     "round_complete",
			Severity: severity,
			Fields: map[string]interface{}{
				"snapshot_id":  result.SnapshotID,
				"requested":    result.Requested,
				"responded":    result.Responded,
				"timed_out":    result.TimedOut,
				"disconnected": result.Disconnected,
			},
		})
	}
	return result, nil
}

// store is the minimal subset of *graph.Store the Participant-side code
// below needs, kept as an interface purely to make Participant testable
// against a fake without pulling in the whole Store type.
type store interface {
	BeginEpoch() uint64
	Snapshot() graph.Snapshot
}
