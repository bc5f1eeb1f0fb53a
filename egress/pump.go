package egress

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/99souls/watchgraph/graph"
	"github.com/99souls/watchgraph/telemetry/events"
	"github.com/99souls/watchgraph/telemetry/logging"
	"github.com/99souls/watchgraph/telemetry/metrics"
)

// Pump owns the single outbound connection a process maintains to the
// orchestrator (spec.md §4.7). It reads off a graph.ChangeStream (for
// 0x03 frames) and an explicit handshake/cut-response channel (0x01,
// 0x02), and never blocks the application: its outbound queue is bounded,
// and when it is full the incoming frame is dropped and counted, with one
// egress/queue_gap diagnostic event per run of drops. Frames already
// queued are never dropped, and no gap marker is written into the frame
// stream. It reuses the same bounded-channel-plus-drop-counter idiom as
// graph's own change bus and telemetry/events.Bus.
type Pump struct {
	conn   net.Conn
	logger logging.Logger

	outbound  chan outboundFrame
	done      chan struct{}
	closeOnce sync.Once

	published  atomic.Uint64
	dropped    atomic.Uint64
	gapPending atomic.Bool

	provider metrics.Provider
	mDropped metrics.Counter
	bus      events.Bus
}

type outboundFrame struct {
	tag  Tag
	body []byte
}

// Options configures a new Pump.
type Options struct {
	QueueBuffer int
	Logger      logging.Logger
	Metrics     metrics.Provider
	Events      events.Bus
}

// NewPump wraps conn with a bounded outbound queue and starts its writer
// goroutine.
func NewPump(conn net.Conn, opts Options) *Pump {
	if opts.QueueBuffer <= 0 {
		opts.QueueBuffer = 256
	}
	if opts.Logger == nil {
		opts.Logger = logging.New(nil)
	}
	p := &Pump{
		conn:     conn,
		logger:   opts.Logger,
		outbound: make(chan outboundFrame, opts.QueueBuffer),
		done:     make(chan struct{}),
		provider: opts.Metrics,
		bus:      opts.Events,
	}
	if p.provider != nil {
		p.mDropped = p.provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "watchgraph", Subsystem: "egress", Name: "frames_dropped_total", Help: "Outbound frames dropped due to backpressure",
		}})
	}
	go p.writeLoop()
	return p
}

// SendHandshake enqueues the capability handshake. Per spec.md §4.7 this
// must be the first frame sent; callers are expected to call it before
// Attach.
func (p *Pump) SendHandshake(h Handshake) error {
	body, err := EncodeHandshake(h)
	if err != nil {
		return err
	}
	p.enqueue(TagHandshake, body)
	return nil
}

// SendCutResponse enqueues a 0x02 frame.
func (p *Pump) SendCutResponse(r CutResponse) error {
	body, err := EncodeCutResponse(r)
	if err != nil {
		return err
	}
	p.enqueue(TagCutResponse, body)
	return nil
}

// Attach begins forwarding store's change stream as 0x03 frames until ctx
// is done or the store shuts down. Intended to run on its own goroutine.
func (p *Pump) Attach(ctx context.Context, store *graph.Store) {
	stream := store.Subscribe()
	defer stream.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-stream.Lagged():
			// A subscriber-side gap: nothing more to forward than what
			// graph.ChangeStream already signals; a fresh Snapshot-based
			// reconciliation is the collector's job, not the pump's.
			continue
		case c, ok := <-stream.C():
			if !ok {
				return
			}
			body, err := EncodeChange(Change{Kind: c.Kind, Entity: c.Entity, Scope: c.Scope, Edge: c.Edge, Event: c.Event})
			if err != nil {
				continue
			}
			p.enqueue(TagChange, body)
		}
	}
}

// enqueue never blocks the caller: when the outbound queue is full, the
// frame being enqueued (the newest) is dropped and counted while queued
// frames are kept, matching spec.md §5's "loss of the
// egress consumer must never block application tasks".
func (p *Pump) enqueue(tag Tag, body []byte) {
	select {
	case p.outbound <- outboundFrame{tag: tag, body: body}:
		p.published.Add(1)
		p.gapPending.Store(false)
	default:
		p.dropped.Add(1)
		if p.mDropped != nil {
			p.mDropped.Inc(1)
		}
		// Raise one diagnostic event per gap, not per dropped frame; the
		// flag resets once a frame gets through again.
		if p.bus != nil && p.gapPending.CompareAndSwap(false, true) {
			_ = p.bus.Publish(events.Event{
				Category: events.CategoryEgress,
				Type:     "queue_gap",
				Severity: "warn",
				Fields:   map[string]interface{}{"dropped_total": p.dropped.Load()},
			})
		}
	}
}

func (p *Pump) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case f := <-p.outbound:
			if err := WriteFrame(p.conn, f.tag, f.body); err != nil {
				p.logger.ErrorCtx(context.Background(), "egress: write failed", "error", err)
				return
			}
		}
	}
}

// Stats reports the pump's published/dropped frame counters.
func (p *Pump) Stats() (published, dropped uint64) {
	return p.published.Load(), p.dropped.Load()
}

// Close stops the writer goroutine and closes the underlying connection.
func (p *Pump) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return p.conn.Close()
}
