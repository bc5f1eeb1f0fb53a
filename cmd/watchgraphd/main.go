// Command watchgraphd is a demo host process: it wires a graph.Store, a
// handful of wrap.* primitives driving a small simulated workload, and
// an egress.Pump together, so the cut protocol and wire framing have
// something real to observe end to end. It is not the collector daemon
// (spec.md §1's out-of-scope snapshot collector); it is the in-process
// runtime side of the wire contract that collector would consume.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/99souls/watchgraph/backtrace"
	"github.com/99souls/watchgraph/cut"
	"github.com/99souls/watchgraph/egress"
	"github.com/99souls/watchgraph/graph"
	"github.com/99souls/watchgraph/handle"
	"github.com/99souls/watchgraph/identity"
	"github.com/99souls/watchgraph/internal/telemetry/policy"
	internaltracing "github.com/99souls/watchgraph/internal/telemetry/tracing"
	"github.com/99souls/watchgraph/runtimeconfig"
	"github.com/99souls/watchgraph/telemetry/events"
	"github.com/99souls/watchgraph/telemetry/logging"
	"github.com/99souls/watchgraph/telemetry/metrics"
	"github.com/99souls/watchgraph/wrap"
)

type config struct {
	listen      string
	metricsAddr string
	configPath  string
	name        string
	cutPeriod   time.Duration
	cutDeadline time.Duration
}

func main() {
	cfg := &config{}
	root := &cobra.Command{
		Use:   "watchgraphd",
		Short: "Demo host for the in-process graph runtime and egress pump",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	flags := pflag.NewFlagSet("watchgraphd", pflag.ExitOnError)
	flags.StringVar(&cfg.listen, "listen", "127.0.0.1:7777", "TCP address to accept the egress connection on")
	flags.StringVar(&cfg.metricsAddr, "metrics-addr", "", "HTTP address to serve Prometheus metrics on (empty disables)")
	flags.StringVar(&cfg.configPath, "config", "", "runtime policy YAML, hot-reloaded on change (empty uses built-in defaults)")
	flags.StringVar(&cfg.name, "name", "watchgraphd", "process name used to derive this process's proc_key")
	flags.DurationVar(&cfg.cutPeriod, "cut-period", 5*time.Second, "interval between self-initiated demo cuts")
	flags.DurationVar(&cfg.cutDeadline, "cut-deadline", 2*time.Second, "per-cut participant deadline")
	root.Flags().AddFlagSet(flags)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config) error {
	logger := logging.New(nil)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	provider := metrics.NewNoopProvider()
	if cfg.metricsAddr != "" {
		prom := metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
		provider = prom
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.MetricsHandler())
		srv := &http.Server{Addr: cfg.metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.ErrorCtx(ctx, "watchgraphd: metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	bus := events.NewBus(provider)
	go logBusEvents(ctx, bus, logger)

	var policySource *runtimeconfig.Source
	if cfg.configPath != "" {
		src, err := runtimeconfig.Watch(ctx, cfg.configPath, runtimeconfig.WatchOptions{Logger: logger, Events: bus})
		if err != nil {
			return err
		}
		policySource = src
	} else {
		policySource = runtimeconfig.NewStatic(policy.Default())
	}
	pol := policySource.Current()

	tracer := internaltracing.NewAdaptiveTracer(func() float64 {
		return policySource.Current().Tracing.SamplePercent
	})

	store := graph.NewStore(graph.Options{
		ChangeStreamBuffer: pol.Graph.ChangeStreamBuffer,
		EventLogCapacity:   pol.Graph.EventLogCapacity,
		LockWaitWarn:       pol.Graph.LockWaitWarn,
		Logger:             logger,
		Metrics:            provider,
	})
	frames := backtrace.NewTable(backtrace.Lazy, pol.Backtrace.InternLimit)
	process := identity.New(cfg.name)

	root := handle.NewScope(store, "scope:"+process.ProcKey+":root", "root", frames.Capture(0), "")
	defer root.Close()

	go runWorkload(ctx, store, process, frames, root)

	ln, err := net.Listen("tcp", cfg.listen)
	if err != nil {
		return err
	}
	defer ln.Close()
	logger.InfoCtx(ctx, "watchgraphd: listening", "addr", cfg.listen)

	conn, err := acceptOne(ctx, ln)
	if err != nil {
		return err
	}
	defer conn.Close()

	pump := egress.NewPump(conn, egress.Options{
		QueueBuffer: pol.Graph.ChangeStreamBuffer,
		Logger:      logger,
		Metrics:     provider,
		Events:      bus,
	})
	defer pump.Close()

	if err := pump.SendHandshake(egress.Handshake{
		TraceV1:                true,
		RequiresFramePointers:  true,
		SamplingSupported:      true,
		AllocTrackingSupported: false,
		ModuleManifest:         egress.LocalModuleManifest(),
	}); err != nil {
		return err
	}

	go pump.Attach(ctx, store)

	coordinator := cut.NewCoordinator(cut.Options{
		MaxConcurrent: pol.Cut.MaxConcurrent,
		Metrics:       provider,
		Events:        bus,
		Tracer:        tracer,
	})
	coordinator.Register(cut.NewLocalParticipant(store, process, frames))

	ticker := time.NewTicker(cfg.cutPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.InfoCtx(context.Background(), "watchgraphd: shutting down")
			return nil
		case <-ticker.C:
			result, err := coordinator.RequestCut(ctx, cfg.cutDeadline)
			if err != nil {
				logger.ErrorCtx(ctx, "watchgraphd: cut failed", "error", err)
				continue
			}
			for _, p := range result.Participants {
				if p.Status == cut.StatusResponded {
					if err := pump.SendCutResponse(p.Response); err != nil {
						logger.ErrorCtx(ctx, "watchgraphd: send cut response failed", "error", err)
					}
				}
			}
		}
	}
}

// logBusEvents drains the diagnostic event bus into the process log, the
// demo stand-in for shipping these to a real operations sink.
func logBusEvents(ctx context.Context, bus events.Bus, logger logging.Logger) {
	sub, err := bus.Subscribe(policy.Default().Events.MaxSubscriberBuffer)
	if err != nil {
		return
	}
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			switch ev.Severity {
			case "error":
				logger.ErrorCtx(ctx, "event: "+ev.Category+"/"+ev.Type, "fields", ev.Fields)
			case "warn":
				logger.WarnCtx(ctx, "event: "+ev.Category+"/"+ev.Type, "fields", ev.Fields)
			default:
				logger.InfoCtx(ctx, "event: "+ev.Category+"/"+ev.Type, "fields", ev.Fields)
			}
		}
	}
}

func acceptOne(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn: conn, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.conn, r.err
	}
}

// runWorkload drives a small simulated producer/consumer pair through a
// wrapped mutex and MPSC channel so the graph has live entities and
// edges to cut, without any of this being the host application's real
// business logic (which stays out of scope, spec.md §1). Both sides run
// as wrap.Spawn futures, so every lock hold and channel wait is
// attributed to a real future entity. The producer owns the sender and
// closes it on exit, so the consumer's final Recv resolves with the
// counterpart-gone outcome instead of hanging.
func runWorkload(ctx context.Context, store *graph.Store, process identity.Process, frames *backtrace.Table, scope handle.ScopeHandle) {
	mu, err := wrap.NewMutex(store, process.ProcKey, "demo-lock", frames.Capture(0), scope.ID())
	if err != nil {
		return
	}
	defer mu.Close()

	tx, rx, err := wrap.NewMPSC[int](store, process.ProcKey, "demo-queue", 4, frames.Capture(0), scope.ID())
	if err != nil {
		return
	}
	defer rx.Close()

	producer, err := wrap.Spawn(ctx, store, identity.FutureID(process.ProcKey, 1), frames.Capture(0), scope.ID(),
		func(ctx context.Context) (struct{}, error) {
			defer tx.Close()
			for i := 0; ; i++ {
				select {
				case <-ctx.Done():
					return struct{}{}, ctx.Err()
				default:
				}
				g := mu.Lock(ctx, frames.Capture(0))
				time.Sleep(5 * time.Millisecond)
				g.Close()
				if err := tx.Send(ctx, frames.Capture(0), i); err != nil {
					return struct{}{}, err
				}
				time.Sleep(50 * time.Millisecond)
			}
		})
	if err != nil {
		return
	}
	defer producer.Close()

	consumer, err := wrap.Spawn(ctx, store, identity.FutureID(process.ProcKey, 2), frames.Capture(0), scope.ID(),
		func(ctx context.Context) (struct{}, error) {
			for {
				if _, err := rx.Recv(ctx, frames.Capture(0)); err != nil {
					return struct{}{}, err
				}
			}
		})
	if err != nil {
		return
	}
	defer consumer.Close()

	_, _ = consumer.Await(ctx, frames.Capture(0))
	_, _ = producer.Await(ctx, frames.Capture(0))
}
