// Package runtimeconfig hot-reloads the runtime policy knobs (graph
// buffers, cut deadlines, backtrace sampling, tracing, event bus
// buffers) that package policy defines, grounded on the teacher's
// fsnotify + yaml.v3 runtime-config pattern: a YAML file unmarshals into
// policy.RuntimePolicy, an fsnotify.Watcher watches the file, and every
// write event normalizes and swaps the new policy into an atomic
// pointer so hot-path readers never take a lock.
package runtimeconfig

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/99souls/watchgraph/internal/telemetry/policy"
	"github.com/99souls/watchgraph/telemetry/events"
	"github.com/99souls/watchgraph/telemetry/logging"
)

// Source serves the current RuntimePolicy to readers without taking a
// lock. Only a reader that calls Current again sees a reload;
// graph.Store, cut.Coordinator and backtrace.Table take plain options at
// construction and do not read a Source.
type Source struct {
	current atomic.Pointer[policy.RuntimePolicy]
	logger  logging.Logger
	bus     events.Bus
}

// NewStatic wraps a fixed policy with no file watching, for tests and
// embedders that configure entirely in code.
func NewStatic(p policy.RuntimePolicy) *Source {
	s := &Source{}
	norm := p.Normalize()
	s.current.Store(&norm)
	return s
}

// Current returns the active policy. Safe for concurrent use from any
// goroutine, including hot paths.
func (s *Source) Current() policy.RuntimePolicy {
	if p := s.current.Load(); p != nil {
		return *p
	}
	def := policy.Default()
	return def
}

// Load reads and parses path once, without starting a watcher.
func Load(path string) (policy.RuntimePolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return policy.RuntimePolicy{}, err
	}
	var p policy.RuntimePolicy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return policy.RuntimePolicy{}, err
	}
	return p.Normalize(), nil
}

// WatchOptions configures Watch.
type WatchOptions struct {
	Logger logging.Logger
	// Events, when set, receives a config_change diagnostic event on
	// every successful or failed reload.
	Events events.Bus
}

// Watch loads path and starts an fsnotify watcher that re-reads and
// swaps the policy on every write event. Malformed YAML on reload logs
// an error and keeps serving the last-good policy — the hot-reload loop
// never panics the process (spec's ambient-stack configuration
// requirement). The watcher stops when ctx is done.
func Watch(ctx context.Context, path string, opts WatchOptions) (*Source, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.New(nil)
	}
	initial, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Source{logger: logger, bus: opts.Events}
	s.current.Store(&initial)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				s.reload(ctx, path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.ErrorCtx(ctx, "runtimeconfig: watcher error", "error", err)
			}
		}
	}()

	return s, nil
}

func (s *Source) reload(ctx context.Context, path string) {
	p, err := Load(path)
	if err != nil {
		s.logger.ErrorCtx(ctx, "runtimeconfig: reload failed, keeping last-good policy", "error", err, "path", path)
		s.publish(ctx, "reload_failed", "error", map[string]interface{}{"path": path, "error": err.Error()})
		return
	}
	s.current.Store(&p)
	s.logger.InfoCtx(ctx, "runtimeconfig: policy reloaded", "path", path)
	s.publish(ctx, "reloaded", "info", map[string]interface{}{"path": path})
}

func (s *Source) publish(ctx context.Context, typ, severity string, fields map[string]interface{}) {
	if s.bus == nil {
		return
	}
	_ = s.bus.PublishCtx(ctx, events.Event{Category: events.CategoryConfig, Type: typ, Severity: severity, Fields: fields})
}
