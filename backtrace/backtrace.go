// Package backtrace captures and interns call-site backtraces (component
// C5), attaching a cheap Source identifier to every entity, scope, edge,
// and event without paying symbolization cost on the hot path.
package backtrace

import (
	"fmt"
	"hash/fnv"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// Source is an interned handle to a captured call stack. Zero is the
// reserved "no source captured" value.
type Source uint64

const maxFrames = 32

// Frame is a single resolved or pending stack frame.
type Frame struct {
	Function string
	File     string
	Line     int

	// Set instead of the above when runtime.CallersFrames reports neither
	// a function nor a file for a frame: Unresolved is true and RelativePC
	// holds the frame's raw program counter, not an offset from a module
	// base. ModulePath is not filled in by this package.
	ModulePath  string
	RelativePC  uintptr
	Unresolved  bool
}

// Frames is the raw and (possibly lazily) resolved form of one captured
// backtrace.
type Frames struct {
	pcs      []uintptr
	mu       sync.Mutex
	resolved []Frame
}

// Resolved returns the symbolized frames, resolving lazily on first call
// if they have not been resolved yet.
func (f *Frames) Resolved() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved != nil {
		return f.resolved
	}
	f.resolved = symbolize(f.pcs)
	return f.resolved
}

func symbolize(pcs []uintptr) []Frame {
	out := make([]Frame, 0, len(pcs))
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if fr.Function == "" && fr.File == "" {
			out = append(out, Frame{Unresolved: true, RelativePC: fr.PC})
		} else {
			out = append(out, Frame{Function: fr.Function, File: fr.File, Line: fr.Line})
		}
		if !more {
			break
		}
	}
	return out
}

// SymbolizeMode selects whether interning resolves frames immediately
// (eager) or leaves them for Resolved() to compute on demand (lazy). The
// specification permits either (spec.md §9 Open Questions); both are
// supported here, and the mode is fixed per Table by the argument to
// NewTable. No runtime policy field selects it.
type SymbolizeMode int

const (
	Lazy SymbolizeMode = iota
	Eager
)

// Table is the process-wide intern table: a content hash over the raw
// program counters maps to a Source, deduplicating identical call sites
// across the whole process.
type Table struct {
	mode  SymbolizeMode
	limit int

	cache *cache.Cache
	mu    sync.Mutex
	byKey map[uint64]Source
	byID  map[Source]*Frames

	nextID   atomic.Uint64
	evicted  atomic.Uint64
	sampleN  atomic.Uint64
	sampleOf int
}

// NewTable creates an intern table bounded to limit distinct frames
// (past the limit, each new call site evicts one arbitrary entry);
// limit <= 0 means unbounded.
func NewTable(mode SymbolizeMode, limit int) *Table {
	var c *cache.Cache
	if limit > 0 {
		c = cache.New(cache.NoExpiration, cache.NoExpiration)
	}
	return &Table{
		mode:  mode,
		limit: limit,
		cache: c,
		byKey: make(map[uint64]Source),
		byID:  make(map[Source]*Frames),
	}
}

// SetSampling captures 1 in every n calls to Capture; n <= 1 captures
// every call. This only skips capture on the hot path, it never
// suppresses an already-captured Source from the table.
func (t *Table) SetSampling(n int) {
	if n <= 1 {
		t.sampleOf = 1
		return
	}
	t.sampleOf = n
}

// Capture walks the calling goroutine's stack (skipping `skip` additional
// frames beyond Capture itself) and returns the interned Source for it.
func (t *Table) Capture(skip int) Source {
	if t.sampleOf > 1 {
		n := t.sampleN.Add(1)
		if n%uint64(t.sampleOf) != 0 {
			return 0
		}
	}
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip+2, pcs)
	pcs = pcs[:n]

	key := hashPCs(pcs)
	t.mu.Lock()
	if src, ok := t.byKey[key]; ok {
		t.mu.Unlock()
		return src
	}
	id := Source(t.nextID.Add(1))
	frames := &Frames{pcs: pcs}
	if t.mode == Eager {
		frames.resolved = symbolize(pcs)
	}
	t.byKey[key] = id
	t.byID[id] = frames
	t.mu.Unlock()

	if t.cache != nil {
		t.cache.Set(fmt.Sprint(id), struct{}{}, cache.NoExpiration)
		if t.cache.ItemCount() > t.limit {
			t.evictOldest()
		}
	}
	return id
}

// Lookup returns the Frames for a previously captured Source, or nil if
// unknown (e.g. evicted).
func (t *Table) Lookup(src Source) *Frames {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byID[src]
}

// Evicted reports how many interned entries have been evicted to respect
// the table's limit.
func (t *Table) Evicted() uint64 { return t.evicted.Load() }

func (t *Table) evictOldest() {
	// go-cache has no direct "oldest" query without expirations; evict an
	// arbitrary item on overflow, favoring capturing new call sites over
	// keeping the very first ones seen. Lookup returns nil for an evicted
	// Source, and a cut omits that Source's backtrace.
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.byID {
		delete(t.byID, id)
		t.evicted.Add(1)
		break
	}
}

func hashPCs(pcs []uintptr) uint64 {
	h := fnv.New64a()
	buf := make([]byte, 8)
	for _, pc := range pcs {
		v := uint64(pc)
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> (8 * i))
		}
		_, _ = h.Write(buf)
	}
	return h.Sum64()
}

// StartBackgroundSymbolization launches a goroutine that periodically
// resolves any interned Frames still in raw form. Used when mode is Lazy
// but a deployment still wants symbols warmed ahead of a cut, trading
// background CPU for a faster collector-side render.
func (t *Table) StartBackgroundSymbolization(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				t.mu.Lock()
				pending := make([]*Frames, 0, len(t.byID))
				for _, f := range t.byID {
					pending = append(pending, f)
				}
				t.mu.Unlock()
				for _, f := range pending {
					f.Resolved()
				}
			}
		}
	}()
}
