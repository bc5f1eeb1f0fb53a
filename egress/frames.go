// Package egress frames and delivers snapshots and incremental change
// streams to the orchestrator (component C7). Frames are a 4-byte
// big-endian length prefix over a tag-dispatched body (spec.md §4.7,
// §6).
package egress

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/99souls/watchgraph/graph"
	"github.com/99souls/watchgraph/wrap"
)

// gob requires every concrete type that can appear behind an interface
// field (graph.Entity.Body here) to be registered before it is encoded
// or decoded; EncodeChange/DecodeChange carry live entities straight off
// the change bus, so every body variant from the wrapper/body-variant
// table needs a registration here.
func init() {
	gob.Register(wrap.MPSCTxBody{})
	gob.Register(wrap.MPSCRxBody{})
	gob.Register(wrap.BroadcastTxBody{})
	gob.Register(wrap.BroadcastRxBody{})
	gob.Register(wrap.WatchTxBody{})
	gob.Register(wrap.WatchRxBody{})
	gob.Register(wrap.OneshotTxBody{})
	gob.Register(wrap.OneshotRxBody{})
	gob.Register(wrap.LockBody{})
	gob.Register(wrap.SemaphoreBody{})
	gob.Register(wrap.NotifyBody{})
	gob.Register(wrap.OnceCellBody{})
	gob.Register(wrap.FutureBody{})
	gob.Register(wrap.RequestBody{})
	gob.Register(wrap.ResponseBody{})
}

// Tag discriminates the three frame bodies this process ever emits.
type Tag byte

const (
	TagHandshake   Tag = 0x01
	TagCutResponse Tag = 0x02
	TagChange      Tag = 0x03
)

// ModuleManifestEntry describes one loaded module, part of the
// capability handshake's module_manifest (spec.md §6).
type ModuleManifestEntry struct {
	ModulePath  string
	RuntimeBase uint64
	BuildID     string
	DebugID     string
	Arch        string
}

// Handshake is the first frame every process must publish before
// participating in any cut (spec.md §4.7).
type Handshake struct {
	TraceV1                bool
	RequiresFramePointers  bool
	SamplingSupported      bool
	AllocTrackingSupported bool
	ModuleManifest         []ModuleManifestEntry
}

// ProcessInfo identifies the emitting process inside a cut response.
type ProcessInfo struct {
	ID               string
	Name             string
	Pid              int
	LocalMonotonicMs int64
}

// UnresolvedFrame is carried in a cut response for any backtrace frame
// that could not be symbolized (spec.md §4.5's failure mode).
type UnresolvedFrame struct {
	Source     uint64
	FrameIndex int
	ModulePath string
	RelativePC uint64
}

// ResolvedFrame is one symbolized stack frame, interned once per
// snapshot (spec.md §3 "Sources are deduplicated across the process and
// serialised once per snapshot").
type ResolvedFrame struct {
	Function string
	File     string
	Line     int
}

// Backtrace is one interned call stack, carried once per snapshot and
// referenced by Source id from entities/scopes/edges/events.
type Backtrace struct {
	Source uint64
	Frames []ResolvedFrame
}

// CutResponse is the 0x02 frame body: a single process's answer to a cut
// request (spec.md §6's "cut response carries").
type CutResponse struct {
	SnapshotID uint64
	Epoch      uint64
	Process    ProcessInfo

	Entities []graph.Entity
	Scopes   []graph.Scope
	Edges    []graph.Edge
	Events   []graph.Event

	Backtraces      []Backtrace
	UnresolvedEdges []UnresolvedFrame
}

// WriteFrame writes the u32-big-endian length prefix followed by body to
// w. It is the single write path every frame (handshake, cut response,
// incremental change) goes through.
func WriteFrame(w io.Writer, tag Tag, body []byte) error {
	var lenBuf [4]byte
	// Length covers the tag byte plus body, so a reader can size its
	// buffer from the prefix alone before dispatching on the tag.
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)+1))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(tag)}); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadFrame reads one length-prefixed frame from r, returning its tag and
// body.
func ReadFrame(r io.Reader) (Tag, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return 0, nil, fmt.Errorf("egress: empty frame")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, err
	}
	return Tag(buf[0]), buf[1:], nil
}

// EncodeHandshake and EncodeChange use encoding/gob: both are small,
// internal, Go-to-Go payloads (this process talks to its own egress
// consumer code in tests/demo tooling). EncodeCutResponse below is the
// one bespoke encoder, matching the external, cross-language wire
// contract spec.md §6 documents field-by-field.
func EncodeHandshake(h Handshake) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(h); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeHandshake(body []byte) (Handshake, error) {
	var h Handshake
	err := gob.NewDecoder(bytes.NewReader(body)).Decode(&h)
	return h, err
}

// Change mirrors graph.Change for the wire (0x03 frame), gob-encoded for
// the same reason as Handshake.
type Change struct {
	Kind   graph.ChangeKind
	Entity *graph.Entity
	Scope  *graph.Scope
	Edge   *graph.Edge
	Event  *graph.Event
}

func EncodeChange(c Change) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeChange(body []byte) (Change, error) {
	var c Change
	err := gob.NewDecoder(bytes.NewReader(body)).Decode(&c)
	return c, err
}
