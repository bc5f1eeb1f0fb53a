package egress

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/99souls/watchgraph/graph"
	"github.com/99souls/watchgraph/wrap"
)

// EncodeCutResponse is the one deliberately hand-rolled encoder in this
// module (spec.md §6's external wire contract, consumed by a non-Go
// collector): a sequence of length-prefixed repeated fields, written in
// the exact order spec.md §6 lists them. None of the pack's framing
// libraries (websocket framing, gocloud.dev/pubsub topics) produce this
// shape, so it is written directly against the documented field list.
func EncodeCutResponse(r CutResponse) ([]byte, error) {
	w := &binWriter{buf: &bytes.Buffer{}}
	w.writeUint64(r.SnapshotID)
	w.writeUint64(r.Epoch)
	w.writeString(r.Process.ID)
	w.writeString(r.Process.Name)
	w.writeInt64(int64(r.Process.Pid))
	w.writeInt64(r.Process.LocalMonotonicMs)

	w.writeUint32(uint32(len(r.Entities)))
	for _, e := range r.Entities {
		if err := encodeEntity(w, e); err != nil {
			return nil, err
		}
	}
	w.writeUint32(uint32(len(r.Scopes)))
	for _, s := range r.Scopes {
		w.writeString(s.ID)
		w.writeString(s.Name)
		w.writeUint64(uint64(s.Source))
		w.writeString(s.Parent)
	}
	w.writeUint32(uint32(len(r.Edges)))
	for _, e := range r.Edges {
		w.writeString(e.Src)
		w.writeString(e.Dst)
		w.writeString(string(e.Kind))
	}
	w.writeUint32(uint32(len(r.Events)))
	for _, ev := range r.Events {
		w.writeString(ev.Target)
		w.writeString(string(ev.Kind))
		w.writeUint64(uint64(ev.Source))
		w.writeUint64(ev.Seq)
		w.writeInt64(ev.Time.UnixNano())
		w.writeInt64(ev.ObservedWaitNs)
		w.writeBool(ev.CounterpartGone)
	}
	w.writeUint32(uint32(len(r.Backtraces)))
	for _, bt := range r.Backtraces {
		w.writeUint64(bt.Source)
		w.writeUint32(uint32(len(bt.Frames)))
		for _, f := range bt.Frames {
			w.writeString(f.Function)
			w.writeString(f.File)
			w.writeInt64(int64(f.Line))
		}
	}
	w.writeUint32(uint32(len(r.UnresolvedEdges)))
	for _, u := range r.UnresolvedEdges {
		w.writeUint64(u.Source)
		w.writeInt64(int64(u.FrameIndex))
		w.writeString(u.ModulePath)
		w.writeUint64(u.RelativePC)
	}
	return w.buf.Bytes(), w.err
}

func encodeEntity(w *binWriter, e graph.Entity) error {
	w.writeString(e.ID)
	w.writeString(string(e.Body.Kind()))
	w.writeUint64(uint64(e.Source))
	w.writeString(e.OwningScope)
	return encodeBody(w, e.Body)
}

// encodeBody writes the observable-attribute fields for one body
// variant, per the wrapper/body-variant table (spec.md §4.3). An unknown
// body kind is an error, which fails the encoding of the whole cut
// response.
func encodeBody(w *binWriter, b graph.Body) error {
	switch v := b.(type) {
	case wrap.MPSCTxBody:
		w.writeInt64(int64(v.QueueLen))
		w.writeInt64(int64(v.Capacity))
	case wrap.MPSCRxBody:
	case wrap.BroadcastTxBody:
		w.writeInt64(int64(v.Capacity))
	case wrap.BroadcastRxBody:
		w.writeUint64(v.Lag)
	case wrap.WatchTxBody:
		w.writeInt64(v.LastUpdateUnixNano)
	case wrap.WatchRxBody:
	case wrap.OneshotTxBody:
		w.writeBool(v.Sent)
	case wrap.OneshotRxBody:
	case wrap.LockBody:
		w.writeString(string(v.Mode))
		w.writeInt64(int64(v.HolderCount))
		w.writeInt64(int64(v.WaiterCount))
		w.writeUint64(v.Acquires)
		w.writeUint64(v.Releases)
	case wrap.SemaphoreBody:
		w.writeInt64(int64(v.MaxPermits))
		w.writeInt64(int64(v.HandedOut))
	case wrap.NotifyBody:
		w.writeInt64(int64(v.WaiterCount))
	case wrap.OnceCellBody:
		w.writeString(string(v.State))
		w.writeInt64(int64(v.WaiterCount))
	case wrap.FutureBody:
		w.writeInt64(int64(v.PendingCount))
		w.writeInt64(int64(v.ReadyCount))
	case wrap.RequestBody:
		w.writeString(v.Method)
		w.writeString(v.Args)
		w.writeString(string(v.Status))
	case wrap.ResponseBody:
		w.writeString(string(v.Status))
	default:
		return fmt.Errorf("egress: unknown body kind %T", b)
	}
	return nil
}

type binWriter struct {
	buf *bytes.Buffer
	err error
}

func (w *binWriter) writeString(s string) {
	if w.err != nil {
		return
	}
	w.writeUint32(uint32(len(s)))
	_, w.err = w.buf.WriteString(s)
}

func (w *binWriter) writeUint32(v uint32) {
	if w.err != nil {
		return
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, w.err = w.buf.Write(b[:])
}

func (w *binWriter) writeUint64(v uint64) {
	if w.err != nil {
		return
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, w.err = w.buf.Write(b[:])
}

func (w *binWriter) writeInt64(v int64) { w.writeUint64(uint64(v)) }

func (w *binWriter) writeBool(v bool) {
	if v {
		w.writeUint32(1)
	} else {
		w.writeUint32(0)
	}
}

// binReader is DecodeCutResponse's counterpart reader, used by tests to
// round-trip an encoded response without a real collector.
type binReader struct {
	buf *bytes.Reader
	err error
}

func (r *binReader) readString() string {
	n := r.readUint32()
	if r.err != nil {
		return ""
	}
	b := make([]byte, n)
	if _, err := r.buf.Read(b); err != nil {
		r.err = err
		return ""
	}
	return string(b)
}

func (r *binReader) readUint32() uint32 {
	if r.err != nil {
		return 0
	}
	var b [4]byte
	if _, err := r.buf.Read(b[:]); err != nil {
		r.err = err
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}

func (r *binReader) readUint64() uint64 {
	if r.err != nil {
		return 0
	}
	var b [8]byte
	if _, err := r.buf.Read(b[:]); err != nil {
		r.err = err
		return 0
	}
	return binary.BigEndian.Uint64(b[:])
}

func (r *binReader) readInt64() int64 { return int64(r.readUint64()) }

func (r *binReader) readBool() bool { return r.readUint32() != 0 }

// DecodeCutResponse is the reverse of EncodeCutResponse, sufficient for
// this module's own round-trip tests; the real collector decodes the
// same wire shape in its own language.
func DecodeCutResponse(body []byte) (CutResponse, error) {
	r := &binReader{buf: bytes.NewReader(body)}
	var resp CutResponse
	resp.SnapshotID = r.readUint64()
	resp.Epoch = r.readUint64()
	resp.Process.ID = r.readString()
	resp.Process.Name = r.readString()
	resp.Process.Pid = int(r.readInt64())
	resp.Process.LocalMonotonicMs = r.readInt64()

	nEntities := r.readUint32()
	for i := uint32(0); i < nEntities && r.err == nil; i++ {
		id := r.readString()
		kind := graph.BodyKind(r.readString())
		source := r.readUint64()
		scope := r.readString()
		body, err := decodeBody(r, kind)
		if err != nil {
			return resp, err
		}
		resp.Entities = append(resp.Entities, graph.Entity{ID: id, Body: body, Source: sourceOf(source), OwningScope: scope})
	}
	nScopes := r.readUint32()
	for i := uint32(0); i < nScopes && r.err == nil; i++ {
		resp.Scopes = append(resp.Scopes, graph.Scope{
			ID:     r.readString(),
			Name:   r.readString(),
			Source: sourceOf(r.readUint64()),
			Parent: r.readString(),
		})
	}
	nEdges := r.readUint32()
	for i := uint32(0); i < nEdges && r.err == nil; i++ {
		resp.Edges = append(resp.Edges, graph.Edge{Src: r.readString(), Dst: r.readString(), Kind: graph.EdgeKind(r.readString())})
	}
	nEvents := r.readUint32()
	for i := uint32(0); i < nEvents && r.err == nil; i++ {
		target := r.readString()
		kind := graph.EventKind(r.readString())
		source := r.readUint64()
		seq := r.readUint64()
		tsNano := r.readInt64()
		waitNs := r.readInt64()
		gone := r.readBool()
		resp.Events = append(resp.Events, graph.Event{
			Target: target, Kind: kind, Source: sourceOf(source), Seq: seq,
			ObservedWaitNs: waitNs, CounterpartGone: gone, Time: timeFromUnixNano(tsNano),
		})
	}
	nBT := r.readUint32()
	for i := uint32(0); i < nBT && r.err == nil; i++ {
		bt := Backtrace{Source: r.readUint64()}
		nFrames := r.readUint32()
		for j := uint32(0); j < nFrames && r.err == nil; j++ {
			bt.Frames = append(bt.Frames, ResolvedFrame{Function: r.readString(), File: r.readString(), Line: int(r.readInt64())})
		}
		resp.Backtraces = append(resp.Backtraces, bt)
	}
	nUnresolved := r.readUint32()
	for i := uint32(0); i < nUnresolved && r.err == nil; i++ {
		resp.UnresolvedEdges = append(resp.UnresolvedEdges, UnresolvedFrame{
			Source: r.readUint64(), FrameIndex: int(r.readInt64()), ModulePath: r.readString(), RelativePC: r.readUint64(),
		})
	}
	return resp, r.err
}

func decodeBody(r *binReader, kind graph.BodyKind) (graph.Body, error) {
	switch kind {
	case graph.KindMPSCTx:
		return wrap.MPSCTxBody{QueueLen: int(r.readInt64()), Capacity: int(r.readInt64())}, nil
	case graph.KindMPSCRx:
		return wrap.MPSCRxBody{}, nil
	case graph.KindBroadcastTx:
		return wrap.BroadcastTxBody{Capacity: int(r.readInt64())}, nil
	case graph.KindBroadcastRx:
		return wrap.BroadcastRxBody{Lag: r.readUint64()}, nil
	case graph.KindWatchTx:
		return wrap.WatchTxBody{LastUpdateUnixNano: r.readInt64()}, nil
	case graph.KindWatchRx:
		return wrap.WatchRxBody{}, nil
	case graph.KindOneshotTx:
		return wrap.OneshotTxBody{Sent: r.readBool()}, nil
	case graph.KindOneshotRx:
		return wrap.OneshotRxBody{}, nil
	case graph.KindLock:
		return wrap.LockBody{Mode: wrap.LockKind(r.readString()), HolderCount: int(r.readInt64()), WaiterCount: int(r.readInt64()), Acquires: r.readUint64(), Releases: r.readUint64()}, nil
	case graph.KindSemaphore:
		return wrap.SemaphoreBody{MaxPermits: int(r.readInt64()), HandedOut: int(r.readInt64())}, nil
	case graph.KindNotify:
		return wrap.NotifyBody{WaiterCount: int(r.readInt64())}, nil
	case graph.KindOnceCell:
		return wrap.OnceCellBody{State: wrap.OnceCellState(r.readString()), WaiterCount: int(r.readInt64())}, nil
	case graph.KindFuture:
		return wrap.FutureBody{PendingCount: int(r.readInt64()), ReadyCount: int(r.readInt64())}, nil
	case graph.KindRequest:
		return wrap.RequestBody{Method: r.readString(), Args: r.readString(), Status: wrap.RequestStatus(r.readString())}, nil
	case graph.KindResponse:
		return wrap.ResponseBody{Status: wrap.RequestStatus(r.readString())}, nil
	default:
		return nil, fmt.Errorf("egress: unknown body kind %q", kind)
	}
}
