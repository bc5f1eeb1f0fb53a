package egress

import (
	"bytes"
	"testing"

	"github.com/99souls/watchgraph/graph"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("payload")
	if err := WriteFrame(&buf, TagCutResponse, body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tag, got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tag != TagCutResponse {
		t.Fatalf("expected tag %v, got %v", TagCutResponse, tag)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("expected body %q, got %q", body, got)
	}
}

func TestReadFrameRejectsEmptyFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0})
	if _, _, err := ReadFrame(&buf); err == nil {
		t.Fatal("expected an error for a zero-length frame")
	}
}

func TestHandshakeEncodeDecodeRoundTrip(t *testing.T) {
	h := Handshake{
		TraceV1:               true,
		RequiresFramePointers: true,
		ModuleManifest: []ModuleManifestEntry{
			{ModulePath: "/bin/app", RuntimeBase: 0x1000, BuildID: "abc", Arch: "amd64"},
		},
	}
	body, err := EncodeHandshake(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, err := DecodeHandshake(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.TraceV1 != h.TraceV1 || len(decoded.ModuleManifest) != 1 {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestChangeEncodeDecodeRoundTrip(t *testing.T) {
	c := Change{Kind: graph.ChangeUpsertEntity, Entity: &graph.Entity{ID: "e1"}}
	body, err := EncodeChange(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, err := DecodeChange(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.Kind != c.Kind || decoded.Entity == nil || decoded.Entity.ID != "e1" {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}
