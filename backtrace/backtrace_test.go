package backtrace

import "testing"

func captureHelper(t *Table) Source { return t.Capture(0) }

func TestCaptureInternsIdenticalCallSite(t *testing.T) {
	table := NewTable(Lazy, 0)
	var srcs [2]Source
	for i := range srcs {
		srcs[i] = captureHelper(table)
	}
	a, b := srcs[0], srcs[1]
	if a != b {
		t.Fatalf("expected identical call sites to intern to the same Source, got %d and %d", a, b)
	}
}

func TestCaptureDistinguishesCallSites(t *testing.T) {
	table := NewTable(Lazy, 0)
	a := table.Capture(0)
	b := captureHelper(table)
	if a == b {
		t.Fatal("expected distinct call sites to intern to distinct Sources")
	}
}

func TestLookupReturnsResolvedFrames(t *testing.T) {
	table := NewTable(Eager, 0)
	src := table.Capture(0)
	frames := table.Lookup(src)
	if frames == nil {
		t.Fatal("expected frames for a just-captured source")
	}
	resolved := frames.Resolved()
	if len(resolved) == 0 {
		t.Fatal("expected at least one resolved frame")
	}
}

func TestLookupUnknownSourceReturnsNil(t *testing.T) {
	table := NewTable(Lazy, 0)
	if table.Lookup(Source(999999)) != nil {
		t.Fatal("expected nil for an unknown source")
	}
}

func TestSetSamplingSkipsMostCalls(t *testing.T) {
	table := NewTable(Lazy, 0)
	table.SetSampling(1000)
	captured := 0
	for i := 0; i < 10; i++ {
		if table.Capture(0) != 0 {
			captured++
		}
	}
	if captured == 10 {
		t.Fatal("expected sampling to skip at least some captures")
	}
}
