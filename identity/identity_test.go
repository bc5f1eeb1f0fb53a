package identity

import "testing"

func TestProcKeyNormalizesToAllowedCharset(t *testing.T) {
	key := ProcKey("My Service@v1.2!")
	for _, r := range key {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '.' || r == '_' || r == '-') {
			t.Fatalf("proc_key %q contains a disallowed character %q", key, r)
		}
	}
}

func TestProcKeyEmptyNameGetsUniqueToken(t *testing.T) {
	a := ProcKey("")
	b := ProcKey("")
	if a == b {
		t.Fatal("expected two empty-name proc_keys to be distinct")
	}
}

func TestEntityIDBuildersAreStable(t *testing.T) {
	if got, want := LockID("proc1", "mylock"), "lock:proc1:mylock"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got, want := MPSCID("proc1", "q", SideTx), "mpsc:proc1:q:tx"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got, want := RequestID("proc1", "conn1", "req1"), "request:proc1:conn1:req1"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestNewProcessDerivesStableProcKey(t *testing.T) {
	p := New("worker")
	if p.ProcKey == "" {
		t.Fatal("expected a non-empty proc_key")
	}
	if p.Name != "worker" {
		t.Fatalf("expected name 'worker', got %q", p.Name)
	}
	if again := New("worker"); again.ProcKey != p.ProcKey {
		t.Fatalf("expected the same proc_key for the same name, got %q and %q", p.ProcKey, again.ProcKey)
	}
}
