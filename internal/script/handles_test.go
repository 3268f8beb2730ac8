package script

import "testing"

func TestPtyRefForIsStablePerSession(t *testing.T) {
	h := NewHandleTable()
	a := h.PtyRefFor(1)
	b := h.PtyRefFor(1)
	if a != b {
		t.Fatalf("expected the same token for repeated calls on the same session id")
	}
	c := h.PtyRefFor(2)
	if a == c {
		t.Fatalf("expected distinct tokens for distinct session ids")
	}
}

func TestResolvePtyRoundtrips(t *testing.T) {
	h := NewHandleTable()
	ref := h.PtyRefFor(42)
	id, ok := h.ResolvePty(ref)
	if !ok || id != 42 {
		t.Fatalf("got id=%d ok=%v, want 42/true", id, ok)
	}
}

func TestReleasePtyInvalidatesToken(t *testing.T) {
	h := NewHandleTable()
	ref := h.PtyRefFor(7)
	h.ReleasePty(7)
	if _, ok := h.ResolvePty(ref); ok {
		t.Fatalf("expected token to be invalid after release")
	}
}

func TestTimerHandleRoundtrip(t *testing.T) {
	h := NewHandleTable()
	ref := h.NewTimerRef(99)
	id, ok := h.ResolveTimer(ref)
	if !ok || id != 99 {
		t.Fatalf("got id=%d ok=%v, want 99/true", id, ok)
	}
	h.ReleaseTimer(ref)
	if _, ok := h.ResolveTimer(ref); ok {
		t.Fatalf("expected timer token to be invalid after release")
	}
}
