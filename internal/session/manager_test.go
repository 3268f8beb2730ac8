package session

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/max-legrand/prise/internal/ptyio"
	"github.com/max-legrand/prise/internal/reactor"
	"github.com/max-legrand/prise/internal/script"
)

func TestSpawnDestroyLifecycle(t *testing.T) {
	mgr, _ := newTestManagerWithScript(script.Noop{})
	if mgr.SessionCount() != 0 {
		t.Fatalf("expected zero sessions at startup, got %d", mgr.SessionCount())
	}

	id, err := mgr.spawn(ptyio.SpawnOptions{Argv: []string{"/bin/cat"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if mgr.SessionCount() != 1 {
		t.Fatalf("expected one session after spawn, got %d", mgr.SessionCount())
	}

	mgr.destroy(id, nil)
	if mgr.SessionCount() != 0 {
		t.Errorf("expected zero sessions after destroy, got %d", mgr.SessionCount())
	}
}

func TestSpawnRejectsEmptyArgv(t *testing.T) {
	mgr, _ := newTestManagerWithScript(script.Noop{})
	_, err := mgr.spawn(ptyio.SpawnOptions{Cols: 80, Rows: 24})
	if err == nil {
		t.Fatal("expected an error spawning with an empty argv")
	}
}

func TestDestroyReleasesHandleTableToken(t *testing.T) {
	mgr, _ := newTestManagerWithScript(script.Noop{})
	id, err := mgr.spawn(ptyio.SpawnOptions{Argv: []string{"/bin/cat"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	ref := mgr.handles.PtyRefFor(id)
	mgr.destroy(id, nil)
	if _, ok := mgr.handles.ResolvePty(ref); ok {
		t.Error("expected the pty_ref to stop resolving after destroy")
	}
}

func TestDestroyNotifiesAttachedClientsOfExit(t *testing.T) {
	mgr, _ := newTestManagerWithScript(script.Noop{})
	client, _ := registerTestClient(mgr)
	id, err := mgr.spawn(ptyio.SpawnOptions{Argv: []string{"/bin/cat"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	ps := mgr.sessions[id]
	ps.attached[client.ID] = struct{}{}
	client.Sessions[id] = struct{}{}

	before := client.Rpc.PendingBytes()
	status := 0
	mgr.destroy(id, &status)

	if client.Rpc.PendingBytes() <= before {
		t.Error("expected destroy to queue a pty_exited notification")
	}
	if _, ok := client.Sessions[id]; ok {
		t.Error("expected client.Sessions to drop the destroyed session")
	}
}

func TestDestroyUnknownSessionIsNoop(t *testing.T) {
	mgr, _ := newTestManagerWithScript(script.Noop{})
	mgr.destroy(12345, nil) // must not panic
}

func TestAcceptClientRegistersAndOnCloseCleansUp(t *testing.T) {
	mgr, _ := newTestManagerWithScript(script.Noop{})
	id, err := mgr.spawn(ptyio.SpawnOptions{Argv: []string{"/bin/cat"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer mgr.destroy(id, nil)

	client := mgr.AcceptClient(-1, nil)
	if _, ok := mgr.clients[client.ID]; !ok {
		t.Fatal("expected AcceptClient to register the client")
	}
	if _, ok := mgr.rpcIndex[client.Rpc]; !ok {
		t.Fatal("expected AcceptClient to index the rpc.Session")
	}

	ps := mgr.sessions[id]
	ps.attached[client.ID] = struct{}{}
	client.Sessions[id] = struct{}{}

	mgr.onClientClose(client)
	if _, ok := mgr.clients[client.ID]; ok {
		t.Error("expected onClientClose to remove the client")
	}
	if _, ok := mgr.rpcIndex[client.Rpc]; ok {
		t.Error("expected onClientClose to remove the rpc.Session index entry")
	}
	if _, ok := ps.attached[client.ID]; ok {
		t.Error("expected onClientClose to detach the client from its sessions")
	}
}

func TestOnClientCloseNilIsNoop(t *testing.T) {
	mgr, _ := newTestManagerWithScript(script.Noop{})
	mgr.onClientClose(nil) // must not panic
}

func TestBuildRedrawFrameShape(t *testing.T) {
	mgr, _ := newTestManagerWithScript(script.Noop{})
	id, err := mgr.spawn(ptyio.SpawnOptions{Argv: []string{"/bin/cat"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer mgr.destroy(id, nil)

	frame := buildRedrawFrame(mgr.sessions[id].term)
	colsVal, ok := frame.MapGet("cols")
	if !ok {
		t.Fatal("redraw frame missing cols")
	}
	cols, _ := colsVal.AsInt()
	if cols != 80 {
		t.Errorf("redraw frame cols = %d, want 80", cols)
	}
	cellsVal, ok := frame.MapGet("cells")
	if !ok || cellsVal.Array == nil || len(cellsVal.Array) != 24 {
		t.Fatalf("expected 24 rows in the redraw frame, got %+v", cellsVal)
	}
}

// TestRenderDoesNotPanicWithMixedAttachment exercises render()'s loop
// over ps.attached with one attached and one unattached client; the
// per-client coalescing behavior itself is covered at the rpc.Session
// level (internal/rpc's TestQueueRedrawCoalescesPerSession).
func TestRenderDoesNotPanicWithMixedAttachment(t *testing.T) {
	mgr, _ := newTestManagerWithScript(script.Noop{})
	attached, _ := registerTestClient(mgr)
	_, _ = registerTestClient(mgr) // a second client that never attaches

	id, err := mgr.spawn(ptyio.SpawnOptions{Argv: []string{"/bin/cat"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer mgr.destroy(id, nil)

	ps := mgr.sessions[id]
	ps.attached[attached.ID] = struct{}{}

	mgr.render(ps)
}

func TestArmStartupWatchdogWarnsWhenNoOutput(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	re, mb := reactor.NewMock()
	mgr := NewManager(re, script.Noop{}, log)

	id, err := mgr.spawn(ptyio.SpawnOptions{Argv: []string{"/bin/cat"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer mgr.destroy(id, nil)

	mb.Advance(startupWatchdogDelay + time.Millisecond)

	if !strings.Contains(buf.String(), "no PTY output after startup watchdog delay") {
		t.Errorf("expected a startup watchdog warning, got log output: %s", buf.String())
	}
}

func TestArmStartupWatchdogSkipsWhenSessionAlreadyGone(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	re, mb := reactor.NewMock()
	mgr := NewManager(re, script.Noop{}, log)

	id, err := mgr.spawn(ptyio.SpawnOptions{Argv: []string{"/bin/cat"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	mgr.destroy(id, nil)

	mb.Advance(startupWatchdogDelay + time.Millisecond)

	if strings.Contains(buf.String(), "no PTY output") {
		t.Errorf("watchdog should skip a session that's already torn down, got: %s", buf.String())
	}
}

// TestOnDirtyFrameClamp exercises the render-clamp's Testable Property
// (spec.md §8): over a window of T continuously-dirty signals, the
// number of renders satisfies floor(T/INTERVAL) <= n <= floor(T/INTERVAL)+1.
// The limiter's clock and the reactor's virtual clock are advanced
// together in lockstep via mgr.clock, so the whole window is simulated
// without a real sleep — the same technique TestArmStartupWatchdog*
// uses for the startup timer.
func TestOnDirtyFrameClamp(t *testing.T) {
	mgr, mb := newTestManagerWithScript(script.Noop{})
	ps, err := newPtySession(1, nil, 80, 24)
	if err != nil {
		t.Fatalf("newPtySession: %v", err)
	}
	defer ps.pipeRead.Close()
	defer ps.pipeWrite.Close()

	now := time.Unix(0, 0)
	mgr.clock = func() time.Time { return now }
	advance := func(d time.Duration) {
		now = now.Add(d)
		mb.Advance(d)
	}

	const step = time.Millisecond
	const total = 80 * time.Millisecond
	for elapsed := time.Duration(0); elapsed < total; elapsed += step {
		ps.term.Write([]byte("x"))
		mgr.onDirty(ps)
		advance(step)
	}
	if ps.timerPending {
		advance(MinFrameInterval)
	}

	want := int(total / MinFrameInterval)
	if mgr.renderCount < want || mgr.renderCount > want+1 {
		t.Errorf("renderCount = %d, want within [%d, %d] over a %v window at %v intervals", mgr.renderCount, want, want+1, total, MinFrameInterval)
	}
}

// TestDestroyCancelsPendingRenderTimer confirms the other half of
// spec.md §8's render-clamp property: destroying a session while a
// render timer is pending results in zero render callbacks firing
// afterward, because destroy cancels ps.renderTimer synchronously
// before the timer's deadline is ever reached.
func TestDestroyCancelsPendingRenderTimer(t *testing.T) {
	mgr, _ := newTestManagerWithScript(script.Noop{})
	id, err := mgr.spawn(ptyio.SpawnOptions{Argv: []string{"/bin/cat"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	ps := mgr.sessions[id]

	ps.term.Write([]byte("a"))
	mgr.onDirty(ps) // consumes the limiter's initial burst token; renders immediately

	ps.term.Write([]byte("b"))
	mgr.onDirty(ps) // too soon after the first: arms a render timer instead
	if !ps.timerPending {
		t.Fatal("expected a render timer to be armed before destroy")
	}
	before := mgr.renderCount

	mgr.destroy(id, nil)

	if mgr.renderCount != before {
		t.Errorf("renderCount changed from %d to %d: destroy should cancel the pending timer, not let it render", before, mgr.renderCount)
	}
}
