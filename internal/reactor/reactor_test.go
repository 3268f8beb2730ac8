package reactor

import (
	"testing"
	"time"
)

// TestCancelBeforeCompletion: cancel after submit but before completion
// yields exactly one completion with Err(Canceled).
func TestCancelBeforeCompletion(t *testing.T) {
	r, mb := NewMock()
	var completions []Completion
	task := r.Read(3, make([]byte, 64), "ctx", func(c Completion) {
		completions = append(completions, c)
	})

	r.Cancel(task.ID)
	// A completion that arrives after cancel must be a no-op (already reaped).
	mb.CompleteRead(3, 10, ErrNone)

	if len(completions) != 1 {
		t.Fatalf("got %d completions, want exactly 1", len(completions))
	}
	if completions[0].Err != ErrCanceled {
		t.Fatalf("got err=%v, want Canceled", completions[0].Err)
	}
}

// TestCancelByFdScope: cancel_by_fd cancels every pending op on fd,
// regardless of kind, but leaves timers (which have no fd) untouched.
func TestCancelByFdScope(t *testing.T) {
	r, mb := NewMock()
	var readDone, writeDone, timerDone bool

	r.Read(5, make([]byte, 16), nil, func(c Completion) {
		readDone = true
		if c.Err != ErrCanceled {
			t.Errorf("read: got err=%v, want Canceled", c.Err)
		}
	})
	r.Write(5, []byte("x"), nil, func(c Completion) {
		writeDone = true
		if c.Err != ErrCanceled {
			t.Errorf("write: got err=%v, want Canceled", c.Err)
		}
	})
	r.Timeout(5*time.Millisecond, nil, func(c Completion) {
		timerDone = true
	})

	r.CancelByFd(5)

	if !readDone || !writeDone {
		t.Fatalf("expected both read and write canceled: read=%v write=%v", readDone, writeDone)
	}
	if timerDone {
		t.Fatalf("timer fired during cancel_by_fd, should be untouched")
	}

	mb.Advance(5 * time.Millisecond)
	if !timerDone {
		t.Fatalf("timer never fired after advancing past its deadline")
	}
}

// TestTimeoutFiresOnceNotEarly: a timeout(10ms) callback fires not
// earlier than 10ms of simulated time and exactly once.
func TestTimeoutFiresOnceNotEarly(t *testing.T) {
	r, mb := NewMock()
	fireCount := 0
	r.Timeout(10*time.Millisecond, nil, func(c Completion) {
		fireCount++
	})

	mb.Advance(9 * time.Millisecond)
	if fireCount != 0 {
		t.Fatalf("timer fired early at 9ms")
	}
	mb.Advance(2 * time.Millisecond) // now at 11ms total
	if fireCount != 1 {
		t.Fatalf("got %d fires at 11ms, want exactly 1", fireCount)
	}
	mb.Advance(100 * time.Millisecond)
	if fireCount != 1 {
		t.Fatalf("timer fired again on later advance: count=%d", fireCount)
	}
}

// TestCancelIsNoOpAfterCompletion: canceling an already-completed task
// does nothing.
func TestCancelIsNoOpAfterCompletion(t *testing.T) {
	r, mb := NewMock()
	n := 0
	task := r.Read(7, make([]byte, 8), nil, func(c Completion) {
		n++
	})
	mb.CompleteRead(7, 8, ErrNone)
	r.Cancel(task.ID) // no-op: already reaped
	if n != 1 {
		t.Fatalf("got %d completions, want 1", n)
	}
}

// TestRunUntilDoneDrains confirms RunUntilDone loops until the pending
// set is empty. Each poll advances the mock's virtual clock by its
// timeout argument, so a single iteration is enough to pass the
// timer's 5ms deadline.
func TestRunUntilDoneDrains(t *testing.T) {
	r, _ := NewMock()
	done := false
	r.Timeout(5*time.Millisecond, nil, func(c Completion) { done = true })

	r.Run(RunUntilDone)
	if !done {
		t.Fatalf("RunUntilDone returned before the timer fired")
	}
	if r.PendingCount() != 0 {
		t.Fatalf("expected no pending ops after drain, got %d", r.PendingCount())
	}
}

// TestStopFromAnotherGoroutineIsRaceFree confirms Stop can be called
// concurrently with Run(RunForever) on a different goroutine, the
// pattern cmd/prise/serve.go's runServer uses for shutdown. Run under
// -race, this would flag an unsynchronized bool; it passes because
// stopped is an atomic.Bool.
func TestStopFromAnotherGoroutineIsRaceFree(t *testing.T) {
	r, _ := NewMock()
	done := make(chan struct{})
	go func() {
		r.Run(RunForever)
		close(done)
	}()
	time.Sleep(time.Millisecond) // give the loop a chance to start before we stop it
	r.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run(RunForever) never observed Stop")
	}
}
