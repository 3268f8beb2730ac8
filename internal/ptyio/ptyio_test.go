package ptyio

import (
	"io"
	"testing"
	"time"
)

func TestOpenRequiresArgv(t *testing.T) {
	_, err := Open(SpawnOptions{Cols: 80, Rows: 24})
	if err == nil {
		t.Fatalf("expected an error for empty argv")
	}
}

func TestOpenRunsEchoAndWaits(t *testing.T) {
	h, err := Open(SpawnOptions{Argv: []string{"/bin/echo", "hi"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	buf := make([]byte, 256)
	deadline := time.Now().Add(2 * time.Second)
	var out []byte
	for time.Now().Before(deadline) {
		n, rerr := h.File().Read(buf)
		out = append(out, buf[:n]...)
		if rerr == io.EOF || rerr != nil {
			break
		}
		if n == 0 {
			break
		}
	}

	status, err := h.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if status != 0 {
		t.Fatalf("exit status = %d, want 0", status)
	}
}

func TestResizeDoesNotError(t *testing.T) {
	h, err := Open(SpawnOptions{Argv: []string{"/bin/sleep", "0.2"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	if err := h.Resize(100, 30); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	h.Wait()
}
