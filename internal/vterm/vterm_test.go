package vterm

import (
	"fmt"
	"strings"
	"testing"
)

func TestTerminalBasicOutput(t *testing.T) {
	v := New(80, 24)
	defer v.Close()

	v.Write([]byte("hello world"))
	snap := v.Snapshot()
	if !strings.Contains(string(snap), "hello world") {
		t.Errorf("snapshot missing basic output, got:\n%s", snap)
	}
}

func TestTerminalDirtyClearsAfterCheck(t *testing.T) {
	v := New(80, 24)
	defer v.Close()

	if v.Dirty() {
		t.Fatalf("fresh terminal should not be dirty")
	}
	v.Write([]byte("x"))
	if !v.Dirty() {
		t.Fatalf("expected dirty after write")
	}
	if v.Dirty() {
		t.Fatalf("Dirty should clear the flag after reporting it once")
	}
}

func TestTerminalScrollbackCapture(t *testing.T) {
	v := New(80, 10)
	defer v.Close()

	for i := range 50 {
		v.Write([]byte(fmt.Sprintf("line %d\r\n", i)))
	}

	if got := v.ScrollbackLen(); got != 41 {
		t.Errorf("scrollback len = %d, want 41", got)
	}
}

func TestTerminalScrollbackRingWrap(t *testing.T) {
	v := New(80, 10)
	defer v.Close()

	total := maxScrollbackLines + 10000
	for i := range total {
		v.Write([]byte(fmt.Sprintf("line %06d\r\n", i)))
	}

	if got := v.ScrollbackLen(); got != maxScrollbackLines {
		t.Errorf("scrollback len = %d, want %d (ring cap)", got, maxScrollbackLines)
	}
}

func TestTerminalCellsDimensionsMatchGrid(t *testing.T) {
	v := New(20, 5)
	defer v.Close()

	v.Write([]byte("hi"))
	cells := v.Cells()
	if len(cells) != 5 {
		t.Fatalf("got %d rows, want 5", len(cells))
	}
	for _, row := range cells {
		if len(row) != 20 {
			t.Fatalf("got %d cols in row, want 20", len(row))
		}
	}
}

func TestTerminalResizeUpdatesDimensions(t *testing.T) {
	v := New(80, 24)
	defer v.Close()

	v.Resize(100, 30)
	cols, rows := v.Dimensions()
	if cols != 100 || rows != 30 {
		t.Fatalf("got %dx%d, want 100x30", cols, rows)
	}
	cells := v.Cells()
	if len(cells) != 30 || len(cells[0]) != 100 {
		t.Fatalf("cell grid did not follow resize: %dx%d", len(cells[0]), len(cells))
	}
}

func TestTerminalCursorStateDefaultsVisible(t *testing.T) {
	v := New(80, 24)
	defer v.Close()

	cur := v.CursorState()
	if !cur.Visible {
		t.Fatalf("cursor should default to visible")
	}
}
