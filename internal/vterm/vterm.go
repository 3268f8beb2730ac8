// Package vterm provides the concrete Terminal behind the abstract VT
// parser / screen model the server core treats as an external
// collaborator: it consumes PTY bytes, exposes a cell grid, and
// optionally emits a reply stream (e.g. Device Attributes answers) the
// reader worker writes straight back to the PTY master.
package vterm

import (
	"fmt"
	"strings"
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

// maxScrollbackLines bounds the ring buffer so a long-lived session
// can't grow without bound; 50k lines is generous for interactive use.
const maxScrollbackLines = 50000

// Cell is one screen-delta cell in a redraw payload (spec.md §6).
type Cell struct {
	Ch    string
	Fg    uint32
	Bg    uint32
	Attrs uint16
}

// Cursor describes cursor position and visibility for a redraw payload.
type Cursor struct {
	Row, Col int
	Visible  bool
}

// Terminal is the concrete VT screen model: an emulator, scrollback
// ring, and a reply-stream relay for escape sequences that demand an
// answer from the terminal rather than the shell (DA1/DA2, DSR, etc.).
type Terminal struct {
	mu sync.Mutex

	emu        *vt.Emulator
	cols, rows int

	scrollback []string
	sbHead     int
	sbLen      int

	altScreen    bool
	cursorHidden bool

	dirty   bool
	replies []byte
}

// New creates a Terminal sized cols x rows.
func New(cols, rows int) *Terminal {
	t := &Terminal{
		emu:        vt.NewEmulator(cols, rows),
		cols:       cols,
		rows:       rows,
		scrollback: make([]string, maxScrollbackLines),
	}
	t.emu.SetCallbacks(vt.Callbacks{
		ScrollOut: func(lines []uv.Line) {
			if t.altScreen {
				return
			}
			for _, line := range lines {
				rendered := line.Render()
				if t.sbLen == len(t.scrollback) {
					t.scrollback[t.sbHead] = ""
				}
				t.scrollback[t.sbHead] = rendered
				t.sbHead = (t.sbHead + 1) % len(t.scrollback)
				if t.sbLen < len(t.scrollback) {
					t.sbLen++
				}
			}
		},
		ScrollbackClear: func() {
			for i := range t.scrollback {
				t.scrollback[i] = ""
			}
			t.sbLen = 0
			t.sbHead = 0
		},
		AltScreen: func(on bool) {
			t.altScreen = on
		},
		CursorVisibility: func(visible bool) {
			t.cursorHidden = !visible
		},
	})
	return t
}

// Write feeds bytes read from the PTY master into the emulator. Any
// escape sequence the emulator must answer (queries the shell never
// sees) accumulates in the internal reply buffer, drained by
// TakeReplyBytes. Marks the terminal dirty so the frame scheduler knows
// a render is owed.
func (t *Terminal) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.emu.Write(p)
	if n > 0 {
		t.dirty = true
	}
	if reply := t.emu.PendingResponse(); len(reply) > 0 {
		t.replies = append(t.replies, reply...)
	}
	return n, err
}

// TakeReplyBytes returns and clears any pending reply-stream bytes the
// reader worker must write directly to the PTY master.
func (t *Terminal) TakeReplyBytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.replies) == 0 {
		return nil
	}
	out := t.replies
	t.replies = nil
	return out
}

// Dirty reports whether the terminal has unrendered changes, and clears
// the flag as part of the check — callers render immediately after.
func (t *Terminal) Dirty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.dirty
	t.dirty = false
	return d
}

// Resize changes the terminal dimensions.
func (t *Terminal) Resize(cols, rows int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emu.Resize(cols, rows)
	t.cols = cols
	t.rows = rows
}

// Cells snapshots the visible grid for a redraw payload, row-major.
func (t *Terminal) Cells() [][]Cell {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]Cell, t.rows)
	for y := 0; y < t.rows; y++ {
		row := make([]Cell, t.cols)
		for x := 0; x < t.cols; x++ {
			c := t.emu.CellAt(x, y)
			row[x] = Cell{
				Ch:    c.Rune(),
				Fg:    packColor(c.Style.Fg),
				Bg:    packColor(c.Style.Bg),
				Attrs: packAttrs(c.Style),
			}
		}
		out[y] = row
	}
	return out
}

// CursorState reports the cursor position and visibility.
func (t *Terminal) CursorState() Cursor {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos := t.emu.CursorPosition()
	return Cursor{Row: pos.Y, Col: pos.X, Visible: !t.cursorHidden}
}

// Dimensions returns the current cols, rows.
func (t *Terminal) Dimensions() (cols, rows int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cols, t.rows
}

// ScrollbackLen returns the number of scrollback lines currently stored.
func (t *Terminal) ScrollbackLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sbLen
}

// Snapshot renders a reconnect payload: scrollback + grid + cursor
// restore, as valid ANSI any terminal emulator can consume directly.
// Used when a client re-attaches to a session already in progress.
func (t *Terminal) Snapshot() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	var buf strings.Builder
	lines := t.scrollbackLinesLocked()
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteString("\r\n")
	}
	if len(lines) > 0 {
		for range t.rows - 1 {
			buf.WriteByte('\n')
		}
	}
	buf.WriteString("\x1b[m\x1b[H")
	buf.WriteString(t.emu.Render())

	pos := t.emu.CursorPosition()
	fmt.Fprintf(&buf, "\x1b[%d;%dH", pos.Y+1, pos.X+1)
	if t.cursorHidden {
		buf.WriteString("\x1b[?25l")
	} else {
		buf.WriteString("\x1b[?25h")
	}
	return []byte(buf.String())
}

func (t *Terminal) scrollbackLinesLocked() []string {
	if t.sbLen == 0 {
		return nil
	}
	lines := make([]string, t.sbLen)
	start := (t.sbHead - t.sbLen + len(t.scrollback)) % len(t.scrollback)
	for i := 0; i < t.sbLen; i++ {
		lines[i] = t.scrollback[(start+i)%len(t.scrollback)]
	}
	return lines
}

// Close releases the emulator's resources.
func (t *Terminal) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.emu.Close()
}

func packColor(c uv.Color) uint32 {
	if c == nil {
		return 0
	}
	r, g, b, a := c.RGBA()
	return uint32(a>>8)<<24 | uint32(r>>8)<<16 | uint32(g>>8)<<8 | uint32(b>>8)
}

func packAttrs(style uv.Style) uint16 {
	var attrs uint16
	if style.Bold() {
		attrs |= 1 << 0
	}
	if style.Faint() {
		attrs |= 1 << 1
	}
	if style.Italic() {
		attrs |= 1 << 2
	}
	if style.Underline() {
		attrs |= 1 << 3
	}
	if style.Blink() {
		attrs |= 1 << 4
	}
	if style.Reverse() {
		attrs |= 1 << 5
	}
	if style.Strikethrough() {
		attrs |= 1 << 6
	}
	return attrs
}
