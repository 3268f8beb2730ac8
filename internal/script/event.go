// Package script implements the script bridge: it translates inbound
// server events into scripted actions via an abstract Script host, and
// marshals the script's actions back into reactor/PTY submissions. The
// bridge holds no live references into the script runtime — only
// opaque handles the host resolves back to internal ids on every call
// (spec.md §9 Design Notes).
package script

// EventKind tags the event variants delivered to a Script's Dispatch.
type EventKind int

const (
	EventPtyAttach EventKind = iota
	EventPtyExited
	EventKeyPress
	EventWinsize
)

// Event is the sum type of inbound events a Script may observe.
type Event struct {
	Kind EventKind

	// EventPtyAttach, EventKeyPress, EventWinsize target a pty_ref.
	Pty PtyRef

	// EventPtyExited
	SessionID uint64

	// EventKeyPress
	Key   string
	Ctrl  bool
	Shift bool
	Alt   bool
	Meta  bool

	// EventWinsize
	Cols, Rows uint16
}

// PtyRef is an opaque handle a script holds instead of a live session
// reference; the bridge resolves it back to an internal session id on
// every call (spec.md §9 "avoids any shared mutable state with the
// script runtime").
type PtyRef string

// TimerRef is an opaque handle for a script-scheduled timer.
type TimerRef string
