package script

import (
	"sync"

	"github.com/google/uuid"
)

// HandleTable maps opaque PtyRef/TimerRef tokens to internal uint64
// ids. Neither the script host nor the bridge ever hands the script a
// live pointer into session/timer state — only a token resolved back
// to an id on every call, so the script runtime can be swapped or
// reloaded without invalidating live references (spec.md §9).
type HandleTable struct {
	mu      sync.Mutex
	ptyIDs  map[PtyRef]uint64
	ptyRefs map[uint64]PtyRef

	timerIDs  map[TimerRef]uint64
	timerRefs map[uint64]TimerRef
}

// NewHandleTable returns an empty HandleTable.
func NewHandleTable() *HandleTable {
	return &HandleTable{
		ptyIDs:    make(map[PtyRef]uint64),
		ptyRefs:   make(map[uint64]PtyRef),
		timerIDs:  make(map[TimerRef]uint64),
		timerRefs: make(map[uint64]TimerRef),
	}
}

// PtyRefFor mints (or returns the existing) opaque token for a session id.
func (h *HandleTable) PtyRefFor(sessionID uint64) PtyRef {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ref, ok := h.ptyRefs[sessionID]; ok {
		return ref
	}
	ref := PtyRef(uuid.NewString())
	h.ptyRefs[sessionID] = ref
	h.ptyIDs[ref] = sessionID
	return ref
}

// ResolvePty resolves a token back to a session id.
func (h *HandleTable) ResolvePty(ref PtyRef) (uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.ptyIDs[ref]
	return id, ok
}

// ReleasePty drops a session's token, e.g. on session destroy.
func (h *HandleTable) ReleasePty(sessionID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ref, ok := h.ptyRefs[sessionID]; ok {
		delete(h.ptyRefs, sessionID)
		delete(h.ptyIDs, ref)
	}
}

// NewTimerRef mints an opaque token for a newly-scheduled timer.
func (h *HandleTable) NewTimerRef(timerID uint64) TimerRef {
	h.mu.Lock()
	defer h.mu.Unlock()
	ref := TimerRef(uuid.NewString())
	h.timerRefs[timerID] = ref
	h.timerIDs[ref] = timerID
	return ref
}

// ResolveTimer resolves a token back to an internal timer id.
func (h *HandleTable) ResolveTimer(ref TimerRef) (uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.timerIDs[ref]
	return id, ok
}

// ReleaseTimer drops a timer's token once it fires or is canceled.
func (h *HandleTable) ReleaseTimer(ref TimerRef) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id, ok := h.timerIDs[ref]; ok {
		delete(h.timerIDs, ref)
		delete(h.timerRefs, id)
	}
}
