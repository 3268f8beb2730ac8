package script

// Script is the abstract scripting engine host: it receives events and
// returns actions to perform. A Script must run each Dispatch call to
// completion without blocking on I/O — all side effects are expressed
// as returned Actions, deferred through the reactor by the bridge
// (spec.md §4.7).
type Script interface {
	Dispatch(ev Event) ([]Action, error)
}

// Noop is a Script that performs no routing of its own: key presses are
// forwarded to the PTY untouched and every other event yields no
// actions, matching the default behavior a host with no user script installed should have.
// Grounded on internal/llm's dummy/no-op backend shape: a real
// interface satisfied by a do-nothing implementation for tests and
// bootstrapping.
type Noop struct{}

func (Noop) Dispatch(ev Event) ([]Action, error) {
	switch ev.Kind {
	case EventKeyPress:
		return []Action{{
			Kind:  ActionSendKey,
			Pty:   ev.Pty,
			Key:   ev.Key,
			Ctrl:  ev.Ctrl,
			Shift: ev.Shift,
			Alt:   ev.Alt,
			Meta:  ev.Meta,
		}}, nil
	default:
		return nil, nil
	}
}
