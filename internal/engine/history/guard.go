package history

// State is the operational state of a History.
type State int32

const (
	// StateIdle means no replay is running; Record pushes normally.
	StateIdle State = iota
	// StateReplaying means an undo or redo is being replayed; Record is ignored.
	StateReplaying
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReplaying:
		return "replaying"
	default:
		return "unknown"
	}
}

// replayScope holds the replay guard for the duration of one undo or redo.
// Usage:
//
//	scope, err := h.beginReplay()
//	if err != nil {
//	    return err
//	}
//	defer scope.End()
type replayScope struct {
	history *History
	active  bool
}

// beginReplay moves the history from idle to replaying.
func (h *History) beginReplay() (*replayScope, error) {
	if !h.state.CompareAndSwap(int32(StateIdle), int32(StateReplaying)) {
		return nil, ErrReplayInProgress
	}
	return &replayScope{history: h, active: true}, nil
}

// End releases the guard.
// Safe to call multiple times; only the first call has effect.
func (s *replayScope) End() {
	if s.active {
		s.history.state.Store(int32(StateIdle))
		s.active = false
	}
}

// State returns the current operational state.
func (h *History) State() State {
	return State(h.state.Load())
}

// IsReplaying returns true while an undo or redo is being replayed.
func (h *History) IsReplaying() bool {
	return h.State() == StateReplaying
}
