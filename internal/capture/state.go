package capture

import (
	"fmt"
	"log/slog"
)

// State is the lifecycle state of a [Controller].
type State int

const (
	// StateIdle means no capture is running. The microphone may still be
	// held open from an earlier non-forced Stop.
	StateIdle State = iota

	// StateRequestingPermission means the device is being opened.
	StateRequestingPermission

	// StateCapturing means blocks flow from the device into the encoder.
	StateCapturing

	// StatePaused means the device stays open but blocks are discarded.
	StatePaused
)

// String returns the human-readable name of s.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestingPermission:
		return "requesting-permission"
	case StateCapturing:
		return "capturing"
	case StatePaused:
		return "paused"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// transitions lists the legal successors of every state.
var transitions = map[State][]State{
	StateIdle:                 {StateRequestingPermission, StateCapturing},
	StateRequestingPermission: {StateCapturing, StateIdle},
	StateCapturing:            {StatePaused, StateIdle},
	StatePaused:               {StateCapturing, StateIdle},
}

// canTransition reports whether from → to is a legal transition.
func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// setState moves c to the given state if the table allows it and reports
// whether the state changed. Self-transitions and illegal moves leave the
// state untouched. Caller must hold c.mu.
func (c *Controller) setState(to State) bool {
	from := c.state
	if from == to {
		return false
	}
	if !canTransition(from, to) {
		slog.Debug("capture: ignoring illegal transition", "from", from, "to", to)
		return false
	}
	c.state = to
	return true
}
