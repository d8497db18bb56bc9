package session

import "fmt"

// RecState is the candidate-facing recording state of an interview.
type RecState int

const (
	// RecReady means the candidate may start recording.
	RecReady RecState = iota

	// RecSpeaking means question audio is playing.
	RecSpeaking

	// RecRecording means the microphone is live and transcribing.
	RecRecording

	// RecProcessing means an answer was submitted and the backend has not
	// replied yet.
	RecProcessing

	// RecCompleted is terminal.
	RecCompleted

	// RecOffline means the socket is down and no recording is running.
	RecOffline
)

// String returns the human-readable name of s.
func (s RecState) String() string {
	switch s {
	case RecReady:
		return "ready"
	case RecSpeaking:
		return "speaking"
	case RecRecording:
		return "recording"
	case RecProcessing:
		return "processing"
	case RecCompleted:
		return "completed"
	case RecOffline:
		return "offline"
	default:
		return fmt.Sprintf("RecState(%d)", int(s))
	}
}

var recTransitions = map[RecState][]RecState{
	RecReady:      {RecSpeaking, RecRecording, RecProcessing, RecCompleted, RecOffline},
	RecSpeaking:   {RecReady, RecCompleted, RecOffline},
	RecRecording:  {RecReady, RecProcessing, RecCompleted, RecOffline},
	RecProcessing: {RecReady, RecCompleted, RecOffline},
	RecOffline:    {RecReady, RecProcessing, RecCompleted},
	RecCompleted:  nil,
}

// canTransition reports whether from → to is a legal recording transition.
// Staying in the same state is always allowed.
func canTransition(from, to RecState) bool {
	if from == to {
		return true
	}
	for _, s := range recTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
