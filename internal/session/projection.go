package session

import "github.com/MrWong99/mockview/internal/interview"

// ConnStatus is the connection state shown to the candidate.
type ConnStatus string

const (
	StatusConnecting   ConnStatus = "connecting"
	StatusConnected    ConnStatus = "connected"
	StatusDisconnected ConnStatus = "disconnected"
)

// connStatus maps a socket state onto the three states the candidate sees.
func connStatus(s interview.State) ConnStatus {
	switch s {
	case interview.StateConnecting:
		return StatusConnecting
	case interview.StateOpen:
		return StatusConnected
	default:
		return StatusDisconnected
	}
}

// Projection is the client-side view of a remote interview session. It is
// derived from socket messages; the only local mutations clear stale
// processing and transcript state when a new question arrives.
type Projection struct {
	Status          ConnStatus
	InterviewStatus string
	CurrentQuestion *interview.Question
	Progress        interview.Progress
	Processing      bool
	Completed       bool
	LastError       string
	LiveTranscript  string

	Recording    RecState
	Playing      bool
	AnswerQueued bool
}

// CanRecord reports whether a recording may start: connected, nothing
// playing, no answer in flight.
func (p Projection) CanRecord() bool {
	return p.Status == StatusConnected &&
		p.Recording == RecReady &&
		!p.Playing &&
		!p.Processing &&
		!p.Completed
}

// clone returns a copy that shares no pointers with p.
func (p Projection) clone() Projection {
	if p.CurrentQuestion != nil {
		q := *p.CurrentQuestion
		p.CurrentQuestion = &q
	}
	return p
}
