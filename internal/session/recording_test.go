package session

import "testing"

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to RecState
		want     bool
	}{
		{RecReady, RecRecording, true},
		{RecReady, RecSpeaking, true},
		{RecSpeaking, RecRecording, false},
		{RecRecording, RecProcessing, true},
		{RecRecording, RecSpeaking, false},
		{RecProcessing, RecRecording, false},
		{RecProcessing, RecReady, true},
		{RecOffline, RecRecording, false},
		{RecOffline, RecProcessing, true},
		{RecCompleted, RecReady, false},
		{RecCompleted, RecCompleted, true},
	}
	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("canTransition(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestProjection_CanRecord(t *testing.T) {
	t.Parallel()

	ready := Projection{Status: StatusConnected, Recording: RecReady}
	tests := []struct {
		name   string
		mutate func(p *Projection)
		want   bool
	}{
		{name: "ready", mutate: func(*Projection) {}, want: true},
		{name: "disconnected", mutate: func(p *Projection) { p.Status = StatusDisconnected }},
		{name: "connecting", mutate: func(p *Projection) { p.Status = StatusConnecting }},
		{name: "playing", mutate: func(p *Projection) { p.Playing = true }},
		{name: "processing", mutate: func(p *Projection) { p.Processing = true }},
		{name: "completed", mutate: func(p *Projection) { p.Completed = true }},
		{name: "recording", mutate: func(p *Projection) { p.Recording = RecRecording }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ready
			tt.mutate(&p)
			if got := p.CanRecord(); got != tt.want {
				t.Errorf("CanRecord() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecState_String(t *testing.T) {
	t.Parallel()

	for s, want := range map[RecState]string{
		RecReady:      "ready",
		RecSpeaking:   "speaking",
		RecRecording:  "recording",
		RecProcessing: "processing",
		RecCompleted:  "completed",
		RecOffline:    "offline",
		RecState(9):   "RecState(9)",
	} {
		if got := s.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
