// Package session orchestrates one interview on the candidate's side.
//
// A [Session] ties the interview socket, the speech client, the microphone
// and the playback controller together. Every state change runs on a single
// event-loop goroutine started by [Session.Run]; component callbacks only
// enqueue events, so they never block on the loop and never re-enter it.
//
// Typical wiring:
//
//	var s *session.Session
//	sock := interview.New(interview.Options{OnMessage: func(m interview.Message) { s.HandleMessage(m) }, ...})
//	s = session.New(session.Config{Socket: sock, ...})
//	go s.Run(ctx)
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/mockview/internal/interview"
	"github.com/MrWong99/mockview/pkg/audio"
)

var (
	// ErrRecordingNotAllowed is returned by StartRecording while
	// disconnected, while audio plays or while an answer is processing.
	ErrRecordingNotAllowed = errors.New("session: recording not allowed in the current state")

	// ErrNotRecording is returned by StopRecording when no recording runs.
	ErrNotRecording = errors.New("session: not recording")

	// ErrNothingToSubmit is returned by StopRecording when the recording
	// produced no final transcript. It is a legitimate outcome, not a fault.
	ErrNothingToSubmit = errors.New("session: nothing to submit")

	// ErrNotReady is returned by SubmitText when the session cannot accept
	// an answer.
	ErrNotReady = errors.New("session: not ready for an answer")

	// ErrClosed is returned by commands after Close.
	ErrClosed = errors.New("session: closed")
)

// Socket is the interview transport. [*interview.Client] implements it.
type Socket interface {
	Connect(ctx context.Context) error
	Disconnect()
	SubmitAnswer(interviewID, answer string) error
	SendAnswer(a interview.Answer) error
	SendAudioChunk(chunk audio.Chunk) error
	StartKeepalive()
	StopKeepalive()
}

// Recognizer records and transcribes one answer at a time.
// [*speech.Client] implements it.
type Recognizer interface {
	Start(ctx context.Context) error
	Stop() string
	Active() bool
	Transcript() string
	ResetTranscript()
}

// Player plays question audio. [*playback.Controller] implements it.
type Player interface {
	Play(ctx context.Context, base64Audio, format string) error
	Stop()
}

// Mic is suspended while question audio plays. [*capture.Controller]
// implements it.
type Mic interface {
	Pause()
	Resume()
}

// Config wires a [Session].
type Config struct {
	// InterviewID is sent with every submitted answer. Required.
	InterviewID string

	Socket Socket
	Speech Recognizer
	Player Player

	// Mic may be nil when the recognizer owns no pausable device.
	Mic Mic

	// RelayToBackend makes RelayChunk forward recorded audio to the socket.
	RelayToBackend bool
}

// Session is the interview orchestrator. All exported methods are safe for
// concurrent use; commands block until the event loop has handled them.
type Session struct {
	cfg Config

	qmu   sync.Mutex
	queue []func()
	wake  chan struct{}

	done      chan struct{}
	closeOnce sync.Once

	// Loop-owned.
	ctx         context.Context
	playing     int
	unsent      string
	evaluations []interview.Evaluation
	subs        []chan Projection

	mu   sync.Mutex
	proj Projection
}

// New returns a Session. Call [Session.Run] to start processing events.
func New(cfg Config) *Session {
	return &Session{
		cfg:  cfg,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		ctx:  context.Background(),
		proj: Projection{Status: StatusDisconnected, Recording: RecOffline},
	}
}

// Snapshot returns the current projection.
func (s *Session) Snapshot() Projection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proj.clone()
}

// CanRecord reports whether StartRecording would currently be accepted.
func (s *Session) CanRecord() bool { return s.Snapshot().CanRecord() }

// Subscribe returns a channel that receives the projection after every
// handled event. Slow readers only see the latest snapshot. The channel is
// closed when Run returns.
func (s *Session) Subscribe() <-chan Projection {
	ch := make(chan Projection, 1)
	s.post(func() {
		s.subs = append(s.subs, ch)
	})
	return ch
}

// Run processes events until ctx is cancelled or Close is called. On return
// it stops any recording and playback and disconnects the socket.
func (s *Session) Run(ctx context.Context) error {
	s.ctx = ctx
	defer s.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-s.wake:
		}
		for {
			fn, ok := s.pop()
			if !ok {
				break
			}
			fn()
		}
		s.publish()
	}
}

// Close stops the event loop. It is idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) shutdown() {
	if s.cfg.Speech != nil && s.cfg.Speech.Active() {
		s.cfg.Speech.Stop()
	}
	if s.cfg.Player != nil {
		s.cfg.Player.Stop()
	}
	if s.cfg.Socket != nil {
		s.cfg.Socket.StopKeepalive()
		s.cfg.Socket.Disconnect()
	}
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
	s.Close()
	slog.Info("session: stopped", "interview_id", s.cfg.InterviewID)
}

func (s *Session) post(fn func()) {
	s.qmu.Lock()
	s.queue = append(s.queue, fn)
	s.qmu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) pop() (func(), bool) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	fn := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return fn, true
}

// do runs fn on the event loop and waits for its result.
func (s *Session) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	s.post(func() { res <- fn() })
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) publish() {
	p := s.Snapshot()
	for _, ch := range s.subs {
		select {
		case ch <- p:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- p:
			default:
			}
		}
	}
}

// update mutates the projection under its lock.
func (s *Session) update(fn func(p *Projection)) {
	s.mu.Lock()
	fn(&s.proj)
	s.mu.Unlock()
}

// setRec moves the recording state machine. Illegal transitions are logged
// and ignored.
func (s *Session) setRec(to RecState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.proj.Recording
	if !canTransition(from, to) {
		slog.Warn("session: illegal recording transition", "from", from, "to", to)
		return false
	}
	s.proj.Recording = to
	if from != to {
		slog.Debug("session: recording state", "from", from, "to", to)
	}
	return true
}

func (s *Session) rec() RecState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proj.Recording
}

// Connect opens the interview socket.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.cfg.Socket.Connect(ctx); err != nil {
		s.post(func() {
			s.update(func(p *Projection) { p.LastError = err.Error() })
		})
		return err
	}
	return nil
}

// HandleMessage enqueues an inbound socket message.
func (s *Session) HandleMessage(m interview.Message) {
	s.post(func() { s.onMessage(m) })
}

// HandleSocketState enqueues a socket state change.
func (s *Session) HandleSocketState(st interview.State) {
	s.post(func() { s.onSocketState(st) })
}

// HandleSocketError enqueues a terminal socket error.
func (s *Session) HandleSocketError(err error) {
	s.post(func() {
		slog.Warn("session: socket error", "err", err)
		s.update(func(p *Projection) { p.LastError = err.Error() })
	})
}

// PlaybackStarted suspends the microphone before output begins. Wire it to
// the playback controller's OnPlay.
func (s *Session) PlaybackStarted() {
	if s.cfg.Mic != nil {
		s.cfg.Mic.Pause()
	}
	s.post(func() {
		s.playing++
		s.update(func(p *Projection) { p.Playing = true })
		if s.rec() == RecReady {
			s.setRec(RecSpeaking)
		}
	})
}

// PlaybackEnded resumes the microphone. Wire it to OnEnd.
func (s *Session) PlaybackEnded() {
	if s.cfg.Mic != nil {
		s.cfg.Mic.Resume()
	}
	s.post(func() {
		if s.playing > 0 {
			s.playing--
		}
		if s.playing > 0 {
			return
		}
		s.update(func(p *Projection) { p.Playing = false })
		if s.rec() == RecSpeaking {
			s.setRec(s.idleState())
		}
	})
}

// HandleTranscript enqueues a transcript event from the speech client.
func (s *Session) HandleTranscript(text string, final bool) {
	s.post(func() {
		if s.rec() != RecRecording {
			return
		}
		live := s.cfg.Speech.Transcript()
		if !final {
			live = strings.TrimSpace(live + " " + text)
		}
		s.update(func(p *Projection) { p.LiveTranscript = live })
	})
}

// HandleSpeechError enqueues a speech failure. The speech client has
// already stopped itself.
func (s *Session) HandleSpeechError(err error) {
	s.post(func() {
		slog.Warn("session: speech error", "err", err)
		s.update(func(p *Projection) { p.LastError = err.Error() })
		if s.rec() == RecRecording {
			s.cfg.Socket.StopKeepalive()
			s.cfg.Speech.ResetTranscript()
			s.update(func(p *Projection) { p.LiveTranscript = "" })
			s.setRec(s.idleState())
		}
	})
}

// RelayChunk forwards recorded audio to the backend when RelayToBackend is
// set. Wire it to the speech client's Relay.
func (s *Session) RelayChunk(chunk audio.Chunk) {
	if !s.cfg.RelayToBackend {
		return
	}
	if err := s.cfg.Socket.SendAudioChunk(chunk); err != nil {
		slog.Debug("session: relay chunk", "err", err)
	}
}

// StartRecording starts recording an answer.
func (s *Session) StartRecording(ctx context.Context) error {
	return s.do(ctx, func() error {
		if !s.Snapshot().CanRecord() {
			return ErrRecordingNotAllowed
		}
		s.cfg.Speech.ResetTranscript()
		// The recording outlives this call; bind it to the loop's context.
		if err := s.cfg.Speech.Start(s.ctx); err != nil {
			s.update(func(p *Projection) { p.LastError = err.Error() })
			return fmt.Errorf("session: start recording: %w", err)
		}
		s.cfg.Socket.StartKeepalive()
		s.update(func(p *Projection) {
			p.LiveTranscript = ""
			p.LastError = ""
		})
		s.setRec(RecRecording)
		slog.Info("session: recording started", "interview_id", s.cfg.InterviewID)
		return nil
	})
}

// StopRecording stops the recording and submits the final transcript. It
// returns the submitted text. While the socket is down the answer is queued
// and submitted after reconnecting.
func (s *Session) StopRecording(ctx context.Context) (string, error) {
	var text string
	err := s.do(ctx, func() error {
		if s.rec() != RecRecording {
			return ErrNotRecording
		}
		text = strings.TrimSpace(s.cfg.Speech.Stop())
		s.cfg.Socket.StopKeepalive()
		if text == "" {
			s.update(func(p *Projection) { p.LiveTranscript = "" })
			s.setRec(s.idleState())
			return ErrNothingToSubmit
		}
		s.update(func(p *Projection) { p.LiveTranscript = text })
		s.submit(text)
		return nil
	})
	return text, err
}

// submit sends a recorded answer or queues it until the socket reopens.
func (s *Session) submit(text string) {
	if s.Snapshot().Status == StatusConnected {
		err := s.cfg.Socket.SubmitAnswer(s.cfg.InterviewID, text)
		if err == nil {
			s.unsent = ""
			s.update(func(p *Projection) {
				p.Processing = true
				p.AnswerQueued = false
			})
			s.setRec(RecProcessing)
			slog.Info("session: answer submitted", "interview_id", s.cfg.InterviewID, "chars", len(text))
			return
		}
		slog.Warn("session: submit failed, queueing answer", "err", err)
	}
	s.unsent = text
	s.update(func(p *Projection) { p.AnswerQueued = true })
	s.setRec(RecOffline)
}

// SubmitText sends a typed answer, optionally with code.
func (s *Session) SubmitText(ctx context.Context, a interview.Answer) error {
	return s.do(ctx, func() error {
		if !s.Snapshot().CanRecord() {
			return ErrNotReady
		}
		if strings.TrimSpace(a.Answer) == "" && strings.TrimSpace(a.Code) == "" {
			return ErrNothingToSubmit
		}
		if err := s.cfg.Socket.SendAnswer(a); err != nil {
			return fmt.Errorf("session: submit text: %w", err)
		}
		s.update(func(p *Projection) { p.Processing = true })
		s.setRec(RecProcessing)
		return nil
	})
}

// idleState is where the machine rests when nothing is recording.
func (s *Session) idleState() RecState {
	if s.Snapshot().Status != StatusConnected {
		return RecOffline
	}
	return RecReady
}

func (s *Session) onSocketState(st interview.State) {
	status := connStatus(st)
	s.update(func(p *Projection) { p.Status = status })

	switch status {
	case StatusConnected:
		if s.rec() == RecOffline {
			s.setRec(RecReady)
		}
		if s.unsent != "" {
			s.submit(s.unsent)
		}
	case StatusDisconnected:
		switch s.rec() {
		case RecReady, RecSpeaking, RecProcessing:
			s.setRec(RecOffline)
		}
	}
}

func (s *Session) onMessage(m interview.Message) {
	switch msg := m.(type) {
	case interview.Connected:
		slog.Info("session: interview connected", "interview_id", msg.InterviewID)
		s.update(func(p *Projection) { p.LastError = "" })

	case interview.QuestionMessage:
		s.onQuestion(msg)

	case interview.AudioMessage:
		s.play(msg.Audio, msg.Format)

	case interview.TranscriptMessage:
		s.update(func(p *Projection) { p.LiveTranscript = msg.Text })

	case interview.EvaluationMessage:
		// Evaluations are kept for diagnostics only; the candidate never
		// sees them.
		s.evaluations = append(s.evaluations, msg.Evaluation)
		slog.Debug("session: evaluation received", "count", len(s.evaluations))
		s.cfg.Speech.ResetTranscript()
		s.update(func(p *Projection) {
			p.Processing = false
			p.LiveTranscript = ""
		})
		if s.rec() == RecProcessing {
			s.setRec(RecReady)
		}

	case interview.Completed:
		s.finish()

	case interview.ErrorMessage:
		slog.Warn("session: backend error", "message", msg.Message)
		s.update(func(p *Projection) {
			p.LastError = msg.Message
			p.Processing = false
		})
		if s.rec() == RecProcessing {
			s.cfg.Speech.ResetTranscript()
			s.setRec(RecReady)
		}

	case interview.Resume:
		s.onResume(msg.State)

	case interview.FlowState:
		s.update(func(p *Projection) {
			if msg.Progress != nil {
				p.Progress = *msg.Progress
			}
			if msg.Phase != "" {
				p.Progress.Phase = msg.Phase
			}
			if msg.State != "" {
				p.InterviewStatus = msg.State
			}
		})

	case interview.ConnectionReplaced:
		reason := msg.Reason
		if reason == "" {
			reason = "interview opened in another window"
		}
		s.update(func(p *Projection) { p.LastError = reason })
	}
}

func (s *Session) onQuestion(msg interview.QuestionMessage) {
	if s.rec() == RecCompleted {
		return
	}
	if s.rec() == RecRecording {
		// A new question supersedes whatever was being recorded.
		s.cfg.Speech.Stop()
		s.cfg.Socket.StopKeepalive()
	}
	s.cfg.Speech.ResetTranscript()
	q := msg.Question
	s.update(func(p *Projection) {
		p.CurrentQuestion = &q
		if msg.Progress != nil {
			p.Progress = *msg.Progress
		}
		p.Processing = false
		p.LiveTranscript = ""
		p.LastError = ""
	})
	if r := s.rec(); r != RecSpeaking && r != RecOffline {
		s.setRec(RecReady)
	}
	slog.Info("session: question", "question_id", q.ID, "skill", q.Skill, "difficulty", q.Difficulty)
	if msg.Audio != "" {
		s.play(msg.Audio, msg.Format)
	}
}

func (s *Session) play(b64, format string) {
	if s.cfg.Player == nil {
		return
	}
	if err := s.cfg.Player.Play(s.ctx, b64, format); err != nil {
		slog.Warn("session: question audio failed", "err", err)
		s.update(func(p *Projection) { p.LastError = err.Error() })
	}
}

func (s *Session) onResume(st interview.InterviewState) {
	s.update(func(p *Projection) {
		if st.Status != "" {
			p.InterviewStatus = st.Status
		}
		if st.CurrentQuestion != nil {
			q := *st.CurrentQuestion
			p.CurrentQuestion = &q
		}
		if st.Progress != nil {
			p.Progress = *st.Progress
		}
		p.Processing = st.Processing
		p.Completed = st.Completed
	})
	slog.Info("session: state resumed", "processing", st.Processing, "completed", st.Completed)

	switch {
	case st.Completed:
		s.finish()
	case st.Processing:
		if r := s.rec(); r == RecReady || r == RecOffline {
			s.setRec(RecProcessing)
		}
	default:
		if s.rec() == RecProcessing && s.unsent == "" {
			s.setRec(RecReady)
		}
	}
}

func (s *Session) finish() {
	if s.cfg.Speech.Active() {
		s.cfg.Speech.Stop()
	}
	s.cfg.Speech.ResetTranscript()
	s.cfg.Socket.StopKeepalive()
	s.unsent = ""
	s.update(func(p *Projection) {
		p.Completed = true
		p.Processing = false
		p.AnswerQueued = false
	})
	s.setRec(RecCompleted)
	slog.Info("session: interview completed", "interview_id", s.cfg.InterviewID)
}
