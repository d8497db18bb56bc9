// Package speech runs one streaming transcription session per recording.
//
// A [Client] opens a provider session, starts the microphone through an
// owned [capture.Controller], and sends every aggregated chunk straight to
// the provider. Final transcript segments are collected in an [Accumulator];
// interim text is only passed to OnTranscript for live feedback.
//
// At most one provider session is open per Client. Stop is idempotent and
// returns the transcript accumulated up to that point. Callbacks run on
// client goroutines and must not call Stop synchronously.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/mockview/internal/capture"
	"github.com/MrWong99/mockview/internal/observe"
	"github.com/MrWong99/mockview/pkg/audio"
	"github.com/MrWong99/mockview/pkg/provider/stt"
)

var (
	// ErrMissingCredential is returned by Start when no usable credential
	// could be resolved.
	ErrMissingCredential = errors.New("speech: missing or invalid transcription credential")

	// ErrAlreadyActive is returned by Start while a session is open.
	ErrAlreadyActive = errors.New("speech: session already active")
)

// Config wires a [Client].
type Config struct {
	// Provider opens transcription sessions. Required.
	Provider stt.Provider

	// Credentials resolves the credential for each session. Required.
	Credentials CredentialSource

	// Device is the microphone. Required.
	Device audio.Device

	// Capture configures the owned capture controller. Its OnAudioChunk and
	// OnError fields are replaced by the client.
	Capture capture.Options

	// Language is the BCP-47 recognition language. Empty uses the provider
	// default.
	Language string

	// Relay, when set, additionally receives every chunk sent to the
	// provider (e.g. to mirror audio to the interview backend).
	Relay func(audio.Chunk)

	// OnTranscript receives every non-empty transcript event.
	OnTranscript func(text string, final bool)

	// OnError receives provider failures that end a session.
	OnError func(error)

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

type clientState int

const (
	stateIdle clientState = iota
	stateStarting
	stateActive
	stateStopping
)

// Client is the speech session client. All methods are safe for concurrent
// use.
type Client struct {
	cfg     Config
	capture *capture.Controller
	metrics *observe.Metrics
	acc     Accumulator

	mu        sync.Mutex
	state     clientState
	cancelled bool
	sess      stt.SessionHandle
	done      chan struct{}

	// recID tags the log lines of the current recording.
	recID string
}

// New returns an idle Client.
func New(cfg Config) *Client {
	c := &Client{cfg: cfg, metrics: cfg.Metrics}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	opts := cfg.Capture
	opts.OnAudioChunk = c.handleChunk
	opts.OnError = func(err error) {
		slog.Debug("speech: capture error", "err", err)
	}
	c.capture = capture.New(cfg.Device, opts)
	return c
}

// Capture returns the owned capture controller so callers can pause it
// during playback or read its level.
func (c *Client) Capture() *capture.Controller { return c.capture }

// Active reports whether a session is starting or open.
func (c *Client) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateStarting || c.state == stateActive
}

// Transcript returns the final text accumulated so far without clearing it.
func (c *Client) Transcript() string { return c.acc.String() }

// ResetTranscript discards the accumulated text.
func (c *Client) ResetTranscript() { c.acc.Reset() }

// Start opens a provider session and begins capturing. It fails with
// [ErrAlreadyActive] while another session is open and with
// [ErrMissingCredential] when no credential can be resolved.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.state = stateStarting
	c.cancelled = false
	c.mu.Unlock()

	sess, err := c.open(ctx)
	if err != nil {
		c.setIdle()
		return err
	}

	c.mu.Lock()
	if c.cancelled {
		c.state = stateIdle
		c.mu.Unlock()
		_ = sess.Close()
		return context.Canceled
	}
	c.acc.Reset()
	c.sess = sess
	c.done = make(chan struct{})
	c.state = stateActive
	c.recID = uuid.NewString()
	done, recID := c.done, c.recID
	c.mu.Unlock()

	c.metrics.ActiveRecordings.Add(ctx, 1)
	go c.dispatch(sess, done)

	if err := c.capture.Start(ctx); err != nil {
		c.teardown(sess)
		return fmt.Errorf("speech: start capture: %w", err)
	}
	if !c.capture.Active() {
		err := c.capture.Err()
		c.teardown(sess)
		if err == nil {
			err = errors.New("capture did not start")
		}
		return fmt.Errorf("speech: start capture: %w", err)
	}

	slog.Info("speech: recording started", "recording_id", recID, "language", c.cfg.Language)
	return nil
}

func (c *Client) open(ctx context.Context) (stt.SessionHandle, error) {
	if c.cfg.Credentials == nil {
		return nil, ErrMissingCredential
	}
	cred, err := c.cfg.Credentials.Credential(ctx)
	if err != nil {
		if errors.Is(err, ErrMissingCredential) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrMissingCredential, err)
	}
	if !cred.Valid(time.Now()) {
		return nil, ErrMissingCredential
	}

	rate := c.cfg.Capture.SampleRate
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}
	sess, err := c.cfg.Provider.StartStream(ctx, stt.StreamConfig{
		SampleRate:     rate,
		Channels:       1,
		Language:       c.cfg.Language,
		InterimResults: true,
		Credential:     cred,
	})
	if err != nil {
		return nil, fmt.Errorf("speech: start stream: %w", err)
	}
	return sess, nil
}

func (c *Client) setIdle() {
	c.mu.Lock()
	c.state = stateIdle
	c.mu.Unlock()
}

// handleChunk runs on the capture flush goroutine.
func (c *Client) handleChunk(chunk audio.Chunk) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return
	}
	ctx := context.Background()
	if err := sess.SendAudio(chunk.Data); err != nil {
		if !errors.Is(err, stt.ErrSessionClosed) {
			slog.Warn("speech: send audio", "err", err)
		}
		c.metrics.RecordChunkDropped(ctx, "stt_closed")
	} else {
		c.metrics.RecordChunk(ctx, "stt")
	}
	if c.cfg.Relay != nil {
		c.cfg.Relay(chunk)
	}
}

// dispatch drains the session's transcript channels in order until both are
// closed. A session that ends on the provider side while still current is
// reported and torn down.
func (c *Client) dispatch(sess stt.SessionHandle, done chan struct{}) {
	partials, finals := sess.Partials(), sess.Finals()
	ctx := context.Background()
	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if t.Text == "" {
				continue
			}
			c.metrics.RecordTranscript(ctx, false)
			c.emit(t.Text, false)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			if t.Text == "" {
				continue
			}
			c.metrics.RecordTranscript(ctx, true)
			c.acc.Append(t.Text)
			c.emit(t.Text, true)
		}
	}
	close(done)

	c.mu.Lock()
	current := c.sess == sess && c.state == stateActive
	recID := c.recID
	c.mu.Unlock()
	if !current {
		return
	}
	err := sess.Err()
	if err == nil {
		err = stt.ErrSessionClosed
	}
	slog.Warn("speech: provider session failed", "recording_id", recID, "err", err)
	if c.cfg.OnError != nil {
		c.cfg.OnError(fmt.Errorf("speech: provider session: %w", err))
	}
	c.teardown(sess)
}

func (c *Client) emit(text string, final bool) {
	if c.cfg.OnTranscript != nil {
		c.cfg.OnTranscript(text, final)
	}
}

// Stop ends the recording: capture stops, the provider session is closed and
// its remaining finals are drained. It returns the accumulated transcript and
// clears it. Calling Stop without an active session returns whatever text is
// left over, which is empty after a previous Stop.
func (c *Client) Stop() string {
	c.mu.Lock()
	switch c.state {
	case stateStarting:
		c.cancelled = true
		c.mu.Unlock()
		return ""
	case stateActive:
		sess := c.sess
		c.mu.Unlock()
		c.teardown(sess)
	default:
		c.mu.Unlock()
	}
	return c.acc.Take()
}

// teardown stops capture and closes sess if it is still the current
// session. The accumulator is left untouched.
func (c *Client) teardown(sess stt.SessionHandle) {
	c.mu.Lock()
	if c.sess != sess || c.state != stateActive {
		c.mu.Unlock()
		return
	}
	c.state = stateStopping
	done, recID := c.done, c.recID
	c.mu.Unlock()

	c.capture.Stop(false)
	if err := sess.Close(); err != nil {
		slog.Warn("speech: close session", "err", err)
	}
	<-done

	c.mu.Lock()
	c.sess = nil
	c.done = nil
	c.state = stateIdle
	c.mu.Unlock()

	c.metrics.ActiveRecordings.Add(context.Background(), -1)
	slog.Info("speech: recording stopped", "recording_id", recID)
}

// Close stops any session and releases the microphone.
func (c *Client) Close() error {
	c.Stop()
	return c.capture.Close()
}
