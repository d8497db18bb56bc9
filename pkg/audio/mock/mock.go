// Package mock provides in-memory implementations of the [audio.Device],
// [audio.Stream], [audio.Sink] and [audio.Playback] interfaces for use in
// unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := &mock.Stream{Rate: 16000}
//	dev := &mock.Device{Stream: stream}
//	s, _ := dev.Open(ctx, audio.DeviceOptions{SampleRate: 16000, Channels: 1})
//	stream.Emit(make([]float32, 1024)) // delivered to the Start callback
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/mockview/pkg/audio"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// Stream is returned by Open. When nil a fresh Stream is created per call
	// with the requested sample rate.
	Stream *Stream

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCalls records the options of every Open call.
	OpenCalls []audio.DeviceOptions
}

// Open implements [audio.Device].
func (d *Device) Open(_ context.Context, opts audio.DeviceOptions) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, opts)
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if d.Stream != nil {
		d.Stream.reopen(opts.SampleRate)
		return d.Stream, nil
	}
	return &Stream{Rate: opts.SampleRate}, nil
}

// OpenCount returns how many times Open was called.
func (d *Device) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}

var _ audio.Device = (*Device)(nil)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream]. Tests push audio with
// [Stream.Emit].
type Stream struct {
	mu sync.Mutex

	// Rate is reported by SampleRate.
	Rate int

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	CallCountStart int
	CallCountStop  int
	CallCountClose int

	onBlock func([]float32)
	closed  bool
}

func (s *Stream) reopen(rate int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
	if rate > 0 {
		s.Rate = rate
	}
}

// Start implements [audio.Stream].
func (s *Stream) Start(onBlock func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.closed {
		return audio.ErrStreamClosed
	}
	if s.StartErr != nil {
		return s.StartErr
	}
	s.onBlock = onBlock
	return nil
}

// Stop implements [audio.Stream].
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.onBlock = nil
	return nil
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.onBlock = nil
	s.closed = true
	return nil
}

// SampleRate implements [audio.Stream].
func (s *Stream) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Rate
}

// Closed implements [audio.Stream].
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Running reports whether a callback is currently registered.
func (s *Stream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onBlock != nil
}

// Emit delivers block to the registered callback, as the hardware would. It
// reports whether a callback was registered.
func (s *Stream) Emit(block []float32) bool {
	s.mu.Lock()
	cb := s.onBlock
	s.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(block)
	return true
}

var _ audio.Stream = (*Stream)(nil)

// ─── Sink ─────────────────────────────────────────────────────────────────────

// StartCall records a single invocation of Sink.Start.
type StartCall struct {
	Payload []byte
	Format  string
	Volume  float64
}

// Sink is a mock implementation of [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// Hang makes Start block until ctx is done, simulating audio that never
	// becomes playable.
	Hang bool

	// OnStart, if set, is called at the moment output would begin.
	OnStart func()

	StartCalls []StartCall
	Playbacks  []*Playback
}

// Start implements [audio.Sink].
func (s *Sink) Start(ctx context.Context, payload []byte, format string, volume float64) (audio.Playback, error) {
	s.mu.Lock()
	s.StartCalls = append(s.StartCalls, StartCall{
		Payload: append([]byte(nil), payload...),
		Format:  format,
		Volume:  volume,
	})
	hang, startErr, onStart := s.Hang, s.StartErr, s.OnStart
	s.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if startErr != nil {
		return nil, startErr
	}
	if onStart != nil {
		onStart()
	}
	p := NewPlayback(volume)
	s.mu.Lock()
	s.Playbacks = append(s.Playbacks, p)
	s.mu.Unlock()
	return p, nil
}

// Last returns the most recent playback, or nil.
func (s *Sink) Last() *Playback {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Playbacks) == 0 {
		return nil
	}
	return s.Playbacks[len(s.Playbacks)-1]
}

var _ audio.Sink = (*Sink)(nil)

// ─── Playback ─────────────────────────────────────────────────────────────────

// Playback is a mock implementation of [audio.Playback]. Call [Playback.Finish]
// to simulate the audio reaching its end.
type Playback struct {
	mu     sync.Mutex
	done   chan struct{}
	once   sync.Once
	paused bool
	volume float64

	CallCountPause  int
	CallCountResume int
	CallCountStop   int
}

// NewPlayback returns a running Playback at the given volume.
func NewPlayback(volume float64) *Playback {
	return &Playback{done: make(chan struct{}), volume: volume}
}

func (p *Playback) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountPause++
	p.paused = true
}

func (p *Playback) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountResume++
	p.paused = false
}

func (p *Playback) Stop() {
	p.mu.Lock()
	p.CallCountStop++
	p.mu.Unlock()
	p.Finish()
}

func (p *Playback) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = v
}

func (p *Playback) Done() <-chan struct{} { return p.done }

// Finish closes Done. Safe to call more than once.
func (p *Playback) Finish() {
	p.once.Do(func() { close(p.done) })
}

// Paused reports the pause state.
func (p *Playback) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Volume reports the last applied volume.
func (p *Playback) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

var _ audio.Playback = (*Playback)(nil)
