// Package capture drives the microphone for a recording: it opens the
// capture device, encodes float blocks into PCM16 frames on a dedicated
// goroutine, aggregates frames into flush-interval chunks, and meters the
// input level for the UI and silence detection.
//
// A [Controller] owns at most one open [audio.Stream]. The stream survives a
// non-forced [Controller.Stop] so that the next recording can reuse it
// without asking the platform for permission again.
//
// Callbacks in [Options] run on controller-owned goroutines. They must not
// call [Controller.Stop] or [Controller.Close] synchronously; post an event
// to your own loop instead.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/mockview/pkg/audio"
)

var (
	// ErrPermissionDenied aliases [audio.ErrPermissionDenied] so callers can
	// match it without importing the audio package.
	ErrPermissionDenied = audio.ErrPermissionDenied

	// ErrDeviceUnavailable aliases [audio.ErrDeviceUnavailable].
	ErrDeviceUnavailable = audio.ErrDeviceUnavailable

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("capture: controller closed")
)

// blockQueue is the number of device blocks buffered between the device
// callback and the encoder goroutine. Blocks beyond it are dropped.
const blockQueue = 64

// Options configures a [Controller]. Zero durations and sizes fall back to
// the audio package defaults.
type Options struct {
	SampleRate int
	Channels   int
	BlockSize  int

	// FlushInterval is the aggregation window for OnAudioChunk.
	FlushInterval time.Duration

	// LevelInterval is the level-meter tick for OnLevel and silence detection.
	LevelInterval time.Duration

	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool

	// SilenceThreshold and SilenceDuration configure OnSilence. A zero
	// SilenceDuration disables silence detection.
	SilenceThreshold int
	SilenceDuration  time.Duration

	// OnAudioChunk receives every non-empty aggregated chunk in order.
	OnAudioChunk func(audio.Chunk)

	// OnLevel receives the input level (0–100) on every level tick.
	OnLevel func(level int)

	// OnSilence fires once per quiet stretch longer than SilenceDuration.
	OnSilence func()

	// OnError receives device failures from Start.
	OnError func(error)

	// Now overrides the clock used for silence detection.
	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.SampleRate <= 0 {
		o.SampleRate = audio.DefaultSampleRate
	}
	if o.Channels <= 0 {
		o.Channels = audio.DefaultChannels
	}
	if o.BlockSize <= 0 {
		o.BlockSize = audio.DefaultBlockSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = audio.DefaultFlushInterval
	}
	if o.LevelInterval <= 0 {
		o.LevelInterval = 16 * time.Millisecond
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Controller is the microphone state machine:
//
//	Idle → RequestingPermission → Capturing ⇄ Paused → Idle
//
// All methods are safe for concurrent use.
type Controller struct {
	dev  audio.Device
	opts Options

	mu         sync.Mutex
	state      State
	stream     audio.Stream
	run        *run
	permission bool
	denied     bool
	err        error
	closed     bool

	// silence settings may change while a recording runs.
	silenceThreshold int
	silenceDuration  time.Duration

	level atomic.Int32
}

// run is the per-recording processing graph. It is created by Start and torn
// down by Stop.
type run struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	blocks chan []float32
	agg    *audio.Aggregator
	enc    *audio.Encoder
	paused atomic.Bool
	latest atomic.Pointer[[]float32]
}

// New returns an idle Controller reading from dev.
func New(dev audio.Device, opts Options) *Controller {
	opts.applyDefaults()
	return &Controller{
		dev:              dev,
		opts:             opts,
		silenceThreshold: opts.SilenceThreshold,
		silenceDuration:  opts.SilenceDuration,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether the controller is capturing or paused.
func (c *Controller) Active() bool {
	s := c.State()
	return s == StateCapturing || s == StatePaused
}

// HasPermission reports whether the microphone was opened successfully at
// least once and has not been denied since.
func (c *Controller) HasPermission() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.permission
}

// Err returns the most recent device error, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Level returns the most recent input level in [0, 100]. It is 0 while idle.
func (c *Controller) Level() int {
	return int(c.level.Load())
}

// SetSilence updates silence detection. It takes effect on the next
// recording.
func (c *Controller) SetSilence(threshold int, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.silenceThreshold = threshold
	c.silenceDuration = d
}

// Start begins capturing. Calling Start while capturing or paused does
// nothing. Device failures do not produce an error: the controller returns to
// Idle, records the failure in [Controller.Err] and reports it through
// OnError. A permission denial is remembered and later calls fail fast
// without asking the platform again.
//
// The only error Start returns is [ErrClosed].
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch c.state {
	case StateCapturing, StatePaused, StateRequestingPermission:
		c.mu.Unlock()
		return nil
	}
	if c.denied {
		err := c.err
		c.mu.Unlock()
		c.report(err)
		return nil
	}

	stream := c.stream
	if stream == nil || stream.Closed() || stream.SampleRate() != c.opts.SampleRate {
		if stream != nil {
			_ = stream.Close()
			c.stream = nil
		}
		c.setState(StateRequestingPermission)
		c.mu.Unlock()

		opened, err := c.dev.Open(ctx, audio.DeviceOptions{
			SampleRate:       c.opts.SampleRate,
			Channels:         c.opts.Channels,
			BlockSize:        c.opts.BlockSize,
			EchoCancellation: c.opts.EchoCancellation,
			NoiseSuppression: c.opts.NoiseSuppression,
			AutoGainControl:  c.opts.AutoGainControl,
		})

		c.mu.Lock()
		if c.state != StateRequestingPermission || c.closed {
			// Stop or Close ran while the device was opening.
			c.mu.Unlock()
			if opened != nil {
				_ = opened.Close()
			}
			return nil
		}
		if err != nil {
			c.setState(StateIdle)
			c.err = fmt.Errorf("capture: open device: %w", err)
			if errors.Is(err, audio.ErrPermissionDenied) {
				c.permission = false
				c.denied = true
			}
			err = c.err
			c.mu.Unlock()
			slog.Warn("capture: device open failed", "err", err)
			c.report(err)
			return nil
		}
		c.stream = opened
		c.permission = true
		stream = opened
	}

	r := c.newRun(stream.SampleRate())
	if err := stream.Start(r.onBlock); err != nil {
		c.setState(StateIdle)
		c.err = fmt.Errorf("capture: start stream: %w", err)
		err = c.err
		c.mu.Unlock()
		r.stop()
		c.report(err)
		return nil
	}
	c.run = r
	c.err = nil
	c.setState(StateCapturing)
	c.mu.Unlock()

	slog.Debug("capture: started", "sample_rate", stream.SampleRate(), "flush_interval", c.opts.FlushInterval)
	return nil
}

// newRun builds the processing graph and starts its goroutines. Caller must
// hold c.mu.
func (c *Controller) newRun(sampleRate int) *run {
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		cancel: cancel,
		blocks: make(chan []float32, blockQueue),
		agg:    audio.NewAggregator(),
		enc:    audio.NewEncoder(sampleRate, 1, c.opts.BlockSize),
	}
	silence := &audio.SilenceDetector{Threshold: c.silenceThreshold, Duration: c.silenceDuration}

	r.wg.Add(3)
	go func() {
		defer r.wg.Done()
		r.enc.Run(ctx, r.blocks, r.agg.Append)
	}()
	go func() {
		defer r.wg.Done()
		c.flushLoop(ctx, r)
	}()
	go func() {
		defer r.wg.Done()
		c.levelLoop(ctx, r, silence)
	}()
	return r
}

// onBlock is the device callback. It never blocks.
func (r *run) onBlock(block []float32) {
	cp := make([]float32, len(block))
	copy(cp, block)
	r.latest.Store(&cp)
	if r.paused.Load() {
		return
	}
	select {
	case r.blocks <- cp:
	default:
		slog.Debug("capture: encoder queue full, dropping block", "samples", len(cp))
	}
}

func (r *run) stop() {
	r.cancel()
	r.wg.Wait()
	r.agg.Reset()
}

func (c *Controller) flushLoop(ctx context.Context, r *run) {
	t := time.NewTicker(c.opts.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			chunk, ok := r.agg.Flush()
			if !ok || ctx.Err() != nil {
				continue
			}
			if c.opts.OnAudioChunk != nil {
				c.opts.OnAudioChunk(chunk)
			}
		}
	}
}

func (c *Controller) levelLoop(ctx context.Context, r *run, silence *audio.SilenceDetector) {
	t := time.NewTicker(c.opts.LevelInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if r.paused.Load() {
				continue
			}
			var lvl int
			if b := r.latest.Load(); b != nil {
				lvl = audio.Level(*b)
			}
			c.level.Store(int32(lvl))
			if c.opts.OnLevel != nil {
				c.opts.OnLevel(lvl)
			}
			if silence.Observe(lvl, c.opts.Now()) && c.opts.OnSilence != nil {
				c.opts.OnSilence()
			}
		}
	}
}

// Pause keeps the device open but discards incoming audio. It is a no-op
// unless capturing.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil || !c.setState(StatePaused) {
		return
	}
	c.run.paused.Store(true)
	c.level.Store(0)
}

// Resume restarts delivery after Pause. It is a no-op unless paused.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePaused || c.run == nil {
		return
	}
	c.run.paused.Store(false)
	c.setState(StateCapturing)
}

// Stop ends the current recording and discards audio not yet flushed. With
// force set the microphone is released as well. Stop reports whether it
// changed anything; stopping an idle controller whose device is already
// released returns false.
func (c *Controller) Stop(force bool) bool {
	c.mu.Lock()
	did := false
	var r *run
	switch c.state {
	case StateCapturing, StatePaused:
		r = c.run
		c.run = nil
		if c.stream != nil {
			_ = c.stream.Stop()
		}
		did = true
	case StateRequestingPermission:
		did = true
	}
	c.setState(StateIdle)

	var release audio.Stream
	if force && c.stream != nil {
		release = c.stream
		c.stream = nil
		if !release.Closed() {
			did = true
		}
	}
	c.mu.Unlock()

	if r != nil {
		r.stop()
	}
	if release != nil {
		if err := release.Close(); err != nil {
			slog.Warn("capture: close stream", "err", err)
		}
	}
	c.level.Store(0)
	if did {
		slog.Debug("capture: stopped", "force", force)
	}
	return did
}

// Close stops capturing, releases the microphone and makes further Start
// calls fail with [ErrClosed].
func (c *Controller) Close() error {
	c.Stop(true)
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *Controller) report(err error) {
	if err != nil && c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}
