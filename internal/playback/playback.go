// Package playback plays synthesized interviewer speech and reports its
// lifecycle so that microphone capture can be suspended while the speaker
// is active.
//
// Every OnPlay is followed by exactly one OnEnd, whether playback finished,
// was stopped, was superseded by another Play or failed to start.
package playback

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/mockview/internal/observe"
	"github.com/MrWong99/mockview/pkg/audio"
)

var (
	// ErrInvalidPayload is returned by Play for empty or malformed base64.
	ErrInvalidPayload = errors.New("playback: invalid audio payload")

	// ErrStartTimeout is returned by Play when output did not begin within
	// the start timeout.
	ErrStartTimeout = errors.New("playback: audio did not start in time")
)

// DefaultStartTimeout bounds how long Play waits for output to begin.
const DefaultStartTimeout = 5 * time.Second

// Options configures a [Controller].
type Options struct {
	// StartTimeout defaults to [DefaultStartTimeout].
	StartTimeout time.Duration

	// Volume is the initial volume in [0, 1].
	Volume float64

	// OnPlay fires after the payload is validated and before the sink is
	// asked to start output.
	OnPlay func()

	// OnEnd fires once per OnPlay when the playback is over. A clip that is
	// stopped or replaced gets its OnEnd before the next OnPlay, so the two
	// callbacks strictly alternate.
	OnEnd func()

	// OnError receives start failures. Play also returns them.
	OnError func(error)

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Controller plays one clip at a time through an [audio.Sink]. All methods
// are safe for concurrent use.
type Controller struct {
	sink    audio.Sink
	opts    Options
	metrics *observe.Metrics

	// lifecycle serialises detaching a clip with delivering its OnEnd and the
	// next OnPlay.
	lifecycle sync.Mutex

	mu     sync.Mutex
	cur    *clip
	paused bool
	volume float64
}

// clip is one Play call from OnPlay to OnEnd. pb stays nil while the sink is
// still starting.
type clip struct {
	pb    audio.Playback
	ended bool
}

// New returns an idle Controller writing to sink.
func New(sink audio.Sink, opts Options) *Controller {
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	m := opts.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Controller{
		sink:    sink,
		opts:    opts,
		metrics: m,
		volume:  clamp(opts.Volume),
	}
}

type startResult struct {
	pb  audio.Playback
	err error
}

// Play decodes base64Audio and plays it, replacing any current playback. It
// returns once output has begun, or with an error on invalid input, sink
// failure or timeout.
func (c *Controller) Play(ctx context.Context, base64Audio, format string) error {
	data, err := decodePayload(base64Audio)
	if err != nil {
		return err
	}

	cl := &clip{}
	c.lifecycle.Lock()
	c.mu.Lock()
	prev := c.cur
	c.cur = cl
	c.paused = false
	vol := c.volume
	c.mu.Unlock()
	c.release(prev)
	if c.opts.OnPlay != nil {
		c.opts.OnPlay()
	}
	c.lifecycle.Unlock()

	begin := time.Now()
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	resCh := make(chan startResult, 1)
	go func() {
		pb, err := c.sink.Start(sctx, data, format, vol)
		resCh <- startResult{pb: pb, err: err}
	}()

	timer := time.NewTimer(c.opts.StartTimeout)
	defer timer.Stop()

	var res startResult
	select {
	case res = <-resCh:
	case <-timer.C:
		res.err = ErrStartTimeout
		cancel()
		go discardLate(resCh)
	case <-ctx.Done():
		res.err = ctx.Err()
		go discardLate(resCh)
	}

	if res.err != nil {
		err := fmt.Errorf("playback: start %s: %w", format, res.err)
		slog.Warn("playback: start failed", "format", format, "err", res.err)
		if c.opts.OnError != nil {
			c.opts.OnError(err)
		}
		c.finish(cl)
		return err
	}

	c.mu.Lock()
	if c.cur != cl {
		// Stopped or replaced while starting; OnEnd was already delivered.
		c.mu.Unlock()
		res.pb.Stop()
		return nil
	}
	cl.pb = res.pb
	c.mu.Unlock()

	c.metrics.PlaybackStartLatency.Record(ctx, time.Since(begin).Seconds())
	slog.Debug("playback: started", "format", format, "bytes", len(data))

	go c.watch(cl)
	return nil
}

func decodePayload(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPayload)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPayload)
	}
	return data, nil
}

// discardLate stops a playback that started after Play gave up on it.
func discardLate(resCh <-chan startResult) {
	if res := <-resCh; res.pb != nil {
		res.pb.Stop()
	}
}

func (c *Controller) watch(cl *clip) {
	<-cl.pb.Done()
	c.finish(cl)
}

// finish ends cl if it is still current. A detached clip was already ended by
// whoever detached it.
func (c *Controller) finish(cl *clip) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.mu.Lock()
	if c.cur != cl {
		c.mu.Unlock()
		return
	}
	c.cur = nil
	c.paused = false
	c.mu.Unlock()
	c.end(cl)
}

// release stops a clip that was just detached and delivers its OnEnd. The
// caller holds c.lifecycle.
func (c *Controller) release(cl *clip) {
	if cl == nil {
		return
	}
	c.mu.Lock()
	pb := cl.pb
	c.mu.Unlock()
	if pb != nil {
		pb.Stop()
	}
	c.end(cl)
}

// end fires OnEnd once per clip. The caller holds c.lifecycle.
func (c *Controller) end(cl *clip) {
	if cl.ended {
		return
	}
	cl.ended = true
	if c.opts.OnEnd != nil {
		c.opts.OnEnd()
	}
}

// Pause suspends the current playback. No-op if nothing is playing.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil || c.cur.pb == nil || c.paused {
		return
	}
	c.cur.pb.Pause()
	c.paused = true
}

// Resume continues a paused playback. No-op otherwise.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil || c.cur.pb == nil || !c.paused {
		return
	}
	c.cur.pb.Resume()
	c.paused = false
}

// Stop ends the current playback and cancels one that is still starting.
// No-op if nothing is playing.
func (c *Controller) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.mu.Lock()
	cl := c.cur
	c.cur = nil
	c.paused = false
	c.mu.Unlock()
	c.release(cl)
}

// SetVolume clamps v to [0, 1] and applies it immediately.
func (c *Controller) SetVolume(v float64) {
	v = clamp(v)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = v
	if c.cur != nil && c.cur.pb != nil {
		c.cur.pb.SetVolume(v)
	}
}

// Volume returns the current volume.
func (c *Controller) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// Playing reports whether a clip is playing or paused.
func (c *Controller) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil && c.cur.pb != nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
