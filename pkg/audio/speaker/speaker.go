// Package speaker provides an [audio.Sink] that decodes synthesized speech
// (MP3 or WAV) with beep and plays it through the default output device.
package speaker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/speaker"
	"github.com/gopxl/beep/wav"

	"github.com/MrWong99/mockview/pkg/audio"
)

const (
	defaultOutputRate = beep.SampleRate(44100)
	resampleQuality   = 4
)

// Sink plays audio through the beep speaker. The speaker is initialised
// lazily on the first Start call and shared by every playback.
type Sink struct {
	rate beep.SampleRate

	initOnce sync.Once
	initErr  error
}

// New returns a Sink that mixes at the default output rate.
func New() *Sink {
	return &Sink{rate: defaultOutputRate}
}

func (s *Sink) init() error {
	s.initOnce.Do(func() {
		s.initErr = speaker.Init(s.rate, s.rate.N(time.Second/10))
	})
	return s.initErr
}

// decode selects a decoder from the format name the backend sends alongside
// the payload.
func decode(payload []byte, format string) (beep.StreamSeekCloser, beep.Format, error) {
	switch strings.ToLower(strings.TrimPrefix(format, "audio/")) {
	case "mp3", "mpeg":
		return mp3.Decode(io.NopCloser(bytes.NewReader(payload)))
	case "wav", "wave", "x-wav":
		return wav.Decode(bytes.NewReader(payload))
	default:
		return nil, beep.Format{}, fmt.Errorf("speaker: %w: %q", audio.ErrUnsupportedFormat, format)
	}
}

// Start implements [audio.Sink].
func (s *Sink) Start(ctx context.Context, payload []byte, format string, volume float64) (audio.Playback, error) {
	if err := s.init(); err != nil {
		return nil, fmt.Errorf("speaker: init: %w", err)
	}
	dec, f, err := decode(payload, format)
	if err != nil {
		return nil, fmt.Errorf("speaker: decode: %w", err)
	}

	var src beep.Streamer = dec
	if f.SampleRate != s.rate {
		src = beep.Resample(resampleQuality, f.SampleRate, s.rate, dec)
	}

	p := &playback{
		dec:     dec,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
	p.ctrl = &beep.Ctrl{Streamer: src}
	p.vol = &effects.Volume{Streamer: p.ctrl, Base: 2}
	applyVolume(p.vol, volume)

	speaker.Play(beep.Seq(
		&startMarker{Streamer: p.vol, started: p.started},
		beep.Callback(p.finish),
	))

	select {
	case <-p.started:
		return p, nil
	case <-p.done:
		return nil, fmt.Errorf("speaker: playback ended before output started")
	case <-ctx.Done():
		p.Stop()
		return nil, ctx.Err()
	}
}

var _ audio.Sink = (*Sink)(nil)

// applyVolume maps a linear 0–1 volume onto beep's logarithmic scale. Must be
// called with the speaker locked once playback is running.
func applyVolume(v *effects.Volume, volume float64) {
	volume = max(0, min(1, volume))
	if volume == 0 {
		v.Silent = true
		return
	}
	v.Silent = false
	v.Volume = math.Log2(volume)
}

// startMarker closes started the first time the speaker pulls samples, which
// is when output really begins.
type startMarker struct {
	beep.Streamer
	started chan struct{}
	once    sync.Once
}

func (m *startMarker) Stream(samples [][2]float64) (int, bool) {
	m.once.Do(func() { close(m.started) })
	return m.Streamer.Stream(samples)
}

type playback struct {
	dec  beep.StreamSeekCloser
	ctrl *beep.Ctrl
	vol  *effects.Volume

	started  chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func (p *playback) finish() {
	p.doneOnce.Do(func() {
		_ = p.dec.Close()
		close(p.done)
	})
}

func (p *playback) Pause() {
	speaker.Lock()
	p.ctrl.Paused = true
	speaker.Unlock()
}

func (p *playback) Resume() {
	speaker.Lock()
	p.ctrl.Paused = false
	speaker.Unlock()
}

// Stop detaches the decoder so the sequence advances to the completion
// callback on the next speaker pull.
func (p *playback) Stop() {
	speaker.Lock()
	p.ctrl.Streamer = nil
	p.ctrl.Paused = false
	speaker.Unlock()
	p.finish()
}

func (p *playback) SetVolume(v float64) {
	speaker.Lock()
	applyVolume(p.vol, v)
	speaker.Unlock()
}

func (p *playback) Done() <-chan struct{} { return p.done }
