// Package portaudio provides an [audio.Device] backed by PortAudio, for
// capturing the default microphone on desktop platforms.
//
// PortAudio exposes no voice-processing switches; echo cancellation, noise
// suppression and gain control are left to the operating system's input
// pipeline. Requests for them are logged once per device.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/mockview/pkg/audio"
)

// PortAudio must be initialised once per process and terminated as many
// times as it was initialised.
var (
	initMu   sync.Mutex
	initRefs int
)

func acquire() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return err
		}
	}
	initRefs++
	return nil
}

func release() {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		return
	}
	initRefs--
	if initRefs == 0 {
		_ = portaudio.Terminate()
	}
}

// Device opens the system default input device.
type Device struct {
	warnOnce sync.Once
}

// New returns a PortAudio-backed capture device.
func New() *Device {
	return &Device{}
}

// Open implements [audio.Device]. If the hardware rejects opts.SampleRate the
// stream is opened at the device's native rate and blocks are resampled
// before delivery.
func (d *Device) Open(ctx context.Context, opts audio.DeviceOptions) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = audio.DefaultSampleRate
	}
	if opts.Channels <= 0 {
		opts.Channels = audio.DefaultChannels
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = audio.DefaultBlockSize
	}
	if opts.EchoCancellation || opts.NoiseSuppression || opts.AutoGainControl {
		d.warnOnce.Do(func() {
			slog.Debug("portaudio: voice processing is delegated to the OS input pipeline",
				"echo_cancellation", opts.EchoCancellation,
				"noise_suppression", opts.NoiseSuppression,
				"auto_gain", opts.AutoGainControl,
			)
		})
	}

	if err := acquire(); err != nil {
		return nil, fmt.Errorf("portaudio: initialise: %w: %v", audio.ErrDeviceUnavailable, err)
	}

	info, err := portaudio.DefaultInputDevice()
	if err != nil || info == nil || info.MaxInputChannels < 1 {
		release()
		return nil, fmt.Errorf("portaudio: default input: %w", audio.ErrDeviceUnavailable)
	}

	s := &stream{
		target: audio.Format{SampleRate: opts.SampleRate, Channels: 1},
	}

	channels := min(opts.Channels, info.MaxInputChannels)
	pa, err := portaudio.OpenDefaultStream(channels, 0, float64(opts.SampleRate), opts.BlockSize, s.callback)
	if errors.Is(err, portaudio.InvalidSampleRate) {
		native := int(info.DefaultSampleRate)
		slog.Info("portaudio: requested sample rate unsupported, resampling",
			"requested", opts.SampleRate,
			"native", native,
		)
		blockSize := opts.BlockSize * native / opts.SampleRate
		pa, err = portaudio.OpenDefaultStream(channels, 0, float64(native), blockSize, s.callback)
		s.conv = &audio.FormatConverter{
			Source: audio.Format{SampleRate: native, Channels: channels},
			Target: s.target,
		}
	} else if err == nil && channels > 1 {
		s.conv = &audio.FormatConverter{
			Source: audio.Format{SampleRate: opts.SampleRate, Channels: channels},
			Target: s.target,
		}
	}
	if err != nil {
		release()
		if errors.Is(err, portaudio.DeviceUnavailable) {
			return nil, fmt.Errorf("portaudio: open stream: %w", audio.ErrDeviceUnavailable)
		}
		return nil, fmt.Errorf("portaudio: open stream: %w", err)
	}
	s.pa = pa
	return s, nil
}

var _ audio.Device = (*Device)(nil)

// stream implements [audio.Stream] over a PortAudio input stream.
type stream struct {
	pa     *portaudio.Stream
	target audio.Format
	conv   *audio.FormatConverter

	onBlock atomic.Pointer[func([]float32)]

	mu      sync.Mutex
	running bool
	closed  bool
}

// callback runs on the PortAudio thread. The input buffer is reused by
// PortAudio, so it is copied before being handed off.
func (s *stream) callback(in []float32) {
	fn := s.onBlock.Load()
	if fn == nil {
		return
	}
	block := make([]float32, len(in))
	copy(block, in)
	if s.conv != nil {
		block = s.conv.Convert(block)
	}
	(*fn)(block)
}

func (s *stream) Start(onBlock func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrStreamClosed
	}
	s.onBlock.Store(&onBlock)
	if s.running {
		return nil
	}
	if err := s.pa.Start(); err != nil {
		s.onBlock.Store(nil)
		return fmt.Errorf("portaudio: start: %w", err)
	}
	s.running = true
	return nil
}

func (s *stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onBlock.Store(nil)
	if !s.running || s.closed {
		return nil
	}
	s.running = false
	if err := s.pa.Stop(); err != nil {
		return fmt.Errorf("portaudio: stop: %w", err)
	}
	return nil
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.onBlock.Store(nil)
	s.closed = true
	var errs []error
	if s.running {
		s.running = false
		errs = append(errs, s.pa.Stop())
	}
	errs = append(errs, s.pa.Close())
	release()
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("portaudio: close: %w", err)
	}
	return nil
}

func (s *stream) SampleRate() int { return s.target.SampleRate }

func (s *stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
