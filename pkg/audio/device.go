// Package audio holds the audio primitives of the interview client: PCM16
// encoding, time-windowed frame aggregation, level metering, and the two
// hardware abstractions the pipeline is built on.
//
//   - [Device] opens a microphone and returns a [Stream] of float blocks.
//   - [Sink] plays encoded speech audio and returns a [Playback] handle.
//
// Implementations live in sub-packages (audio/portaudio, audio/speaker) and
// test doubles in audio/mock. The interfaces are intentionally narrow so the
// capture and playback controllers stay decoupled from the hardware layer.
package audio

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied is returned by [Device.Open] when the operating
	// system refuses microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceUnavailable is returned by [Device.Open] when no usable capture
	// hardware exists.
	ErrDeviceUnavailable = errors.New("audio: no capture device available")

	// ErrStreamClosed is returned by [Stream] methods after Close.
	ErrStreamClosed = errors.New("audio: stream closed")
)

// DeviceOptions configures a capture stream.
type DeviceOptions struct {
	// SampleRate requested from the hardware, in Hz.
	SampleRate int

	// Channels requested from the hardware. The capture path uses mono.
	Channels int

	// BlockSize is the preferred number of frames per callback. Devices may
	// deliver other sizes; consumers must not rely on it.
	BlockSize int

	// EchoCancellation, NoiseSuppression and AutoGainControl request the
	// platform's voice processing. Devices that cannot honour them log once
	// and continue.
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Device is a source of microphone streams. Opening a stream is the point at
// which the platform may ask the user for permission.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Open acquires the microphone. It returns an error wrapping
	// [ErrPermissionDenied] or [ErrDeviceUnavailable] when access fails.
	Open(ctx context.Context, opts DeviceOptions) (Stream, error)
}

// Stream is an open microphone. Blocks are delivered to the callback passed
// to Start on a device-owned goroutine; the callback must not block.
type Stream interface {
	// Start begins delivering blocks of mono float samples in [-1, 1] to
	// onBlock. Calling Start on a running stream replaces the callback.
	Start(onBlock func(block []float32)) error

	// Stop halts delivery without releasing the hardware. Safe to call on a
	// stopped stream.
	Stop() error

	// Close releases the hardware. Calling Close more than once is safe.
	Close() error

	// SampleRate reports the rate of delivered blocks.
	SampleRate() int

	// Closed reports whether Close has been called or the device went away.
	Closed() bool
}
