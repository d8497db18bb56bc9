package audio

import (
	"context"
	"errors"
)

// ErrUnsupportedFormat is returned by [Sink.Start] for payload formats the
// sink cannot decode.
var ErrUnsupportedFormat = errors.New("audio: unsupported playback format")

// Sink plays encoded speech audio through the local output device.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Start decodes payload (e.g. "mp3", "wav") and begins playback at the
	// given volume in [0, 1]. It returns only once output has actually
	// started, or with an error if decoding or device setup fails. ctx bounds
	// the start-up phase only; the playback continues after Start returns.
	Start(ctx context.Context, payload []byte, format string, volume float64) (Playback, error)
}

// Playback is a handle to audio currently playing through a [Sink]. All
// methods are idempotent.
type Playback interface {
	// Pause suspends output; Resume continues it.
	Pause()
	Resume()

	// Stop ends playback early and closes Done.
	Stop()

	// SetVolume applies a new volume in [0, 1] immediately.
	SetVolume(v float64)

	// Done is closed when playback has finished or been stopped.
	Done() <-chan struct{}
}
