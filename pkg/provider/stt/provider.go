// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram) and
// exposes a uniform streaming interface. The central abstraction is
// SessionHandle: once opened, a session accepts raw PCM16 audio frames and
// emits two streams of Transcript values: low-latency partials for live
// typing feedback and authoritative finals that make up the answer.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after the session has ended.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and recognition settings for a new
// STT session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The interview client always
	// streams 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string uses the provider default.
	Language string

	// InterimResults requests partial transcripts in addition to finals.
	InterimResults bool

	// Credential authenticates the session. Short-lived tokens issued by the
	// interview backend and long-lived user keys are both accepted.
	Credential Credential
}

// SessionHandle represents an open STT streaming session. It is an interface so
// that test code can provide mock implementations without requiring a live provider
// connection.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of little-endian PCM16 audio to the provider.
	// Calling SendAudio after Close returns ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel of interim Transcript values. These
	// are suitable for live UI feedback only and must never be persisted.
	// The channel is closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel of settled Transcript values.
	// The channel is closed when the session ends.
	Finals() <-chan Transcript

	// Err returns the error that ended the session, or nil after a clean
	// Close. It is meaningful once Finals has been closed.
	Err() error

	// Close terminates the session, flushes pending audio and releases all
	// resources. After Close returns, Partials and Finals are closed. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately.
	//
	// Returns an error if the session cannot be established (authentication
	// failure, unsupported configuration, or ctx already cancelled).
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
