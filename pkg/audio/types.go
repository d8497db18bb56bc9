package audio

import (
	"encoding/binary"
	"time"
)

// Default capture format expected by the streaming transcription provider.
const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	DefaultBlockSize  = 1024
)

// Frame is one fixed-size block of signed 16-bit PCM produced by an [Encoder].
// A Frame is handed off exactly once and must not be mutated afterwards.
type Frame struct {
	// Samples holds interleaved int16 PCM samples.
	Samples []int16

	// SampleRate in Hz (16000 for the transcription path).
	SampleRate int

	// Channels: 1 for mono.
	Channels int

	// Timestamp marks the start of this frame relative to the start of capture.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	perChannel := len(f.Samples) / f.Channels
	return time.Duration(perChannel) * time.Second / time.Duration(f.SampleRate)
}

// Bytes returns the frame as little-endian PCM16 bytes.
func (f Frame) Bytes() []byte {
	return AppendPCM16(nil, f.Samples)
}

// AppendPCM16 appends samples to dst as little-endian int16 bytes.
func AppendPCM16(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

// SamplesFromPCM16 decodes little-endian int16 bytes. A trailing odd byte is
// ignored.
func SamplesFromPCM16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}
