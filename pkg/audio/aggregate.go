package audio

import (
	"encoding/base64"
	"sync"
	"time"
)

// DefaultFlushInterval is the aggregation window. Streaming transcription
// sessions tolerate gaps of roughly 50ms; 40ms keeps a margin below that.
const DefaultFlushInterval = 40 * time.Millisecond

// Chunk is the concatenation of every [Frame] appended within one flush
// window, ready for network delivery.
type Chunk struct {
	// Data is the raw little-endian PCM16 payload.
	Data []byte

	// Encoded is Data in standard base64, as carried by JSON transports.
	Encoded string

	SampleRate int
	Channels   int

	// Frames is the number of encoder frames merged into this chunk.
	Frames int
}

// Duration returns the audio length carried by the chunk.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	samples := len(c.Data) / 2 / c.Channels
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// Aggregator collects frames between flushes. Append and Flush are safe to
// call from different goroutines; frames are flushed in append order.
type Aggregator struct {
	mu         sync.Mutex
	buf        []byte
	frames     int
	sampleRate int
	channels   int
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Append adds f to the current window.
func (a *Aggregator) Append(f Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = AppendPCM16(a.buf, f.Samples)
	a.frames++
	a.sampleRate = f.SampleRate
	a.channels = f.Channels
}

// Flush returns everything appended since the previous flush and clears the
// window. ok is false when the window is empty; callers must not send
// anything in that case.
func (a *Aggregator) Flush() (c Chunk, ok bool) {
	a.mu.Lock()
	if a.frames == 0 {
		a.mu.Unlock()
		return Chunk{}, false
	}
	data := a.buf
	c = Chunk{
		Data:       data,
		SampleRate: a.sampleRate,
		Channels:   a.channels,
		Frames:     a.frames,
	}
	a.buf = nil
	a.frames = 0
	a.mu.Unlock()

	c.Encoded = base64.StdEncoding.EncodeToString(data)
	return c, true
}

// Pending returns the number of frames waiting for the next flush.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames
}

// Reset discards the current window.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.buf = nil
	a.frames = 0
	a.mu.Unlock()
}
