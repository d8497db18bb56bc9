package audio

import (
	"context"
	"math"
	"time"
)

// FloatToPCM16 converts one floating-point sample in [-1, 1] to int16. Values
// outside the range are clamped; NaN maps to zero. Negative values are scaled
// by 32768 and non-negative values by 32767 so both extremes are reachable.
func FloatToPCM16(s float32) int16 {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}

// PCM16ToFloat is the inverse of [FloatToPCM16].
func PCM16ToFloat(s int16) float32 {
	if s < 0 {
		return float32(float64(s) / 32768)
	}
	return float32(float64(s) / 32767)
}

// Encoder turns blocks of float samples into fixed-size PCM16 [Frame] values.
//
// Incoming blocks may be any length; scaled samples accumulate in an internal
// buffer and a Frame is emitted every time the buffer reaches the block size.
// An Encoder is owned by a single goroutine.
type Encoder struct {
	sampleRate int
	channels   int
	blockSize  int

	buf     []int16
	n       int
	emitted int64
}

// NewEncoder returns an Encoder emitting frames of blockSize samples. Zero
// values fall back to the package defaults.
func NewEncoder(sampleRate, channels, blockSize int) *Encoder {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		channels = DefaultChannels
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Encoder{
		sampleRate: sampleRate,
		channels:   channels,
		blockSize:  blockSize,
		buf:        make([]int16, blockSize),
	}
}

// BlockSize returns the number of samples per emitted frame.
func (e *Encoder) BlockSize() int { return e.blockSize }

// Buffered returns how many samples are waiting for the current block to fill.
func (e *Encoder) Buffered() int { return e.n }

// Write encodes block and calls emit for each completed frame. An empty or
// nil block is skipped.
func (e *Encoder) Write(block []float32, emit func(Frame)) {
	for _, s := range block {
		e.buf[e.n] = FloatToPCM16(s)
		e.n++
		if e.n < e.blockSize {
			continue
		}
		samples := make([]int16, e.blockSize)
		copy(samples, e.buf)
		ts := time.Duration(e.emitted/int64(e.channels)) * time.Second / time.Duration(e.sampleRate)
		e.emitted += int64(e.blockSize)
		e.n = 0
		emit(Frame{
			Samples:    samples,
			SampleRate: e.sampleRate,
			Channels:   e.channels,
			Timestamp:  ts,
		})
	}
}

// Reset drops any partially filled block and restarts timestamps at zero.
func (e *Encoder) Reset() {
	e.n = 0
	e.emitted = 0
}

// Run encodes blocks from in until in is closed or ctx is cancelled. It is
// meant to run on its own goroutine so that a slow consumer of emit can never
// stall the device callback feeding in.
func (e *Encoder) Run(ctx context.Context, in <-chan []float32, emit func(Frame)) {
	for {
		select {
		case <-ctx.Done():
			return
		case block, ok := <-in:
			if !ok {
				return
			}
			e.Write(block, emit)
		}
	}
}
