package audio_test

import (
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/mockview/pkg/audio"
)

func frameOf(samples ...int16) audio.Frame {
	return audio.Frame{Samples: samples, SampleRate: 16000, Channels: 1}
}

func TestAggregator_EmptyWindowProducesNothing(t *testing.T) {
	a := audio.NewAggregator()
	if _, ok := a.Flush(); ok {
		t.Fatal("Flush on empty window reported a chunk")
	}
	a.Append(frameOf(1))
	if _, ok := a.Flush(); !ok {
		t.Fatal("expected chunk after append")
	}
	if _, ok := a.Flush(); ok {
		t.Fatal("second Flush without new frames reported a chunk")
	}
}

func TestAggregator_PreservesOrderAndEncodes(t *testing.T) {
	a := audio.NewAggregator()
	a.Append(frameOf(1, 2))
	a.Append(frameOf(3))
	a.Append(frameOf(-4))

	c, ok := a.Flush()
	if !ok {
		t.Fatal("expected a chunk")
	}
	if c.Frames != 3 {
		t.Errorf("Frames = %d, want 3", c.Frames)
	}
	got := audio.SamplesFromPCM16(c.Data)
	want := []int16{1, 2, 3, -4}
	if len(got) != len(want) {
		t.Fatalf("samples = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
	raw, err := base64.StdEncoding.DecodeString(c.Encoded)
	if err != nil {
		t.Fatalf("Encoded is not base64: %v", err)
	}
	if string(raw) != string(c.Data) {
		t.Error("Encoded does not match Data")
	}
	if c.SampleRate != 16000 || c.Channels != 1 {
		t.Errorf("format = %d/%d", c.SampleRate, c.Channels)
	}
	if a.Pending() != 0 {
		t.Errorf("Pending after flush = %d", a.Pending())
	}
}

// TestAggregator_PacedWindows simulates 45ms of continuous 16kHz mono audio
// arriving in 10ms render blocks against a 40ms flush tick.
func TestAggregator_PacedWindows(t *testing.T) {
	const (
		rate      = 16000
		blockMs   = 10
		perBlock  = rate * blockMs / 1000
		totalMs   = 45
		window    = 40 * time.Millisecond
		audioTail = totalMs % blockMs
	)
	enc := audio.NewEncoder(rate, 1, perBlock)
	agg := audio.NewAggregator()

	var chunks []audio.Chunk
	tick := func() {
		if c, ok := agg.Flush(); ok {
			chunks = append(chunks, c)
		}
	}

	nextTick := window
	for ms := 0; ms < totalMs; {
		step := min(blockMs, totalMs-ms)
		enc.Write(make([]float32, rate*step/1000), agg.Append)
		ms += step
		if time.Duration(ms)*time.Millisecond >= nextTick {
			tick()
			nextTick += window
		}
	}
	// The second window only holds a partial encoder block.
	tick()

	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want exactly 1", len(chunks))
	}
	if chunks[0].Frames != 4 {
		t.Errorf("first window carried %d frames, want 4", chunks[0].Frames)
	}
	if got := chunks[0].Duration(); got != window {
		t.Errorf("chunk duration = %v, want %v", got, window)
	}
	if enc.Buffered() != rate*audioTail/1000 {
		t.Errorf("encoder holds %d samples, want %d", enc.Buffered(), rate*audioTail/1000)
	}
}

func TestAggregator_ConcurrentAppendFlush(t *testing.T) {
	a := audio.NewAggregator()
	var wg sync.WaitGroup
	const n = 500

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range n {
			a.Append(frameOf(int16(i)))
		}
	}()

	total := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		if c, ok := a.Flush(); ok {
			total += c.Frames
		}
		select {
		case <-done:
			if c, ok := a.Flush(); ok {
				total += c.Frames
			}
			if total != n {
				t.Fatalf("flushed %d frames, want %d", total, n)
			}
			return
		default:
		}
	}
}
