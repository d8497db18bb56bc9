package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the int64 sum data point carrying kv.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name string, kv attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(kv.Key); ok && v == kv.Value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, kv.Key, kv.Value.Emit())
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestAudioCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordChunk(ctx, "stt")
	m.RecordChunk(ctx, "stt")
	m.RecordChunk(ctx, "backend")
	m.RecordChunkDropped(ctx, "backpressure")
	m.RecordTranscript(ctx, true)
	m.RecordTranscript(ctx, false)
	m.RecordTranscript(ctx, false)

	rm := collect(t, reader)

	if got := sumWhere(t, rm, "mockview.audio.chunks", attribute.String("dest", "stt")); got != 2 {
		t.Errorf("stt chunks = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "mockview.audio.chunks", attribute.String("dest", "backend")); got != 1 {
		t.Errorf("backend chunks = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "mockview.audio.chunks_dropped", attribute.String("reason", "backpressure")); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "mockview.transcript.segments", attribute.Bool("final", false)); got != 2 {
		t.Errorf("interim segments = %d, want 2", got)
	}
}

func TestSocketMessagesCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSocketMessage(ctx, "in", "question")
	m.RecordSocketMessage(ctx, "out", "ping")
	m.RecordSocketMessage(ctx, "out", "ping")
	m.ReconnectAttempts.Add(ctx, 3)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "mockview.socket.messages", attribute.String("type", "ping")); got != 2 {
		t.Errorf("ping messages = %d, want 2", got)
	}
	met := findMetric(rm, "mockview.socket.reconnect_attempts")
	if met == nil {
		t.Fatal("reconnect metric not found")
	}
	if got := met.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 3 {
		t.Errorf("reconnect attempts = %d, want 3", got)
	}
}

func TestActiveRecordingsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// UpDownCounters are additive.
	m.ActiveRecordings.Add(ctx, 1)
	m.ActiveRecordings.Add(ctx, 1)
	m.ActiveRecordings.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "mockview.active_recordings")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("active recordings = %d, want 1", got)
	}
}

func TestHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.PlaybackStartLatency.Record(ctx, 0.12)
	m.RecordAPIRequest(ctx, "start_interview", 201, 0.3)
	m.RecordAPIRequest(ctx, "start_interview", 0, 1.2)

	rm := collect(t, reader)

	tests := []struct {
		name string
		want uint64
	}{
		{"mockview.playback.start_latency", 1},
		{"mockview.api.request.duration", 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			var total uint64
			for _, dp := range hist.DataPoints {
				total += dp.Count
			}
			if total != tc.want {
				t.Errorf("sample count = %d, want %d", total, tc.want)
			}
		})
	}
}

func TestRecordAPIRequest_StatusAttribute(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordAPIRequest(context.Background(), "report", 0, 0.5)

	rm := collect(t, reader)
	hist := findMetric(rm, "mockview.api.request.duration").Data.(metricdata.Histogram[float64])
	v, ok := hist.DataPoints[0].Attributes.Value("status")
	if !ok || v.AsString() != "error" {
		t.Errorf("status attribute = %v, want error", v.Emit())
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
