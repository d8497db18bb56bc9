// Package observe provides application-wide observability primitives for
// mockview: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the admin /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all mockview metrics.
const meterName = "github.com/MrWong99/mockview"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Audio pipeline ---

	// AudioChunks counts aggregated chunks handed to a destination. Use with
	// attribute.String("dest", "stt"|"backend").
	AudioChunks metric.Int64Counter

	// AudioChunksDropped counts chunks shed instead of sent. Use with
	// attribute.String("reason", "backpressure"|"not_open").
	AudioChunksDropped metric.Int64Counter

	// TranscriptSegments counts transcript events. Use with
	// attribute.Bool("final", ...).
	TranscriptSegments metric.Int64Counter

	// PlaybackStartLatency tracks the time from Play until output begins.
	PlaybackStartLatency metric.Float64Histogram

	// ActiveRecordings tracks recordings in progress.
	ActiveRecordings metric.Int64UpDownCounter

	// --- Interview socket ---

	// SocketMessages counts socket messages. Use with attributes:
	//   attribute.String("direction", "in"|"out"), attribute.String("type", ...)
	SocketMessages metric.Int64Counter

	// ReconnectAttempts counts scheduled reconnects.
	ReconnectAttempts metric.Int64Counter

	// --- REST ---

	// APIRequestDuration tracks backend REST latency. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	APIRequestDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin HTTP request processing time. Use with
	// attributes: attribute.String("route", ...), attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// playback and REST latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.AudioChunks, err = m.Int64Counter("mockview.audio.chunks",
		metric.WithDescription("Aggregated audio chunks delivered, by destination."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksDropped, err = m.Int64Counter("mockview.audio.chunks_dropped",
		metric.WithDescription("Audio chunks shed instead of sent, by reason."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptSegments, err = m.Int64Counter("mockview.transcript.segments",
		metric.WithDescription("Transcript events received, by finality."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackStartLatency, err = m.Float64Histogram("mockview.playback.start_latency",
		metric.WithDescription("Time from play request until speech output begins."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("mockview.active_recordings",
		metric.WithDescription("Number of recordings in progress."),
	); err != nil {
		return nil, err
	}

	if met.SocketMessages, err = m.Int64Counter("mockview.socket.messages",
		metric.WithDescription("Interview socket messages by direction and type."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("mockview.socket.reconnect_attempts",
		metric.WithDescription("Reconnect attempts scheduled after unexpected closures."),
	); err != nil {
		return nil, err
	}

	if met.APIRequestDuration, err = m.Float64Histogram("mockview.api.request.duration",
		metric.WithDescription("Backend REST latency by operation and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("mockview.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordChunk records one delivered audio chunk.
func (m *Metrics) RecordChunk(ctx context.Context, dest string) {
	m.AudioChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("dest", dest)))
}

// RecordChunkDropped records one shed audio chunk.
func (m *Metrics) RecordChunkDropped(ctx context.Context, reason string) {
	m.AudioChunksDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTranscript records one transcript event.
func (m *Metrics) RecordTranscript(ctx context.Context, final bool) {
	m.TranscriptSegments.Add(ctx, 1, metric.WithAttributes(attribute.Bool("final", final)))
}

// RecordSocketMessage records one interview socket message.
func (m *Metrics) RecordSocketMessage(ctx context.Context, direction, msgType string) {
	m.SocketMessages.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("direction", direction),
			attribute.String("type", msgType),
		),
	)
}

// RecordAPIRequest records the latency of one backend REST call. A status of
// zero means the request never produced a response.
func (m *Metrics) RecordAPIRequest(ctx context.Context, op string, status int, seconds float64) {
	s := "error"
	if status > 0 {
		s = strconv.Itoa(status)
	}
	m.APIRequestDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", s),
		),
	)
}
