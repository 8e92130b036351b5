// Package observe provides application-wide observability primitives for the
// relay: OpenTelemetry metrics and HTTP middleware that records and logs
// requests.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all relay metrics.
const meterName = "github.com/MrWong99/aurarelay"

// Outcome values shared by the counters below.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeDropped     = "dropped"
	OutcomeDecodeError = "decode_error"
	OutcomeRateLimited = "rate_limited"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Relay server ---

	// RelayClients tracks the number of connected downstream consumers.
	RelayClients metric.Int64UpDownCounter

	// RelayBroadcasts counts broadcast messages. Use with attribute:
	//   attribute.String("type", ...)
	RelayBroadcasts metric.Int64Counter

	// --- Ingestion ---

	// IngestEvents counts inbound messages. Use with attribute:
	//   attribute.String("outcome", ...)
	IngestEvents metric.Int64Counter

	// IngestReconnects counts scheduled reconnection attempts.
	IngestReconnects metric.Int64Counter

	// --- Classification and session ---

	// ClassifierRemoteCalls counts remote classification attempts. Use with
	// attribute: attribute.String("outcome", ...)
	ClassifierRemoteCalls metric.Int64Counter

	// SessionTransitions counts phase changes. Use with attribute:
	//   attribute.String("phase", ...)
	SessionTransitions metric.Int64Counter

	// --- Spoken replies ---

	// FormatterDuration tracks the latency of the text formatting call.
	FormatterDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// PublisherFrames counts audio frames handed to the room transport.
	PublisherFrames metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for remote model and synthesis latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.RelayClients, err = m.Int64UpDownCounter("aurarelay.relay.clients",
		metric.WithDescription("Number of connected relay consumers."),
	); err != nil {
		return nil, err
	}
	if met.RelayBroadcasts, err = m.Int64Counter("aurarelay.relay.broadcasts",
		metric.WithDescription("Total relay broadcasts by message type."),
	); err != nil {
		return nil, err
	}
	if met.IngestEvents, err = m.Int64Counter("aurarelay.ingest.events",
		metric.WithDescription("Total inbound ingestion messages by outcome."),
	); err != nil {
		return nil, err
	}
	if met.IngestReconnects, err = m.Int64Counter("aurarelay.ingest.reconnects",
		metric.WithDescription("Total ingestion reconnection attempts."),
	); err != nil {
		return nil, err
	}
	if met.ClassifierRemoteCalls, err = m.Int64Counter("aurarelay.classifier.remote_calls",
		metric.WithDescription("Total remote classification attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SessionTransitions, err = m.Int64Counter("aurarelay.session.transitions",
		metric.WithDescription("Total session phase transitions by target phase."),
	); err != nil {
		return nil, err
	}
	if met.FormatterDuration, err = m.Float64Histogram("aurarelay.formatter.duration",
		metric.WithDescription("Latency of spoken-text formatting."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("aurarelay.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PublisherFrames, err = m.Int64Counter("aurarelay.publisher.frames",
		metric.WithDescription("Total audio frames captured into the room."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("aurarelay.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// RecordIngestEvent increments the ingestion counter for outcome.
func (m *Metrics) RecordIngestEvent(ctx context.Context, outcome string) {
	m.IngestEvents.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordRemoteClassification increments the remote classifier counter.
func (m *Metrics) RecordRemoteClassification(ctx context.Context, outcome string) {
	m.ClassifierRemoteCalls.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordTransition increments the session transition counter for the phase
// that was entered.
func (m *Metrics) RecordTransition(ctx context.Context, phase string) {
	m.SessionTransitions.Add(ctx, 1, metric.WithAttributes(Attr("phase", phase)))
}

// RecordBroadcast increments the broadcast counter for a relay message type.
func (m *Metrics) RecordBroadcast(ctx context.Context, msgType string) {
	m.RelayBroadcasts.Add(ctx, 1, metric.WithAttributes(Attr("type", msgType)))
}

// ObserveSince records the seconds elapsed since start on h.
func ObserveSince(ctx context.Context, h metric.Float64Histogram, start time.Time, attrs ...attribute.KeyValue) {
	h.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
}
