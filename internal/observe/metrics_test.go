package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric"
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

// sumFor returns the value of the data point whose attribute key equals value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
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
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q: data point with %s=%s not found", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	t.Parallel()
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"aurarelay.formatter.duration", m.FormatterDuration},
		{"aurarelay.tts.duration", m.TTSDuration},
		{"aurarelay.http.request.duration", m.HTTPRequestDuration},
	}
	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		ObserveSince(ctx, tc.h, time.Now().Add(-time.Second))
	}

	rm := collect(t, reader)
	for _, tc := range histograms {
		met := findMetric(rm, tc.name)
		if met == nil {
			t.Fatalf("metric %q not found", tc.name)
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok {
			t.Fatalf("metric %q is not a histogram", tc.name)
		}
		if len(hist.DataPoints) == 0 {
			t.Fatalf("metric %q has no data points", tc.name)
		}
		if got := hist.DataPoints[0].Count; got != 2 {
			t.Errorf("%s: sample count = %d, want 2", tc.name, got)
		}
	}
}

func TestOutcomeCounters(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordIngestEvent(ctx, OutcomeOK)
	m.RecordIngestEvent(ctx, OutcomeOK)
	m.RecordIngestEvent(ctx, OutcomeDecodeError)
	m.RecordRemoteClassification(ctx, OutcomeRateLimited)
	m.RecordTransition(ctx, "listening")
	m.RecordTransition(ctx, "listening")
	m.RecordTransition(ctx, "idle")
	m.RecordBroadcast(ctx, "query")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "aurarelay.ingest.events", "outcome", OutcomeOK); got != 2 {
		t.Errorf("ingest ok = %d, want 2", got)
	}
	if got := sumFor(t, rm, "aurarelay.ingest.events", "outcome", OutcomeDecodeError); got != 1 {
		t.Errorf("ingest decode_error = %d, want 1", got)
	}
	if got := sumFor(t, rm, "aurarelay.classifier.remote_calls", "outcome", OutcomeRateLimited); got != 1 {
		t.Errorf("remote rate_limited = %d, want 1", got)
	}
	if got := sumFor(t, rm, "aurarelay.session.transitions", "phase", "listening"); got != 2 {
		t.Errorf("transitions to listening = %d, want 2", got)
	}
	if got := sumFor(t, rm, "aurarelay.relay.broadcasts", "type", "query"); got != 1 {
		t.Errorf("query broadcasts = %d, want 1", got)
	}
}

func TestRelayClientsGauge(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// UpDownCounters are additive: two joins and one leave.
	m.RelayClients.Add(ctx, 1)
	m.RelayClients.Add(ctx, 1)
	m.RelayClients.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "aurarelay.relay.clients")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("clients gauge = %v, want 1", sum.DataPoints)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	t.Parallel()
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
