package otel

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/campusid/authcore"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestExporterRejectsNilInputs(t *testing.T) {
	provider := sdkmetric.NewMeterProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()

	if _, err := NewOTelExporterFromSource(nil, fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewOTelExporterFromSource(provider.Meter("t"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
}

func TestExporterObservesCountersAndHistogram(t *testing.T) {
	source := fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess: 7,
				authcore.MetricDenylistHit:  3,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricValidateLatency: {1, 2, 0, 0, 0, 0, 0, 1},
			},
		},
		dropped: 2,
	}

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	exporter, err := NewOTelExporterFromSource(provider.Meter("authcore-test"), source)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = exporter.Close() }()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}

	got := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, point := range data.DataPoints {
					got[m.Name] += point.Value
				}
			case metricdata.Gauge[int64]:
				for _, point := range data.DataPoints {
					got[m.Name] += point.Value
				}
			}
		}
	}

	if got["authcore_login_success_total"] != 7 {
		t.Fatalf("login success: got %d", got["authcore_login_success_total"])
	}
	if got["authcore_denylist_hit_total"] != 3 {
		t.Fatalf("denylist hit: got %d", got["authcore_denylist_hit_total"])
	}
	if got["authcore_audit_dropped_total"] != 2 {
		t.Fatalf("audit dropped: got %d", got["authcore_audit_dropped_total"])
	}
	// Buckets are cumulative: 1, 3, 3, ..., 4.
	if got["authcore_validate_latency_seconds_bucket_le_0_005"] != 1 {
		t.Fatalf("first bucket: got %d", got["authcore_validate_latency_seconds_bucket_le_0_005"])
	}
	if got["authcore_validate_latency_seconds_bucket_le_inf"] != 4 {
		t.Fatalf("inf bucket: got %d", got["authcore_validate_latency_seconds_bucket_le_inf"])
	}
	if got["authcore_validate_latency_seconds_count"] != 4 {
		t.Fatalf("count: got %d", got["authcore_validate_latency_seconds_count"])
	}
}
