package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveTickCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewStationCollector(reg)
	if err != nil {
		t.Fatalf("NewStationCollector: %v", err)
	}

	collector.ObserveTick(TickObservation{OnCourse: true, ErrorMagnitude: 0.01, Duration: time.Millisecond})
	collector.ObserveTick(TickObservation{OnCourse: false, ErrorMagnitude: 0.4, CorrectionMagnitude: 0.2, Duration: time.Millisecond, Overrun: true})

	if got := testutil.ToFloat64(collector.Ticks.WithLabelValues("on_course")); got != 1 {
		t.Fatalf("station_ticks_total{on_course} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Ticks.WithLabelValues("corrected")); got != 1 {
		t.Fatalf("station_ticks_total{corrected} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Corrections); got != 1 {
		t.Fatalf("station_corrections_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.ErrorMagnitude); got != 0.4 {
		t.Fatalf("station_error_magnitude_km = %v, want 0.4", got)
	}
	if got := testutil.ToFloat64(collector.TickOverruns); got != 1 {
		t.Fatalf("station_tick_overruns_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "station_correction_magnitude_km", nil); count != 1 {
		t.Fatalf("station_correction_magnitude_km sample_count = %d, want 1", count)
	}
	if count := histogramSampleCount(t, reg, "station_tick_duration_seconds", nil); count != 2 {
		t.Fatalf("station_tick_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestSetLoopStateIsOneHot(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewStationCollector(reg)
	if err != nil {
		t.Fatalf("NewStationCollector: %v", err)
	}

	collector.SetLoopState("paused", true)

	for _, p := range LoopPhases {
		want := 0.0
		if p == "paused" {
			want = 1
		}
		if got := testutil.ToFloat64(collector.LoopPhase.WithLabelValues(p)); got != want {
			t.Fatalf("station_loop_phase{%s} = %v, want %v", p, got, want)
		}
	}
	if got := testutil.ToFloat64(collector.Recording); got != 1 {
		t.Fatalf("station_history_recording = %v, want 1", got)
	}
}

func TestCollectorRegistersIdempotently(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewStationCollector(reg)
	if err != nil {
		t.Fatalf("first NewStationCollector: %v", err)
	}
	second, err := NewStationCollector(reg)
	if err != nil {
		t.Fatalf("second NewStationCollector: %v", err)
	}
	second.Corrections.Inc()
	if got := testutil.ToFloat64(first.Corrections); got != 1 {
		t.Fatalf("collectors should share registered metrics, got %v", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *StationCollector
	c.ObserveTick(TickObservation{})
	c.SetLoopState("running", false)
	c.SetLogSizes(1, 2)
	c.ObserveHTTP("/x", http.MethodGet, 200, time.Millisecond)
}

func TestMetricsHandlerExposesStationMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewStationCollector(reg)
	if err != nil {
		t.Fatalf("NewStationCollector: %v", err)
	}
	collector.SetLogSizes(3, 4)
	collector.ObserveTick(TickObservation{OnCourse: false, CorrectionMagnitude: 0.1})
	collector.ObserveHTTP("/api/v1/status", http.MethodGet, http.StatusOK, 2*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"station_ticks_total",
		"station_corrections_total",
		"station_error_magnitude_km",
		"station_loop_phase",
		"station_telemetry_entries 3",
		"station_history_events 4",
		"api_requests_total",
		"api_request_duration_seconds",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
