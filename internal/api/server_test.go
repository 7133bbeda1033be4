package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/station-keeper/core"
	"github.com/signalsfoundry/station-keeper/internal/config"
	"github.com/signalsfoundry/station-keeper/internal/logging"
	"github.com/signalsfoundry/station-keeper/internal/observability"
	"github.com/signalsfoundry/station-keeper/internal/sim"
	"github.com/signalsfoundry/station-keeper/internal/sim/state"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type pushDrift struct{}

func (pushDrift) Sample() core.Vec3 { return core.Vec3{X: 1} }

func newTestServer(t *testing.T, rps float64, opts ...sim.Option) (*sim.Engine, *observability.StationCollector, http.Handler) {
	t.Helper()
	cfg := config.Default()
	cfg.Drift.Enabled = false
	cfg.Sensor.NoiseStdDevKm = 0
	cfg.TickRateHz = 100

	collector, err := observability.NewStationCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewStationCollector: %v", err)
	}
	opts = append([]sim.Option{sim.WithStartTime(epoch), sim.WithMetrics(collector)}, opts...)
	engine, err := sim.NewEngine(cfg, logging.Noop(), opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { _ = engine.Shutdown() })

	srv := NewServer(engine, Options{Metrics: collector, ControlRPS: rps, BaseContext: context.Background()})
	return engine, collector, srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestStatusReportsStoppedEngine(t *testing.T) {
	_, _, h := newTestServer(t, 100)

	rec := do(t, h, http.MethodGet, "/api/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
	st := decode[sim.Status](t, rec)
	if st.Phase != "stopped" || st.Recording {
		t.Fatalf("status = %+v, want stopped and not recording", st)
	}
	if st.Target != (core.Vec3{X: 100, Y: 200, Z: 300}) {
		t.Fatalf("target = %v, want (100, 200, 300)", st.Target)
	}
}

func TestLatestTelemetry(t *testing.T) {
	engine, _, h := newTestServer(t, 100)

	if rec := do(t, h, http.MethodGet, "/api/v1/telemetry/latest"); rec.Code != http.StatusNotFound {
		t.Fatalf("latest before any tick = %d, want 404", rec.Code)
	}

	engine.Step(epoch)
	engine.Step(epoch.Add(time.Second))

	rec := do(t, h, http.MethodGet, "/api/v1/telemetry/latest")
	if rec.Code != http.StatusOK {
		t.Fatalf("latest = %d, want 200", rec.Code)
	}
	entry := decode[state.TelemetryEntry](t, rec)
	if !entry.Timestamp.Equal(epoch.Add(time.Second)) || !entry.OnCourse || entry.Correction != nil {
		t.Fatalf("latest entry = %+v, want on-course entry at epoch+1s", entry)
	}

	all := decode[[]state.TelemetryEntry](t, do(t, h, http.MethodGet, "/api/v1/telemetry?limit=1"))
	if len(all) != 1 || !all[0].Timestamp.Equal(entry.Timestamp) {
		t.Fatalf("telemetry?limit=1 = %+v, want only the latest entry", all)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/telemetry?limit=x"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d, want 400", rec.Code)
	}
}

func TestHistoryAndClear(t *testing.T) {
	engine, _, h := newTestServer(t, 100, sim.WithDriftModel(pushDrift{}))

	if rec := do(t, h, http.MethodPost, "/api/v1/control/record"); rec.Code != http.StatusOK {
		t.Fatalf("record = %d, want 200", rec.Code)
	}
	engine.Step(epoch)

	events := decode[[]state.DriftEvent](t, do(t, h, http.MethodGet, "/api/v1/history"))
	if len(events) != 1 {
		t.Fatalf("history = %d events, want 1", len(events))
	}

	st := decode[sim.Status](t, do(t, h, http.MethodPost, "/api/v1/control/clear-history"))
	if st.HistorySize != 0 {
		t.Fatalf("history size after clear = %d, want 0", st.HistorySize)
	}

	st = decode[sim.Status](t, do(t, h, http.MethodPost, "/api/v1/control/reset-controller"))
	if st.PID != (core.PIDState{}) {
		t.Fatalf("PID after reset = %+v, want zero", st.PID)
	}
}

func TestControlLifecycle(t *testing.T) {
	_, _, h := newTestServer(t, 100)

	if rec := do(t, h, http.MethodPost, "/api/v1/control/pause"); rec.Code != http.StatusConflict {
		t.Fatalf("pause while stopped = %d, want 409", rec.Code)
	}

	rec := do(t, h, http.MethodPost, "/api/v1/control/start")
	if rec.Code != http.StatusOK {
		t.Fatalf("start = %d (%s), want 200", rec.Code, rec.Body.String())
	}
	if st := decode[sim.Status](t, rec); st.Phase != "running" {
		t.Fatalf("phase after start = %q, want running", st.Phase)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/control/start"); rec.Code != http.StatusConflict {
		t.Fatalf("second start = %d, want 409", rec.Code)
	}

	if st := decode[sim.Status](t, do(t, h, http.MethodPost, "/api/v1/control/pause")); st.Phase != "paused" {
		t.Fatalf("phase after pause = %q, want paused", st.Phase)
	}
	if st := decode[sim.Status](t, do(t, h, http.MethodPost, "/api/v1/control/stop")); st.Phase != "stopped" {
		t.Fatalf("phase after stop = %q, want stopped", st.Phase)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/control/stop"); rec.Code != http.StatusConflict {
		t.Fatalf("second stop = %d, want 409", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/control/stop"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET on control route = %d, want 405", rec.Code)
	}
}

func TestControlRateLimit(t *testing.T) {
	_, _, h := newTestServer(t, 0.001)

	if rec := do(t, h, http.MethodPost, "/api/v1/control/record"); rec.Code != http.StatusOK {
		t.Fatalf("first control call = %d, want 200", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/control/record"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second control call = %d, want 429", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/status"); rec.Code != http.StatusOK {
		t.Fatalf("queries should not be rate limited, got %d", rec.Code)
	}
}

func TestPositionAndSeries(t *testing.T) {
	engine, _, h := newTestServer(t, 100, sim.WithDriftModel(pushDrift{}))
	engine.Step(epoch)

	pos := decode[positionResponse](t, do(t, h, http.MethodGet, "/api/v1/position"))
	if pos.Target != engine.Target() || pos.Position != engine.Position() {
		t.Fatalf("position response = %+v", pos)
	}
	series := decode[state.SeriesSnapshot](t, do(t, h, http.MethodGet, "/api/v1/series"))
	if len(series.Distances) != 1 || series.Corrections[0] != 1 {
		t.Fatalf("series = %+v, want one corrected point", series)
	}
}

func TestOrbitEndpoint(t *testing.T) {
	_, _, h := newTestServer(t, 100)

	rec := do(t, h, http.MethodGet, "/api/v1/orbit?altitude_km=500&eccentricity=0&points=12")
	if rec.Code != http.StatusOK {
		t.Fatalf("orbit = %d (%s), want 200", rec.Code, rec.Body.String())
	}
	resp := decode[orbitResponse](t, rec)
	if len(resp.Points) != 12 || resp.Elements.AltitudeKm != 500 {
		t.Fatalf("orbit response = %d points alt %v, want 12 points alt 500", len(resp.Points), resp.Elements.AltitudeKm)
	}

	for _, q := range []string{
		"eccentricity=1.5", "points=1", "altitude_km=abc",
		"eccentricity=NaN", "altitude_km=Inf", "altitude_km=NaN", "inclination_deg=-Inf",
	} {
		rec := do(t, h, http.MethodGet, "/api/v1/orbit?"+q)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("orbit?%s = %d (%s), want 400", q, rec.Code, rec.Body.String())
		}
		if body := decode[map[string]string](t, rec); body["error"] == "" {
			t.Fatalf("orbit?%s body = %v, want an error message", q, body)
		}
	}
}

func TestMethodMismatchIsNotAllowed(t *testing.T) {
	_, _, h := newTestServer(t, 100)

	for _, action := range []string{"start", "stop", "pause", "record", "clear-history", "reset-controller"} {
		for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
			rec := do(t, h, method, "/api/v1/control/"+action)
			if rec.Code != http.StatusMethodNotAllowed {
				t.Fatalf("%s /api/v1/control/%s = %d, want 405", method, action, rec.Code)
			}
			if body := decode[map[string]string](t, rec); body["error"] == "" {
				t.Fatalf("%s /api/v1/control/%s body = %v, want an error message", method, action, body)
			}
		}
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/status"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /api/v1/status = %d, want 405", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/control/launch"); rec.Code != http.StatusNotFound {
		t.Fatalf("POST unknown control action = %d, want 404", rec.Code)
	}
}

func TestWriteJSONEncodeFailureIs500(t *testing.T) {
	engine, _, _ := newTestServer(t, 100)
	srv := NewServer(engine, Options{})

	rec := httptest.NewRecorder()
	srv.writeJSON(rec, http.StatusOK, map[string]float64{"x": math.NaN()})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want 500", rec.Code)
	}
	if body := decode[map[string]string](t, rec); body["error"] == "" {
		t.Fatalf("body = %v, want an error message", body)
	}
}

func TestRequestsLogThroughContextLogger(t *testing.T) {
	engine, _, _ := newTestServer(t, 100)
	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: "debug", Format: "json", Output: &buf})
	srv := NewServer(engine, Options{Logger: log})

	var handlerLog logging.Logger
	srv.router.HandleFunc("/test/logger", func(w http.ResponseWriter, r *http.Request) {
		handlerLog = srv.requestLogger(r)
		handlerLog.Info(r.Context(), "inside handler")
		w.WriteHeader(http.StatusNoContent)
	})
	do(t, srv.Handler(), http.MethodGet, "/test/logger")

	if handlerLog == nil || handlerLog == log {
		t.Fatalf("handler did not receive a request-scoped logger")
	}
	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		lines = append(lines, m)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2:\n%s", len(lines), buf.String())
	}
	runID := lines[0]["run_id"]
	for _, m := range lines {
		if m["method"] != http.MethodGet || m["path"] != "/test/logger" {
			t.Fatalf("log line %v missing request fields", m)
		}
		if m["run_id"] == nil || m["run_id"] == "" || m["run_id"] != runID {
			t.Fatalf("log line %v missing shared run_id %v", m, runID)
		}
	}
	if lines[0]["msg"] != "inside handler" || lines[1]["msg"] != "http request" {
		t.Fatalf("log messages = %v, %v", lines[0]["msg"], lines[1]["msg"])
	}

	bare := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := srv.requestLogger(bare); got != log {
		t.Fatalf("requestLogger without context logger should fall back to the server logger")
	}
}

func TestDriftChartRendersHTML(t *testing.T) {
	engine, _, h := newTestServer(t, 100)
	engine.Step(epoch)

	rec := do(t, h, http.MethodGet, "/charts/drift")
	if rec.Code != http.StatusOK {
		t.Fatalf("chart = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type = %q, want text/html", ct)
	}
	if body := rec.Body.String(); !strings.Contains(body, "echarts") || !strings.Contains(body, "Distance to target") {
		t.Fatalf("chart body missing echarts content")
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	_, _, h := newTestServer(t, 100)
	do(t, h, http.MethodGet, "/api/v1/status")

	rec := do(t, h, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `api_requests_total{code="200",method="GET",route="/api/v1/status"} 1`) {
		t.Fatalf("metrics missing status request counter:\n%s", body)
	}
}
