package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LoopPhases lists the values reported on station_loop_phase.
var LoopPhases = []string{"stopped", "running", "paused"}

// TickObservation is what the control loop reports after every tick.
type TickObservation struct {
	OnCourse            bool
	ErrorMagnitude      float64
	CorrectionMagnitude float64
	Duration            time.Duration
	Overrun             bool
}

// StationCollector bundles Prometheus metrics for the station-keeping loop and
// its HTTP surface.
type StationCollector struct {
	gatherer prometheus.Gatherer

	Ticks               *prometheus.CounterVec
	Corrections         prometheus.Counter
	ErrorMagnitude      prometheus.Gauge
	CorrectionMagnitude prometheus.Histogram
	TickDuration        prometheus.Histogram
	TickOverruns        prometheus.Counter
	LoopPhase           *prometheus.GaugeVec
	Recording           prometheus.Gauge
	TelemetryEntries    prometheus.Gauge
	HistoryEvents       prometheus.Gauge

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
}

// NewStationCollector registers station-keeping metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewStationCollector(reg prometheus.Registerer) (*StationCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "station_ticks_total",
		Help: "Control loop ticks executed, labeled by outcome (on_course or corrected).",
	}, []string{"outcome"}), "station_ticks_total")
	if err != nil {
		return nil, err
	}
	corrections, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "station_corrections_total",
		Help: "Thruster corrections applied.",
	}), "station_corrections_total")
	if err != nil {
		return nil, err
	}
	errMag, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "station_error_magnitude_km",
		Help: "Sensed distance to target on the latest tick, in km.",
	}), "station_error_magnitude_km")
	if err != nil {
		return nil, err
	}
	corrMag, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "station_correction_magnitude_km",
		Help:    "Magnitude of applied corrections, in km.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
	}), "station_correction_magnitude_km")
	if err != nil {
		return nil, err
	}
	tickDur, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "station_tick_duration_seconds",
		Help:    "Wall time spent computing one tick.",
		Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}), "station_tick_duration_seconds")
	if err != nil {
		return nil, err
	}
	overruns, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "station_tick_overruns_total",
		Help: "Ticks whose computation exceeded the tick period.",
	}), "station_tick_overruns_total")
	if err != nil {
		return nil, err
	}
	phase, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "station_loop_phase",
		Help: "1 for the current control loop phase, 0 otherwise.",
	}, []string{"phase"}), "station_loop_phase")
	if err != nil {
		return nil, err
	}
	recording, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "station_history_recording",
		Help: "1 while drift history recording is enabled.",
	}), "station_history_recording")
	if err != nil {
		return nil, err
	}
	teleSize, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "station_telemetry_entries",
		Help: "Entries currently held in the bounded telemetry log.",
	}), "station_telemetry_entries")
	if err != nil {
		return nil, err
	}
	histSize, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "station_history_events",
		Help: "Events currently held in the bounded drift history.",
	}), "station_history_events")
	if err != nil {
		return nil, err
	}
	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "api_requests_total",
		Help: "Total number of handled HTTP API requests, labeled by route, method, and status code.",
	}, []string{"route", "method", "code"}), "api_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "api_request_duration_seconds",
		Help:    "HTTP API latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"route", "method"}), "api_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	c := &StationCollector{
		gatherer:            gatherer,
		Ticks:               ticks,
		Corrections:         corrections,
		ErrorMagnitude:      errMag,
		CorrectionMagnitude: corrMag,
		TickDuration:        tickDur,
		TickOverruns:        overruns,
		LoopPhase:           phase,
		Recording:           recording,
		TelemetryEntries:    teleSize,
		HistoryEvents:       histSize,
		HTTPRequests:        requests,
		HTTPDurations:       durations,
	}
	c.SetLoopState("stopped", false)
	return c, nil
}

// ObserveTick records one control loop tick.
func (c *StationCollector) ObserveTick(o TickObservation) {
	if c == nil {
		return
	}
	outcome := "corrected"
	if o.OnCourse {
		outcome = "on_course"
	} else {
		c.Corrections.Inc()
		c.CorrectionMagnitude.Observe(o.CorrectionMagnitude)
	}
	c.Ticks.WithLabelValues(outcome).Inc()
	c.ErrorMagnitude.Set(o.ErrorMagnitude)
	c.TickDuration.Observe(o.Duration.Seconds())
	if o.Overrun {
		c.TickOverruns.Inc()
	}
}

// SetLoopState publishes the control flags.
func (c *StationCollector) SetLoopState(phase string, recording bool) {
	if c == nil {
		return
	}
	for _, p := range LoopPhases {
		v := 0.0
		if p == phase {
			v = 1
		}
		c.LoopPhase.WithLabelValues(p).Set(v)
	}
	if recording {
		c.Recording.Set(1)
	} else {
		c.Recording.Set(0)
	}
}

// SetLogSizes publishes the bounded log occupancy.
func (c *StationCollector) SetLogSizes(telemetry, history int) {
	if c == nil {
		return
	}
	c.TelemetryEntries.Set(float64(telemetry))
	c.HistoryEvents.Set(float64(history))
}

// ObserveHTTP records one API request.
func (c *StationCollector) ObserveHTTP(route, method string, code int, elapsed time.Duration) {
	if c == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	c.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	c.HTTPDurations.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// Handler exposes a ready-to-use /metrics handler.
func (c *StationCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
