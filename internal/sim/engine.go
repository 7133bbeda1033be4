// Package sim wires the satellite, sensor, controller and recorders into the
// fixed-rate station-keeping loop and exposes the control and query surface
// used by the shells.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/station-keeper/core"
	"github.com/signalsfoundry/station-keeper/internal/config"
	"github.com/signalsfoundry/station-keeper/internal/logging"
	"github.com/signalsfoundry/station-keeper/internal/observability"
	"github.com/signalsfoundry/station-keeper/internal/sim/state"
	"github.com/signalsfoundry/station-keeper/orbit"
	"github.com/signalsfoundry/station-keeper/timectrl"
)

// ErrShutdown is returned by control operations after Shutdown.
var ErrShutdown = errors.New("engine shut down")

// Report summarises one tick for observers.
type Report struct {
	Tick             uint64               `json:"tick"`
	Entry            state.TelemetryEntry `json:"entry"`
	Distance         float64              `json:"distance"`
	TotalCorrections int                  `json:"total_corrections"`
	Recorded         bool                 `json:"recorded"`
}

// Observer is invoked on the loop goroutine after every tick. It must not
// block.
type Observer func(Report)

// Thruster applies a correction to the satellite.
type Thruster interface {
	ApplyThrust(sat *core.Satellite, correction core.Vec3) core.Vec3
}

// Status is a point-in-time view of the engine.
type Status struct {
	Phase            string        `json:"phase"`
	Recording        bool          `json:"recording"`
	Mode             string        `json:"mode"`
	RunID            string        `json:"run_id,omitempty"`
	Ticks            uint64        `json:"ticks"`
	SimTime          time.Time     `json:"sim_time"`
	TickPeriod       time.Duration `json:"tick_period"`
	TotalCorrections int           `json:"total_corrections"`
	TelemetrySize    int           `json:"telemetry_size"`
	HistorySize      int           `json:"history_size"`
	Position         core.Vec3     `json:"position"`
	Target           core.Vec3     `json:"target"`
	Gains            core.Gains    `json:"gains"`
	PID              core.PIDState `json:"pid"`
	Threshold        float64       `json:"on_course_threshold"`
}

type options struct {
	metrics   *observability.StationCollector
	observers []Observer
	drift     core.DriftModel
	noise     core.NoiseModel
	thruster  Thruster
	tracer    trace.Tracer
	start     time.Time
}

// Option customises an Engine.
type Option func(*options)

// WithMetrics reports ticks and loop state to c.
func WithMetrics(c *observability.StationCollector) Option {
	return func(o *options) { o.metrics = c }
}

// WithObserver subscribes fn before the first tick.
func WithObserver(fn Observer) Option {
	return func(o *options) {
		if fn != nil {
			o.observers = append(o.observers, fn)
		}
	}
}

// WithDriftModel overrides the configured drift.
func WithDriftModel(m core.DriftModel) Option {
	return func(o *options) { o.drift = m }
}

// WithNoiseModel overrides the configured sensor noise.
func WithNoiseModel(m core.NoiseModel) Option {
	return func(o *options) { o.noise = m }
}

// WithThruster replaces the default thruster.
func WithThruster(t Thruster) Option {
	return func(o *options) { o.thruster = t }
}

// WithTracer sets the tracer used for per-tick spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithStartTime sets the simulation epoch. Defaults to the current UTC time.
func WithStartTime(t time.Time) Option {
	return func(o *options) { o.start = t }
}

// Engine owns the simulation state and the loop that advances it.
type Engine struct {
	cfg    config.Config
	log    logging.Logger
	tracer trace.Tracer

	sat       *core.Satellite
	sensor    *core.Sensor
	pid       *core.PIDController
	thruster  Thruster
	telemetry *state.TelemetryRecorder
	history   *state.HistoryRecorder
	series    *state.Series
	metrics   *observability.StationCollector

	tc       *timectrl.TimeController
	controls *timectrl.Controls

	// stepMu serialises ticks so a manual Step never interleaves with the loop.
	stepMu      sync.Mutex
	steps       uint64
	corrections int

	obsMu     sync.RWMutex
	observers []subscription
	nextObs   int

	runMu    sync.Mutex
	runCtx   context.Context
	runLog   logging.Logger
	runID    string
	shutdown bool
}

// NewEngine builds an engine from cfg. The loop is left Stopped.
func NewEngine(cfg config.Config, log logging.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Noop()
	}
	o := options{start: time.Now().UTC()}
	for _, opt := range opts {
		opt(&o)
	}

	mode, err := timectrl.ParseMode(cfg.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	target := core.Vec3{X: cfg.Target.X, Y: cfg.Target.Y, Z: cfg.Target.Z}
	if cfg.TargetTLE.Set() {
		target, err = orbit.PositionFromTLE(cfg.TargetTLE.Line1, cfg.TargetTLE.Line2, o.start)
		if err != nil {
			return nil, fmt.Errorf("seed target from TLE: %w", err)
		}
	}

	var driftSrc, noiseSrc rand.Source
	if cfg.Seed != 0 {
		driftSrc = rand.NewPCG(cfg.Seed, 1)
		noiseSrc = rand.NewPCG(cfg.Seed, 2)
	}
	if o.drift == nil {
		if cfg.Drift.Enabled {
			o.drift = core.NewUniformDrift(cfg.Drift.AmplitudeKm, driftSrc)
		} else {
			o.drift = core.NoDrift{}
		}
	}
	if o.noise == nil {
		o.noise = core.NewGaussianNoise(cfg.Sensor.NoiseStdDevKm, noiseSrc)
	}
	if o.thruster == nil {
		o.thruster = core.Thruster{}
	}
	if o.tracer == nil {
		o.tracer = observability.Tracer()
	}

	telemetry, err := state.NewTelemetryRecorder(cfg.TelemetryMaxSize)
	if err != nil {
		return nil, err
	}
	history, err := state.NewHistoryRecorder(cfg.HistoryMaxSize)
	if err != nil {
		return nil, err
	}
	series, err := state.NewSeries(cfg.PlotMaxPoints)
	if err != nil {
		return nil, err
	}
	tc, err := timectrl.NewTimeController(o.start, cfg.TickPeriod(), mode)
	if err != nil {
		return nil, err
	}

	sat := core.NewSatellite(target, core.WithDriftModel(o.drift))
	e := &Engine{
		cfg:       cfg,
		log:       log,
		tracer:    o.tracer,
		sat:       sat,
		sensor:    core.NewSensor(sat, o.noise),
		pid:       core.NewPIDController(cfg.PID.Kp, cfg.PID.Ki, cfg.PID.Kd),
		thruster:  o.thruster,
		telemetry: telemetry,
		history:   history,
		series:    series,
		metrics:   o.metrics,
		tc:        tc,
		controls:  tc.Controls(),
		runCtx:    context.Background(),
		runLog:    log,
	}
	for _, fn := range o.observers {
		e.Subscribe(fn)
	}
	if cfg.RecordOnStart {
		e.controls.SetRecording(true)
	}
	tc.AddListener(func(now time.Time) { e.Step(now) })
	e.publishState()

	log.Info(context.Background(), "engine ready",
		logging.String("target", target.String()),
		logging.Duration("tick", cfg.TickPeriod()),
		logging.String("mode", mode.String()),
		logging.Float64("on_course_threshold", cfg.OnCourseThreshold),
	)
	return e, nil
}

// Step runs one drift, sense, decide, correct and record cycle at simulation
// time now. The loop calls it once per tick; tests and batch tools may call
// it directly.
func (e *Engine) Step(now time.Time) Report {
	e.stepMu.Lock()
	began := time.Now()

	e.runMu.Lock()
	ctx, log := e.runCtx, e.runLog
	e.runMu.Unlock()
	_, span := e.tracer.Start(ctx, "stationkeeping.tick")

	e.sat.Drift()
	sensed := e.sensor.Sense()
	target := e.sat.Target()
	distance := sensed.DistanceTo(target)
	onCourse := distance < e.cfg.OnCourseThreshold

	var (
		correction *core.Vec3
		recorded   bool
	)
	if !onCourse {
		c := e.pid.ComputeCorrection(target, sensed)
		e.thruster.ApplyThrust(e.sat, c)
		correction = &c
		e.corrections++
		if e.controls.Recording() {
			e.history.Record(now, sensed, distance, c)
			recorded = true
		}
	}
	entry := e.telemetry.Log(now, sensed, target, correction, onCourse)
	e.series.Append(distance, e.corrections)
	e.steps++

	report := Report{
		Tick:             e.steps,
		Entry:            entry,
		Distance:         distance,
		TotalCorrections: e.corrections,
		Recorded:         recorded,
	}
	elapsed := time.Since(began)

	var correctionMag float64
	if correction != nil {
		correctionMag = correction.Norm()
	}
	e.metrics.ObserveTick(observability.TickObservation{
		OnCourse:            onCourse,
		ErrorMagnitude:      entry.ErrorMagnitude,
		CorrectionMagnitude: correctionMag,
		Duration:            elapsed,
		Overrun:             elapsed > e.tc.Tick,
	})
	e.metrics.SetLogSizes(e.telemetry.Len(), e.history.Len())

	span.SetAttributes(
		attribute.Int64("stationkeeping.tick", int64(report.Tick)),
		attribute.Float64("stationkeeping.error_magnitude", entry.ErrorMagnitude),
		attribute.Bool("stationkeeping.on_course", onCourse),
		attribute.Bool("stationkeeping.recorded", recorded),
	)
	span.End()

	if !onCourse {
		log.Debug(ctx, "correction applied",
			logging.Uint64("tick", report.Tick),
			logging.Float64("error_magnitude", distance),
			logging.String("correction", correction.String()),
		)
	}
	e.stepMu.Unlock()

	e.notify(report)
	return report
}

// Start launches the loop until Stop, Shutdown or ctx cancellation.
func (e *Engine) Start(ctx context.Context) error {
	_, err := e.Run(ctx, 0)
	return err
}

// Run launches the loop for duration of simulation time (0 runs until
// stopped). The returned channel closes when the loop exits.
func (e *Engine) Run(ctx context.Context, duration time.Duration) (<-chan struct{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.runMu.Lock()
	if e.shutdown {
		e.runMu.Unlock()
		return nil, ErrShutdown
	}
	ctx, log := logging.WithRunLogger(logging.ContextWithRunID(ctx, logging.NewRunID()), e.log)
	ctx = logging.ContextWithLogger(ctx, log)
	done, err := e.tc.Start(ctx, duration)
	if err != nil {
		e.runMu.Unlock()
		return nil, err
	}
	e.runCtx, e.runLog, e.runID = ctx, log, logging.RunIDFromContext(ctx)
	e.runMu.Unlock()

	e.publishState()
	log.Info(ctx, "control loop started", logging.Duration("duration", duration))

	go func() {
		<-done
		e.publishState()
		log.Info(ctx, "control loop stopped", logging.Uint64("ticks", e.tc.Ticks()))
	}()
	return done, nil
}

// Stop ends the loop, waiting at most the configured shutdown timeout.
func (e *Engine) Stop() error {
	err := e.tc.Stop(e.cfg.ShutdownTimeout)
	e.publishState()
	if errors.Is(err, timectrl.ErrStopTimeout) {
		e.logger().Error(e.context(), "control loop did not stop", logging.Err(err))
	}
	return err
}

// TogglePause flips Running and Paused. It reports the new phase and whether
// anything changed; it does nothing while Stopped.
func (e *Engine) TogglePause() (timectrl.Phase, bool) {
	phase, changed := e.controls.TogglePause()
	if changed {
		e.publishState()
		e.logger().Info(e.context(), "loop phase changed", logging.String("phase", phase.String()))
	}
	return phase, changed
}

// ToggleRecording flips drift history recording and returns the new value.
func (e *Engine) ToggleRecording() bool {
	on := e.controls.ToggleRecording()
	e.publishState()
	e.logger().Info(e.context(), "recording toggled", logging.Bool("recording", on))
	return on
}

// ClearHistory empties the drift history.
func (e *Engine) ClearHistory() {
	e.history.Clear()
	e.metrics.SetLogSizes(e.telemetry.Len(), e.history.Len())
	e.logger().Info(e.context(), "drift history cleared")
}

// ResetController zeroes the PID accumulators.
func (e *Engine) ResetController() {
	e.pid.Reset()
	e.logger().Info(e.context(), "controller reset")
}

// Shutdown stops a running loop and refuses further starts.
func (e *Engine) Shutdown() error {
	e.runMu.Lock()
	e.shutdown = true
	e.runMu.Unlock()

	if err := e.Stop(); err != nil && !errors.Is(err, timectrl.ErrNotRunning) {
		return err
	}
	return nil
}

// Subscribe registers fn for tick reports and returns a function that
// removes it. Observers are called in subscription order.
func (e *Engine) Subscribe(fn Observer) (unsubscribe func()) {
	e.obsMu.Lock()
	id := e.nextObs
	e.nextObs++
	e.observers = append(e.observers, subscription{id: id, fn: fn})
	e.obsMu.Unlock()
	return func() {
		e.obsMu.Lock()
		e.observers = slices.DeleteFunc(e.observers, func(sub subscription) bool { return sub.id == id })
		e.obsMu.Unlock()
	}
}

type subscription struct {
	id int
	fn Observer
}

// Controls exposes the shared run, pause and record flags.
func (e *Engine) Controls() *timectrl.Controls { return e.controls }

// Running reports whether the loop goroutine is live.
func (e *Engine) Running() bool { return e.tc.Running() }

// LatestTelemetry returns the newest telemetry entry, if any.
func (e *Engine) LatestTelemetry() (state.TelemetryEntry, bool) { return e.telemetry.Latest() }

// Telemetry returns a copy of the telemetry log, oldest first.
func (e *Engine) Telemetry() []state.TelemetryEntry { return e.telemetry.All() }

// History returns a copy of the drift history, oldest first.
func (e *Engine) History() []state.DriftEvent { return e.history.All() }

// Series returns the plot buffers.
func (e *Engine) Series() state.SeriesSnapshot { return e.series.Snapshot() }

// Position returns the true satellite position.
func (e *Engine) Position() core.Vec3 { return e.sat.Position() }

// Target returns the station target.
func (e *Engine) Target() core.Vec3 { return e.sat.Target() }

// Status snapshots flags, counters and positions.
func (e *Engine) Status() Status {
	e.stepMu.Lock()
	steps, corrections := e.steps, e.corrections
	e.stepMu.Unlock()

	e.runMu.Lock()
	runID := e.runID
	e.runMu.Unlock()

	return Status{
		Phase:            e.controls.Phase().String(),
		Recording:        e.controls.Recording(),
		Mode:             e.tc.Mode.String(),
		RunID:            runID,
		Ticks:            steps,
		SimTime:          e.tc.Now(),
		TickPeriod:       e.tc.Tick,
		TotalCorrections: corrections,
		TelemetrySize:    e.telemetry.Len(),
		HistorySize:      e.history.Len(),
		Position:         e.sat.Position(),
		Target:           e.sat.Target(),
		Gains:            e.pid.Gains(),
		PID:              e.pid.State(),
		Threshold:        e.cfg.OnCourseThreshold,
	}
}

func (e *Engine) notify(r Report) {
	e.obsMu.RLock()
	subs := slices.Clone(e.observers)
	e.obsMu.RUnlock()
	for _, sub := range subs {
		sub.fn(r)
	}
}

func (e *Engine) publishState() {
	e.metrics.SetLoopState(e.controls.Phase().String(), e.controls.Recording())
}

func (e *Engine) context() context.Context {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.runCtx
}

func (e *Engine) logger() logging.Logger {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.runLog
}
