// Package config loads station-keeping settings from defaults, an optional
// config file and STATIONKEEPER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/signalsfoundry/station-keeper/timectrl"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// EnvPrefix namespaces environment overrides, e.g. STATIONKEEPER_PID_KP.
const EnvPrefix = "STATIONKEEPER"

// Vector is a configured 3D point in kilometres.
type Vector struct {
	X float64 `mapstructure:"x"`
	Y float64 `mapstructure:"y"`
	Z float64 `mapstructure:"z"`
}

// PID holds controller gains.
type PID struct {
	Kp float64 `mapstructure:"kp"`
	Ki float64 `mapstructure:"ki"`
	Kd float64 `mapstructure:"kd"`
}

// TLE optionally seeds the target from a two-line element set.
type TLE struct {
	Line1 string `mapstructure:"line1"`
	Line2 string `mapstructure:"line2"`
}

// Set reports whether both lines are present.
func (t TLE) Set() bool { return t.Line1 != "" && t.Line2 != "" }

// Drift configures the per-tick disturbance.
type Drift struct {
	Enabled     bool    `mapstructure:"enabled"`
	AmplitudeKm float64 `mapstructure:"amplitude_km"`
}

// Sensor configures measurement noise.
type Sensor struct {
	NoiseStdDevKm float64 `mapstructure:"noise_stddev_km"`
}

// HTTP configures the control/query API.
type HTTP struct {
	Addr       string  `mapstructure:"addr"`
	ControlRPS float64 `mapstructure:"control_rps"`
}

// MQTT configures the optional telemetry sink. An empty broker disables it.
type MQTT struct {
	Broker    string `mapstructure:"broker"`
	Topic     string `mapstructure:"topic"`
	ClientID  string `mapstructure:"client_id"`
	QueueSize int    `mapstructure:"queue_size"`
}

// Enabled reports whether a broker is configured.
func (m MQTT) Enabled() bool { return m.Broker != "" }

// Tracing mirrors observability.TracingConfig.
type Tracing struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Log configures the structured logger.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the full set of startup options. It is immutable once loaded.
type Config struct {
	TickRateHz        float64       `mapstructure:"tick_rate_hz"`
	OnCourseThreshold float64       `mapstructure:"on_course_threshold"`
	PID               PID           `mapstructure:"pid"`
	TelemetryMaxSize  int           `mapstructure:"telemetry_max_size"`
	HistoryMaxSize    int           `mapstructure:"history_max_size"`
	PlotMaxPoints     int           `mapstructure:"plot_max_points"`
	Target            Vector        `mapstructure:"target"`
	TargetTLE         TLE           `mapstructure:"target_tle"`
	Drift             Drift         `mapstructure:"drift"`
	Sensor            Sensor        `mapstructure:"sensor"`
	Seed              uint64        `mapstructure:"seed"`
	Mode              string        `mapstructure:"mode"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	AutoStart         bool          `mapstructure:"auto_start"`
	RecordOnStart     bool          `mapstructure:"record_on_start"`
	HTTP              HTTP          `mapstructure:"http"`
	MQTT              MQTT          `mapstructure:"mqtt"`
	Tracing           Tracing       `mapstructure:"tracing"`
	Log               Log           `mapstructure:"log"`
}

// TickPeriod converts the tick rate to a period.
func (c Config) TickPeriod() time.Duration {
	return time.Duration(float64(time.Second) / c.TickRateHz)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tick_rate_hz", 1.0)
	v.SetDefault("on_course_threshold", 0.1)
	v.SetDefault("pid.kp", 0.5)
	v.SetDefault("pid.ki", 0.01)
	v.SetDefault("pid.kd", 0.1)
	v.SetDefault("telemetry_max_size", 1000)
	v.SetDefault("history_max_size", 500)
	v.SetDefault("plot_max_points", 100)
	v.SetDefault("target.x", 100.0)
	v.SetDefault("target.y", 200.0)
	v.SetDefault("target.z", 300.0)
	v.SetDefault("target_tle.line1", "")
	v.SetDefault("target_tle.line2", "")
	v.SetDefault("drift.enabled", true)
	v.SetDefault("drift.amplitude_km", 0.05)
	v.SetDefault("sensor.noise_stddev_km", 0.01)
	v.SetDefault("seed", 0)
	v.SetDefault("mode", "realtime")
	v.SetDefault("shutdown_timeout", time.Second)
	v.SetDefault("auto_start", false)
	v.SetDefault("record_on_start", false)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.control_rps", 5.0)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", "stationkeeper/telemetry")
	v.SetDefault("mqtt.client_id", "station-keeper")
	v.SetDefault("mqtt.queue_size", 64)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "station-keeper")
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Default returns the built-in configuration. Environment overrides are
// not applied; use Load for that.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		// Defaults are constants; failing here is a programming error.
		panic(err)
	}
	return cfg
}

// Load reads defaults, then path (if non-empty), then environment overrides,
// and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Validate fails fast on values the simulation cannot run with.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}

	check(c.TickRateHz > 0 && finite(c.TickRateHz), "tick_rate_hz must be finite and > 0, got %v", c.TickRateHz)
	check(c.OnCourseThreshold >= 0 && finite(c.OnCourseThreshold), "on_course_threshold must be finite and >= 0, got %v", c.OnCourseThreshold)
	check(finite(c.PID.Kp, c.PID.Ki, c.PID.Kd), "pid gains must be finite, got %+v", c.PID)
	check(finite(c.Target.X, c.Target.Y, c.Target.Z), "target must be finite, got %+v", c.Target)
	check(c.TelemetryMaxSize > 0, "telemetry_max_size must be > 0, got %d", c.TelemetryMaxSize)
	check(c.HistoryMaxSize > 0, "history_max_size must be > 0, got %d", c.HistoryMaxSize)
	check(c.PlotMaxPoints > 0, "plot_max_points must be > 0, got %d", c.PlotMaxPoints)
	check(c.Drift.AmplitudeKm >= 0 && finite(c.Drift.AmplitudeKm), "drift.amplitude_km must be finite and >= 0, got %v", c.Drift.AmplitudeKm)
	check(c.Sensor.NoiseStdDevKm >= 0 && finite(c.Sensor.NoiseStdDevKm), "sensor.noise_stddev_km must be finite and >= 0, got %v", c.Sensor.NoiseStdDevKm)
	check(c.ShutdownTimeout > 0, "shutdown_timeout must be > 0, got %s", c.ShutdownTimeout)
	if _, err := timectrl.ParseMode(c.Mode); err != nil {
		check(false, "mode: %v", err)
	}
	check(c.HTTP.ControlRPS > 0 && finite(c.HTTP.ControlRPS), "http.control_rps must be finite and > 0, got %v", c.HTTP.ControlRPS)
	check(!c.MQTT.Enabled() || c.MQTT.QueueSize > 0, "mqtt.queue_size must be > 0, got %d", c.MQTT.QueueSize)
	check(c.Tracing.SampleRatio >= 0 && c.Tracing.SampleRatio <= 1, "tracing.sample_ratio must be in [0,1], got %v", c.Tracing.SampleRatio)
	check((c.TargetTLE.Line1 == "") == (c.TargetTLE.Line2 == ""), "target_tle needs both line1 and line2")

	return errors.Join(errs...)
}
