// Package orbit produces orbit geometry for display: a parametric conic for
// the orbit panel and SGP4 tracks from two-line element sets.
//
// None of this feeds the station-keeping physics.
package orbit

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/station-keeper/core"
)

// EarthRadiusKm is the mean Earth radius used for altitude conversion.
const EarthRadiusKm = 6371.0

// DefaultPathPoints is the number of samples in a rendered orbit.
const DefaultPathPoints = 360

var (
	// ErrInvalidElements is returned for orbits that cannot be drawn.
	ErrInvalidElements = errors.New("invalid orbital elements")
	// ErrInvalidTLE is returned for malformed two-line element sets.
	ErrInvalidTLE = errors.New("invalid TLE")
	// ErrPropagationFailed is returned when SGP4 yields a non-finite position.
	ErrPropagationFailed = errors.New("propagation failed")
)

// Elements describe a display orbit.
type Elements struct {
	AltitudeKm     float64 `json:"altitude_km"`
	InclinationDeg float64 `json:"inclination_deg"`
	Eccentricity   float64 `json:"eccentricity"`
}

// DefaultElements matches the initial settings of the orbit panel.
func DefaultElements() Elements {
	return Elements{AltitudeKm: 7000, InclinationDeg: 45, Eccentricity: 0.2}
}

// Path samples a conic with semi-major axis EarthRadiusKm+AltitudeKm, tilted
// by InclinationDeg about the x axis. The first and last samples coincide.
func Path(el Elements, points int) ([]core.Vec3, error) {
	if points < 2 {
		return nil, fmt.Errorf("%w: need at least 2 points, got %d", ErrInvalidElements, points)
	}
	for name, v := range map[string]float64{
		"altitude":     el.AltitudeKm,
		"inclination":  el.InclinationDeg,
		"eccentricity": el.Eccentricity,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %s %v is not finite", ErrInvalidElements, name, v)
		}
	}
	if el.AltitudeKm < 0 {
		return nil, fmt.Errorf("%w: negative altitude %v", ErrInvalidElements, el.AltitudeKm)
	}
	if el.Eccentricity < 0 || el.Eccentricity >= 1 {
		return nil, fmt.Errorf("%w: eccentricity %v outside [0,1)", ErrInvalidElements, el.Eccentricity)
	}

	a := EarthRadiusKm + el.AltitudeKm
	p := a * (1 - el.Eccentricity*el.Eccentricity)
	inc := el.InclinationDeg * math.Pi / 180
	sinI, cosI := math.Sincos(inc)

	out := make([]core.Vec3, points)
	for k := range out {
		theta := 2 * math.Pi * float64(k) / float64(points-1)
		sinT, cosT := math.Sincos(theta)
		r := p / (1 + el.Eccentricity*cosT)
		out[k] = core.Vec3{
			X: r * cosT,
			Y: r * sinT * cosI,
			Z: r * sinT * sinI,
		}
	}
	return out, nil
}

// Propagator wraps an SGP4 satellite parsed from a TLE.
type Propagator struct {
	sat satellite.Satellite
}

// NewPropagator parses a TLE using WGS72 constants.
func NewPropagator(line1, line2 string) (p *Propagator, err error) {
	line1 = strings.TrimRight(line1, " \r\n")
	line2 = strings.TrimRight(line2, " \r\n")
	if len(line1) != 69 || len(line2) != 69 {
		return nil, fmt.Errorf("%w: lines must be 69 characters, got %d and %d", ErrInvalidTLE, len(line1), len(line2))
	}
	if line1[0] != '1' || line2[0] != '2' {
		return nil, fmt.Errorf("%w: lines must start with 1 and 2", ErrInvalidTLE)
	}

	// go-satellite panics on fields it cannot parse.
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("%w: %v", ErrInvalidTLE, r)
		}
	}()
	return &Propagator{sat: satellite.TLEToSat(line1, line2, satellite.GravityWGS72)}, nil
}

// Position returns the ECI (TEME) position in kilometres at t.
func (p *Propagator) Position(t time.Time) (core.Vec3, error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	pos, _ := satellite.Propagate(p.sat, year, int(month), day, hour, min, sec)
	v := core.Vec3{X: pos.X, Y: pos.Y, Z: pos.Z}
	if !v.IsFinite() {
		return core.Vec3{}, fmt.Errorf("%w at %s", ErrPropagationFailed, t.Format(time.RFC3339))
	}
	return v, nil
}

// Track samples points positions starting at start, step apart.
func (p *Propagator) Track(start time.Time, step time.Duration, points int) ([]core.Vec3, error) {
	if points < 1 || step <= 0 {
		return nil, fmt.Errorf("%w: track needs points >= 1 and step > 0", ErrInvalidElements)
	}
	out := make([]core.Vec3, 0, points)
	for k := 0; k < points; k++ {
		pos, err := p.Position(start.Add(time.Duration(k) * step))
		if err != nil {
			return out, err
		}
		out = append(out, pos)
	}
	return out, nil
}

// PositionFromTLE is a one-shot helper used to seed a station target.
func PositionFromTLE(line1, line2 string, at time.Time) (core.Vec3, error) {
	p, err := NewPropagator(line1, line2)
	if err != nil {
		return core.Vec3{}, err
	}
	return p.Position(at)
}
