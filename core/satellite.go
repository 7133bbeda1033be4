package core

import (
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultDriftAmplitudeKm bounds each axis of the per-tick drift vector.
const DefaultDriftAmplitudeKm = 0.05

// DriftModel produces the unmodelled perturbation applied to a satellite on
// every tick.
type DriftModel interface {
	Sample() Vec3
}

// UniformDrift draws each axis independently from U[-Amplitude, Amplitude].
type UniformDrift struct {
	dist distuv.Uniform
}

// NewUniformDrift builds a uniform drift model. A nil src uses the global
// math/rand/v2 source.
func NewUniformDrift(amplitude float64, src rand.Source) *UniformDrift {
	return &UniformDrift{dist: distuv.Uniform{Min: -amplitude, Max: amplitude, Src: src}}
}

// Sample returns a fresh drift vector.
func (d *UniformDrift) Sample() Vec3 {
	return Vec3{X: d.dist.Rand(), Y: d.dist.Rand(), Z: d.dist.Rand()}
}

// NoDrift never perturbs the satellite.
type NoDrift struct{}

// Sample always returns the zero vector.
func (NoDrift) Sample() Vec3 { return Vec3{} }

// Satellite owns the true position of the simulated spacecraft and the fixed
// station it is meant to hold.
type Satellite struct {
	mu      sync.RWMutex
	target  Vec3
	current Vec3
	drift   DriftModel
}

// SatelliteOption configures a Satellite at construction.
type SatelliteOption func(*Satellite)

// WithDriftModel replaces the default uniform drift.
func WithDriftModel(m DriftModel) SatelliteOption {
	return func(s *Satellite) {
		if m != nil {
			s.drift = m
		}
	}
}

// WithInitialPosition starts the satellite somewhere other than its target.
func WithInitialPosition(p Vec3) SatelliteOption {
	return func(s *Satellite) { s.current = p }
}

// NewSatellite creates a satellite parked on its target.
func NewSatellite(target Vec3, opts ...SatelliteOption) *Satellite {
	s := &Satellite{
		target:  target,
		current: target,
		drift:   NewUniformDrift(DefaultDriftAmplitudeKm, nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Target returns the station the satellite should hold. It never changes.
func (s *Satellite) Target() Vec3 {
	return s.target
}

// Position returns the true current position.
func (s *Satellite) Position() Vec3 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// SetPosition overwrites the true current position.
func (s *Satellite) SetPosition(p Vec3) {
	s.mu.Lock()
	s.current = p
	s.mu.Unlock()
}

// Drift applies one sample of the drift model to the current position.
func (s *Satellite) Drift() {
	d := s.drift.Sample()
	s.mu.Lock()
	s.current = s.current.Add(d)
	s.mu.Unlock()
}

// translate adds delta to the position and returns the result in one critical
// section.
func (s *Satellite) translate(delta Vec3) Vec3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = s.current.Add(delta)
	return s.current
}
