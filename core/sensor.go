package core

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultSensorNoiseStdDevKm is the per-axis standard deviation of position
// measurements.
const DefaultSensorNoiseStdDevKm = 0.01

// NoiseModel produces additive measurement noise.
type NoiseModel interface {
	Sample() Vec3
}

// GaussianNoise draws each axis independently from N(0, σ²).
type GaussianNoise struct {
	dist distuv.Normal
}

// NewGaussianNoise builds a zero-mean Gaussian noise model. A nil src uses the
// global math/rand/v2 source.
func NewGaussianNoise(stddev float64, src rand.Source) *GaussianNoise {
	return &GaussianNoise{dist: distuv.Normal{Mu: 0, Sigma: stddev, Src: src}}
}

// Sample returns a fresh noise vector.
func (n *GaussianNoise) Sample() Vec3 {
	if n.dist.Sigma == 0 {
		return Vec3{}
	}
	return Vec3{X: n.dist.Rand(), Y: n.dist.Rand(), Z: n.dist.Rand()}
}

// NoNoise is a perfect sensor.
type NoNoise struct{}

// Sample always returns the zero vector.
func (NoNoise) Sample() Vec3 { return Vec3{} }

// Sensor measures a satellite's position with noise.
type Sensor struct {
	sat   *Satellite
	noise NoiseModel
}

// NewSensor attaches a sensor to sat. A nil noise model defaults to Gaussian
// noise with DefaultSensorNoiseStdDevKm.
func NewSensor(sat *Satellite, noise NoiseModel) *Sensor {
	if noise == nil {
		noise = NewGaussianNoise(DefaultSensorNoiseStdDevKm, nil)
	}
	return &Sensor{sat: sat, noise: noise}
}

// Sense returns a noisy copy of the satellite's true position. Noise is
// resampled on every call and the satellite is never modified.
func (s *Sensor) Sense() Vec3 {
	return s.sat.Position().Add(s.noise.Sample())
}
