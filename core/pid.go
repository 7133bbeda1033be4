package core

import "sync"

// Gains are the PID coefficients.
type Gains struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
}

// PIDState is a snapshot of the controller's accumulators.
type PIDState struct {
	Integral      Vec3 `json:"integral"`
	PreviousError Vec3 `json:"previous_error"`
}

// PIDController computes three-axis corrections from position error.
//
// The integral term accumulates without clamping. One controller is expected to
// live for the whole run; callers must not reset it between ticks.
type PIDController struct {
	gains Gains

	mu        sync.Mutex
	integral  Vec3
	prevError Vec3
}

// NewPIDController creates a controller with zeroed accumulators.
func NewPIDController(kp, ki, kd float64) *PIDController {
	return &PIDController{gains: Gains{Kp: kp, Ki: ki, Kd: kd}}
}

// Gains returns the controller coefficients.
func (c *PIDController) Gains() Gains {
	return c.gains
}

// ComputeCorrection returns Kp·e + Ki·Σe + Kd·Δe for e = target - sensed.
//
// On the first call (or the first after Reset) the previous error is zero, so
// the derivative term equals the error itself.
func (c *PIDController) ComputeCorrection(target, sensed Vec3) Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := target.Sub(sensed)
	c.integral = c.integral.Add(e)
	derivative := e.Sub(c.prevError)
	c.prevError = e

	return e.Scale(c.gains.Kp).
		Add(c.integral.Scale(c.gains.Ki)).
		Add(derivative.Scale(c.gains.Kd))
}

// Reset zeroes the integral and previous error.
func (c *PIDController) Reset() {
	c.mu.Lock()
	c.integral = Vec3{}
	c.prevError = Vec3{}
	c.mu.Unlock()
}

// State returns a copy of the accumulators.
func (c *PIDController) State() PIDState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return PIDState{Integral: c.integral, PreviousError: c.prevError}
}
