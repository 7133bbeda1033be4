package core

// Thruster moves a satellite by a correction vector. Thrust magnitude is not
// saturated.
type Thruster struct{}

// ApplyThrust adds correction to the satellite's position and returns the new
// position.
func (Thruster) ApplyThrust(sat *Satellite, correction Vec3) Vec3 {
	return sat.translate(correction)
}
