package core

import "testing"

func TestThrusterAppliesCorrection(t *testing.T) {
	sat := NewSatellite(Vec3{X: 100, Y: 200, Z: 300}, WithInitialPosition(Vec3{X: 99, Y: 201, Z: 300}))

	got := Thruster{}.ApplyThrust(sat, Vec3{X: 1, Y: -1, Z: 0})

	want := Vec3{X: 100, Y: 200, Z: 300}
	if got != want {
		t.Fatalf("ApplyThrust returned %v, want %v", got, want)
	}
	if pos := sat.Position(); pos != want {
		t.Fatalf("Position() = %v, want %v", pos, want)
	}
}

func TestThrusterDoesNotSaturate(t *testing.T) {
	sat := NewSatellite(Vec3{})
	got := Thruster{}.ApplyThrust(sat, Vec3{X: 1e6})
	if got.X != 1e6 {
		t.Fatalf("ApplyThrust X = %v, want 1e6", got.X)
	}
}
