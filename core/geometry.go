package core

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Vec3 is a position or correction vector in kilometres.
//
// It shares its layout with r3.Vec so the arithmetic below can defer to gonum.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) r3() r3.Vec { return r3.Vec{X: v.X, Y: v.Y, Z: v.Z} }

func fromR3(v r3.Vec) Vec3 { return Vec3{X: v.X, Y: v.Y, Z: v.Z} }

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return fromR3(r3.Add(v.r3(), other.r3()))
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return fromR3(r3.Sub(v.r3(), other.r3()))
}

// Scale returns f·v.
func (v Vec3) Scale(f float64) Vec3 {
	return fromR3(r3.Scale(f, v.r3()))
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return r3.Dot(v.r3(), other.r3())
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return r3.Norm(v.r3())
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// IsFinite reports whether every component is a finite number.
func (v Vec3) IsFinite() bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%.4f, %.4f, %.4f)", v.X, v.Y, v.Z)
}
