// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package flow

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r2"
)

// Rotation is the yaw offset between the sensor mounting and the body frame,
// in 45 degree steps.
type Rotation int

const (
	RotationNone Rotation = iota
	RotationYaw45
	RotationYaw90
	RotationYaw135
	RotationYaw180
	RotationYaw225
	RotationYaw270
	RotationYaw315
)

// Rotations lists every supported mounting in ascending angle.
var Rotations = []Rotation{
	RotationNone, RotationYaw45, RotationYaw90, RotationYaw135,
	RotationYaw180, RotationYaw225, RotationYaw270, RotationYaw315,
}

var rotationNames = [...]string{"none", "yaw45", "yaw90", "yaw135", "yaw180", "yaw225", "yaw270", "yaw315"}

func (r Rotation) String() string {
	if r < RotationNone || r > RotationYaw315 {
		return fmt.Sprintf("Rotation(%d)", int(r))
	}
	return rotationNames[r]
}

// Degrees returns the yaw offset in degrees.
func (r Rotation) Degrees() int { return int(r) * 45 }

// ParseRotation accepts a name ("none", "yaw90") or a degree value ("90").
func ParseRotation(s string) (Rotation, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range rotationNames {
		if s == name {
			return Rotation(i), nil
		}
	}
	deg, err := strconv.Atoi(s)
	if err != nil {
		return RotationNone, fmt.Errorf("unknown rotation %q", s)
	}
	deg = ((deg % 360) + 360) % 360
	if deg%45 != 0 {
		return RotationNone, fmt.Errorf("rotation %q is not a multiple of 45 degrees", s)
	}
	return Rotation(deg / 45), nil
}

// Matrix is a 2x2 row-major transform from sensor to body frame.
type Matrix [2]r2.Vec

// Apply transforms v.
func (m Matrix) Apply(v r2.Vec) r2.Vec {
	return r2.Vec{X: r2.Dot(m[0], v), Y: r2.Dot(m[1], v)}
}

const halfSqrt2 = math.Sqrt2 / 2

// Exact coefficients so the quarter turns never pick up sin/cos rounding.
var rotationMatrices = [...]Matrix{
	RotationNone:   {{X: 1, Y: 0}, {X: 0, Y: 1}},
	RotationYaw45:  {{X: halfSqrt2, Y: -halfSqrt2}, {X: halfSqrt2, Y: halfSqrt2}},
	RotationYaw90:  {{X: 0, Y: -1}, {X: 1, Y: 0}},
	RotationYaw135: {{X: -halfSqrt2, Y: -halfSqrt2}, {X: halfSqrt2, Y: -halfSqrt2}},
	RotationYaw180: {{X: -1, Y: 0}, {X: 0, Y: -1}},
	RotationYaw225: {{X: -halfSqrt2, Y: halfSqrt2}, {X: -halfSqrt2, Y: -halfSqrt2}},
	RotationYaw270: {{X: 0, Y: 1}, {X: -1, Y: 0}},
	RotationYaw315: {{X: halfSqrt2, Y: halfSqrt2}, {X: -halfSqrt2, Y: halfSqrt2}},
}

// Matrix returns the transform for r. Unknown values map to identity.
func (r Rotation) Matrix() Matrix {
	if r < RotationNone || r > RotationYaw315 {
		return rotationMatrices[RotationNone]
	}
	return rotationMatrices[r]
}

// Rotator maps raw sensor deltas into the body frame. It holds no state
// besides its transform.
type Rotator struct {
	m Matrix
}

// NewRotator returns a rotator for one of the fixed mountings.
func NewRotator(r Rotation) Rotator {
	return Rotator{m: r.Matrix()}
}

// NewMatrixRotator returns a rotator for an arbitrary mounting.
func NewMatrixRotator(m Matrix) Rotator {
	return Rotator{m: m}
}

// Apply rotates one raw delta.
func (r Rotator) Apply(rawDx, rawDy int) RotatedSample {
	v := r.m.Apply(r2.Vec{X: float64(rawDx), Y: float64(rawDy)})
	return RotatedSample{Dx: v.X, Dy: v.Y}
}
