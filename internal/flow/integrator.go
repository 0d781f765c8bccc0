// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package flow

import "math"

// IntegratorState is either Uninitialized (no previous attitude) or Tracking.
type IntegratorState int

const (
	Uninitialized IntegratorState = iota
	Tracking
)

func (s IntegratorState) String() string {
	if s == Tracking {
		return "tracking"
	}
	return "uninitialized"
}

// Integrator accumulates rotated flow into pixel totals and a ground offset,
// removing the apparent flow caused by roll and pitch changes.
type Integrator struct {
	state IntegratorState

	lastRoll     float64
	lastPitch    float64
	lastAltitude float64

	// float totals; exposed rounded so fractional 45° deltas do not drift.
	sumX, sumY float64
	pos        Position
}

// NewIntegrator returns an integrator in the Uninitialized state.
func NewIntegrator() *Integrator {
	return &Integrator{}
}

// State returns the current integrator state.
func (in *Integrator) State() IntegratorState { return in.state }

// LastAltitude returns the altitude seen on the previous call.
func (in *Integrator) LastAltitude() float64 { return in.lastAltitude }

// Integrate applies one rotated delta and returns the updated position.
// f must have been computed for att.Altitude.
func (in *Integrator) Integrate(rot RotatedSample, att AttitudeSample, f ScaleFactors) Position {
	in.sumX += rot.Dx
	in.sumY += rot.Dy
	in.pos.X = int64(math.Round(in.sumX))
	in.pos.Y = int64(math.Round(in.sumY))
	in.pos.Dx = rot.Dx
	in.pos.Dy = rot.Dy

	changeX, changeY := rot.Dx, rot.Dy
	if in.state == Tracking {
		dRoll := att.Roll - in.lastRoll
		dPitch := att.Pitch - in.lastPitch
		// Rolling right sweeps the image along +x, pitching up along -y.
		changeX -= dRoll * f.PixelsPerRadian
		changeY -= -dPitch * f.PixelsPerRadian
	}

	gx := changeX * f.GroundPerFlow
	gy := changeY * f.GroundPerFlow
	in.pos.GroundOffsetX += gx*att.CosYaw - gy*att.SinYaw
	in.pos.GroundOffsetY += gx*att.SinYaw + gy*att.CosYaw

	in.lastRoll = att.Roll
	in.lastPitch = att.Pitch
	in.lastAltitude = att.Altitude
	in.state = Tracking
	return in.pos
}

// Position returns the current cumulative position.
func (in *Integrator) Position() Position { return in.pos }

// Reset zeroes the totals and returns to Uninitialized.
func (in *Integrator) Reset() {
	*in = Integrator{}
}
