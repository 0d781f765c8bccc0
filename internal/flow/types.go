// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package flow turns raw optical-flow counts into a ground-frame position
// offset. It owns the rate gate, the mounting rotation, the scale factors and
// the attitude-compensated integrator; sensor chips plug in as Backends.
package flow

import "time"

// LowQualityThreshold is the surface quality below which a sample's x,y
// values should not be trusted.
const LowQualityThreshold = 15

// RawSample is one unrotated reading from the sensor.
type RawSample struct {
	RawDx     int       `json:"raw_dx"`
	RawDy     int       `json:"raw_dy"`
	Quality   int       `json:"quality"`
	Timestamp time.Time `json:"timestamp"`
}

// LowConfidence reports whether the sample's surface quality is below
// LowQualityThreshold. The sample is still integrated.
func (s RawSample) LowConfidence() bool {
	return s.Quality < LowQualityThreshold
}

// RotatedSample is a flow delta in the vehicle body frame.
type RotatedSample struct {
	Dx float64 `json:"dx"`
	Dy float64 `json:"dy"`
}

// SensorConfig describes the sensor geometry and how it is mounted.
type SensorConfig struct {
	Orientation Rotation
	FieldOfView float64 // radians
	NumPixels   int
	Scaler      float64 // sensor units per pixel of apparent motion
}

// AttitudeSample is the vehicle state supplied by the navigation stack on
// every integration call.
type AttitudeSample struct {
	Roll     float64 `json:"roll"`  // radians
	Pitch    float64 `json:"pitch"` // radians
	CosYaw   float64 `json:"cos_yaw"`
	SinYaw   float64 `json:"sin_yaw"`
	Altitude float64 `json:"altitude"`
}

// Position is the cumulative estimate since the last reset.
type Position struct {
	X             int64     `json:"x"`
	Y             int64     `json:"y"`
	Dx            float64   `json:"dx"` // last rotated delta
	Dy            float64   `json:"dy"`
	GroundOffsetX float64   `json:"ground_offset_x"`
	GroundOffsetY float64   `json:"ground_offset_y"`
	Quality       int       `json:"quality"`
	LowConfidence bool      `json:"low_confidence"`
	LastUpdate    time.Time `json:"last_update"`
}
