// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

// Complementary blends gyro-integrated angles with the accelerometer tilt.
// Yaw has no absolute reference and is gyro only.
type Complementary struct {
	// Alpha is the gyro weight, 0.98 is a sensible start.
	Alpha float64

	pose   Pose
	primed bool
}

// NewComplementary returns a filter with gyro weight alpha.
func NewComplementary(alpha float64) *Complementary {
	return &Complementary{Alpha: alpha}
}

// Update folds in one IMU reading. accel is the accelerometer-only tilt,
// rates are gyro rates in degrees per second, dt is in seconds. The first
// call adopts the accelerometer tilt directly.
func (c *Complementary) Update(accel Pose, rollRate, pitchRate, yawRate, dt float64) Pose {
	if !c.primed {
		c.pose = Pose{Roll: accel.Roll, Pitch: accel.Pitch}
		c.primed = true
		return c.pose
	}
	c.pose.Roll = c.Alpha*(c.pose.Roll+rollRate*dt) + (1-c.Alpha)*accel.Roll
	c.pose.Pitch = c.Alpha*(c.pose.Pitch+pitchRate*dt) + (1-c.Alpha)*accel.Pitch
	c.pose.Yaw = wrapDegrees(c.pose.Yaw + yawRate*dt)
	return c.pose
}

// Pose returns the last estimate.
func (c *Complementary) Pose() Pose { return c.pose }
