// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package flow

import (
	"math"

	"go.uber.org/multierr"
)

// ScaleFactors convert flow counts to angles and ground distance.
type ScaleFactors struct {
	// RadiansPerPixel is the angle subtended by one sensor pixel.
	RadiansPerPixel float64 `json:"radians_per_pixel"`
	// PixelsPerRadian is the flow count produced by one radian of
	// optical-axis rotation.
	PixelsPerRadian float64 `json:"pixels_per_radian"`
	// GroundPerFlow is the horizontal ground distance of one flow count at
	// Altitude, in altitude units.
	GroundPerFlow float64 `json:"ground_per_flow"`
	Altitude      float64 `json:"altitude"`
}

// ScaleCalculator caches ScaleFactors and recomputes them only when one of
// the inputs changes. Not safe for concurrent use.
type ScaleCalculator struct {
	fov       float64
	numPixels int
	scaler    float64
	altitude  float64

	factors ScaleFactors
	valid   bool
	dirty   bool
}

// NewScaleCalculator validates cfg and computes factors at zero altitude.
func NewScaleCalculator(cfg SensorConfig) (*ScaleCalculator, error) {
	c := &ScaleCalculator{
		fov:       cfg.FieldOfView,
		numPixels: cfg.NumPixels,
		scaler:    cfg.Scaler,
		dirty:     true,
	}
	if _, err := c.Factors(); err != nil {
		return nil, err
	}
	return c, nil
}

// SetFieldOfView changes the field of view and recomputes immediately.
func (c *ScaleCalculator) SetFieldOfView(fov float64) error {
	if fov != c.fov {
		c.fov = fov
		c.dirty = true
	}
	_, err := c.Factors()
	return err
}

// SetNumPixels changes the sensor resolution.
func (c *ScaleCalculator) SetNumPixels(n int) error {
	if n != c.numPixels {
		c.numPixels = n
		c.dirty = true
	}
	_, err := c.Factors()
	return err
}

// SetScaler changes the sensor units per pixel.
func (c *ScaleCalculator) SetScaler(s float64) error {
	if s != c.scaler {
		c.scaler = s
		c.dirty = true
	}
	_, err := c.Factors()
	return err
}

// SetAltitude records the current height above ground. Negative values are
// treated as ground level.
func (c *ScaleCalculator) SetAltitude(alt float64) {
	alt = math.Max(alt, 0)
	if alt != c.altitude {
		c.altitude = alt
		c.dirty = true
	}
}

// FieldOfView returns the configured field of view in radians.
func (c *ScaleCalculator) FieldOfView() float64 { return c.fov }

// Factors returns the current scale factors, recomputing them if an input
// changed. On a configuration error the previously cached factors are
// returned alongside the error.
func (c *ScaleCalculator) Factors() (ScaleFactors, error) {
	if !c.dirty {
		if !c.valid {
			return c.factors, c.validate()
		}
		return c.factors, nil
	}
	if err := c.validate(); err != nil {
		return c.factors, err
	}

	// Small-angle approximation: ground distance ≈ altitude × angle.
	radPerPixel := c.fov / float64(c.numPixels)
	c.factors = ScaleFactors{
		RadiansPerPixel: radPerPixel,
		PixelsPerRadian: float64(c.numPixels) * c.scaler / c.fov,
		GroundPerFlow:   c.altitude * radPerPixel / c.scaler,
		Altitude:        c.altitude,
	}
	c.valid = true
	c.dirty = false
	return c.factors, nil
}

func (c *ScaleCalculator) validate() error {
	var err error
	if c.numPixels <= 0 {
		err = multierr.Append(err, &ConfigError{Field: "num_pixels", Value: float64(c.numPixels)})
	}
	if !(c.fov > 0 && c.fov < math.Pi) {
		err = multierr.Append(err, &ConfigError{Field: "field_of_view", Value: c.fov})
	}
	if !(c.scaler > 0) {
		err = multierr.Append(err, &ConfigError{Field: "scaler", Value: c.scaler})
	}
	return err
}
