// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package flow

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when the sensor geometry cannot produce
	// scale factors. Cached factors are left untouched.
	ErrConfiguration = errors.New("invalid flow sensor configuration")

	// ErrBackendUnavailable is returned when the backend failed to
	// initialise. Sampling stays disabled until Init succeeds.
	ErrBackendUnavailable = errors.New("flow sensor backend unavailable")
)

// ConfigError names the offending field. It matches ErrConfiguration with
// errors.Is.
type ConfigError struct {
	Field string
	Value float64
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s=%g", ErrConfiguration, e.Field, e.Value)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }
