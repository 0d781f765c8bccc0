// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package nav assembles the attitude and altitude the flow integrator needs
// from whatever orientation and altitude sources the vehicle has.
package nav

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/relabs-tech/optical_flow/internal/flow"
	"github.com/relabs-tech/optical_flow/internal/orientation"
)

// ErrNotReady is returned until both sources have produced a value once.
var ErrNotReady = errors.New("nav: sources not ready")

// AltitudeSource yields an altitude in meters.
type AltitudeSource interface {
	Altitude() (float64, error)
}

// CourseSource optionally overrides yaw, e.g. GPS course over ground.
type CourseSource interface {
	Course() (float64, bool)
}

// Fixed is a constant height above ground.
type Fixed float64

// Altitude implements AltitudeSource.
func (f Fixed) Altitude() (float64, error) { return float64(f), nil }

// Relative reports height above the first reading of an absolute source,
// so a barometer or GPS altitude becomes height above the takeoff point.
type Relative struct {
	src AltitudeSource

	mu  sync.Mutex
	ref float64
	set bool
}

// NewRelative wraps src.
func NewRelative(src AltitudeSource) *Relative { return &Relative{src: src} }

// Altitude implements AltitudeSource. Readings below the reference clamp
// to zero.
func (r *Relative) Altitude() (float64, error) {
	a, err := r.src.Altitude()
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.set {
		r.ref, r.set = a, true
	}
	h := a - r.ref
	if h < 0 {
		h = 0
	}
	return h, nil
}

// Rezero makes the next reading the new ground reference.
func (r *Relative) Rezero() {
	r.mu.Lock()
	r.set = false
	r.mu.Unlock()
}

// Assembler samples the sources once per integration step. A failing source
// falls back to its last good value; only a source that never worked is an
// error.
type Assembler struct {
	pose   orientation.Source
	alt    AltitudeSource
	course CourseSource
	logger *zap.SugaredLogger

	lastPose orientation.Pose
	havePose bool
	lastAlt  float64
	haveAlt  bool

	poseErrors atomic.Uint64
	altErrors  atomic.Uint64
}

// NewAssembler combines pose and alt. course may be nil.
func NewAssembler(pose orientation.Source, alt AltitudeSource, course CourseSource, logger *zap.SugaredLogger) *Assembler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Assembler{pose: pose, alt: alt, course: course, logger: logger}
}

// Sample returns the attitude for the next integration step together with
// the pose it came from.
func (a *Assembler) Sample() (flow.AttitudeSample, orientation.Pose, error) {
	p, err := a.pose.Next()
	switch {
	case err == nil:
		a.lastPose, a.havePose = p, true
	case a.havePose:
		if a.poseErrors.Inc() == 1 {
			a.logger.Warnf("nav: pose source failing, holding last pose: %v", err)
		}
		p = a.lastPose
	default:
		return flow.AttitudeSample{}, orientation.Pose{}, fmt.Errorf("%w: pose: %w", ErrNotReady, err)
	}

	if a.course != nil {
		if c, ok := a.course.Course(); ok {
			p.Yaw = c
		}
	}

	h, err := a.alt.Altitude()
	switch {
	case err == nil:
		a.lastAlt, a.haveAlt = h, true
	case a.haveAlt:
		if a.altErrors.Inc() == 1 {
			a.logger.Warnf("nav: altitude source failing, holding %.2f m: %v", a.lastAlt, err)
		}
		h = a.lastAlt
	default:
		return flow.AttitudeSample{}, orientation.Pose{}, fmt.Errorf("%w: altitude: %w", ErrNotReady, err)
	}

	return p.Attitude(h), p, nil
}

// Errors returns how many pose and altitude reads failed after startup.
func (a *Assembler) Errors() (pose, altitude uint64) {
	return a.poseErrors.Load(), a.altErrors.Load()
}
