// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package flow

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Snapshot is what the sampling path publishes after every accepted read.
// Snapshots are immutable once stored.
type Snapshot struct {
	Seq     uint64        `json:"seq"`
	Raw     RawSample     `json:"raw"`
	Rotated RotatedSample `json:"rotated"`

	// Running totals since the sensor was created. The integration path
	// differences them against what it consumed last time.
	SumDx    float64 `json:"sum_dx"`
	SumDy    float64 `json:"sum_dy"`
	LowCount uint64  `json:"low_count"`
}

// Options configure a Sensor.
type Options struct {
	Config   SensorConfig
	BaseHz   int // tick rate of the scheduler driving Tick
	SampleHz int
	Logger   *zap.SugaredLogger
}

// Sensor runs the full pipeline for one backend. Tick is the sampling path
// and is meant for the scheduler goroutine; Update and the setters belong to
// the integration path. One goroutine per path.
type Sensor struct {
	id      string
	backend Backend
	logger  *zap.SugaredLogger

	// sampling path
	gate       *RateGate
	rotator    atomic.Pointer[Rotator]
	enabled    atomic.Bool
	snap       atomic.Pointer[Snapshot]
	readErrors atomic.Uint64

	// integration path
	mu       sync.Mutex
	scale    *ScaleCalculator
	integ    *Integrator
	consumed Snapshot
	pos      atomic.Pointer[Position]
}

// NewSensor validates opts and wires the pipeline. Sampling stays disabled
// until Init succeeds.
func NewSensor(id string, b Backend, opts Options) (*Sensor, error) {
	scale, err := NewScaleCalculator(opts.Config)
	if err != nil {
		return nil, fmt.Errorf("flow %s: %w", id, err)
	}
	gate, err := NewRateGate(opts.BaseHz, opts.SampleHz)
	if err != nil {
		return nil, fmt.Errorf("flow %s: %w", id, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &Sensor{
		id:      id,
		backend: b,
		logger:  logger.With("sensor", id),
		gate:    gate,
		scale:   scale,
		integ:   NewIntegrator(),
	}
	rot := NewRotator(opts.Config.Orientation)
	s.rotator.Store(&rot)
	s.snap.Store(&Snapshot{})
	s.pos.Store(&Position{})
	return s, nil
}

// ID returns the registry key of the sensor.
func (s *Sensor) ID() string { return s.id }

// Backend returns the chip driver, e.g. for register debugging.
func (s *Sensor) Backend() Backend { return s.backend }

// Init initialises the backend and enables sampling on success.
func (s *Sensor) Init(opts InitOptions) error {
	if err := s.backend.Init(opts); err != nil {
		s.enabled.Store(false)
		return fmt.Errorf("flow %s (%s): %w: %w", s.id, s.backend.Model(), ErrBackendUnavailable, err)
	}
	s.enabled.Store(true)
	s.logger.Infof("flow: %s backend ready, sampling every %d ticks", s.backend.Model(), s.gate.Divisor())
	return nil
}

// Enabled reports whether the sampling path is active.
func (s *Sensor) Enabled() bool { return s.enabled.Load() }

// Tick is the scheduler callback. It reads the backend once every gate
// divisor ticks and reports whether a new sample was published.
func (s *Sensor) Tick(now time.Time) bool {
	if !s.enabled.Load() {
		return false
	}
	if !s.gate.Tick() {
		return false
	}
	return s.sample(now)
}

func (s *Sensor) sample(now time.Time) bool {
	raw, ok, err := s.backend.ReadMotion(now)
	if err != nil {
		s.readErrors.Inc()
		s.logger.Debugf("flow: read motion: %v", err)
	}
	if !ok {
		return false
	}
	if raw.Timestamp.IsZero() {
		raw.Timestamp = now
	}

	rot := s.rotator.Load().Apply(raw.RawDx, raw.RawDy)
	prev := s.snap.Load()
	next := &Snapshot{
		Seq:      prev.Seq + 1,
		Raw:      raw,
		Rotated:  rot,
		SumDx:    prev.SumDx + rot.Dx,
		SumDy:    prev.SumDy + rot.Dy,
		LowCount: prev.LowCount,
	}
	if raw.LowConfidence() {
		next.LowCount++
	}
	s.snap.Store(next)
	return true
}

// ReadErrors is the number of failed backend reads so far.
func (s *Sensor) ReadErrors() uint64 { return s.readErrors.Load() }

// Snapshot returns the latest sample published by the sampling path.
func (s *Sensor) Snapshot() Snapshot { return *s.snap.Load() }

// Update integrates all flow sampled since the previous call using att.
// With no new samples the position is returned unchanged and the stored
// attitude is kept, so the next compensation covers the same interval as
// the flow. A configuration error leaves the pending flow unconsumed.
func (s *Sensor) Update(att AttitudeSample) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snap.Load()
	if snap.Seq == s.consumed.Seq {
		return *s.pos.Load(), nil
	}

	s.scale.SetAltitude(att.Altitude)
	f, err := s.scale.Factors()
	if err != nil {
		return *s.pos.Load(), fmt.Errorf("flow %s: %w", s.id, err)
	}

	rot := RotatedSample{
		Dx: snap.SumDx - s.consumed.SumDx,
		Dy: snap.SumDy - s.consumed.SumDy,
	}
	lowQ := snap.LowCount != s.consumed.LowCount
	s.consumed = *snap

	pos := s.integ.Integrate(rot, att, f)
	pos.Dx, pos.Dy = snap.Rotated.Dx, snap.Rotated.Dy
	pos.Quality = snap.Raw.Quality
	pos.LowConfidence = lowQ
	pos.LastUpdate = snap.Raw.Timestamp
	s.pos.Store(&pos)
	return pos, nil
}

// Position returns the last integrated position.
func (s *Sensor) Position() Position { return *s.pos.Load() }

// ScaleFactors returns the cached scale factors.
func (s *Sensor) ScaleFactors() (ScaleFactors, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scale.Factors()
}

// State returns the integrator state.
func (s *Sensor) State() IntegratorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.integ.State()
}

// Reset zeroes the position and drops any flow not yet integrated.
func (s *Sensor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.integ.Reset()
	s.consumed = *s.snap.Load()
	s.pos.Store(&Position{})
	s.logger.Info("flow: position reset")
}

// SetOrientation changes the mounting rotation from the next sample on.
func (s *Sensor) SetOrientation(r Rotation) {
	rot := NewRotator(r)
	s.rotator.Store(&rot)
}

// SetRotationMatrix installs an arbitrary mounting transform.
func (s *Sensor) SetRotationMatrix(m Matrix) {
	rot := NewMatrixRotator(m)
	s.rotator.Store(&rot)
}

// SetFieldOfView changes the field of view and recomputes the scale factors.
func (s *Sensor) SetFieldOfView(fov float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.scale.SetFieldOfView(fov); err != nil {
		return fmt.Errorf("flow %s: %w", s.id, err)
	}
	return nil
}

// FieldOfView returns the configured field of view.
func (s *Sensor) FieldOfView() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scale.FieldOfView()
}
