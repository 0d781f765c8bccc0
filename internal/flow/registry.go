// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package flow

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Registry holds every attached flow sensor by id. Each sensor owns its own
// rate gate and configuration. Tick reads an immutable copy of the sensor
// list so the scheduler never waits on Add or Remove.
type Registry struct {
	mu      sync.Mutex
	byID    map[string]*Sensor
	sensors atomic.Pointer[[]*Sensor]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{byID: make(map[string]*Sensor)}
	r.sensors.Store(&[]*Sensor{})
	return r
}

// Add registers s under its id.
func (r *Registry) Add(s *Sensor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[s.ID()]; ok {
		return fmt.Errorf("flow sensor %q already registered", s.ID())
	}
	r.byID[s.ID()] = s
	r.publish()
	return nil
}

// Remove drops the sensor with the given id.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	r.publish()
	return true
}

// publish must be called with mu held.
func (r *Registry) publish() {
	old := *r.sensors.Load()
	next := make([]*Sensor, 0, len(r.byID))
	// keep insertion order for the survivors
	for _, s := range old {
		if r.byID[s.ID()] == s {
			next = append(next, s)
		}
	}
	for _, s := range r.byID {
		found := false
		for _, n := range next {
			if n == s {
				found = true
				break
			}
		}
		if !found {
			next = append(next, s)
		}
	}
	r.sensors.Store(&next)
}

// Get looks up a sensor.
func (r *Registry) Get(id string) (*Sensor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	return s, ok
}

// Sensors returns the registered sensors in registration order.
func (r *Registry) Sensors() []*Sensor {
	return append([]*Sensor(nil), *r.sensors.Load()...)
}

// Tick forwards one base tick to every sensor and returns how many of them
// published a new sample.
func (r *Registry) Tick(now time.Time) int {
	n := 0
	for _, s := range *r.sensors.Load() {
		if s.Tick(now) {
			n++
		}
	}
	return n
}

// Attach registers the registry's Tick with a scheduler.
func (r *Registry) Attach(sched Scheduler) {
	sched.Register(func(now time.Time) { r.Tick(now) })
}
