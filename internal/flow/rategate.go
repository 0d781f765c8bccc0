// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package flow

import "fmt"

// Number of 1 kHz ticks between reads for the common sampling rates.
const (
	CallsFor10Hz = 100
	CallsFor20Hz = 50
	CallsFor50Hz = 20
)

// RateGate throttles a fast tick source down to a sampling rate. It counts
// calls instead of comparing timestamps so it never drifts.
type RateGate struct {
	divisor int
	count   int
}

// NewRateGate returns a gate firing once every baseHz/targetHz ticks.
func NewRateGate(baseHz, targetHz int) (*RateGate, error) {
	if baseHz <= 0 || targetHz <= 0 {
		return nil, fmt.Errorf("rate gate: rates must be positive (base=%d target=%d)", baseHz, targetHz)
	}
	if targetHz > baseHz {
		return nil, fmt.Errorf("rate gate: target %d Hz exceeds base tick %d Hz", targetHz, baseHz)
	}
	return &RateGate{divisor: baseHz / targetHz}, nil
}

// NewRateGateDivisor returns a gate firing once every n ticks.
func NewRateGateDivisor(n int) *RateGate {
	if n < 1 {
		n = 1
	}
	return &RateGate{divisor: n}
}

// Tick records one base tick and reports whether a sample is due.
func (g *RateGate) Tick() bool {
	g.count++
	if g.count >= g.divisor {
		g.count = 0
		return true
	}
	return false
}

// Divisor is the number of ticks per fire.
func (g *RateGate) Divisor() int { return g.divisor }

// Count is the number of ticks since the last fire.
func (g *RateGate) Count() int { return g.count }

// Reset zeroes the counter.
func (g *RateGate) Reset() { g.count = 0 }
