// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"sync"
	"time"

	"github.com/relabs-tech/optical_flow/internal/flow"
)

// Mock is a simulated flow sensor. It drifts along a slow circle so every
// axis sees motion, and emulates the ADNS-3080 register file so the debug
// tool works on a bench.
type Mock struct {
	// Speed is the flow in counts per second at the circle's tangent.
	Speed float64
	// Quality is reported as SQUAL.
	Quality int

	mu    sync.Mutex
	regs  map[byte]byte
	start time.Time
	last  time.Time
	accX  float64
	accY  float64
}

// NewMock returns a mock sensor moving at speed counts per second.
func NewMock(speed float64, quality int) *Mock {
	return &Mock{Speed: speed, Quality: quality}
}

// Model implements flow.Backend.
func (m *Mock) Model() string { return ModelMock }

// Init implements flow.Backend.
func (m *Mock) Init(flow.InitOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs = map[byte]byte{
		adnsProductID:         adnsProductIDValue,
		adnsRevisionID:        0x01,
		adnsInverseProductID:  ^byte(adnsProductIDValue),
		adnsConfigurationBits: 0x09,
		adnsExtendedConfig:    0x01,
	}
	return nil
}

// ReadRegister implements flow.Backend.
func (m *Mock) ReadRegister(addr byte) (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr == adnsSQUAL {
		return byte(m.Quality), nil
	}
	return m.regs[addr], nil
}

// WriteRegister implements flow.Backend.
func (m *Mock) WriteRegister(addr, value byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.regs == nil {
		m.regs = make(map[byte]byte)
	}
	if addr == adnsMotionClear {
		m.accX, m.accY = 0, 0
		return nil
	}
	m.regs[addr] = value
	return nil
}

// ReadMotion implements flow.Backend.
func (m *Mock) ReadMotion(now time.Time) (flow.RawSample, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.start.IsZero() {
		m.start, m.last = now, now
		return flow.RawSample{Quality: m.Quality, Timestamp: now}, true, nil
	}

	dt := now.Sub(m.last).Seconds()
	m.last = now
	heading := 0.1 * now.Sub(m.start).Seconds()
	m.accX += m.Speed * dt * math.Cos(heading)
	m.accY += m.Speed * dt * math.Sin(heading)

	// whole counts only, like the chip; keep the remainder for next time
	dx := math.Trunc(m.accX)
	dy := math.Trunc(m.accY)
	m.accX -= dx
	m.accY -= dy
	return flow.RawSample{
		RawDx:     int(dx),
		RawDy:     int(dy),
		Quality:   m.Quality,
		Timestamp: now,
	}, true, nil
}
