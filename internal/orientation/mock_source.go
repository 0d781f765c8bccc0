// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
)

type mockSource struct {
	clock clock.Clock
	start time.Time
}

// NewMockSource creates a mock orientation source that gently rocks and
// turns. A nil clock uses the wall clock.
func NewMockSource(clk clock.Clock) Source {
	if clk == nil {
		clk = clock.New()
	}
	return &mockSource{clock: clk, start: clk.Now()}
}

func (m *mockSource) Next() (Pose, error) {
	elapsed := m.clock.Since(m.start).Seconds()

	return Pose{
		Roll:  2 * math.Sin(elapsed),
		Pitch: 1.5 * math.Cos(elapsed*0.7),
		Yaw:   wrapDegrees(elapsed * 6),
	}, nil
}
