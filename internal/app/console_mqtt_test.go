package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/optical_flow/internal/flow"
	"github.com/relabs-tech/optical_flow/internal/telemetry"
)

func TestFormatFlowLine(t *testing.T) {
	m := telemetry.FlowMessage{
		SensorID: "flow0",
		Position: flow.Position{X: 12, Y: -3, GroundOffsetX: 0.25, Quality: 40},
		Altitude: 1.5,
	}
	line := FormatFlowLine(m)
	assert.Contains(t, line, "[FLOW flow0]")
	assert.Contains(t, line, "x=    12")
	assert.Contains(t, line, "E=   0.250m")
	assert.NotContains(t, line, "LOWQ")

	m.Position.LowConfidence = true
	assert.Contains(t, FormatFlowLine(m), "LOWQ")
}
