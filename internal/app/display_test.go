package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/optical_flow/internal/flow"
	"github.com/relabs-tech/optical_flow/internal/telemetry"
)

func TestRenderFlowFrameQualityBar(t *testing.T) {
	m := telemetry.FlowMessage{
		SensorID: "flow0",
		State:    flow.Tracking.String(),
		Position: flow.Position{Quality: 128},
	}
	img := renderFlowFrame(m, true)

	assert.Equal(t, image1bit.On, img.BitAt(0, displayH-1))
	assert.Equal(t, image1bit.On, img.BitAt(63, displayH-2))
	assert.Equal(t, image1bit.Off, img.BitAt(64, displayH-1))
}

func TestRenderFlowFrameWaiting(t *testing.T) {
	img := renderFlowFrame(telemetry.FlowMessage{}, false)
	for x := 0; x < displayW; x++ {
		assert.Equal(t, image1bit.Off, img.BitAt(x, displayH-1))
	}

	lit := 0
	for _, b := range img.Pix {
		if b != 0 {
			lit++
		}
	}
	assert.Positive(t, lit)
}
