// Package telemetry holds the JSON payloads exchanged over MQTT and the web
// socket.
package telemetry

import (
	"time"

	"github.com/relabs-tech/optical_flow/internal/flow"
	"github.com/relabs-tech/optical_flow/internal/orientation"
)

// FlowMessage is published on TOPIC_FLOW after every integration step.
type FlowMessage struct {
	SensorID   string           `json:"sensor_id"`
	Model      string           `json:"model"`
	Timestamp  time.Time        `json:"timestamp"`
	State      string           `json:"state"`
	Position   flow.Position    `json:"position"`
	Pose       orientation.Pose `json:"pose"` // degrees
	Altitude   float64          `json:"altitude_m"`
	Samples    uint64           `json:"samples"` // sensor reads since start
	ReadErrors uint64           `json:"read_errors"`
}

// ResetCommand is the optional payload on TOPIC_FLOW_RESET. An empty
// payload or empty SensorID resets every sensor.
type ResetCommand struct {
	SensorID string `json:"sensor_id,omitempty"`
}
