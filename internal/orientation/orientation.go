package orientation

import (
	"errors"
	"math"

	"github.com/relabs-tech/optical_flow/internal/flow"
)

// ErrNoPose is returned by sources that have not received a pose yet.
var ErrNoPose = errors.New("no pose available yet")

// Pose is the vehicle orientation in degrees.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Source is anything that can provide poses over time.
type Source interface {
	Next() (Pose, error)
}

// ComputePoseFromAccel computes roll and pitch from accelerometer data only.
// Yaw is 0.
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
func ComputePoseFromAccel(ax, ay, az float64) Pose {
	rollRad := math.Atan2(ay, az)
	pitchRad := math.Atan2(-ax, math.Sqrt(ay*ay+az*az))

	return Pose{
		Roll:  rollRad * 180.0 / math.Pi,
		Pitch: pitchRad * 180.0 / math.Pi,
	}
}

// Attitude converts a pose and an altitude in meters to the integrator's
// input. Yaw is pre-reduced to cos/sin so the hot path does no trig.
func (p Pose) Attitude(altitude float64) flow.AttitudeSample {
	yaw := p.Yaw * math.Pi / 180.0
	return flow.AttitudeSample{
		Roll:     p.Roll * math.Pi / 180.0,
		Pitch:    p.Pitch * math.Pi / 180.0,
		CosYaw:   math.Cos(yaw),
		SinYaw:   math.Sin(yaw),
		Altitude: altitude,
	}
}

// wrapDegrees maps an angle to [0, 360).
func wrapDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}
