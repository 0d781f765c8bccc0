package orientation

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"
)

// gyroLSBPerDPS is the MPU9250 gyro sensitivity at the default ±250 °/s.
const gyroLSBPerDPS = 131.0

// IMUOpts select the MPU9250 wiring.
type IMUOpts struct {
	Name      string // for logging
	SPIDevice string
	CSPin     string
	Alpha     float64 // complementary filter gyro weight, 0 = 0.98
	Clock     clock.Clock
	Logger    *zap.SugaredLogger
}

type imuSource struct {
	name   string
	imu    *mpu9250.MPU9250
	filter *Complementary
	clock  clock.Clock
	last   time.Time
}

// NewIMUSource initializes an MPU9250 over SPI and returns a Source that
// fuses accelerometer tilt with gyro rates.
func NewIMUSource(opts IMUOpts) (Source, error) {
	name := opts.Name
	if name == "" {
		name = "imu"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%s IMU: periph host init: %w", name, err)
	}

	cs := gpioreg.ByName(opts.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("%s IMU: CS pin %q not found", name, opts.CSPin)
	}

	tr, err := mpu9250.NewSpiTransport(opts.SPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("%s IMU: SPI transport (%s): %w", name, opts.SPIDevice, err)
	}

	imu, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("%s IMU: device creation: %w", name, err)
	}

	if err := imu.Init(); err != nil {
		return nil, fmt.Errorf("%s IMU: initialization: %w", name, err)
	}

	// The vehicle must be still during calibration; a failure only costs
	// gyro bias.
	if err := imu.Calibrate(); err != nil {
		logger.Warnf("%s IMU: calibration failed: %v", name, err)
	} else {
		logger.Infof("%s IMU: calibration complete", name)
	}

	alpha := opts.Alpha
	if alpha == 0 {
		alpha = 0.98
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &imuSource{
		name:   name,
		imu:    imu,
		filter: NewComplementary(alpha),
		clock:  clk,
	}, nil
}

// Next reads accelerometer and gyro once and advances the filter.
func (s *imuSource) Next() (Pose, error) {
	ax, err := s.imu.GetAccelerationX()
	if err != nil {
		return Pose{}, fmt.Errorf("%s IMU acc X: %w", s.name, err)
	}
	ay, err := s.imu.GetAccelerationY()
	if err != nil {
		return Pose{}, fmt.Errorf("%s IMU acc Y: %w", s.name, err)
	}
	az, err := s.imu.GetAccelerationZ()
	if err != nil {
		return Pose{}, fmt.Errorf("%s IMU acc Z: %w", s.name, err)
	}
	gx, err := s.imu.GetRotationX()
	if err != nil {
		return Pose{}, fmt.Errorf("%s IMU gyro X: %w", s.name, err)
	}
	gy, err := s.imu.GetRotationY()
	if err != nil {
		return Pose{}, fmt.Errorf("%s IMU gyro Y: %w", s.name, err)
	}
	gz, err := s.imu.GetRotationZ()
	if err != nil {
		return Pose{}, fmt.Errorf("%s IMU gyro Z: %w", s.name, err)
	}

	now := s.clock.Now()
	dt := 0.0
	if !s.last.IsZero() {
		dt = now.Sub(s.last).Seconds()
	}
	s.last = now

	// Ratios are enough for tilt, no unit conversion needed.
	accel := ComputePoseFromAccel(float64(ax), float64(ay), float64(az))
	return s.filter.Update(accel,
		float64(gx)/gyroLSBPerDPS,
		float64(gy)/gyroLSBPerDPS,
		float64(gz)/gyroLSBPerDPS,
		dt), nil
}
