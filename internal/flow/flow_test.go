package flow

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateGateFiresOnNthTick(t *testing.T) {
	for _, target := range []int{10, 20, 50} {
		gate, err := NewRateGate(1000, target)
		require.NoError(t, err)
		n := 1000 / target

		for i := 1; i < n; i++ {
			assert.False(t, gate.Tick(), "tick %d of %d at %d Hz", i, n, target)
		}
		assert.True(t, gate.Tick(), "tick %d at %d Hz", n, target)
		assert.Equal(t, 0, gate.Count())

		// next window behaves the same
		fired := 0
		for i := 0; i < n; i++ {
			if gate.Tick() {
				fired++
			}
		}
		assert.Equal(t, 1, fired)
	}
}

func TestRateGatePresets(t *testing.T) {
	for hz, want := range map[int]int{10: CallsFor10Hz, 20: CallsFor20Hz, 50: CallsFor50Hz} {
		gate, err := NewRateGate(1000, hz)
		require.NoError(t, err)
		assert.Equal(t, want, gate.Divisor())
	}
}

func TestRateGateRejectsBadRates(t *testing.T) {
	_, err := NewRateGate(1000, 0)
	assert.Error(t, err)
	_, err = NewRateGate(10, 20)
	assert.Error(t, err)
	assert.Equal(t, 1, NewRateGateDivisor(0).Divisor())
}

func TestRateGateReset(t *testing.T) {
	gate := NewRateGateDivisor(3)
	gate.Tick()
	gate.Tick()
	gate.Reset()
	assert.False(t, gate.Tick())
	assert.False(t, gate.Tick())
	assert.True(t, gate.Tick())
}

func TestRotatorVariants(t *testing.T) {
	const rawDx, rawDy = 3, -7
	h := math.Sqrt2 / 2
	x, y := float64(rawDx), float64(rawDy)

	tests := []struct {
		rot    Rotation
		dx, dy float64
	}{
		{RotationNone, x, y},
		{RotationYaw45, h*x - h*y, h*x + h*y},
		{RotationYaw90, -y, x},
		{RotationYaw135, -h*x - h*y, h*x - h*y},
		{RotationYaw180, -x, -y},
		{RotationYaw225, -h*x + h*y, -h*x - h*y},
		{RotationYaw270, y, -x},
		{RotationYaw315, h*x + h*y, -h*x + h*y},
	}
	require.Len(t, tests, len(Rotations))

	for _, tt := range tests {
		t.Run(tt.rot.String(), func(t *testing.T) {
			got := NewRotator(tt.rot).Apply(rawDx, rawDy)
			assert.InDelta(t, tt.dx, got.Dx, 1e-12)
			assert.InDelta(t, tt.dy, got.Dy, 1e-12)
		})
	}
}

func TestRotatorQuarterTurnsExact(t *testing.T) {
	assert.Equal(t, RotatedSample{Dx: 3, Dy: -7}, NewRotator(RotationNone).Apply(3, -7))
	assert.Equal(t, RotatedSample{Dx: 7, Dy: 3}, NewRotator(RotationYaw90).Apply(3, -7))
	assert.Equal(t, RotatedSample{Dx: -3, Dy: 7}, NewRotator(RotationYaw180).Apply(3, -7))
	assert.Equal(t, RotatedSample{Dx: -7, Dy: -3}, NewRotator(RotationYaw270).Apply(3, -7))
}

func TestRotatorMatchesTrigForEveryStep(t *testing.T) {
	for _, r := range Rotations {
		a := float64(r.Degrees()) * math.Pi / 180
		got := NewRotator(r).Apply(10, 4)
		assert.InDelta(t, 10*math.Cos(a)-4*math.Sin(a), got.Dx, 1e-9, r.String())
		assert.InDelta(t, 10*math.Sin(a)+4*math.Cos(a), got.Dy, 1e-9, r.String())
	}
}

func TestMatrixRotator(t *testing.T) {
	m := Matrix{{X: 0, Y: 2}, {X: 1, Y: 0}}
	got := NewMatrixRotator(m).Apply(3, 5)
	assert.Equal(t, RotatedSample{Dx: 10, Dy: 3}, got)
}

func TestParseRotation(t *testing.T) {
	r, err := ParseRotation("yaw90")
	require.NoError(t, err)
	assert.Equal(t, RotationYaw90, r)

	r, err = ParseRotation("270")
	require.NoError(t, err)
	assert.Equal(t, RotationYaw270, r)

	r, err = ParseRotation("-45")
	require.NoError(t, err)
	assert.Equal(t, RotationYaw315, r)

	_, err = ParseRotation("30")
	assert.Error(t, err)
	_, err = ParseRotation("sideways")
	assert.Error(t, err)
}

func testConfig() SensorConfig {
	return SensorConfig{
		Orientation: RotationNone,
		FieldOfView: 0.2618,
		NumPixels:   16,
		Scaler:      1.0,
	}
}

func TestScaleFactors(t *testing.T) {
	c, err := NewScaleCalculator(testConfig())
	require.NoError(t, err)
	c.SetAltitude(100)

	f, err := c.Factors()
	require.NoError(t, err)
	assert.InDelta(t, 0.01636, f.RadiansPerPixel, 1e-5)
	assert.InDelta(t, 16/0.2618, f.PixelsPerRadian, 1e-9)
	assert.InDelta(t, 1.636, f.GroundPerFlow, 1e-3)
	assert.Equal(t, 100.0, f.Altitude)
}

func TestScaleNegativeAltitudeClamps(t *testing.T) {
	c, err := NewScaleCalculator(testConfig())
	require.NoError(t, err)
	c.SetAltitude(-3)
	f, err := c.Factors()
	require.NoError(t, err)
	assert.Zero(t, f.GroundPerFlow)
}

func TestScaleSetFieldOfViewIdempotent(t *testing.T) {
	c, err := NewScaleCalculator(testConfig())
	require.NoError(t, err)
	c.SetAltitude(50)

	require.NoError(t, c.SetFieldOfView(0.3))
	first, err := c.Factors()
	require.NoError(t, err)
	require.NoError(t, c.SetFieldOfView(0.3))
	second, err := c.Factors()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestScaleConfigurationErrors(t *testing.T) {
	_, err := NewScaleCalculator(SensorConfig{FieldOfView: 0, NumPixels: 16, Scaler: 1})
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = NewScaleCalculator(SensorConfig{FieldOfView: math.Pi, NumPixels: 16, Scaler: 1})
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = NewScaleCalculator(SensorConfig{FieldOfView: 0.2, NumPixels: 0, Scaler: 1})
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = NewScaleCalculator(SensorConfig{FieldOfView: 0.2, NumPixels: 16, Scaler: -1})
	assert.ErrorIs(t, err, ErrConfiguration)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "scaler", cfgErr.Field)
}

func TestScaleErrorKeepsCachedFactors(t *testing.T) {
	c, err := NewScaleCalculator(testConfig())
	require.NoError(t, err)
	c.SetAltitude(100)
	good, err := c.Factors()
	require.NoError(t, err)

	err = c.SetFieldOfView(-1)
	require.ErrorIs(t, err, ErrConfiguration)
	cached, err := c.Factors()
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, good, cached)

	require.NoError(t, c.SetFieldOfView(0.2618))
	again, err := c.Factors()
	require.NoError(t, err)
	assert.Equal(t, good, again)
}

func level(alt float64) AttitudeSample {
	return AttitudeSample{CosYaw: 1, SinYaw: 0, Altitude: alt}
}

func TestIntegratorNoAngularChange(t *testing.T) {
	c, err := NewScaleCalculator(testConfig())
	require.NoError(t, err)
	c.SetAltitude(100)
	f, err := c.Factors()
	require.NoError(t, err)

	in := NewIntegrator()
	assert.Equal(t, Uninitialized, in.State())

	att := AttitudeSample{Roll: 0.1, Pitch: -0.05, CosYaw: 1, Altitude: 100}
	in.Integrate(RotatedSample{Dx: 2}, att, f)
	assert.Equal(t, Tracking, in.State())

	before := in.Position()
	pos := in.Integrate(RotatedSample{Dx: 5, Dy: -3}, att, f)
	assert.InDelta(t, 5*f.GroundPerFlow, pos.GroundOffsetX-before.GroundOffsetX, 1e-12)
	assert.InDelta(t, -3*f.GroundPerFlow, pos.GroundOffsetY-before.GroundOffsetY, 1e-12)
	assert.Equal(t, int64(7), pos.X)
	assert.Equal(t, int64(-3), pos.Y)
}

func TestIntegratorCancelsPureRotation(t *testing.T) {
	c, err := NewScaleCalculator(testConfig())
	require.NoError(t, err)
	c.SetAltitude(100)
	f, err := c.Factors()
	require.NoError(t, err)

	in := NewIntegrator()
	in.Integrate(RotatedSample{}, level(100), f)

	// A roll of dRoll produces dRoll*PixelsPerRadian of apparent x flow and
	// a pitch of dPitch produces -dPitch*PixelsPerRadian of y flow.
	dRoll, dPitch := 0.02, 0.01
	att := AttitudeSample{Roll: dRoll, Pitch: dPitch, CosYaw: 1, Altitude: 100}
	pos := in.Integrate(RotatedSample{
		Dx: dRoll * f.PixelsPerRadian,
		Dy: -dPitch * f.PixelsPerRadian,
	}, att, f)
	assert.InDelta(t, 0, pos.GroundOffsetX, 1e-9)
	assert.InDelta(t, 0, pos.GroundOffsetY, 1e-9)
}

func TestIntegratorFirstCallSkipsCompensation(t *testing.T) {
	c, err := NewScaleCalculator(testConfig())
	require.NoError(t, err)
	c.SetAltitude(100)
	f, err := c.Factors()
	require.NoError(t, err)

	in := NewIntegrator()
	att := AttitudeSample{Roll: 0.5, Pitch: 0.5, CosYaw: 1, Altitude: 100}
	pos := in.Integrate(RotatedSample{Dx: 1}, att, f)
	assert.InDelta(t, f.GroundPerFlow, pos.GroundOffsetX, 1e-12)
}

func TestIntegratorHeadingRotation(t *testing.T) {
	c, err := NewScaleCalculator(testConfig())
	require.NoError(t, err)
	c.SetAltitude(100)
	f, err := c.Factors()
	require.NoError(t, err)

	in := NewIntegrator()
	// heading 90 degrees: body x maps onto world y
	pos := in.Integrate(RotatedSample{Dx: 5}, AttitudeSample{CosYaw: 0, SinYaw: 1, Altitude: 100}, f)
	assert.InDelta(t, 0, pos.GroundOffsetX, 1e-12)
	assert.InDelta(t, 5*f.GroundPerFlow, pos.GroundOffsetY, 1e-12)
}

func TestIntegratorDeterministic(t *testing.T) {
	run := func() []Position {
		c, err := NewScaleCalculator(testConfig())
		require.NoError(t, err)
		in := NewIntegrator()
		var out []Position
		for i := 0; i < 50; i++ {
			yaw := float64(i) * 0.07
			att := AttitudeSample{
				Roll:     0.01 * math.Sin(float64(i)),
				Pitch:    0.02 * math.Cos(float64(i)),
				CosYaw:   math.Cos(yaw),
				SinYaw:   math.Sin(yaw),
				Altitude: 80 + float64(i),
			}
			c.SetAltitude(att.Altitude)
			f, err := c.Factors()
			require.NoError(t, err)
			out = append(out, in.Integrate(RotatedSample{Dx: float64(i % 7), Dy: float64(3 - i%5)}, att, f))
		}
		return out
	}
	a, b := run(), run()
	require.Len(t, b, len(a))
	for i := range a {
		assert.Equal(t, math.Float64bits(a[i].GroundOffsetX), math.Float64bits(b[i].GroundOffsetX))
		assert.Equal(t, math.Float64bits(a[i].GroundOffsetY), math.Float64bits(b[i].GroundOffsetY))
	}
}

func TestIntegratorFractionalTotalsDoNotDrift(t *testing.T) {
	f := ScaleFactors{GroundPerFlow: 1}
	in := NewIntegrator()
	rot := NewRotator(RotationYaw45)
	var pos Position
	for i := 0; i < 1000; i++ {
		pos = in.Integrate(rot.Apply(1, 0), level(1), f)
	}
	assert.Equal(t, int64(math.Round(1000*math.Sqrt2/2)), pos.X)
}

func TestIntegratorReset(t *testing.T) {
	in := NewIntegrator()
	in.Integrate(RotatedSample{Dx: 4}, level(10), ScaleFactors{GroundPerFlow: 1})
	in.Reset()
	assert.Equal(t, Uninitialized, in.State())
	assert.Equal(t, Position{}, in.Position())
}

type fakeBackend struct {
	initErr error
	samples []RawSample
	reads   int
	readErr error
	regs    map[byte]byte
}

func (b *fakeBackend) Model() string { return "fake" }

func (b *fakeBackend) Init(InitOptions) error { return b.initErr }

func (b *fakeBackend) ReadRegister(addr byte) (byte, error) { return b.regs[addr], nil }

func (b *fakeBackend) WriteRegister(addr, value byte) error {
	if b.regs == nil {
		b.regs = make(map[byte]byte)
	}
	b.regs[addr] = value
	return nil
}

func (b *fakeBackend) ReadMotion(now time.Time) (RawSample, bool, error) {
	b.reads++
	if b.readErr != nil {
		return RawSample{}, false, b.readErr
	}
	if len(b.samples) == 0 {
		return RawSample{}, false, nil
	}
	s := b.samples[0]
	b.samples = b.samples[1:]
	s.Timestamp = now
	return s, true, nil
}

func newTestSensor(t *testing.T, b Backend) *Sensor {
	t.Helper()
	s, err := NewSensor("test", b, Options{Config: testConfig(), BaseHz: 1000, SampleHz: 10})
	require.NoError(t, err)
	require.NoError(t, s.Init(InitOptions{AutoInit: true}))
	return s
}

func tickN(s *Sensor, n int) int {
	fired := 0
	now := time.Unix(0, 0)
	for i := 0; i < n; i++ {
		now = now.Add(time.Millisecond)
		if s.Tick(now) {
			fired++
		}
	}
	return fired
}

func TestSensorEndToEnd(t *testing.T) {
	b := &fakeBackend{samples: []RawSample{{RawDx: 5, RawDy: 0, Quality: 100}}}
	s := newTestSensor(t, b)

	assert.Equal(t, 1, tickN(s, CallsFor10Hz))
	assert.Equal(t, 1, b.reads)

	f, err := s.ScaleFactors()
	require.NoError(t, err)
	assert.InDelta(t, 0.01636, f.RadiansPerPixel, 1e-5)

	pos, err := s.Update(level(100))
	require.NoError(t, err)
	assert.InDelta(t, 8.18, pos.GroundOffsetX, 0.01)
	assert.InDelta(t, 0, pos.GroundOffsetY, 1e-12)
	assert.Equal(t, int64(5), pos.X)
	assert.False(t, pos.LowConfidence)
	assert.Equal(t, 100, pos.Quality)
	assert.Equal(t, time.Unix(0, 0).Add(100*time.Millisecond), pos.LastUpdate)
	assert.Equal(t, pos, s.Position())
}

func TestSensorLowQualityStillIntegrates(t *testing.T) {
	b := &fakeBackend{samples: []RawSample{{RawDx: 5, Quality: 10}, {RawDx: 5, Quality: 60}}}
	s := newTestSensor(t, b)

	tickN(s, CallsFor10Hz)
	pos, err := s.Update(level(100))
	require.NoError(t, err)
	assert.True(t, pos.LowConfidence)
	assert.Equal(t, 10, pos.Quality)
	assert.Equal(t, int64(5), pos.X)
	assert.NotZero(t, pos.GroundOffsetX)

	tickN(s, CallsFor10Hz)
	pos, err = s.Update(level(100))
	require.NoError(t, err)
	assert.False(t, pos.LowConfidence)
	assert.Equal(t, int64(10), pos.X)
}

func TestSensorAggregatesSamplesBetweenUpdates(t *testing.T) {
	b := &fakeBackend{samples: []RawSample{{RawDx: 1, Quality: 50}, {RawDx: 2, Quality: 50}, {RawDx: 3, Quality: 50}}}
	s := newTestSensor(t, b)

	assert.Equal(t, 3, tickN(s, 3*CallsFor10Hz))
	pos, err := s.Update(level(100))
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos.X)
	// dx is the newest sample, not the sum integrated this step
	assert.Equal(t, 3.0, pos.Dx)
	assert.Equal(t, 3.0, s.Snapshot().Rotated.Dx)

	// nothing new: unchanged
	again, err := s.Update(level(100))
	require.NoError(t, err)
	assert.Equal(t, pos, again)
}

func TestSensorOrientationAppliesToNextSample(t *testing.T) {
	b := &fakeBackend{samples: []RawSample{{RawDx: 4, Quality: 50}, {RawDx: 4, Quality: 50}}}
	s := newTestSensor(t, b)

	tickN(s, CallsFor10Hz)
	s.SetOrientation(RotationYaw180)
	assert.Equal(t, 4.0, s.Snapshot().Rotated.Dx)

	tickN(s, CallsFor10Hz)
	assert.Equal(t, -4.0, s.Snapshot().Rotated.Dx)

	pos, err := s.Update(level(100))
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos.X)
}

func TestSensorFieldOfViewSetterIdempotent(t *testing.T) {
	b := &fakeBackend{samples: []RawSample{{RawDx: 5, Quality: 50}}}
	s := newTestSensor(t, b)
	tickN(s, CallsFor10Hz)
	pos, err := s.Update(level(100))
	require.NoError(t, err)

	require.NoError(t, s.SetFieldOfView(0.2618))
	f1, err := s.ScaleFactors()
	require.NoError(t, err)
	require.NoError(t, s.SetFieldOfView(0.2618))
	f2, err := s.ScaleFactors()
	require.NoError(t, err)

	assert.Equal(t, f1, f2)
	assert.Equal(t, pos, s.Position())
}

func TestSensorConfigErrorKeepsPendingFlow(t *testing.T) {
	b := &fakeBackend{samples: []RawSample{{RawDx: 5, Quality: 50}}}
	s := newTestSensor(t, b)
	tickN(s, CallsFor10Hz)

	require.ErrorIs(t, s.SetFieldOfView(0), ErrConfiguration)
	_, err := s.Update(level(100))
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, Position{}, s.Position())

	require.NoError(t, s.SetFieldOfView(0.2618))
	pos, err := s.Update(level(100))
	require.NoError(t, err)
	assert.InDelta(t, 8.18, pos.GroundOffsetX, 0.01)
}

func TestSensorInitFailureDisablesSampling(t *testing.T) {
	b := &fakeBackend{initErr: errors.New("no product id")}
	s, err := NewSensor("broken", b, Options{Config: testConfig(), BaseHz: 1000, SampleHz: 50})
	require.NoError(t, err)

	err = s.Init(InitOptions{})
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.False(t, s.Enabled())
	assert.Equal(t, 0, tickN(s, 1000))
	assert.Equal(t, 0, b.reads)
}

func TestSensorReadErrorsCounted(t *testing.T) {
	b := &fakeBackend{readErr: errors.New("bus timeout")}
	s := newTestSensor(t, b)
	assert.Equal(t, 0, tickN(s, 2*CallsFor10Hz))
	assert.Equal(t, uint64(2), s.ReadErrors())
}

func TestSensorReset(t *testing.T) {
	b := &fakeBackend{samples: []RawSample{{RawDx: 5, Quality: 50}, {RawDx: 7, Quality: 50}}}
	s := newTestSensor(t, b)
	tickN(s, CallsFor10Hz)
	_, err := s.Update(level(100))
	require.NoError(t, err)
	assert.Equal(t, Tracking, s.State())

	tickN(s, CallsFor10Hz) // pending flow is dropped by Reset
	s.Reset()
	assert.Equal(t, Uninitialized, s.State())
	assert.Equal(t, Position{}, s.Position())

	pos, err := s.Update(level(100))
	require.NoError(t, err)
	assert.Equal(t, Position{}, pos)
}

func TestNewSensorRejectsBadConfig(t *testing.T) {
	_, err := NewSensor("x", &fakeBackend{}, Options{Config: SensorConfig{}, BaseHz: 1000, SampleHz: 10})
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = NewSensor("x", &fakeBackend{}, Options{Config: testConfig(), BaseHz: 1000, SampleHz: 0})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	a := newTestSensor(t, &fakeBackend{samples: []RawSample{{RawDx: 1, Quality: 50}}})
	b, err := NewSensor("second", &fakeBackend{samples: []RawSample{{RawDy: 2, Quality: 50}}},
		Options{Config: testConfig(), BaseHz: 1000, SampleHz: 20})
	require.NoError(t, err)
	require.NoError(t, b.Init(InitOptions{}))

	require.NoError(t, reg.Add(a))
	require.NoError(t, reg.Add(b))
	assert.Error(t, reg.Add(a))

	got, ok := reg.Get("second")
	require.True(t, ok)
	assert.Same(t, b, got)
	assert.Equal(t, []*Sensor{a, b}, reg.Sensors())

	// each sensor keeps its own gate
	now := time.Unix(0, 0)
	fired := 0
	for i := 0; i < CallsFor20Hz; i++ {
		fired += reg.Tick(now)
	}
	assert.Equal(t, 1, fired)
	assert.Equal(t, uint64(1), b.Snapshot().Seq)
	assert.Equal(t, uint64(0), a.Snapshot().Seq)

	assert.True(t, reg.Remove("test"))
	assert.False(t, reg.Remove("test"))
	assert.Equal(t, []*Sensor{b}, reg.Sensors())
}

type recordingScheduler struct{ fns []func(time.Time) }

func (r *recordingScheduler) Register(fn func(time.Time)) { r.fns = append(r.fns, fn) }

func TestRegistryAttach(t *testing.T) {
	reg := NewRegistry()
	s := newTestSensor(t, &fakeBackend{samples: []RawSample{{RawDx: 1, Quality: 50}}})
	require.NoError(t, reg.Add(s))

	sched := &recordingScheduler{}
	reg.Attach(sched)
	require.Len(t, sched.fns, 1)
	for i := 0; i < CallsFor10Hz; i++ {
		sched.fns[0](time.Unix(0, 0))
	}
	assert.Equal(t, uint64(1), s.Snapshot().Seq)
}
