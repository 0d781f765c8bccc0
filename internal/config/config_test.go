package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"

	"github.com/relabs-tech/optical_flow/internal/flow"
)

const validConfig = `# bench setup
MQTT_BROKER=tcp://localhost:1883
TOPIC_FLOW=inertial/flow
FLOW_SENSOR_MODEL=mock
FLOW_ORIENTATION=yaw90
BASE_TICK_HZ=1000
FLOW_SAMPLE_HZ=20
UPDATE_INTERVAL=50
ATTITUDE_SOURCE=mock
ALTITUDE_SOURCE=fixed
FIXED_ALTITUDE=2.5
DISPLAY_I2C_ADDR=0x3D
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "flow_config.txt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, t.TempDir(), validConfig))
	require.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
	assert.Equal(t, "mock", cfg.FlowSensorModel)
	assert.Equal(t, flow.RotationYaw90, cfg.FlowOrientation)
	assert.Equal(t, 20, cfg.FlowSampleHz)
	assert.Equal(t, 50, cfg.UpdateInterval)
	assert.InDelta(t, 2.5, cfg.FixedAltitude, 1e-12)
	assert.Equal(t, uint16(0x3D), cfg.DisplayI2CAddr)
	// untouched keys keep their defaults
	assert.Equal(t, "inertial/flow/reset", cfg.TopicFlowReset)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	_, err := Load(writeConfig(t, t.TempDir(), validConfig+"NOPE=1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	_, err := Load(writeConfig(t, t.TempDir(), validConfig+"JUSTAKEY\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config line")
}

func TestLoadRejectsBadValue(t *testing.T) {
	_, err := Load(writeConfig(t, t.TempDir(), validConfig+"FLOW_ORIENTATION=yaw30\n"))
	assert.Error(t, err)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	body := `FLOW_SENSOR_MODEL=adns3080
BASE_TICK_HZ=1000
FLOW_SAMPLE_HZ=30
ATTITUDE_SOURCE=compass
`
	_, err := Load(writeConfig(t, t.TempDir(), body))
	require.Error(t, err)

	errs := multierr.Errors(err)
	// broker, spi device, sample rate, attitude source
	assert.Len(t, errs, 4)
	assert.Contains(t, err.Error(), "MQTT_BROKER")
	assert.Contains(t, err.Error(), "FLOW_SPI_DEVICE")
	assert.Contains(t, err.Error(), "FLOW_SAMPLE_HZ")
	assert.Contains(t, err.Error(), "ATTITUDE_SOURCE")
}

func TestValidateFieldOfViewRange(t *testing.T) {
	_, err := Load(writeConfig(t, t.TempDir(), validConfig+"FLOW_FOV=3.5\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FLOW_FOV")

	_, err = Load(writeConfig(t, t.TempDir(), validConfig+"FLOW_FOV=3.141592653589793\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model default")

	cfg, err := Load(writeConfig(t, t.TempDir(), validConfig+"FLOW_FOV=0\n"))
	require.NoError(t, err)
	assert.Zero(t, cfg.FlowFieldOfView)
}

func TestValidateChipSelectPin(t *testing.T) {
	hw := validConfig + "FLOW_SENSOR_MODEL=adns3080\nFLOW_SPI_DEVICE=/dev/spidev0.1\n"

	cfg, err := Load(writeConfig(t, t.TempDir(), hw))
	require.NoError(t, err)
	assert.Equal(t, "GPIO7", cfg.FlowCSPin)

	cfg, err = Load(writeConfig(t, t.TempDir(), hw+"FLOW_CS_PIN=GPIO25\n"))
	require.NoError(t, err)
	assert.Equal(t, "GPIO25", cfg.FlowCSPin)

	_, err = Load(writeConfig(t, t.TempDir(), hw+"FLOW_CS_PIN=\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FLOW_CS_PIN")
}

func TestReplace(t *testing.T) {
	old := Get()
	defer Replace(old)

	cfg := Defaults()
	Replace(cfg)
	assert.Same(t, cfg, Get())
}

func TestWatchReloads(t *testing.T) {
	old := Get()
	defer Replace(old)

	dir := t.TempDir()
	path := writeConfig(t, dir, validConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got atomic.Pointer[Config]
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, zaptest.NewLogger(t).Sugar(), func(c *Config) { got.Store(c) })
	}()

	// the watcher registers asynchronously; keep rewriting until it notices
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(validConfig+"FLOW_ORIENTATION=yaw180\n"), 0o644)
		c := got.Load()
		return c != nil && c.FlowOrientation == flow.RotationYaw180
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, flow.RotationYaw180, Get().FlowOrientation)

	cancel()
	require.NoError(t, <-done)
}

func TestWatchKeepsConfigOnInvalidReload(t *testing.T) {
	old := Get()
	defer Replace(old)

	dir := t.TempDir()
	path := writeConfig(t, dir, validConfig)
	valid, err := Load(path)
	require.NoError(t, err)
	Replace(valid)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int64
	go func() {
		_ = Watch(ctx, path, zaptest.NewLogger(t).Sugar(), func(*Config) { calls.Inc() })
	}()

	require.NoError(t, os.WriteFile(path, []byte("BROKEN\n"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, calls.Load())
	assert.Same(t, valid, Get())
}
