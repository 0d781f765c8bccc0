package config

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/relabs-tech/optical_flow/internal/flow"
)

// Attitude sources.
const (
	AttitudeIMU  = "imu"
	AttitudeMQTT = "mqtt"
	AttitudeMock = "mock"
)

// Altitude sources.
const (
	AltitudeBMP   = "bmp"
	AltitudeGPS   = "gps"
	AltitudeFixed = "fixed"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker           string
	MQTTClientIDProducer string
	MQTTClientIDConsole  string
	MQTTClientIDWeb      string
	MQTTClientIDDisplay  string

	// Topics
	TopicFlow      string // flow telemetry published by the producer
	TopicFlowReset string // any message resets the integrator
	TopicPose      string // orientation input when ATTITUDE_SOURCE=mqtt

	// Flow sensor
	FlowSensorID       string
	FlowSensorModel    string // "adns3080" or "mock"
	FlowSPIDevice      string
	FlowCSPin          string // GPIO driving NCS; held low across each transfer
	FlowResetPin       string
	FlowSPISpeedHz     int
	FlowHighResolution bool
	FlowOrientation    flow.Rotation
	FlowFieldOfView    float64 // radians, 0 = model default
	FlowNumPixels      int     // 0 = model default
	FlowScaler         float64 // 0 = model default

	// Mock sensor
	MockFlowSpeed   float64 // counts per second
	MockFlowQuality int

	// Timing
	BaseTickHz     int // scheduler rate
	FlowSampleHz   int // sensor read rate, must divide BaseTickHz
	UpdateInterval int // integration period, milliseconds

	// Navigation inputs
	AttitudeSource string
	AltitudeSource string
	FixedAltitude  float64 // meters
	SeaLevelHPa    float64

	// IMU Hardware
	IMUSPIDevice string
	IMUCSPin     string

	// BMP Hardware
	BMPSPIDevice string

	// GPS
	GPSSerialPort string
	GPSBaudRate   int

	// Web Server
	WebServerPort int

	// Register debug
	RegisterDebugPort int

	// Display
	DisplayI2CBus         string
	DisplayI2CAddr        uint16
	DisplayUpdateInterval int // milliseconds

	// Recorder
	RecordDBPath string // empty disables recording

	// Logging
	LogLevel string
	LogFile  string // empty logs to stderr only
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal, Get and Replace.
//   - configOnce: ensures InitGlobal() only runs once.
//   - configMu: RWMutex, write lock for init/replace, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Defaults returns a Config with every optional value set.
func Defaults() *Config {
	return &Config{
		MQTTClientIDProducer:  "flow-producer",
		MQTTClientIDConsole:   "flow-console",
		MQTTClientIDWeb:       "flow-web",
		MQTTClientIDDisplay:   "flow-display",
		TopicFlow:             "inertial/flow",
		TopicFlowReset:        "inertial/flow/reset",
		TopicPose:             "inertial/pose/fused",
		FlowSensorID:          "flow0",
		FlowSensorModel:       "adns3080",
		FlowCSPin:             "GPIO7",
		FlowSPISpeedHz:        2000000,
		MockFlowSpeed:         200,
		MockFlowQuality:       60,
		BaseTickHz:            1000,
		FlowSampleHz:          50,
		UpdateInterval:        100,
		AttitudeSource:        AttitudeIMU,
		AltitudeSource:        AltitudeFixed,
		FixedAltitude:         1,
		SeaLevelHPa:           1013.25,
		GPSBaudRate:           9600,
		WebServerPort:         8080,
		RegisterDebugPort:     8081,
		DisplayI2CAddr:        0x3C,
		DisplayUpdateInterval: 250,
		LogLevel:              "info",
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_FLOW":
		c.TopicFlow = value
	case "TOPIC_FLOW_RESET":
		c.TopicFlowReset = value
	case "TOPIC_POSE":
		c.TopicPose = value

	// Flow sensor
	case "FLOW_SENSOR_ID":
		c.FlowSensorID = value
	case "FLOW_SENSOR_MODEL":
		c.FlowSensorModel = strings.ToLower(value)
	case "FLOW_SPI_DEVICE":
		c.FlowSPIDevice = value
	case "FLOW_CS_PIN":
		c.FlowCSPin = value
	case "FLOW_RESET_PIN":
		c.FlowResetPin = value
	case "FLOW_SPI_SPEED_HZ":
		c.FlowSPISpeedHz, err = parseInt(key, value)
	case "FLOW_HIGH_RESOLUTION":
		c.FlowHighResolution, err = strconv.ParseBool(value)
		if err != nil {
			err = fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
	case "FLOW_ORIENTATION":
		c.FlowOrientation, err = flow.ParseRotation(value)
	case "FLOW_FOV":
		c.FlowFieldOfView, err = parseFloat(key, value)
	case "FLOW_NUM_PIXELS":
		c.FlowNumPixels, err = parseInt(key, value)
	case "FLOW_SCALER":
		c.FlowScaler, err = parseFloat(key, value)

	// Mock sensor
	case "MOCK_FLOW_SPEED":
		c.MockFlowSpeed, err = parseFloat(key, value)
	case "MOCK_FLOW_QUALITY":
		c.MockFlowQuality, err = parseInt(key, value)
		if err == nil && (c.MockFlowQuality < 0 || c.MockFlowQuality > 255) {
			err = fmt.Errorf("MOCK_FLOW_QUALITY must be 0-255, got %d", c.MockFlowQuality)
		}

	// Timing
	case "BASE_TICK_HZ":
		c.BaseTickHz, err = parseInt(key, value)
	case "FLOW_SAMPLE_HZ":
		c.FlowSampleHz, err = parseInt(key, value)
	case "UPDATE_INTERVAL":
		c.UpdateInterval, err = parseInt(key, value)

	// Navigation inputs
	case "ATTITUDE_SOURCE":
		c.AttitudeSource = strings.ToLower(value)
	case "ALTITUDE_SOURCE":
		c.AltitudeSource = strings.ToLower(value)
	case "FIXED_ALTITUDE":
		c.FixedAltitude, err = parseFloat(key, value)
	case "SEA_LEVEL_HPA":
		c.SeaLevelHPa, err = parseFloat(key, value)

	// IMU Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value

	// BMP Hardware
	case "BMP_SPI_DEVICE":
		c.BMPSPIDevice = value

	// GPS
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		c.GPSBaudRate, err = parseInt(key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)
	case "REGISTER_DEBUG_PORT":
		c.RegisterDebugPort, err = parseInt(key, value)

	// Display
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_I2C_ADDR":
		addr, perr := strconv.ParseUint(value, 0, 16)
		if perr != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, perr)
		}
		c.DisplayI2CAddr = uint16(addr)
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parseInt(key, value)

	// Recorder
	case "RECORD_DB_PATH":
		c.RecordDBPath = value

	// Logging
	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)
	case "LOG_FILE":
		c.LogFile = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks required fields and ranges. All problems are reported at
// once.
func (c *Config) validate() error {
	var err error
	if c.MQTTBroker == "" {
		err = multierr.Append(err, fmt.Errorf("MQTT_BROKER is required"))
	}
	if c.TopicFlow == "" {
		err = multierr.Append(err, fmt.Errorf("TOPIC_FLOW is required"))
	}

	switch c.FlowSensorModel {
	case "adns3080":
		if c.FlowSPIDevice == "" {
			err = multierr.Append(err, fmt.Errorf("FLOW_SPI_DEVICE is required for adns3080"))
		}
		if c.FlowCSPin == "" {
			err = multierr.Append(err, fmt.Errorf("FLOW_CS_PIN is required for adns3080"))
		}
	case "mock":
	default:
		err = multierr.Append(err, fmt.Errorf("FLOW_SENSOR_MODEL %q unknown (adns3080, mock)", c.FlowSensorModel))
	}

	// zero selects the model default
	if c.FlowFieldOfView < 0 || c.FlowFieldOfView >= math.Pi {
		err = multierr.Append(err, fmt.Errorf("FLOW_FOV must be 0 (model default) or in (0, pi) radians, got %g", c.FlowFieldOfView))
	}
	if c.FlowNumPixels < 0 {
		err = multierr.Append(err, fmt.Errorf("FLOW_NUM_PIXELS must be positive, got %d", c.FlowNumPixels))
	}
	if c.FlowScaler < 0 {
		err = multierr.Append(err, fmt.Errorf("FLOW_SCALER must be positive, got %g", c.FlowScaler))
	}

	if c.BaseTickHz <= 0 {
		err = multierr.Append(err, fmt.Errorf("BASE_TICK_HZ must be positive, got %d", c.BaseTickHz))
	}
	if c.FlowSampleHz <= 0 || (c.BaseTickHz > 0 && c.BaseTickHz%c.FlowSampleHz != 0) {
		err = multierr.Append(err, fmt.Errorf("FLOW_SAMPLE_HZ must divide BASE_TICK_HZ (%d), got %d", c.BaseTickHz, c.FlowSampleHz))
	}
	if c.UpdateInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("UPDATE_INTERVAL must be positive, got %d", c.UpdateInterval))
	}

	switch c.AttitudeSource {
	case AttitudeIMU:
		if c.IMUSPIDevice == "" {
			err = multierr.Append(err, fmt.Errorf("IMU_SPI_DEVICE is required for ATTITUDE_SOURCE=imu"))
		}
	case AttitudeMQTT:
		if c.TopicPose == "" {
			err = multierr.Append(err, fmt.Errorf("TOPIC_POSE is required for ATTITUDE_SOURCE=mqtt"))
		}
	case AttitudeMock:
	default:
		err = multierr.Append(err, fmt.Errorf("ATTITUDE_SOURCE %q unknown (imu, mqtt, mock)", c.AttitudeSource))
	}

	switch c.AltitudeSource {
	case AltitudeBMP:
		if c.BMPSPIDevice == "" {
			err = multierr.Append(err, fmt.Errorf("BMP_SPI_DEVICE is required for ALTITUDE_SOURCE=bmp"))
		}
	case AltitudeGPS:
		if c.GPSSerialPort == "" {
			err = multierr.Append(err, fmt.Errorf("GPS_SERIAL_PORT is required for ALTITUDE_SOURCE=gps"))
		}
		if c.GPSBaudRate == 0 {
			err = multierr.Append(err, fmt.Errorf("GPS_BAUD_RATE is required for ALTITUDE_SOURCE=gps"))
		}
	case AltitudeFixed:
		if c.FixedAltitude < 0 {
			err = multierr.Append(err, fmt.Errorf("FIXED_ALTITUDE must not be negative, got %g", c.FixedAltitude))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("ALTITUDE_SOURCE %q unknown (bmp, gps, fixed)", c.AltitudeSource))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		err = multierr.Append(err, fmt.Errorf("LOG_LEVEL %q unknown (debug, info, warn, error)", c.LogLevel))
	}
	return err
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// Replace swaps the global configuration, used by Watch after a reload.
// Callers holding the previous *Config keep a consistent view.
func Replace(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	globalConfig = cfg
}
