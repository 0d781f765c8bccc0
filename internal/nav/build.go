// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package nav

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/optical_flow/internal/config"
	"github.com/relabs-tech/optical_flow/internal/gps"
	"github.com/relabs-tech/optical_flow/internal/orientation"
	"github.com/relabs-tech/optical_flow/internal/sensors"
)

// Build wires the sources selected in cfg. client is only used for
// ATTITUDE_SOURCE=mqtt. A GPS receiver, when configured, also supplies the
// course; its reader runs until ctx is done.
func Build(ctx context.Context, cfg *config.Config, client mqtt.Client, logger *zap.SugaredLogger) (*Assembler, error) {
	var (
		pose orientation.Source
		err  error
	)
	switch cfg.AttitudeSource {
	case config.AttitudeIMU:
		pose, err = orientation.NewIMUSource(orientation.IMUOpts{
			Name:      "nav",
			SPIDevice: cfg.IMUSPIDevice,
			CSPin:     cfg.IMUCSPin,
			Logger:    logger,
		})
	case config.AttitudeMQTT:
		pose, err = orientation.NewMQTTSource(client, cfg.TopicPose, logger)
	case config.AttitudeMock:
		pose = orientation.NewMockSource(nil)
	default:
		err = fmt.Errorf("unknown attitude source %q", cfg.AttitudeSource)
	}
	if err != nil {
		return nil, fmt.Errorf("nav: %w", err)
	}

	var tracker *gps.Tracker
	if cfg.GPSSerialPort != "" {
		port, err := gps.OpenSerial(cfg.GPSSerialPort, cfg.GPSBaudRate)
		if err != nil {
			return nil, fmt.Errorf("nav: %w", err)
		}
		tracker = &gps.Tracker{}
		go func() {
			<-ctx.Done()
			port.Close()
		}()
		go func() {
			if err := tracker.Run(ctx, port, logger); err != nil {
				logger.Errorf("nav: %v", err)
			}
		}()
		logger.Infof("nav: GPS on %s at %d baud", cfg.GPSSerialPort, cfg.GPSBaudRate)
	}

	var alt AltitudeSource
	switch cfg.AltitudeSource {
	case config.AltitudeBMP:
		alt = NewRelative(sensors.NewBMP("nav", cfg.BMPSPIDevice, cfg.SeaLevelHPa, logger))
	case config.AltitudeGPS:
		if tracker == nil {
			return nil, fmt.Errorf("nav: ALTITUDE_SOURCE=gps needs GPS_SERIAL_PORT")
		}
		alt = NewRelative(tracker)
	case config.AltitudeFixed:
		alt = Fixed(cfg.FixedAltitude)
	default:
		return nil, fmt.Errorf("nav: unknown altitude source %q", cfg.AltitudeSource)
	}

	var course CourseSource
	if tracker != nil {
		course = tracker
	}
	logger.Infof("nav: attitude=%s altitude=%s", cfg.AttitudeSource, cfg.AltitudeSource)
	return NewAssembler(pose, alt, course, logger), nil
}
