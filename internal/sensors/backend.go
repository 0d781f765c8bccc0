// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"

	"github.com/relabs-tech/optical_flow/internal/config"
	"github.com/relabs-tech/optical_flow/internal/flow"
)

// Supported flow sensor models.
const (
	ModelADNS3080 = "adns3080"
	ModelMock     = "mock"
)

// NewFlowBackend builds the backend named by cfg.FlowSensorModel.
func NewFlowBackend(cfg *config.Config, logger *zap.SugaredLogger) (flow.Backend, error) {
	switch cfg.FlowSensorModel {
	case ModelADNS3080:
		return NewADNS3080(ADNS3080Opts{
			Name:      cfg.FlowSensorID,
			SPIDevice: cfg.FlowSPIDevice,
			CSPin:     cfg.FlowCSPin,
			ResetPin:  cfg.FlowResetPin,
			Speed:     physic.Frequency(cfg.FlowSPISpeedHz) * physic.Hertz,
			HighRes:   cfg.FlowHighResolution,
			Logger:    logger,
		}), nil
	case ModelMock:
		return NewMock(cfg.MockFlowSpeed, cfg.MockFlowQuality), nil
	default:
		return nil, fmt.Errorf("unknown flow sensor model %q", cfg.FlowSensorModel)
	}
}

// DefaultSensorConfig returns the geometry for a model. Values set in cfg
// override the defaults.
func DefaultSensorConfig(cfg *config.Config) flow.SensorConfig {
	sc := flow.SensorConfig{
		Orientation: cfg.FlowOrientation,
		FieldOfView: ADNS3080FieldOfView,
		NumPixels:   ADNS3080NumPixels,
		Scaler:      ADNS3080Scaler,
	}
	if cfg.FlowFieldOfView != 0 {
		sc.FieldOfView = cfg.FlowFieldOfView
	}
	if cfg.FlowNumPixels != 0 {
		sc.NumPixels = cfg.FlowNumPixels
	}
	if cfg.FlowScaler != 0 {
		sc.Scaler = cfg.FlowScaler
	}
	return sc
}
