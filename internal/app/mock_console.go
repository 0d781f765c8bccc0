// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/optical_flow/internal/config"
	"github.com/relabs-tech/optical_flow/internal/flow"
	"github.com/relabs-tech/optical_flow/internal/logging"
	"github.com/relabs-tech/optical_flow/internal/nav"
	"github.com/relabs-tech/optical_flow/internal/orientation"
	"github.com/relabs-tech/optical_flow/internal/scheduler"
	"github.com/relabs-tech/optical_flow/internal/sensors"
	"github.com/relabs-tech/optical_flow/internal/telemetry"
)

// consolePublisher prints flow messages instead of publishing them.
type consolePublisher struct {
	w io.Writer
}

func (p consolePublisher) Publish(_ string, payload []byte) error {
	var m telemetry.FlowMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return err
	}
	_, err := fmt.Fprintln(p.w, FormatFlowLine(m))
	return err
}

// RunMockConsole runs the whole pipeline in process on a simulated sensor,
// a simulated attitude and the fixed altitude, printing every update.
func RunMockConsole() error {
	cfg := config.Get()
	logger, flush := logging.MustNew("mock_console", cfg.LogLevel, cfg.LogFile)
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend := sensors.NewMock(cfg.MockFlowSpeed, cfg.MockFlowQuality)
	sensor, err := flow.NewSensor(cfg.FlowSensorID, backend, flow.Options{
		Config:   sensors.DefaultSensorConfig(cfg),
		BaseHz:   cfg.BaseTickHz,
		SampleHz: cfg.FlowSampleHz,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := sensor.Init(flow.InitOptions{}); err != nil {
		return err
	}
	registry := flow.NewRegistry()
	if err := registry.Add(sensor); err != nil {
		return err
	}

	assembler := nav.NewAssembler(orientation.NewMockSource(nil), nav.Fixed(cfg.FixedAltitude), nil, logger)
	producer := NewFlowProducer(cfg, registry, assembler, consolePublisher{os.Stdout}, nil, nil, logger)

	sched, err := scheduler.New(nil, cfg.BaseTickHz, logger)
	if err != nil {
		return err
	}
	registry.Attach(sched)
	sched.Start(ctx)
	defer sched.Stop()

	producer.Run(ctx)
	return nil
}
