// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/relabs-tech/optical_flow/internal/config"
	"github.com/relabs-tech/optical_flow/internal/flow"
	"github.com/relabs-tech/optical_flow/internal/logging"
	"github.com/relabs-tech/optical_flow/internal/nav"
	"github.com/relabs-tech/optical_flow/internal/orientation"
	"github.com/relabs-tech/optical_flow/internal/scheduler"
	"github.com/relabs-tech/optical_flow/internal/sensors"
	"github.com/relabs-tech/optical_flow/internal/store"
	"github.com/relabs-tech/optical_flow/internal/telemetry"
)

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// AttitudeSampler supplies the integrator input once per step.
type AttitudeSampler interface {
	Sample() (flow.AttitudeSample, orientation.Pose, error)
}

// Recorder persists telemetry. *store.DB satisfies it.
type Recorder interface {
	StartSession(ctx context.Context, sensorID, model, notes string, at time.Time) (string, error)
	EndSession(ctx context.Context, id string, at time.Time) error
	RecordPosition(ctx context.Context, sessionID string, m telemetry.FlowMessage) error
}

type mqttPublisher struct {
	client mqtt.Client
}

func (p mqttPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, false, payload)
	token.Wait()
	return token.Error()
}

// FlowProducer runs the integration path for every sensor in a registry and
// publishes the result. The sampling path is driven separately by the
// scheduler.
type FlowProducer struct {
	registry *flow.Registry
	nav      AttitudeSampler
	pub      Publisher
	rec      Recorder
	logger   *zap.SugaredLogger
	clock    clock.Clock

	mu       sync.Mutex
	topic    string
	interval time.Duration
	sessions map[string]string
	samples  map[string]uint64
	navWarn  bool
	failing  map[string]*updateFailure
}

// updateFailure throttles the log of a sensor whose Update keeps failing.
type updateFailure struct {
	warn       *rate.Limiter
	suppressed int
}

// NewFlowProducer wires the integration loop. rec may be nil.
func NewFlowProducer(cfg *config.Config, registry *flow.Registry, att AttitudeSampler, pub Publisher, rec Recorder, clk clock.Clock, logger *zap.SugaredLogger) *FlowProducer {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &FlowProducer{
		registry: registry,
		nav:      att,
		pub:      pub,
		rec:      rec,
		logger:   logger,
		clock:    clk,
		topic:    cfg.TopicFlow,
		interval: time.Duration(cfg.UpdateInterval) * time.Millisecond,
		sessions: make(map[string]string),
		samples:  make(map[string]uint64),
		failing:  make(map[string]*updateFailure),
	}
}

// StartRecording opens one recorder session per registered sensor.
func (p *FlowProducer) StartRecording(ctx context.Context, notes string) error {
	if p.rec == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.registry.Sensors() {
		id, err := p.rec.StartSession(ctx, s.ID(), s.Backend().Model(), notes, p.clock.Now())
		if err != nil {
			return err
		}
		p.sessions[s.ID()] = id
		p.logger.Infof("producer: recording %s as session %s", s.ID(), id)
	}
	return nil
}

// StopRecording closes every open session.
func (p *FlowProducer) StopRecording(ctx context.Context) error {
	if p.rec == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	for sensorID, id := range p.sessions {
		err = multierr.Append(err, p.rec.EndSession(ctx, id, p.clock.Now()))
		delete(p.sessions, sensorID)
	}
	return err
}

// Step runs one integration for every sensor and publishes the results.
func (p *FlowProducer) Step(ctx context.Context) []telemetry.FlowMessage {
	att, pose, err := p.nav.Sample()
	if err != nil {
		// flow keeps accumulating in the snapshots until nav is ready
		p.mu.Lock()
		if !p.navWarn {
			p.logger.Warnf("producer: waiting for attitude: %v", err)
			p.navWarn = true
		}
		p.mu.Unlock()
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.navWarn = false

	var out []telemetry.FlowMessage
	for _, s := range p.registry.Sensors() {
		pos, err := s.Update(att)
		if err != nil {
			p.updateFailed(s.ID(), err)
			continue
		}
		if _, ok := p.failing[s.ID()]; ok {
			delete(p.failing, s.ID())
			p.logger.Infof("producer: %s updating again", s.ID())
		}
		snap := s.Snapshot()
		if snap.Seq == p.samples[s.ID()] {
			continue
		}
		p.samples[s.ID()] = snap.Seq

		msg := telemetry.FlowMessage{
			SensorID:   s.ID(),
			Model:      s.Backend().Model(),
			Timestamp:  p.clock.Now(),
			State:      s.State().String(),
			Position:   pos,
			Pose:       pose,
			Altitude:   att.Altitude,
			Samples:    snap.Seq,
			ReadErrors: s.ReadErrors(),
		}
		out = append(out, msg)

		if payload, err := json.Marshal(msg); err != nil {
			p.logger.Errorf("producer: marshal: %v", err)
		} else if err := p.pub.Publish(p.topic, payload); err != nil {
			p.logger.Warnf("producer: publish %s: %v", p.topic, err)
		}

		if id, ok := p.sessions[s.ID()]; ok {
			if err := p.rec.RecordPosition(ctx, id, msg); err != nil {
				p.logger.Warnf("producer: %v", err)
			}
		}
	}
	return out
}

// updateFailed logs a failed update at most once every 5 s per sensor.
// Callers hold p.mu.
func (p *FlowProducer) updateFailed(id string, err error) {
	f, ok := p.failing[id]
	if !ok {
		f = &updateFailure{warn: rate.NewLimiter(rate.Every(5*time.Second), 1)}
		p.failing[id] = f
	}
	if !f.warn.Allow() {
		f.suppressed++
		return
	}
	if f.suppressed > 0 {
		p.logger.Errorf("producer: %v (%d more since last report)", err, f.suppressed)
	} else {
		p.logger.Errorf("producer: %v", err)
	}
	f.suppressed = 0
}

// HandleReset resets the sensor named in payload, or all of them.
func (p *FlowProducer) HandleReset(payload []byte) error {
	var cmd telemetry.ResetCommand
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	if cmd.SensorID != "" {
		s, ok := p.registry.Get(cmd.SensorID)
		if !ok {
			return fmt.Errorf("reset: unknown sensor %q", cmd.SensorID)
		}
		s.Reset()
		return nil
	}
	for _, s := range p.registry.Sensors() {
		s.Reset()
	}
	return nil
}

// ApplyConfig pushes the runtime-tunable settings of cfg to the sensors.
func (p *FlowProducer) ApplyConfig(cfg *config.Config) error {
	var err error
	sc := sensors.DefaultSensorConfig(cfg)
	for _, s := range p.registry.Sensors() {
		s.SetOrientation(sc.Orientation)
		if s.FieldOfView() != sc.FieldOfView {
			err = multierr.Append(err, s.SetFieldOfView(sc.FieldOfView))
		}
	}
	p.mu.Lock()
	p.topic = cfg.TopicFlow
	p.mu.Unlock()
	if err == nil {
		p.logger.Infof("producer: orientation=%s fov=%.4f rad", sc.Orientation, sc.FieldOfView)
	}
	return err
}

// Run calls Step every update interval until ctx is done.
func (p *FlowProducer) Run(ctx context.Context) {
	ticker := p.clock.Ticker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Step(ctx)
		}
	}
}

// RunFlowProducer is the flow_producer command: sensor sampling on the
// scheduler, integration every UPDATE_INTERVAL, telemetry on MQTT.
func RunFlowProducer(configPath string) error {
	cfg := config.Get()
	logger, flush := logging.MustNew("producer", cfg.LogLevel, cfg.LogFile)
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- MQTT ---
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDProducer).
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect: %w", token.Error())
	}
	defer client.Disconnect(250)
	logger.Infof("producer: connected to MQTT broker at %s", cfg.MQTTBroker)

	// --- flow sensor ---
	backend, err := sensors.NewFlowBackend(cfg, logger)
	if err != nil {
		return err
	}
	sensor, err := flow.NewSensor(cfg.FlowSensorID, backend, flow.Options{
		Config:   sensors.DefaultSensorConfig(cfg),
		BaseHz:   cfg.BaseTickHz,
		SampleHz: cfg.FlowSampleHz,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := sensor.Init(flow.InitOptions{AutoInit: true, Bus: &sync.Mutex{}}); err != nil {
		return err
	}
	registry := flow.NewRegistry()
	if err := registry.Add(sensor); err != nil {
		return err
	}

	// --- navigation inputs ---
	assembler, err := nav.Build(ctx, cfg, client, logger)
	if err != nil {
		return err
	}

	// --- recorder ---
	var rec Recorder
	if cfg.RecordDBPath != "" {
		db, err := store.Open(cfg.RecordDBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		rec = db
	}

	producer := NewFlowProducer(cfg, registry, assembler, mqttPublisher{client}, rec, nil, logger)
	if err := producer.StartRecording(ctx, fmt.Sprintf("%s %s", cfg.FlowSensorModel, cfg.FlowOrientation)); err != nil {
		return err
	}
	defer func() {
		if err := producer.StopRecording(context.Background()); err != nil {
			logger.Warnf("producer: %v", err)
		}
	}()

	// --- reset command ---
	if cfg.TopicFlowReset != "" {
		token := client.Subscribe(cfg.TopicFlowReset, 0, func(_ mqtt.Client, msg mqtt.Message) {
			if err := producer.HandleReset(msg.Payload()); err != nil {
				logger.Warnf("producer: %v", err)
				return
			}
			logger.Info("producer: reset by command")
		})
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", cfg.TopicFlowReset, token.Error())
		}
	}

	// --- config hot reload ---
	go func() {
		err := config.Watch(ctx, configPath, logger, func(c *config.Config) {
			if err := producer.ApplyConfig(c); err != nil {
				logger.Warnf("producer: config not applied: %v", err)
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warnf("producer: %v", err)
		}
	}()

	// --- sampling ---
	sched, err := scheduler.New(nil, cfg.BaseTickHz, logger)
	if err != nil {
		return err
	}
	registry.Attach(sched)
	sched.Start(ctx)
	defer sched.Stop()

	logger.Infof("producer: sampling %s at %d Hz, integrating every %d ms", cfg.FlowSensorModel, cfg.FlowSampleHz, cfg.UpdateInterval)
	producer.Run(ctx)
	logger.Info("producer: shutting down")
	return nil
}
