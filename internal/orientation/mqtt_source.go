// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// MQTTSource follows a pose topic published by another producer, e.g. the
// fused pose of an inertial computer. Next returns the latest pose.
type MQTTSource struct {
	topic    string
	logger   *zap.SugaredLogger
	latest   atomic.Pointer[Pose]
	received atomic.Uint64
}

// NewMQTTSource subscribes to topic on an already connected client.
func NewMQTTSource(client mqtt.Client, topic string, logger *zap.SugaredLogger) (*MQTTSource, error) {
	s := newMQTTSource(topic, logger)
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if err := s.handle(msg.Payload()); err != nil {
			s.logger.Warnf("pose: %v", err)
		}
	})
	token.Wait()
	if token.Error() != nil {
		return nil, fmt.Errorf("pose: subscribe %s: %w", topic, token.Error())
	}
	s.logger.Infof("pose: subscribed to %s", topic)
	return s, nil
}

func newMQTTSource(topic string, logger *zap.SugaredLogger) *MQTTSource {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MQTTSource{topic: topic, logger: logger}
}

func (s *MQTTSource) handle(payload []byte) error {
	var p Pose
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("unmarshal %s: %w", s.topic, err)
	}
	s.latest.Store(&p)
	s.received.Inc()
	return nil
}

// Next implements Source.
func (s *MQTTSource) Next() (Pose, error) {
	p := s.latest.Load()
	if p == nil {
		return Pose{}, ErrNoPose
	}
	return *p, nil
}

// Received is the number of poses accepted so far.
func (s *MQTTSource) Received() uint64 { return s.received.Load() }
