package app

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/optical_flow/internal/config"
	"github.com/relabs-tech/optical_flow/internal/logging"
	"github.com/relabs-tech/optical_flow/internal/telemetry"
)

// FormatFlowLine renders one telemetry message for the console.
func FormatFlowLine(m telemetry.FlowMessage) string {
	marker := "    "
	if m.Position.LowConfidence {
		marker = "LOWQ"
	}
	return fmt.Sprintf(
		"[FLOW %s] %s x=%6d y=%6d  dx=%7.2f dy=%7.2f  E=%8.3fm N=%8.3fm  q=%3d alt=%6.2fm  R=%6.2f P=%6.2f Y=%6.2f",
		m.SensorID, marker,
		m.Position.X, m.Position.Y, m.Position.Dx, m.Position.Dy,
		m.Position.GroundOffsetX, m.Position.GroundOffsetY,
		m.Position.Quality, m.Altitude,
		m.Pose.Roll, m.Pose.Pitch, m.Pose.Yaw,
	)
}

// RunConsoleMQTT prints every flow message until interrupted.
func RunConsoleMQTT() error {
	cfg := config.Get()
	logger, flush := logging.MustNew("console", cfg.LogLevel, cfg.LogFile)
	defer flush()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	logger.Infof("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	flowToken := client.Subscribe(cfg.TopicFlow, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var m telemetry.FlowMessage
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			logger.Warnf("console: flow unmarshal error: %v", err)
			return
		}
		fmt.Println(FormatFlowLine(m))
	})
	flowToken.Wait()
	if flowToken.Error() != nil {
		return flowToken.Error()
	}
	logger.Infof("console: subscribed to %s", cfg.TopicFlow)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("console: shutting down")
	client.Disconnect(250)
	return nil
}
