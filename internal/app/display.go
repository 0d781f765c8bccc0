package app

import (
	"encoding/json"
	"fmt"
	"image"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/optical_flow/internal/config"
	"github.com/relabs-tech/optical_flow/internal/logging"
	"github.com/relabs-tech/optical_flow/internal/telemetry"
)

const (
	displayW = 128
	displayH = 64
)

// ssd1306 drivers talk to 0x3C; addrBus moves every transaction to the
// configured address.
type addrBus struct {
	i2c.Bus
	addr uint16
}

func (b *addrBus) Tx(_ uint16, w, r []byte) error {
	return b.Bus.Tx(b.addr, w, r)
}

// displayState holds the newest message for the render loop.
type displayState struct {
	mu   sync.RWMutex
	msg  telemetry.FlowMessage
	have bool
}

func (s *displayState) set(m telemetry.FlowMessage) {
	s.mu.Lock()
	s.msg = m
	s.have = true
	s.mu.Unlock()
}

func (s *displayState) get() (telemetry.FlowMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.msg, s.have
}

func newFrame() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayW, displayH))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func drawLine(d *font.Drawer, row int, s string) {
	d.Dot = fixed.P(0, 13*(row+1))
	d.DrawString(s)
}

// renderFlowFrame draws the ground offset, quality and altitude of m.
// The bottom two pixel rows hold a quality bar.
func renderFlowFrame(m telemetry.FlowMessage, have bool) *image1bit.VerticalLSB {
	img, d := newFrame()
	if !have {
		drawLine(d, 1, "Optical flow")
		drawLine(d, 2, "Waiting...")
		return img
	}

	status := m.State
	if m.Position.LowConfidence {
		status = "LOW Q"
	}
	drawLine(d, 0, fmt.Sprintf("%s %s", m.SensorID, status))
	drawLine(d, 1, fmt.Sprintf("E:%8.2fm", m.Position.GroundOffsetX))
	drawLine(d, 2, fmt.Sprintf("N:%8.2fm", m.Position.GroundOffsetY))
	drawLine(d, 3, fmt.Sprintf("Q:%3d H:%5.1fm", m.Position.Quality, m.Altitude))

	q := m.Position.Quality
	if q < 0 {
		q = 0
	}
	if q > 255 {
		q = 255
	}
	barW := q * displayW / 256
	for x := 0; x < barW; x++ {
		img.SetBit(x, displayH-1, image1bit.On)
		img.SetBit(x, displayH-2, image1bit.On)
	}
	return img
}

func renderSplash() *image1bit.VerticalLSB {
	img, d := newFrame()
	d.Dot = fixed.P(10, 26)
	d.DrawString("Optical Flow")
	d.Dot = fixed.P(5, 43)
	d.DrawString("Waiting for")
	d.Dot = fixed.P(5, 56)
	d.DrawString("producer...")
	return img
}

// RunDisplay renders the newest flow telemetry on an SSD1306 panel.
func RunDisplay() error {
	cfg := config.Get()
	logger, flush := logging.MustNew("display", cfg.LogLevel, cfg.LogFile)
	defer flush()

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open(cfg.DisplayI2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(&addrBus{Bus: bus, addr: cfg.DisplayI2CAddr}, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	logger.Infof("display: initialized at 0x%02X", cfg.DisplayI2CAddr)

	if err := dev.Draw(dev.Bounds(), renderSplash(), image.Point{}); err != nil {
		logger.Warnf("display: error showing splash: %v", err)
	}

	state := &displayState{}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDDisplay)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	logger.Infof("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicFlow, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var m telemetry.FlowMessage
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			logger.Warnf("display: flow unmarshal error: %v", err)
			return
		}
		if cfg.FlowSensorID != "" && m.SensorID != cfg.FlowSensorID {
			return
		}
		state.set(m)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	logger.Infof("display: subscribed to %s", cfg.TopicFlow)

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		m, have := state.get()
		if err := dev.Draw(dev.Bounds(), renderFlowFrame(m, have), image.Point{}); err != nil {
			logger.Warnf("display: update error: %v", err)
		}
	}
	return nil
}
