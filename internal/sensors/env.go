package sensors

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/optical_flow/internal/env"
)

// PressureAltitude converts a pressure in hPa to meters above the
// reference pressure seaLevelHPa with the international barometric formula.
func PressureAltitude(pressureHPa, seaLevelHPa float64) float64 {
	return 44330.0 * (1.0 - math.Pow(pressureHPa/seaLevelHPa, 1.0/5.255))
}

// BMP reads a BMP280 over SPI.
type BMP struct {
	name        string
	spiDevice   string
	seaLevelHPa float64
	logger      *zap.SugaredLogger

	once    sync.Once
	initErr error
	dev     *bmxx80.Dev
}

// NewBMP returns a lazily initialised BMP280 reader.
func NewBMP(name, spiDevice string, seaLevelHPa float64, logger *zap.SugaredLogger) *BMP {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if seaLevelHPa == 0 {
		seaLevelHPa = 1013.25
	}
	return &BMP{name: name, spiDevice: spiDevice, seaLevelHPa: seaLevelHPa, logger: logger}
}

func (b *BMP) init() {
	b.once.Do(func() {
		if _, err := host.Init(); err != nil {
			b.initErr = fmt.Errorf("%s BMP: periph host init: %w", b.name, err)
			return
		}

		bus, err := spireg.Open(b.spiDevice)
		if err != nil {
			b.initErr = fmt.Errorf("%s BMP: SPI open (%s): %w", b.name, b.spiDevice, err)
			return
		}

		b.dev, err = bmxx80.NewSPI(bus, &bmxx80.DefaultOpts)
		if err != nil {
			b.initErr = fmt.Errorf("%s BMP: init: %w", b.name, err)
			return
		}
		b.logger.Infof("%s BMP: initialized on %s", b.name, b.spiDevice)
	})
}

// Read returns one temperature and pressure sample.
func (b *BMP) Read() (env.Sample, error) {
	b.init()
	if b.initErr != nil {
		return env.Sample{}, b.initErr
	}

	var e physic.Env
	if err := b.dev.Sense(&e); err != nil {
		return env.Sample{}, fmt.Errorf("%s BMP sense: %w", b.name, err)
	}

	pressurePa := float64(e.Pressure) / float64(physic.Pascal)
	hpa := pressurePa / 100.0
	return env.Sample{
		Source:      b.name,
		Temperature: e.Temperature.Celsius(),
		Pressure:    pressurePa,
		PressureHPa: hpa,
		AltitudeM:   PressureAltitude(hpa, b.seaLevelHPa),
	}, nil
}

// Altitude returns the pressure altitude in meters.
func (b *BMP) Altitude() (float64, error) {
	s, err := b.Read()
	if err != nil {
		return 0, err
	}
	return s.AltitudeM, nil
}
