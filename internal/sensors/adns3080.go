// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/optical_flow/internal/flow"
)

// ErrBusBusy is returned when another device holds the shared bus.
var ErrBusBusy = errors.New("spi bus busy")

// ADNS3080Opts configure the ADNS-3080 driver.
type ADNS3080Opts struct {
	Name      string           // for logging
	SPIDevice string           // e.g. "/dev/spidev0.0"
	CSPin     string           // GPIO wired to NCS, e.g. "GPIO7"
	ResetPin  string           // optional GPIO name
	Speed     physic.Frequency // defaults to 2 MHz
	HighRes   bool             // 1600 cpi instead of 400
	Logger    *zap.SugaredLogger
}

// Serial port timing. NCS is driven from a GPIO so it stays low across the
// address-to-data pause.
const (
	tSRAD    = 50 * time.Microsecond // address to data, register read
	tSRADMot = 75 * time.Microsecond // address to data, motion burst
	tSWW     = 50 * time.Microsecond // write to next write or read (tSWW, tSWR)
	tSRR     = time.Microsecond      // read to next transaction (tSRW, tSRR)
)

// ADNS3080 talks to an Avago ADNS-3080 mouse sensor over SPI.
type ADNS3080 struct {
	opts   ADNS3080Opts
	logger *zap.SugaredLogger

	port  spi.Port
	close func() error
	conn  spi.Conn
	cs    gpio.PinOut
	reset gpio.PinOut
	sleep func(time.Duration)

	bus  flow.BusLock
	bus2 flow.BusLock

	overflows uint64
}

// NewADNS3080 returns an uninitialised driver. The SPI port is opened by
// Init.
func NewADNS3080(opts ADNS3080Opts) *ADNS3080 {
	if opts.Speed == 0 {
		opts.Speed = 2 * physic.MegaHertz
	}
	if opts.Name == "" {
		opts.Name = "flow"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ADNS3080{opts: opts, logger: logger, sleep: time.Sleep}
}

// newADNS3080OnPort uses an already opened port and chip select, e.g.
// spitest.Playback and gpiotest.Pin.
func newADNS3080OnPort(port spi.Port, cs gpio.PinOut, opts ADNS3080Opts) *ADNS3080 {
	d := NewADNS3080(opts)
	d.port = port
	d.cs = cs
	return d
}

// Model implements flow.Backend.
func (d *ADNS3080) Model() string { return ModelADNS3080 }

// Init opens the bus, probes the product id and sets the resolution.
func (d *ADNS3080) Init(opts flow.InitOptions) error {
	d.bus = opts.Bus
	d.bus2 = opts.SecondaryBus

	if opts.AutoInit {
		if _, err := host.Init(); err != nil {
			return fmt.Errorf("%s ADNS3080: periph host init: %w", d.opts.Name, err)
		}
	}

	if d.cs == nil {
		if d.opts.CSPin == "" {
			return fmt.Errorf("%s ADNS3080: chip select pin not configured", d.opts.Name)
		}
		pin := gpioreg.ByName(d.opts.CSPin)
		if pin == nil {
			return fmt.Errorf("%s ADNS3080: chip select pin %q not found", d.opts.Name, d.opts.CSPin)
		}
		d.cs = pin
	}
	if err := d.cs.Out(gpio.High); err != nil {
		return fmt.Errorf("%s ADNS3080: chip select: %w", d.opts.Name, err)
	}

	if d.port == nil {
		p, err := spireg.Open(d.opts.SPIDevice)
		if err != nil {
			return fmt.Errorf("%s ADNS3080: SPI open (%s): %w", d.opts.Name, d.opts.SPIDevice, err)
		}
		d.port = p
		d.close = p.Close
	}

	// ports accept a single Connect; re-Init reuses the connection
	if d.conn == nil {
		conn, err := d.port.Connect(d.opts.Speed, spi.Mode3, 8)
		if err != nil {
			return fmt.Errorf("%s ADNS3080: SPI connect: %w", d.opts.Name, err)
		}
		d.conn = conn
	}

	if d.opts.ResetPin != "" {
		pin := gpioreg.ByName(d.opts.ResetPin)
		if pin == nil {
			return fmt.Errorf("%s ADNS3080: reset pin %q not found", d.opts.Name, d.opts.ResetPin)
		}
		d.reset = pin
		if err := d.pulseReset(); err != nil {
			return fmt.Errorf("%s ADNS3080: reset: %w", d.opts.Name, err)
		}
	}

	if err := d.lockWait(); err != nil {
		return fmt.Errorf("%s ADNS3080: %w", d.opts.Name, err)
	}
	defer d.unlock()

	id, err := d.probe()
	if err != nil {
		return fmt.Errorf("%s ADNS3080: %w", d.opts.Name, err)
	}
	d.logger.Infof("%s ADNS3080: product id 0x%02X", d.opts.Name, id)

	cfg, err := d.read(adnsConfigurationBits)
	if err != nil {
		return fmt.Errorf("%s ADNS3080: read configuration: %w", d.opts.Name, err)
	}
	want := cfg &^ adnsResolution1600
	if d.opts.HighRes {
		want |= adnsResolution1600
	}
	if want != cfg {
		if err := d.write(adnsConfigurationBits, want); err != nil {
			return fmt.Errorf("%s ADNS3080: set resolution: %w", d.opts.Name, err)
		}
	}
	cpi := 400
	if d.opts.HighRes {
		cpi = 1600
	}
	d.logger.Infof("%s ADNS3080: resolution %d cpi", d.opts.Name, cpi)
	return nil
}

// probe reads the product id up to three times.
func (d *ADNS3080) probe() (byte, error) {
	var (
		id  byte
		err error
	)
	for i := 0; i < 3; i++ {
		id, err = d.read(adnsProductID)
		if err == nil && id == adnsProductIDValue {
			return id, nil
		}
	}
	if err != nil {
		return 0, fmt.Errorf("read product id: %w", err)
	}
	return id, fmt.Errorf("unexpected product id 0x%02X (want 0x%02X)", id, adnsProductIDValue)
}

func (d *ADNS3080) pulseReset() error {
	if err := d.reset.Out(gpio.High); err != nil {
		return err
	}
	d.sleep(10 * time.Microsecond)
	if err := d.reset.Out(gpio.Low); err != nil {
		return err
	}
	// tIN-RST: wait before the first transaction
	d.sleep(500 * time.Microsecond)
	return nil
}

// ReadRegister implements flow.Backend.
func (d *ADNS3080) ReadRegister(addr byte) (byte, error) {
	if d.conn == nil {
		return 0, fmt.Errorf("%s ADNS3080: not initialised", d.opts.Name)
	}
	if !d.tryLock() {
		return 0, ErrBusBusy
	}
	defer d.unlock()
	return d.read(addr)
}

// WriteRegister implements flow.Backend.
func (d *ADNS3080) WriteRegister(addr, value byte) error {
	if d.conn == nil {
		return fmt.Errorf("%s ADNS3080: not initialised", d.opts.Name)
	}
	if !d.tryLock() {
		return ErrBusBusy
	}
	defer d.unlock()
	return d.write(addr, value)
}

// ReadMotion implements flow.Backend. A busy bus yields no sample and no
// error; the next tick tries again. The motion burst returns motion, delta
// X, delta Y and SQUAL in one transaction.
func (d *ADNS3080) ReadMotion(now time.Time) (flow.RawSample, bool, error) {
	if d.conn == nil {
		return flow.RawSample{}, false, nil
	}
	if !d.tryLock() {
		return flow.RawSample{}, false, nil
	}
	defer d.unlock()

	var buf [4]byte
	if err := d.transfer(adnsMotionBurst, tSRADMot, buf[:]); err != nil {
		return flow.RawSample{}, false, fmt.Errorf("%s ADNS3080 motion burst: %w", d.opts.Name, err)
	}
	motion := buf[0]
	if motion&adnsMotionOverflow != 0 {
		d.overflows++
	}

	s := flow.RawSample{Timestamp: now, Quality: int(buf[3])}
	if motion&adnsMotionOccurred != 0 {
		s.RawDx = int(int8(buf[1]))
		s.RawDy = int(int8(buf[2]))
	}
	return s, true, nil
}

// ClearMotion discards any motion the chip has accumulated.
func (d *ADNS3080) ClearMotion() error {
	return d.WriteRegister(adnsMotionClear, 0xFF)
}

// Overflows is the number of reads where the delta registers overflowed.
// Only meaningful from the sampling goroutine.
func (d *ADNS3080) Overflows() uint64 { return d.overflows }

// Close releases the SPI port if the driver opened it.
func (d *ADNS3080) Close() error {
	if d.close != nil {
		return d.close()
	}
	return nil
}

func (d *ADNS3080) read(addr byte) (byte, error) {
	var b [1]byte
	if err := d.transfer(addr, tSRAD, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// transfer sends a read address, waits delay and clocks len(r) bytes in,
// all under one chip select.
func (d *ADNS3080) transfer(addr byte, delay time.Duration, r []byte) (err error) {
	if err := d.cs.Out(gpio.Low); err != nil {
		return err
	}
	defer func() {
		if csErr := d.cs.Out(gpio.High); err == nil {
			err = csErr
		}
		d.sleep(tSRR)
	}()

	if err := d.conn.Tx([]byte{addr &^ 0x80}, nil); err != nil {
		return err
	}
	d.sleep(delay)
	return d.conn.Tx(make([]byte, len(r)), r)
}

func (d *ADNS3080) write(addr, value byte) (err error) {
	if err := d.cs.Out(gpio.Low); err != nil {
		return err
	}
	defer func() {
		if csErr := d.cs.Out(gpio.High); err == nil {
			err = csErr
		}
		d.sleep(tSWW)
	}()
	return d.conn.Tx([]byte{addr | 0x80, value}, nil)
}

// tryLock acquires both bus locks or neither.
func (d *ADNS3080) tryLock() bool {
	if d.bus != nil && !d.bus.TryLock() {
		return false
	}
	if d.bus2 != nil && !d.bus2.TryLock() {
		if d.bus != nil {
			d.bus.Unlock()
		}
		return false
	}
	return true
}

func (d *ADNS3080) unlock() {
	if d.bus2 != nil {
		d.bus2.Unlock()
	}
	if d.bus != nil {
		d.bus.Unlock()
	}
}

// lockWait retries tryLock for up to 100 ms. Only used outside the
// sampling path.
func (d *ADNS3080) lockWait() error {
	deadline := time.Now().Add(100 * time.Millisecond)
	for !d.tryLock() {
		if time.Now().After(deadline) {
			return ErrBusBusy
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}
