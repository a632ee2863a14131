package sensor

import (
	"context"
	"fmt"
	"math"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"
)

const (
	adcFullScale = 4096 * physic.MilliVolt

	// The DAC output spans 0..dacReference over 12 bits.
	dacReference = 5.0
	dacMaxCode   = 4095
)

var adcChannels = []ads1x15.Channel{
	ads1x15.Channel0,
	ads1x15.Channel1,
	ads1x15.Channel2,
	ads1x15.Channel3,
}

type PeriphConfig struct {
	Bus          string
	ADCAddresses []uint16
	DACAddress   uint16
	SampleRateHz int
}

// PeriphDevice drives two ADS1115 converters (inputs 0-3 and 4-7) and an
// MCP4725 DAC on one I2C bus. The bus is opened on first use and again
// after any failure.
type PeriphDevice struct {
	cfg PeriphConfig

	mu   sync.Mutex
	bus  i2c.BusCloser
	pins []ads1x15.PinADC
	dac  *i2c.Dev
}

func NewPeriphDevice(cfg PeriphConfig) *PeriphDevice {
	return &PeriphDevice{cfg: cfg}
}

func (d *PeriphDevice) Sample(ctx context.Context, n int) ([][]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.openLocked(); err != nil {
		return nil, err
	}

	out := make([][]float64, len(d.pins))
	for i := range out {
		out[i] = make([]float64, 0, n)
	}
	for s := 0; s < n; s++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i, p := range d.pins {
			sample, err := p.Read()
			if err != nil {
				d.closeLocked()
				return nil, fmt.Errorf("read input %d: %w", i, err)
			}
			out[i] = append(out[i], float64(sample.V)/float64(physic.Volt))
		}
	}
	return out, nil
}

func (d *PeriphDevice) SetBias(volts float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.openLocked(); err != nil {
		return err
	}
	code := int(math.Round(volts / dacReference * dacMaxCode))
	code = max(0, min(dacMaxCode, code))
	// Fast-mode write: upper nibble of the first byte selects normal power mode.
	if err := d.dac.Tx([]byte{byte(code>>8) & 0x0F, byte(code)}, nil); err != nil {
		d.closeLocked()
		return fmt.Errorf("write dac: %w", err)
	}
	return nil
}

func (d *PeriphDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeLocked()
}

func (d *PeriphDevice) openLocked() error {
	if d.bus != nil {
		return nil
	}
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("host.Init: %w", err)
	}
	bus, err := i2creg.Open(d.cfg.Bus)
	if err != nil {
		return fmt.Errorf("i2creg.Open: %w", err)
	}

	freq := physic.Frequency(d.cfg.SampleRateHz) * physic.Hertz
	var pins []ads1x15.PinADC
	for _, addr := range d.cfg.ADCAddresses {
		adc, err := ads1x15.NewADS1115(bus, &ads1x15.Opts{I2cAddress: addr})
		if err != nil {
			haltAll(pins)
			bus.Close()
			return fmt.Errorf("ads1115 %#x: %w", addr, err)
		}
		for _, ch := range adcChannels {
			p, err := adc.PinForChannel(ch, adcFullScale, freq, ads1x15.SaveEnergy)
			if err != nil {
				haltAll(pins)
				bus.Close()
				return fmt.Errorf("ads1115 %#x channel %v: %w", addr, ch, err)
			}
			pins = append(pins, p)
		}
	}

	d.bus = bus
	d.pins = pins
	d.dac = &i2c.Dev{Bus: bus, Addr: d.cfg.DACAddress}
	return nil
}

func (d *PeriphDevice) closeLocked() error {
	if d.bus == nil {
		return nil
	}
	haltAll(d.pins)
	err := d.bus.Close()
	d.bus = nil
	d.pins = nil
	d.dac = nil
	return err
}

func haltAll(pins []ads1x15.PinADC) {
	for _, p := range pins {
		_ = p.Halt()
	}
}
