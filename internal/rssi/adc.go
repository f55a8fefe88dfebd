package rssi

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
)

// ReferenceVoltage is the input voltage that maps to a full-scale count.
const ReferenceVoltage = 3300 * physic.MilliVolt

// ADCSource reads a periph analog pin and converts its voltage to a 12-bit
// count against ReferenceVoltage.
type ADCSource struct {
	pin analog.PinADC
}

// NewADCSource wraps an analog pin.
func NewADCSource(pin analog.PinADC) *ADCSource {
	return &ADCSource{pin: pin}
}

// Read samples the pin once.
func (s *ADCSource) Read() (uint16, error) {
	sample, err := s.pin.Read()
	if err != nil {
		return 0, fmt.Errorf("rssi: read %s: %w", s.pin, err)
	}
	return voltsToCount(sample.V), nil
}

// Halt releases the pin.
func (s *ADCSource) Halt() error { return s.pin.Halt() }

func voltsToCount(v physic.ElectricPotential) uint16 {
	if v <= 0 {
		return 0
	}
	c := math.Round(float64(v) / float64(ReferenceVoltage) * FullScale)
	if c >= FullScale {
		return FullScale
	}
	return uint16(c)
}

// OpenADS1115 opens an ADS1115 on the named I²C bus ("" for the default)
// and returns a source on the given single-ended channel. host.Init must
// have run first.
func OpenADS1115(bus string, channel int) (*ADCSource, error) {
	channels := []ads1x15.Channel{ads1x15.Channel0, ads1x15.Channel1, ads1x15.Channel2, ads1x15.Channel3}
	if channel < 0 || channel >= len(channels) {
		return nil, fmt.Errorf("rssi: ads1115 channel %d out of range 0-3", channel)
	}
	b, err := i2creg.Open(bus)
	if err != nil {
		return nil, fmt.Errorf("rssi: open i2c bus %q: %w", bus, err)
	}
	dev, err := ads1x15.NewADS1115(b, &ads1x15.DefaultOpts)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("rssi: ads1115: %w", err)
	}
	pin, err := dev.PinForChannel(channels[channel], 4096*physic.MilliVolt, 860*physic.Hertz, ads1x15.BestQuality)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("rssi: ads1115 channel %d: %w", channel, err)
	}
	return NewADCSource(pin), nil
}

// IIOSource reads a Linux industrial-I/O raw voltage attribute, such as
// /sys/bus/iio/devices/iio:device0/in_voltage0_raw, and rescales it from
// the converter's bit width to 12 bits.
type IIOSource struct {
	path string
	bits int
}

// NewIIOSource reads path on every Read. bits is the converter resolution;
// zero means 12.
func NewIIOSource(path string, bits int) *IIOSource {
	if bits <= 0 {
		bits = 12
	}
	return &IIOSource{path: path, bits: bits}
}

func (s *IIOSource) Read() (uint16, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return 0, fmt.Errorf("rssi: read %s: %w", s.path, err)
	}
	raw, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("rssi: parse %s: %w", s.path, err)
	}
	switch {
	case s.bits > 12:
		raw >>= uint(s.bits - 12)
	case s.bits < 12:
		raw <<= uint(12 - s.bits)
	}
	if raw > FullScale {
		raw = FullScale
	}
	return uint16(raw), nil
}
