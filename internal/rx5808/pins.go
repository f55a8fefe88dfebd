package rx5808

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// Line is one digital output wired to the receiver's SPI-like bus.
// periph's gpio.PinIO and gpio.PinOut both satisfy it.
type Line interface {
	Out(l gpio.Level) error
}

// Pins groups the three bus lines.
type Pins struct {
	Data   Line
	Clock  Line
	Select Line
}

// OpenPins resolves the three lines by name through the periph pin
// registry. host.Init must have run first.
func OpenPins(data, clock, sel string) (Pins, error) {
	var p Pins
	for _, l := range []struct {
		name string
		dst  *Line
	}{
		{data, &p.Data},
		{clock, &p.Clock},
		{sel, &p.Select},
	} {
		pin := gpioreg.ByName(l.name)
		if pin == nil {
			return Pins{}, fmt.Errorf("rx5808: gpio pin %q not found", l.name)
		}
		*l.dst = pin
	}
	return p, nil
}

type nopLine struct{}

func (nopLine) Out(gpio.Level) error { return nil }

// NopPins returns lines that accept every write and drive nothing, for
// running without a receiver attached.
func NopPins() Pins {
	return Pins{Data: nopLine{}, Clock: nopLine{}, Select: nopLine{}}
}
