package rx5808

import (
	"fmt"
	"strings"
)

const (
	NumBands    = 6
	NumChannels = 8

	// MinFrequency and MaxFrequency bound every tune request, whether it
	// comes from configuration, the API, or the node protocol.
	MinFrequency uint16 = 5645
	MaxFrequency uint16 = 5945

	DefaultFrequency uint16 = 5800

	// fallbackFrequency is returned by FrequencyOrDefault for indices that
	// fall outside the table (band A channel 1).
	fallbackFrequency uint16 = 5865
)

var bandNames = [NumBands]string{"A", "B", "E", "F", "R", "L"}

var frequencyTable = [NumBands][NumChannels]uint16{
	{5865, 5845, 5825, 5805, 5785, 5765, 5745, 5725}, // A
	{5733, 5752, 5771, 5790, 5809, 5828, 5847, 5866}, // B
	{5705, 5685, 5665, 5645, 5885, 5905, 5925, 5945}, // E
	{5740, 5760, 5780, 5800, 5820, 5840, 5860, 5880}, // F
	{5658, 5695, 5732, 5769, 5806, 5843, 5880, 5917}, // R (Raceband)
	{5362, 5399, 5436, 5473, 5510, 5547, 5584, 5621}, // L (low band)
}

// InRange reports whether freq lies in the tunable window.
func InRange(freq uint16) bool {
	return freq >= MinFrequency && freq <= MaxFrequency
}

// Frequency returns the table entry for a zero-based band and channel.
func Frequency(band, channel uint8) (uint16, bool) {
	if band >= NumBands || channel >= NumChannels {
		return 0, false
	}
	return frequencyTable[band][channel], true
}

// FrequencyOrDefault is Frequency with out-of-table indices mapped to A1.
func FrequencyOrDefault(band, channel uint8) uint16 {
	if f, ok := Frequency(band, channel); ok {
		return f
	}
	return fallbackFrequency
}

// Lookup returns the band and channel whose frequency is nearest to freq.
// Ties resolve to the first entry in table order, so F8 wins over R7 for
// 5880 MHz.
func Lookup(freq uint16) (band, channel uint8) {
	best := -1
	for b := range frequencyTable {
		for c, f := range frequencyTable[b] {
			diff := int(f) - int(freq)
			if diff < 0 {
				diff = -diff
			}
			if best < 0 || diff < best {
				best = diff
				band, channel = uint8(b), uint8(c)
			}
		}
	}
	return band, channel
}

// BandName returns the single-letter band name, or "?" for bad indices.
func BandName(band uint8) string {
	if band >= NumBands {
		return "?"
	}
	return bandNames[band]
}

// BandIndex looks up a band by its letter, ignoring case.
func BandIndex(name string) (uint8, bool) {
	for i, n := range bandNames {
		if strings.EqualFold(n, name) {
			return uint8(i), true
		}
	}
	return 0, false
}

// ChannelLabel formats a band and zero-based channel the way pilots say it,
// for example "R7".
func ChannelLabel(band, channel uint8) string {
	return fmt.Sprintf("%s%d", BandName(band), channel+1)
}
