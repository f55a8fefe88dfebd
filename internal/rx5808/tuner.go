// Package rx5808 drives an RX5808 (RTC6715) 5.8 GHz video receiver over its
// three-wire serial bus and maps band/channel pairs to frequencies.
package rx5808

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/banshee-data/gatetimer/internal/monitoring"
	"github.com/banshee-data/gatetimer/internal/timeutil"
)

const (
	// BitDelay is held after each DATA change and CLK edge.
	BitDelay = 300 * time.Microsecond

	// BusGuard is the minimum spacing between two register writes.
	BusGuard = 30 * time.Millisecond

	// TuneGuard is how long RSSI is unreliable after a retune.
	TuneGuard = 35 * time.Millisecond

	tuneSettle  = 2 * time.Millisecond
	resetSettle = 10 * time.Millisecond
	powerUp     = 100 * time.Millisecond
)

// Settings is a snapshot of what the receiver is tuned to.
type Settings struct {
	FrequencyMHz  uint16    `json:"frequency_mhz"`
	Band          uint8     `json:"band"`
	Channel       uint8     `json:"channel"`
	LastTune      time.Time `json:"last_tune"`
	RecentlyTuned bool      `json:"recently_tuned"`
}

// Stats counts tuner activity.
type Stats struct {
	Tunes               uint64 `json:"tunes"`
	RejectedFrequencies uint64 `json:"rejected_frequencies"`
	RejectedBandChannel uint64 `json:"rejected_band_channel"`
	BusWaits            uint64 `json:"bus_waits"`
}

// Tuner owns the receiver bus. It is safe for concurrent use; bus
// transactions are serialised.
type Tuner struct {
	pins  Pins
	clock timeutil.Clock

	mu       sync.Mutex
	settings Settings
	lastBus  time.Time
	busUsed  bool

	tunes        atomic.Uint64
	rejectedFreq atomic.Uint64
	rejectedBC   atomic.Uint64
	busWaits     atomic.Uint64
}

// NewTuner returns a tuner on the given lines. A nil clock uses real time.
func NewTuner(pins Pins, clock timeutil.Clock) *Tuner {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	band, channel := Lookup(DefaultFrequency)
	return &Tuner{
		pins:     pins,
		clock:    clock,
		settings: Settings{FrequencyMHz: DefaultFrequency, Band: band, Channel: channel},
	}
}

// Setup idles the bus, then resets the module and writes the power
// configuration so it starts from a known state.
func (t *Tuner) Setup() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var w lineWriter
	w.set(t.pins.Select, gpio.High)
	w.set(t.pins.Clock, gpio.Low)
	w.set(t.pins.Data, gpio.Low)
	if w.err != nil {
		return fmt.Errorf("rx5808: idle bus: %w", w.err)
	}
	t.clock.Sleep(powerUp)

	if err := t.writeRegister(regState, 0, resetSettle); err != nil {
		return fmt.Errorf("rx5808: reset: %w", err)
	}
	if err := t.writeRegister(regPower, powerConfig, resetSettle); err != nil {
		return fmt.Errorf("rx5808: power config: %w", err)
	}
	monitoring.Logf("[rx5808] module reset and power configured")
	return nil
}

// Tune retunes the receiver and records the nearest table entry as its band
// and channel. Frequencies outside MinFrequency..MaxFrequency are ignored
// without error. The returned error reports bus failures only.
func (t *Tuner) Tune(freq uint16) error {
	if !InRange(freq) {
		t.rejectedFreq.Add(1)
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tuneLocked(freq)
}

func (t *Tuner) tuneLocked(freq uint16) error {
	if err := t.writeRegister(regSynthB, uint32(EncodeRegister(freq)), tuneSettle); err != nil {
		return fmt.Errorf("rx5808: tune %d MHz: %w", freq, err)
	}
	t.settings.FrequencyMHz = freq
	t.settings.Band, t.settings.Channel = Lookup(freq)
	t.settings.LastTune = t.clock.Now()
	t.settings.RecentlyTuned = true
	t.tunes.Add(1)
	return nil
}

// SetBandChannel tunes to a table entry. Indices outside the table, and
// entries outside the tunable range, are ignored without error and leave
// the settings untouched. On success the requested pair is kept even when
// another entry shares its frequency.
func (t *Tuner) SetBandChannel(band, channel uint8) error {
	freq, ok := Frequency(band, channel)
	if !ok {
		t.rejectedBC.Add(1)
		return nil
	}
	if !InRange(freq) {
		t.rejectedFreq.Add(1)
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.tuneLocked(freq); err != nil {
		return err
	}
	t.settings.Band, t.settings.Channel = band, channel
	return nil
}

// WaitSettled blocks until TuneGuard has passed since the last tune and then
// clears the recently-tuned mark. It returns at once when no tune is
// pending.
func (t *Tuner) WaitSettled() {
	for {
		t.mu.Lock()
		if !t.settings.RecentlyTuned {
			t.mu.Unlock()
			return
		}
		remaining := TuneGuard - t.clock.Since(t.settings.LastTune)
		if remaining <= 0 {
			t.settings.RecentlyTuned = false
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
		t.clock.Sleep(remaining)
	}
}

// Frequency returns the frequency last tuned successfully.
func (t *Tuner) Frequency() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings.FrequencyMHz
}

// Settings returns a snapshot of the receiver settings.
func (t *Tuner) Settings() Settings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}

// Stats returns the activity counters.
func (t *Tuner) Stats() Stats {
	return Stats{
		Tunes:               t.tunes.Load(),
		RejectedFrequencies: t.rejectedFreq.Load(),
		RejectedBandChannel: t.rejectedBC.Load(),
		BusWaits:            t.busWaits.Load(),
	}
}

// writeRegister clocks one 25-bit frame out. Caller holds t.mu.
func (t *Tuner) writeRegister(address uint8, data uint32, settle time.Duration) error {
	t.waitBus()

	var w lineWriter
	w.set(t.pins.Select, gpio.High)
	w.set(t.pins.Select, gpio.Low)
	for _, bit := range FrameBitsFor(address, data) {
		t.sendBit(&w, bit)
	}
	w.set(t.pins.Select, gpio.High)
	t.clock.Sleep(settle)
	w.set(t.pins.Clock, gpio.Low)
	w.set(t.pins.Data, gpio.Low)

	t.lastBus = t.clock.Now()
	t.busUsed = true
	return w.err
}

func (t *Tuner) sendBit(w *lineWriter, bit uint8) {
	w.set(t.pins.Data, gpio.Level(bit == 1))
	t.clock.Sleep(BitDelay)
	w.set(t.pins.Clock, gpio.High)
	t.clock.Sleep(BitDelay)
	w.set(t.pins.Clock, gpio.Low)
	t.clock.Sleep(BitDelay)
}

// waitBus blocks until BusGuard has elapsed since the previous frame.
func (t *Tuner) waitBus() {
	if !t.busUsed {
		return
	}
	if remaining := BusGuard - t.clock.Since(t.lastBus); remaining > 0 {
		t.busWaits.Add(1)
		t.clock.Sleep(remaining)
	}
}

// lineWriter keeps the first error from a sequence of line writes and skips
// the rest.
type lineWriter struct {
	err error
}

func (w *lineWriter) set(l Line, level gpio.Level) {
	if w.err != nil {
		return
	}
	w.err = l.Out(level)
}
