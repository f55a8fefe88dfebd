// Package timing holds the shared timing state of a lap-timing node: the
// crossing and lap detector, the extremum tracker, the lap and extremum
// rings, and the sampling task that feeds them.
//
// One goroutine, the Sampler, writes the state under the core lock. Readers
// take the same lock with a bounded wait and fall back to zero values when
// the wait expires.
package timing

import (
	"sync"
	"time"

	"github.com/banshee-data/gatetimer/internal/ring"
	"github.com/banshee-data/gatetimer/internal/rx5808"
	"github.com/banshee-data/gatetimer/internal/timeutil"
)

// Tuner is the part of the receiver driver the core needs.
type Tuner interface {
	Tune(freq uint16) error
	SetBandChannel(band, channel uint8) error
	WaitSettled()
	Frequency() uint16
}

// Config holds the core's startup parameters.
type Config struct {
	EnterRSSI   uint8
	ExitRSSI    uint8
	MinLap      time.Duration
	LockTimeout time.Duration
}

// DefaultConfig returns the stock thresholds and gates.
func DefaultConfig() Config {
	return Config{
		EnterRSSI:   DefaultEnterRSSI,
		ExitRSSI:    DefaultExitRSSI,
		MinLap:      DefaultMinLap,
		LockTimeout: DefaultLockTimeout,
	}
}

// Core owns the timing state.
type Core struct {
	mu          boundedMutex
	lockTimeout time.Duration
	uptime      *timeutil.Uptime
	tuner       Tuner

	// Guarded by mu.
	state State
	lap   lapDetector
	ext   extremumTracker
	laps  *ring.Buffer[LapRecord]
	slot  uint8

	observers observers
	diag      Diagnostics
}

// NewCore builds a core with the given configuration. A nil uptime starts a
// real-clock counter; a nil tuner accepts every tune without driving
// hardware.
func NewCore(cfg Config, uptime *timeutil.Uptime, tuner Tuner) *Core {
	if uptime == nil {
		uptime = timeutil.NewUptime(nil)
	}
	if tuner == nil {
		tuner = newMemoryTuner()
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	c := &Core{
		mu:          newBoundedMutex(),
		lockTimeout: cfg.LockTimeout,
		uptime:      uptime,
		tuner:       tuner,
		state:       initialState(cfg),
		ext:         newExtremumTracker(),
		laps:        ring.New[LapRecord](MaxLapsStored),
	}
	c.state.FrequencyMHz = tuner.Frequency()
	return c
}

// Subscribe registers an observer and returns a func that removes it.
func (c *Core) Subscribe(o Observer) (unsubscribe func()) {
	return c.observers.add(o)
}

// Diagnostics returns the core's counters.
func (c *Core) Diagnostics() *Diagnostics { return &c.diag }

// Millis returns the core's uptime in milliseconds.
func (c *Core) Millis() uint32 { return c.uptime.Millis() }

// Tuner returns the receiver driver the core tunes through.
func (c *Core) Tuner() Tuner { return c.tuner }

// ProcessSample runs one filtered sample through the detector and the
// extremum tracker. Observers are notified after the lock is released.
func (c *Core) ProcessSample(rssi uint8, now uint32) {
	var evs eventBuf
	c.mu.Lock()
	c.processLocked(rssi, now, &evs)
	c.mu.Unlock()
	c.diag.Samples.Add(1)
	c.observers.fire(&evs)
}

// write runs fn under the lock, waiting as long as needed, then fires any
// events it produced.
func (c *Core) write(fn func(evs *eventBuf)) {
	var evs eventBuf
	c.mu.Lock()
	fn(&evs)
	c.mu.Unlock()
	c.observers.fire(&evs)
}

// read runs fn under the lock if it can be taken within the lock timeout.
func (c *Core) read(fn func()) bool {
	if !c.mu.TryLockFor(c.lockTimeout) {
		c.diag.LockTimeouts.Add(1)
		return false
	}
	defer c.mu.Unlock()
	fn()
	return true
}

// SetThresholds sets both crossing thresholds. Their ordering is not
// checked; see TestCore_InvertedThresholds for what an inverted pair does.
func (c *Core) SetThresholds(enter, exit uint8) {
	c.write(func(*eventBuf) {
		c.state.EnterRSSI = enter
		c.state.ExitRSSI = exit
	})
}

// SetEnterRSSI sets the enter threshold.
func (c *Core) SetEnterRSSI(v uint8) {
	c.write(func(*eventBuf) { c.state.EnterRSSI = v })
}

// SetExitRSSI sets the exit threshold.
func (c *Core) SetExitRSSI(v uint8) {
	c.write(func(*eventBuf) { c.state.ExitRSSI = v })
}

// SetThreshold is the single-value form used by older clients: enter is
// set to v and exit sits legacyThresholdGap below it when there is room.
//
// Deprecated: use SetThresholds.
func (c *Core) SetThreshold(v uint8) {
	exit := v
	if v > legacyThresholdGap {
		exit = v - legacyThresholdGap
	}
	c.SetThresholds(v, exit)
}

// SetMinLap sets the minimum lap time; zero disables the gate.
func (c *Core) SetMinLap(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.write(func(*eventBuf) { c.state.MinLapMs = uint32(d / time.Millisecond) })
}

// SetActivated starts or pauses sampling. The first activation after a
// reset stamps the race start.
func (c *Core) SetActivated(active bool) {
	now := c.uptime.Millis()
	c.write(func(*eventBuf) {
		c.state.Activated = active
		if active && !c.lap.raceStarted {
			c.lap.raceStarted = true
			c.state.RaceStart = now
		}
	})
}

// SetSlot sets the slot index stamped on subsequent laps.
func (c *Core) SetSlot(slot uint8) {
	c.write(func(*eventBuf) { c.slot = slot })
}

// SetFrequency retunes the receiver. Out-of-range values leave everything
// unchanged. A pending peak survives the retune.
func (c *Core) SetFrequency(freq uint16) error {
	if err := c.tuner.Tune(freq); err != nil {
		return err
	}
	c.syncFrequency()
	return nil
}

// SetBandChannel retunes to a table entry. Indices outside the table leave
// everything unchanged.
func (c *Core) SetBandChannel(band, channel uint8) error {
	if err := c.tuner.SetBandChannel(band, channel); err != nil {
		return err
	}
	c.syncFrequency()
	return nil
}

func (c *Core) syncFrequency() {
	f := c.tuner.Frequency()
	c.write(func(*eventBuf) { c.state.FrequencyMHz = f })
}

// Reset clears laps, peaks, nadirs, and both extremum rings. Thresholds,
// frequency, and activation are kept; the next activation stamps a new race
// start. An active crossing is ended and reported to observers.
func (c *Core) Reset() {
	c.write(func(evs *eventBuf) {
		s := &c.state
		s.LapCount = 0
		s.LastLapTime = 0
		s.PeakRSSI = 0
		s.NadirRSSI = nadirSentinel
		s.PassNadirRSSI = nadirSentinel
		if s.Crossing {
			evs.add(event{kind: eventCrossing, active: false, rssi: s.CurrentRSSI})
		}
		s.Crossing = false
		s.CrossingStart = 0
		s.LastRSSI = 0
		s.RSSIChange = 0
		s.RaceStart = 0
		c.lap = lapDetector{}
		c.laps.Reset()
		c.ext.reset()
	})
}

// ForceEndCrossing ends an active crossing and drops the unconfirmed peak,
// as if the pilot had never entered the gate.
func (c *Core) ForceEndCrossing() {
	c.write(func(evs *eventBuf) {
		c.lap.clearPeak(&c.state)
		if c.state.Crossing {
			c.state.Crossing = false
			c.diag.ForcedCrossEnds.Add(1)
			evs.add(event{kind: eventCrossing, active: false, rssi: c.state.CurrentRSSI})
		}
	})
}

// State returns a copy of the timing state. ok is false, and the state is
// zero, when the lock could not be taken in time.
func (c *Core) State() (s State, ok bool) {
	ok = c.read(func() { s = c.state })
	return s, ok
}

// IsActivated reports whether sampling is enabled.
func (c *Core) IsActivated() bool {
	var v bool
	c.read(func() { v = c.state.Activated })
	return v
}

// CurrentRSSI returns the latest filtered level.
func (c *Core) CurrentRSSI() uint8 {
	var v uint8
	c.read(func() { v = c.state.CurrentRSSI })
	return v
}

// PeakRSSI returns the unconfirmed peak of the current pass.
func (c *Core) PeakRSSI() uint8 {
	var v uint8
	c.read(func() { v = c.state.PeakRSSI })
	return v
}

// NadirRSSI returns the lowest level seen since the last reset.
func (c *Core) NadirRSSI() uint8 {
	var v uint8
	c.read(func() { v = c.state.NadirRSSI })
	return v
}

// PassNadirRSSI returns the lowest level since the last recorded lap.
func (c *Core) PassNadirRSSI() uint8 {
	var v uint8
	c.read(func() { v = c.state.PassNadirRSSI })
	return v
}

// IsCrossing reports whether a crossing is in progress.
func (c *Core) IsCrossing() bool {
	var v bool
	c.read(func() { v = c.state.Crossing })
	return v
}

// LapCount returns the number of laps recorded since the last reset.
func (c *Core) LapCount() uint16 {
	var v uint16
	c.read(func() { v = c.state.LapCount })
	return v
}

// Thresholds returns the enter and exit levels.
func (c *Core) Thresholds() (enter, exit uint8) {
	c.read(func() { enter, exit = c.state.EnterRSSI, c.state.ExitRSSI })
	return enter, exit
}

// Frequency returns the frequency the core believes the receiver is on.
func (c *Core) Frequency() uint16 {
	var v uint16
	c.read(func() { v = c.state.FrequencyMHz })
	return v
}

// TunedFrequency returns the frequency the receiver was last tuned to. It
// asks the tuner directly, so it never degrades on lock contention.
func (c *Core) TunedFrequency() uint16 { return c.tuner.Frequency() }

// NextLap removes and returns the oldest undrained lap. Only one consumer
// may drain laps.
func (c *Core) NextLap() (lap LapRecord, ok bool) {
	c.read(func() { lap, ok = c.laps.Pop() })
	return lap, ok
}

// PendingLaps returns the undrained laps without consuming them.
func (c *Core) PendingLaps() []LapRecord {
	var out []LapRecord
	c.read(func() { out = c.laps.Snapshot() })
	return out
}

// NextPeak removes and returns the oldest buffered peak.
func (c *Core) NextPeak() (e Extremum, ok bool) {
	c.read(func() { e, ok = c.ext.peaks.Pop() })
	return e, ok
}

// NextNadir removes and returns the oldest buffered nadir.
func (c *Core) NextNadir() (e Extremum, ok bool) {
	c.read(func() { e, ok = c.ext.nadirs.Pop() })
	return e, ok
}

// NextExtremum removes and returns whichever buffered extremum started
// first. isPeak tells which ring it came from; a tie goes to the nadir.
func (c *Core) NextExtremum() (e Extremum, isPeak, ok bool) {
	c.read(func() {
		p, hasPeak := c.ext.peaks.Peek()
		n, hasNadir := c.ext.nadirs.Peek()
		switch {
		case hasPeak && (!hasNadir || p.FirstTime < n.FirstTime):
			e, _ = c.ext.peaks.Pop()
			isPeak, ok = true, true
		case hasNadir:
			e, _ = c.ext.nadirs.Pop()
			ok = true
		}
	})
	return e, isPeak, ok
}

// memoryTuner stands in for a receiver when none is attached.
type memoryTuner struct {
	mu   sync.Mutex
	freq uint16
}

func newMemoryTuner() *memoryTuner {
	return &memoryTuner{freq: rx5808.DefaultFrequency}
}

func (t *memoryTuner) Tune(freq uint16) error {
	if rx5808.InRange(freq) {
		t.mu.Lock()
		t.freq = freq
		t.mu.Unlock()
	}
	return nil
}

func (t *memoryTuner) SetBandChannel(band, channel uint8) error {
	if f, ok := rx5808.Frequency(band, channel); ok {
		return t.Tune(f)
	}
	return nil
}

func (t *memoryTuner) WaitSettled() {}

func (t *memoryTuner) Frequency() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.freq
}
