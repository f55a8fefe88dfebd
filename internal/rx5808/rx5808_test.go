package rx5808

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"

	"github.com/banshee-data/gatetimer/internal/monitoring"
	"github.com/banshee-data/gatetimer/internal/timeutil"
)

type edge struct {
	line  string
	level gpio.Level
}

// busRecorder captures every write across the three lines in order.
type busRecorder struct {
	mu    sync.Mutex
	edges []edge
}

type recLine struct {
	name string
	rec  *busRecorder
	err  error
}

func (l *recLine) Out(level gpio.Level) error {
	if l.err != nil {
		return l.err
	}
	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()
	l.rec.edges = append(l.rec.edges, edge{l.name, level})
	return nil
}

func newRecordedTuner(t *testing.T) (*Tuner, *busRecorder, *timeutil.MockClock) {
	t.Helper()
	monitoring.SetLogger(nil)
	rec := &busRecorder{}
	pins := Pins{
		Data:   &recLine{name: "data", rec: rec},
		Clock:  &recLine{name: "clk", rec: rec},
		Select: &recLine{name: "sel", rec: rec},
	}
	clock := timeutil.NewMockClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	return NewTuner(pins, clock), rec, clock
}

// frames decodes the recorded edges into frames: DATA is sampled on each
// rising CLK edge while SEL is low.
func (r *busRecorder) frames() [][]uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out [][]uint8
	var cur []uint8
	sel, data := gpio.High, gpio.Low
	for _, e := range r.edges {
		switch e.line {
		case "sel":
			if sel == gpio.High && e.level == gpio.Low {
				cur = []uint8{}
			}
			if sel == gpio.Low && e.level == gpio.High && cur != nil {
				out = append(out, cur)
				cur = nil
			}
			sel = e.level
		case "data":
			data = e.level
		case "clk":
			if e.level == gpio.High && sel == gpio.Low && cur != nil {
				bit := uint8(0)
				if data {
					bit = 1
				}
				cur = append(cur, bit)
			}
		}
	}
	return out
}

func bitsToUint(bits []uint8) uint32 {
	var v uint32
	for i, b := range bits {
		v |= uint32(b) << i
	}
	return v
}

func TestTable_ReverseLookupReturnsTableFrequency(t *testing.T) {
	for b := uint8(0); b < NumBands; b++ {
		for c := uint8(0); c < NumChannels; c++ {
			f, ok := Frequency(b, c)
			require.True(t, ok)
			gb, gc := Lookup(f)
			got, _ := Frequency(gb, gc)
			assert.Equal(t, f, got, "%s", ChannelLabel(b, c))
		}
	}
}

func TestTable_ReverseLookupExactForUniqueEntries(t *testing.T) {
	seen := map[uint16]int{}
	for b := range frequencyTable {
		for _, f := range frequencyTable[b] {
			seen[f]++
		}
	}

	for b := uint8(0); b < NumBands; b++ {
		for c := uint8(0); c < NumChannels; c++ {
			f := frequencyTable[b][c]
			if seen[f] > 1 {
				continue
			}
			gb, gc := Lookup(f)
			assert.Equal(t, [2]uint8{b, c}, [2]uint8{gb, gc}, "%d MHz", f)
		}
	}
}

func TestTable_SharedFrequencyResolvesToFirstEntry(t *testing.T) {
	// F8 and R7 are both 5880 MHz.
	b, c := Lookup(5880)
	assert.Equal(t, "F8", ChannelLabel(b, c))
}

func TestTable_LookupNearest(t *testing.T) {
	b, c := Lookup(5801)
	assert.Equal(t, "F4", ChannelLabel(b, c))
	b, c = Lookup(1000)
	assert.Equal(t, "L1", ChannelLabel(b, c))
}

func TestTable_OutOfTableIndices(t *testing.T) {
	_, ok := Frequency(6, 0)
	assert.False(t, ok)
	_, ok = Frequency(0, 8)
	assert.False(t, ok)
	assert.Equal(t, uint16(5865), FrequencyOrDefault(9, 9))
	assert.Equal(t, uint16(5917), FrequencyOrDefault(4, 7))
	assert.Equal(t, "?", BandName(6))
}

func TestTable_BandIndex(t *testing.T) {
	b, ok := BandIndex("r")
	assert.True(t, ok)
	assert.Equal(t, uint8(4), b)

	_, ok = BandIndex("X")
	assert.False(t, ok)
}

func TestRegister_KnownValues(t *testing.T) {
	for _, tc := range []struct {
		freq uint16
		reg  uint16
	}{
		{5865, 0x2A05},
		{5645, 0x2817},
		{5945, 0x2A8D},
	} {
		assert.Equal(t, tc.reg, EncodeRegister(tc.freq), "%d MHz", tc.freq)
	}
}

func TestRegister_RoundTripOverTable(t *testing.T) {
	for b := range frequencyTable {
		for _, f := range frequencyTable[b] {
			reg := EncodeRegister(f)
			got := DecodeRegister(reg)
			if (f-479)%2 == 0 {
				assert.Equal(t, f, got, "%d MHz", f)
			} else {
				assert.Equal(t, f-1, got, "%d MHz sits between synthesizer steps", f)
			}
			assert.Equal(t, reg, EncodeRegister(got), "register for %d MHz must be stable", f)
		}
	}
}

func TestFrameBitsFor_Layout(t *testing.T) {
	bits := FrameBitsFor(regSynthB, uint32(EncodeRegister(5800)))
	assert.Equal(t, []uint8{1, 0, 0, 0}, bits[:4], "address LSB first")
	assert.Equal(t, uint8(1), bits[4], "write flag")
	assert.Equal(t, uint32(EncodeRegister(5800)), bitsToUint(bits[5:21]))
	assert.Equal(t, []uint8{0, 0, 0, 0}, bits[21:], "padding")

	power := FrameBitsFor(regPower, powerConfig)
	assert.Equal(t, []uint8{0, 1, 0, 1}, power[:4])
	assert.Equal(t, powerConfig, bitsToUint(power[5:]))
}

func TestTuner_TuneTransmitsFrame(t *testing.T) {
	tuner, rec, clock := newRecordedTuner(t)
	start := clock.Now()

	require.NoError(t, tuner.Tune(5800))

	frames := rec.frames()
	require.Len(t, frames, 1)
	require.Len(t, frames[0], FrameBits)
	assert.Equal(t, []uint8{1, 0, 0, 0, 1}, frames[0][:5])
	assert.Equal(t, uint32(EncodeRegister(5800)), bitsToUint(frames[0][5:]))

	// 25 bits at three delays each, plus the post-frame settle.
	assert.Equal(t, FrameBits*3*BitDelay+tuneSettle, clock.Since(start))

	s := tuner.Settings()
	assert.Equal(t, uint16(5800), s.FrequencyMHz)
	assert.True(t, s.RecentlyTuned)
	assert.Equal(t, clock.Now(), s.LastTune)
	assert.Equal(t, uint64(1), tuner.Stats().Tunes)
}

func TestTuner_OutOfRangeIsSilentNoOp(t *testing.T) {
	tuner, rec, clock := newRecordedTuner(t)
	start := clock.Now()

	for _, f := range []uint16{5644, 5946, 5362, 0} {
		assert.NoError(t, tuner.Tune(f))
	}

	assert.Empty(t, rec.frames())
	assert.Equal(t, time.Duration(0), clock.Since(start))
	s := tuner.Settings()
	assert.Equal(t, DefaultFrequency, s.FrequencyMHz)
	assert.False(t, s.RecentlyTuned)
	assert.Equal(t, uint64(4), tuner.Stats().RejectedFrequencies)
}

func TestTuner_BusGuardSpacesTransactions(t *testing.T) {
	tuner, _, clock := newRecordedTuner(t)

	require.NoError(t, tuner.Tune(5800))
	firstDone := clock.Now()
	require.NoError(t, tuner.Tune(5740))

	// The second frame could not start before BusGuard had passed.
	frameTime := FrameBits*3*BitDelay + tuneSettle
	assert.Equal(t, BusGuard+frameTime, clock.Since(firstDone))
	assert.Equal(t, uint64(1), tuner.Stats().BusWaits)
}

func TestTuner_WaitSettled(t *testing.T) {
	tuner, _, clock := newRecordedTuner(t)
	tuner.WaitSettled()
	assert.Empty(t, clock.Sleeps(), "nothing to wait for before a tune")

	require.NoError(t, tuner.Tune(5800))
	tuned := tuner.Settings().LastTune
	clock.Advance(10 * time.Millisecond)

	tuner.WaitSettled()
	assert.Equal(t, TuneGuard, clock.Since(tuned))
	assert.False(t, tuner.Settings().RecentlyTuned)

	before := clock.Now()
	tuner.WaitSettled()
	assert.Equal(t, before, clock.Now())
}

func TestTuner_SetBandChannel(t *testing.T) {
	tuner, rec, _ := newRecordedTuner(t)

	require.NoError(t, tuner.SetBandChannel(4, 7))
	s := tuner.Settings()
	assert.Equal(t, uint16(5917), s.FrequencyMHz)
	assert.Equal(t, uint8(4), s.Band)
	assert.Equal(t, uint8(7), s.Channel)

	require.NoError(t, tuner.SetBandChannel(6, 0))
	require.NoError(t, tuner.SetBandChannel(0, 8))
	assert.Equal(t, s.FrequencyMHz, tuner.Frequency())
	assert.Equal(t, uint64(2), tuner.Stats().RejectedBandChannel)
	assert.Len(t, rec.frames(), 1)
}

func TestTuner_SettingsFollowTunedFrequency(t *testing.T) {
	tuner, _, _ := newRecordedTuner(t)
	s := tuner.Settings()
	assert.Equal(t, "F4", ChannelLabel(s.Band, s.Channel), "default 5800 MHz")

	require.NoError(t, tuner.Tune(5658))
	s = tuner.Settings()
	assert.Equal(t, uint16(5658), s.FrequencyMHz)
	assert.Equal(t, "R1", ChannelLabel(s.Band, s.Channel))

	// R7 and F8 share 5880 MHz; the requested pair is kept.
	require.NoError(t, tuner.SetBandChannel(4, 6))
	s = tuner.Settings()
	assert.Equal(t, uint16(5880), s.FrequencyMHz)
	assert.Equal(t, "R7", ChannelLabel(s.Band, s.Channel))
}

func TestTuner_RejectedBandChannelKeepsSettings(t *testing.T) {
	tuner, rec, _ := newRecordedTuner(t)
	require.NoError(t, tuner.Tune(5658))
	before := tuner.Settings()

	// Band L is in the table but below the tunable range.
	require.NoError(t, tuner.SetBandChannel(5, 0))

	assert.Equal(t, before, tuner.Settings())
	assert.Equal(t, uint64(1), tuner.Stats().RejectedFrequencies)
	assert.Zero(t, tuner.Stats().RejectedBandChannel)
	assert.Len(t, rec.frames(), 1)
}

func TestTuner_SetupSequence(t *testing.T) {
	tuner, rec, clock := newRecordedTuner(t)
	start := clock.Now()
	require.NoError(t, tuner.Setup())

	frames := rec.frames()
	require.Len(t, frames, 2)
	assert.Equal(t, []uint8{1, 1, 1, 1, 1}, frames[0][:5], "reset register")
	assert.Equal(t, uint32(0), bitsToUint(frames[0][5:]))
	assert.Equal(t, []uint8{0, 1, 0, 1, 1}, frames[1][:5], "power register")
	assert.Equal(t, powerConfig, bitsToUint(frames[1][5:]))

	assert.GreaterOrEqual(t, clock.Since(start), powerUp+2*resetSettle)
	rec.mu.Lock()
	first := rec.edges[:3]
	rec.mu.Unlock()
	assert.Equal(t, []edge{{"sel", gpio.High}, {"clk", gpio.Low}, {"data", gpio.Low}}, first)
}

func TestTuner_LineErrorIsReturned(t *testing.T) {
	monitoring.SetLogger(nil)
	rec := &busRecorder{}
	boom := errors.New("gpio busy")
	tuner := NewTuner(Pins{
		Data:   &recLine{name: "data", rec: rec},
		Clock:  &recLine{name: "clk", rec: rec, err: boom},
		Select: &recLine{name: "sel", rec: rec},
	}, timeutil.NewMockClock(time.Time{}))

	err := tuner.Tune(5800)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, DefaultFrequency, tuner.Frequency())
	assert.False(t, tuner.Settings().RecentlyTuned)
}

func TestNopPins(t *testing.T) {
	tuner := NewTuner(NopPins(), timeutil.NewMockClock(time.Time{}))
	require.NoError(t, tuner.Tune(5658))
	assert.Equal(t, uint16(5658), tuner.Frequency())
}
