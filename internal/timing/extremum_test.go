package timing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtremum_TrendReversals(t *testing.T) {
	c, _, _ := newTestCore(t, nil)
	for i, v := range []uint8{10, 20, 30, 20, 10, 10, 10, 20} {
		c.ProcessSample(v, uint32(i))
	}

	e, isPeak, ok := c.NextExtremum()
	require.True(t, ok)
	assert.True(t, isPeak)
	assert.Equal(t, Extremum{RSSI: 30, FirstTime: 2, Duration: 1, Valid: true}, e)

	e, isPeak, ok = c.NextExtremum()
	require.True(t, ok)
	assert.False(t, isPeak)
	assert.Equal(t, Extremum{RSSI: 10, FirstTime: 4, Duration: 3, Valid: true}, e)

	_, _, ok = c.NextExtremum()
	assert.False(t, ok, "the open peak at 20 is not buffered yet")
}

func TestExtremum_DrainsInStartOrder(t *testing.T) {
	c, _, _ := newTestCore(t, nil)
	for i, v := range []uint8{50, 5, 5, 40, 40, 10} {
		c.ProcessSample(v, uint32(i*10))
	}

	type drained struct {
		isPeak bool
		e      Extremum
	}
	want := []drained{
		{true, Extremum{RSSI: 50, FirstTime: 0, Duration: 10, Valid: true}},
		{false, Extremum{RSSI: 5, FirstTime: 10, Duration: 20, Valid: true}},
		{true, Extremum{RSSI: 40, FirstTime: 30, Duration: 20, Valid: true}},
	}
	for _, w := range want {
		e, isPeak, ok := c.NextExtremum()
		require.True(t, ok)
		assert.Equal(t, w.isPeak, isPeak)
		assert.Equal(t, w.e, e)
	}
	_, _, ok := c.NextExtremum()
	assert.False(t, ok, "the nadir at 10 is still open")
}

func TestExtremum_TieGoesToNadir(t *testing.T) {
	c, _, _ := newTestCore(t, nil)
	c.ext.peaks.Push(Extremum{RSSI: 90, FirstTime: 40, Valid: true})
	c.ext.nadirs.Push(Extremum{RSSI: 20, FirstTime: 40, Valid: true})

	_, isPeak, ok := c.NextExtremum()
	require.True(t, ok)
	assert.False(t, isPeak)
	_, isPeak, ok = c.NextExtremum()
	require.True(t, ok)
	assert.True(t, isPeak)
}

func TestExtremum_DurationSaturates(t *testing.T) {
	c, _, _ := newTestCore(t, nil)
	c.ProcessSample(80, 0)
	c.ProcessSample(80, 1000)
	_, ok := c.NextPeak()
	require.False(t, ok)

	c.ProcessSample(80, MaxExtremumDuration)
	e, ok := c.NextPeak()
	require.True(t, ok)
	assert.Equal(t, Extremum{RSSI: 80, FirstTime: 0, Duration: MaxExtremumDuration, Valid: true}, e)

	// A fresh extremum opened at the saturation point.
	c.ProcessSample(70, MaxExtremumDuration+100)
	e, ok = c.NextPeak()
	require.True(t, ok)
	assert.Equal(t, Extremum{RSSI: 80, FirstTime: MaxExtremumDuration, Duration: 100, Valid: true}, e)
}

func TestExtremum_FinalizedDurationClamps(t *testing.T) {
	c, _, _ := newTestCore(t, nil)
	c.ProcessSample(60, 0)
	c.ProcessSample(30, 200000)
	e, ok := c.NextPeak()
	require.True(t, ok)
	assert.Equal(t, uint16(MaxExtremumDuration), e.Duration)
}

func TestExtremum_OverflowDropsOldest(t *testing.T) {
	c, _, _ := newTestCore(t, nil)
	const peaks = ExtremumBufferSize + 44
	for i := 0; i < peaks; i++ {
		c.ProcessSample(100, uint32(2*i))
		c.ProcessSample(50, uint32(2*i+1))
	}

	d := c.Diagnostics().Snapshot()
	assert.Equal(t, uint64(peaks-ExtremumBufferSize), d.PeakOverflows)
	assert.Equal(t, uint64(peaks-1-ExtremumBufferSize), d.NadirOverflows)

	var drained []Extremum
	for {
		e, ok := c.NextPeak()
		if !ok {
			break
		}
		drained = append(drained, e)
	}
	require.Len(t, drained, ExtremumBufferSize)
	assert.Equal(t, uint32(2*(peaks-ExtremumBufferSize)), drained[0].FirstTime)
	assert.Equal(t, uint32(2*(peaks-1)), drained[len(drained)-1].FirstTime)
}

func TestExtremum_TrendClamp(t *testing.T) {
	c, _, _ := newTestCore(t, nil)
	c.ProcessSample(255, 0)
	s, _ := c.State()
	assert.Equal(t, int8(127), s.RSSIChange)

	c.ProcessSample(0, 1)
	s, _ = c.State()
	assert.Equal(t, int8(-127), s.RSSIChange)
	assert.Equal(t, uint8(0), s.LastRSSI)

	c.ProcessSample(3, 2)
	s, _ = c.State()
	assert.Equal(t, int8(3), s.RSSIChange)
}

func TestExtremum_ZeroPeakNotBuffered(t *testing.T) {
	c, _, _ := newTestCore(t, nil)
	c.ProcessSample(0, 0)
	c.ProcessSample(0, 5)
	_, _, ok := c.NextExtremum()
	assert.False(t, ok)
}
