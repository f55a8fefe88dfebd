package timing

import (
	"math"

	"github.com/banshee-data/gatetimer/internal/ring"
)

// extremumTracker follows the signal's trend and buffers each local peak and
// nadir for the marshal view. It runs on every sample regardless of the lap
// logic.
type extremumTracker struct {
	peak   Extremum
	nadir  Extremum
	peaks  *ring.Buffer[Extremum]
	nadirs *ring.Buffer[Extremum]
}

func newExtremumTracker() extremumTracker {
	return extremumTracker{
		nadir:  Extremum{RSSI: nadirSentinel},
		peaks:  ring.New[Extremum](ExtremumBufferSize),
		nadirs: ring.New[Extremum](ExtremumBufferSize),
	}
}

func (x *extremumTracker) reset() {
	x.peak = Extremum{}
	x.nadir = Extremum{RSSI: nadirSentinel}
	x.peaks.Reset()
	x.nadirs.Reset()
}

func (x *extremumTracker) observe(v uint8, now uint32, s *State, diag *Diagnostics) {
	change := int(v) - int(s.LastRSSI)
	switch {
	case change > 0:
		x.finalizeNadir(now, diag)
		x.peak = Extremum{RSSI: v, FirstTime: now, Valid: true}
	case change < 0:
		x.finalizePeak(now, diag)
		x.nadir = Extremum{RSSI: v, FirstTime: now, Valid: true}
	case x.peak.Valid && v == x.peak.RSSI:
		if x.extend(&x.peak, now) {
			x.pushPeak(x.peak, diag)
			x.peak = Extremum{RSSI: v, FirstTime: now, Valid: true}
		}
	case x.nadir.Valid && v == x.nadir.RSSI:
		if x.extend(&x.nadir, now) {
			x.pushNadir(x.nadir, diag)
			x.nadir = Extremum{RSSI: v, FirstTime: now, Valid: true}
		}
	}

	s.LastRSSI = v
	s.RSSIChange = clampTrend(change)
}

// extend updates e's duration and reports whether it has saturated.
func (x *extremumTracker) extend(e *Extremum, now uint32) bool {
	d := now - e.FirstTime
	if d >= MaxExtremumDuration {
		e.Duration = MaxExtremumDuration
		return true
	}
	e.Duration = uint16(d)
	return false
}

func (x *extremumTracker) finalizePeak(now uint32, diag *Diagnostics) {
	if x.peak.Valid && x.peak.RSSI > 0 {
		x.peak.Duration = clampDuration(now - x.peak.FirstTime)
		x.pushPeak(x.peak, diag)
	}
	x.peak = Extremum{}
}

func (x *extremumTracker) finalizeNadir(now uint32, diag *Diagnostics) {
	if x.nadir.Valid && x.nadir.RSSI < nadirSentinel {
		x.nadir.Duration = clampDuration(now - x.nadir.FirstTime)
		x.pushNadir(x.nadir, diag)
	}
	x.nadir = Extremum{RSSI: nadirSentinel}
}

func (x *extremumTracker) pushPeak(e Extremum, diag *Diagnostics) {
	if !e.Valid || e.RSSI == 0 {
		return
	}
	if x.peaks.Push(e) {
		diag.PeakOverflows.Add(1)
	}
}

func (x *extremumTracker) pushNadir(e Extremum, diag *Diagnostics) {
	if !e.Valid || e.RSSI == nadirSentinel {
		return
	}
	if x.nadirs.Push(e) {
		diag.NadirOverflows.Add(1)
	}
}

func clampDuration(d uint32) uint16 {
	if d > MaxExtremumDuration {
		return MaxExtremumDuration
	}
	return uint16(d)
}

// clampTrend limits the sample-to-sample change to a symmetric int8 range.
func clampTrend(change int) int8 {
	switch {
	case change > math.MaxInt8:
		return math.MaxInt8
	case change < -math.MaxInt8:
		return -math.MaxInt8
	}
	return int8(change)
}
