package timing

import "sync/atomic"

// Diagnostics counts events the core handles silently. The counters never
// change externally visible behaviour.
type Diagnostics struct {
	Samples         atomic.Uint64
	ReadErrors      atomic.Uint64
	LapsRecorded    atomic.Uint64
	LapsBounced     atomic.Uint64
	LapOverflows    atomic.Uint64
	PeakOverflows   atomic.Uint64
	NadirOverflows  atomic.Uint64
	LockTimeouts    atomic.Uint64
	ForcedCrossEnds atomic.Uint64
	InactiveSkipped atomic.Uint64
}

// DiagnosticsSnapshot is a point-in-time copy of Diagnostics.
type DiagnosticsSnapshot struct {
	Samples         uint64 `json:"samples"`
	ReadErrors      uint64 `json:"read_errors"`
	LapsRecorded    uint64 `json:"laps_recorded"`
	LapsBounced     uint64 `json:"laps_bounced"`
	LapOverflows    uint64 `json:"lap_overflows"`
	PeakOverflows   uint64 `json:"peak_overflows"`
	NadirOverflows  uint64 `json:"nadir_overflows"`
	LockTimeouts    uint64 `json:"lock_timeouts"`
	ForcedCrossEnds uint64 `json:"forced_crossing_ends"`
	InactiveSkipped uint64 `json:"inactive_skipped"`
}

// Snapshot loads every counter.
func (d *Diagnostics) Snapshot() DiagnosticsSnapshot {
	return DiagnosticsSnapshot{
		Samples:         d.Samples.Load(),
		ReadErrors:      d.ReadErrors.Load(),
		LapsRecorded:    d.LapsRecorded.Load(),
		LapsBounced:     d.LapsBounced.Load(),
		LapOverflows:    d.LapOverflows.Load(),
		PeakOverflows:   d.PeakOverflows.Load(),
		NadirOverflows:  d.NadirOverflows.Load(),
		LockTimeouts:    d.LockTimeouts.Load(),
		ForcedCrossEnds: d.ForcedCrossEnds.Load(),
		InactiveSkipped: d.InactiveSkipped.Load(),
	}
}
