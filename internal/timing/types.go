package timing

import "time"

const (
	// MaxLapsStored is the lap ring capacity.
	MaxLapsStored = 128

	// ExtremumBufferSize is the capacity of each extremum ring.
	ExtremumBufferSize = 256

	// InterLapMinimumMs is the shortest time between two recorded laps.
	// Candidates closer than this to the previous lap are bounces.
	InterLapMinimumMs = 3000

	// MaxExtremumDuration is where extremum durations saturate.
	MaxExtremumDuration = 0xFFFF

	DefaultEnterRSSI   = 120
	DefaultExitRSSI    = 100
	DefaultMinLap      = 5 * time.Second
	DefaultLockTimeout = 10 * time.Millisecond

	// legacyThresholdGap separates enter and exit for SetThreshold.
	legacyThresholdGap = 20

	nadirSentinel = 255
)

// Both rings mask their cursors, so the capacities must be powers of two.
// Indexing a one-element array with a non-zero constant fails to compile.
var (
	_ = [1]struct{}{}[MaxLapsStored&(MaxLapsStored-1)]
	_ = [1]struct{}{}[ExtremumBufferSize&(ExtremumBufferSize-1)]
)

// State is the shared timing state. The sampler writes it; everything else
// reads copies of it.
type State struct {
	CurrentRSSI   uint8  `json:"current_rssi"`
	PeakRSSI      uint8  `json:"peak_rssi"`
	NadirRSSI     uint8  `json:"nadir_rssi"`
	PassNadirRSSI uint8  `json:"pass_nadir_rssi"`
	EnterRSSI     uint8  `json:"enter_rssi"`
	ExitRSSI      uint8  `json:"exit_rssi"`
	Crossing      bool   `json:"crossing"`
	CrossingStart uint32 `json:"crossing_start_ms"`
	LastLapTime   uint32 `json:"last_lap_ms"`
	LapCount      uint16 `json:"lap_count"`
	FrequencyMHz  uint16 `json:"frequency_mhz"`
	Activated     bool   `json:"activated"`
	LastRSSI      uint8  `json:"last_rssi"`
	RSSIChange    int8   `json:"rssi_change"`
	MinLapMs      uint32 `json:"min_lap_ms"`
	RaceStart     uint32 `json:"race_start_ms"`
}

// LapRecord is one confirmed lap. Timestamp is the time of the peak that
// triggered it, in milliseconds of core uptime.
type LapRecord struct {
	Number    uint16 `json:"number"`
	Timestamp uint32 `json:"timestamp_ms"`
	LapTime   uint32 `json:"lap_time_ms"`
	PeakRSSI  uint8  `json:"peak_rssi"`
	Slot      uint8  `json:"slot"`
	Valid     bool   `json:"valid"`
}

// Extremum is a local peak or nadir of the filtered signal.
type Extremum struct {
	RSSI      uint8  `json:"rssi"`
	FirstTime uint32 `json:"first_time_ms"`
	Duration  uint16 `json:"duration_ms"`
	Valid     bool   `json:"valid"`
}

func initialState(cfg Config) State {
	return State{
		EnterRSSI:     cfg.EnterRSSI,
		ExitRSSI:      cfg.ExitRSSI,
		NadirRSSI:     nadirSentinel,
		PassNadirRSSI: nadirSentinel,
		MinLapMs:      uint32(cfg.MinLap / time.Millisecond),
	}
}
