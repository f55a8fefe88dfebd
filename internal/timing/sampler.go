package timing

import (
	"context"
	"errors"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/gatetimer/internal/filter"
	"github.com/banshee-data/gatetimer/internal/monitoring"
	"github.com/banshee-data/gatetimer/internal/ring"
	"github.com/banshee-data/gatetimer/internal/rssi"
	"github.com/banshee-data/gatetimer/internal/timeutil"
)

const (
	DefaultSampleInterval = time.Millisecond

	// InactivePoll is how often a paused sampler checks for activation.
	InactivePoll = 100 * time.Millisecond

	// TraceSize is how many recent samples the sampler keeps for charts.
	TraceSize = 1024

	defaultReportEvery = 5 * time.Second
	loopWindow         = 8192
)

// SamplerConfig tunes the sampling task.
type SamplerConfig struct {
	Interval    time.Duration
	ReportEvery time.Duration
	Verbose     bool
}

// TraceSample is one processed sample kept for the RSSI chart.
type TraceSample struct {
	Millis uint32 `json:"t"`
	Raw    uint16 `json:"raw"`
	RSSI   uint8  `json:"rssi"`
}

// LoopStats summarises sampler step durations over one report window.
type LoopStats struct {
	Steps        int     `json:"steps"`
	MeanMicros   float64 `json:"mean_us"`
	StdDevMicros float64 `json:"stddev_us"`
	MinMicros    float64 `json:"min_us"`
	MaxMicros    float64 `json:"max_us"`
}

// Sampler is the periodic task that reads the RSSI source, filters it, and
// feeds the core.
type Sampler struct {
	core   *Core
	src    rssi.Source
	filter *filter.Kalman
	clock  timeutil.Clock
	cfg    SamplerConfig

	traceMu sync.Mutex
	trace   *ring.Buffer[TraceSample]

	loopMu     sync.Mutex
	loopDurs   []float64
	lastReport time.Time
	lastStats  LoopStats
}

// NewSampler wires a source and filter to the core. The sampler uses the
// core's clock.
func NewSampler(core *Core, src rssi.Source, f *filter.Kalman, cfg SamplerConfig) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSampleInterval
	}
	if cfg.ReportEvery <= 0 {
		cfg.ReportEvery = defaultReportEvery
	}
	if f == nil {
		f = filter.NewKalman(filter.DefaultQ, filter.DefaultR)
	}
	clock := core.uptime.Clock()
	return &Sampler{
		core:       core,
		src:        src,
		filter:     f,
		clock:      clock,
		cfg:        cfg,
		trace:      ring.New[TraceSample](TraceSize),
		loopDurs:   make([]float64, 0, 1024),
		lastReport: clock.Now(),
	}
}

// Step takes one sample. It reports whether the core was active; a paused
// core is left untouched. Read errors are counted and swallowed, except
// rssi.ErrSourceExhausted, which is returned.
func (s *Sampler) Step() (bool, error) {
	if !s.core.IsActivated() {
		s.core.diag.InactiveSkipped.Add(1)
		return false, nil
	}
	start := s.clock.Now()

	s.core.tuner.WaitSettled()

	raw, err := s.src.Read()
	if err != nil {
		if errors.Is(err, rssi.ErrSourceExhausted) {
			return true, err
		}
		s.core.diag.ReadErrors.Add(1)
		return true, nil
	}
	scaled := rssi.Scale(raw)
	v := s.filter.Filter(scaled)
	now := s.core.Millis()
	s.core.ProcessSample(v, now)

	s.traceMu.Lock()
	s.trace.Push(TraceSample{Millis: now, Raw: scaled, RSSI: v})
	s.traceMu.Unlock()

	s.recordLoop(s.clock.Since(start))
	return true, nil
}

// Run samples until ctx is cancelled or a finite source runs dry. While the
// core is inactive it polls every InactivePoll instead of every interval.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	idle := false

	monitoring.Logf("[sampler] running every %v", s.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}

		active, err := s.Step()
		if errors.Is(err, rssi.ErrSourceExhausted) {
			monitoring.Logf("[sampler] source exhausted, stopping")
			return nil
		}
		switch {
		case !active && !idle:
			ticker.Reset(InactivePoll)
			idle = true
		case active && idle:
			ticker.Reset(s.cfg.Interval)
			idle = false
		}
	}
}

// Trace returns the recent samples, oldest first.
func (s *Sampler) Trace() []TraceSample {
	s.traceMu.Lock()
	defer s.traceMu.Unlock()
	return s.trace.Snapshot()
}

// LoopStats returns the summary of the last completed report window.
func (s *Sampler) LoopStats() LoopStats {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	return s.lastStats
}

func (s *Sampler) recordLoop(d time.Duration) {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()

	if len(s.loopDurs) < loopWindow {
		s.loopDurs = append(s.loopDurs, float64(d)/float64(time.Microsecond))
	}
	if s.clock.Since(s.lastReport) < s.cfg.ReportEvery {
		return
	}

	mean, std := stat.MeanStdDev(s.loopDurs, nil)
	if len(s.loopDurs) < 2 {
		std = 0
	}
	s.lastStats = LoopStats{
		Steps:        len(s.loopDurs),
		MeanMicros:   mean,
		StdDevMicros: std,
		MinMicros:    floats.Min(s.loopDurs),
		MaxMicros:    floats.Max(s.loopDurs),
	}
	if s.cfg.Verbose {
		monitoring.Logf("[sampler] %d steps: mean %.1fus stddev %.1fus min %.1fus max %.1fus",
			s.lastStats.Steps, mean, std, s.lastStats.MinMicros, s.lastStats.MaxMicros)
	}
	s.loopDurs = s.loopDurs[:0]
	s.lastReport = s.clock.Now()
}
