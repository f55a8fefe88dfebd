package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/banshee-data/gatetimer/internal/httputil"
	"github.com/banshee-data/gatetimer/internal/lapdb"
	"github.com/banshee-data/gatetimer/internal/node"
	"github.com/banshee-data/gatetimer/internal/rx5808"
	"github.com/banshee-data/gatetimer/internal/serialmux"
	"github.com/banshee-data/gatetimer/internal/timing"
)

// Receiver describes the tuned frequency in table terms.
type Receiver struct {
	FrequencyMHz uint16 `json:"frequency_mhz"`
	Band         string `json:"band,omitempty"`
	Channel      uint8  `json:"channel,omitempty"` // 1-based
	Label        string `json:"label,omitempty"`
}

func receiverFor(freq uint16) Receiver {
	r := Receiver{FrequencyMHz: freq}
	b, c := rx5808.Lookup(freq)
	if f, _ := rx5808.Frequency(b, c); f == freq {
		r.Band = rx5808.BandName(b)
		r.Channel = c + 1
		r.Label = rx5808.ChannelLabel(b, c)
	}
	return r
}

func describeReceiver(freq uint16) string {
	r := receiverFor(freq)
	if r.Label == "" {
		return fmt.Sprintf("%d MHz (off-table)", freq)
	}
	return fmt.Sprintf("%d MHz (%s)", freq, r.Label)
}

// StateResponse is the body of GET /api/state.
type StateResponse struct {
	UptimeMs uint32       `json:"uptime_ms"`
	State    timing.State `json:"state"`
	Receiver Receiver     `json:"receiver"`
}

// DiagnosticsResponse is the body of GET /api/diagnostics.
type DiagnosticsResponse struct {
	Core     timing.DiagnosticsSnapshot `json:"core"`
	Loop     *timing.LoopStats          `json:"loop,omitempty"`
	Node     *node.Stats                `json:"node,omitempty"`
	Link     *serialmux.LinkStats       `json:"link,omitempty"`
	Recorder *lapdb.RecorderStats       `json:"recorder,omitempty"`
	Receiver *ReceiverDiagnostics       `json:"receiver,omitempty"`
}

// ReceiverDiagnostics is the tuner's part of the diagnostics report.
type ReceiverDiagnostics struct {
	Settings rx5808.Settings `json:"settings"`
	Label    string          `json:"label"`
	Stats    rx5808.Stats    `json:"stats"`
}

// ConfigRequest is the body of POST /api/config. Every field is optional;
// Threshold is the single-value form and is applied before the separate
// enter and exit levels.
type ConfigRequest struct {
	EnterRSSI    *int    `json:"enter_rssi,omitempty"`
	ExitRSSI     *int    `json:"exit_rssi,omitempty"`
	Threshold    *int    `json:"threshold,omitempty"`
	FrequencyMHz *int    `json:"frequency_mhz,omitempty"`
	Band         *string `json:"band,omitempty"`
	Channel      *int    `json:"channel,omitempty"` // 1-based
	MinLapMs     *int    `json:"min_lap_ms,omitempty"`
	Activated    *bool   `json:"activated,omitempty"`
}

func (s *Server) state(w http.ResponseWriter) (timing.State, bool) {
	st, ok := s.core.State()
	if !ok {
		httputil.ServiceUnavailable(w, "timing state busy")
	}
	return st, ok
}

func (s *Server) writeState(w http.ResponseWriter) {
	st, ok := s.state(w)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, StateResponse{
		UptimeMs: s.core.Millis(),
		State:    st,
		Receiver: receiverFor(st.FrequencyMHz),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	s.writeState(w)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.diagnostics())
}

func (s *Server) diagnostics() DiagnosticsResponse {
	resp := DiagnosticsResponse{Core: s.core.Diagnostics().Snapshot()}
	if s.opts.Sampler != nil {
		loop := s.opts.Sampler.LoopStats()
		resp.Loop = &loop
	}
	if s.opts.Node != nil {
		st := s.opts.Node.Stats()
		resp.Node = &st
	}
	if s.opts.Link != nil {
		st := s.opts.Link.Stats()
		resp.Link = &st
	}
	if s.opts.Recorder != nil {
		st := s.opts.Recorder.Stats()
		resp.Recorder = &st
	}
	if s.opts.Receiver != nil {
		set := s.opts.Receiver.Settings()
		resp.Receiver = &ReceiverDiagnostics{
			Settings: set,
			Label:    rx5808.ChannelLabel(set.Band, set.Channel),
			Stats:    s.opts.Receiver.Stats(),
		}
	}
	return resp
}

// Diagnostics returns the same report as GET /api/diagnostics, for the
// expvar page.
func (s *Server) Diagnostics() any { return s.diagnostics() }

func (s *Server) handleLaps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	laps := s.core.PendingLaps()
	if laps == nil {
		laps = []timing.LapRecord{}
	}
	httputil.WriteJSONOK(w, laps)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeState(w)
		return
	case http.MethodPost:
	default:
		httputil.MethodNotAllowed(w)
		return
	}

	var req ConfigRequest
	if err := httputil.DecodeJSONBody(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.apply(req); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	s.writeState(w)
}

func checkLevel(name string, v *int) error {
	if v != nil && (*v < 0 || *v > 255) {
		return fmt.Errorf("%s must be between 0 and 255", name)
	}
	return nil
}

func (req ConfigRequest) validate() error {
	for _, err := range []error{
		checkLevel("enter_rssi", req.EnterRSSI),
		checkLevel("exit_rssi", req.ExitRSSI),
		checkLevel("threshold", req.Threshold),
	} {
		if err != nil {
			return err
		}
	}
	if req.FrequencyMHz != nil {
		f := *req.FrequencyMHz
		if f < 0 || f > 0xFFFF || !rx5808.InRange(uint16(f)) {
			return fmt.Errorf("frequency_mhz must be between %d and %d", rx5808.MinFrequency, rx5808.MaxFrequency)
		}
	}
	if (req.Band == nil) != (req.Channel == nil) {
		return fmt.Errorf("band and channel must be set together")
	}
	if req.Band != nil {
		if req.FrequencyMHz != nil {
			return fmt.Errorf("set either frequency_mhz or band and channel, not both")
		}
		b, ok := rx5808.BandIndex(*req.Band)
		if !ok {
			return fmt.Errorf("unknown band %q", *req.Band)
		}
		if *req.Channel < 1 || *req.Channel > rx5808.NumChannels {
			return fmt.Errorf("channel must be between 1 and %d", rx5808.NumChannels)
		}
		if f, _ := rx5808.Frequency(b, uint8(*req.Channel-1)); !rx5808.InRange(f) {
			return fmt.Errorf("%d MHz is outside the tunable window", f)
		}
	}
	if req.MinLapMs != nil && *req.MinLapMs < 0 {
		return fmt.Errorf("min_lap_ms must be non-negative")
	}
	return nil
}

// apply pushes a validated request into the core. Retuning blocks for the
// receiver's guard time, so it runs before the cheap setters.
func (s *Server) apply(req ConfigRequest) error {
	if req.FrequencyMHz != nil {
		if err := s.core.SetFrequency(uint16(*req.FrequencyMHz)); err != nil {
			return fmt.Errorf("tune failed: %w", err)
		}
	}
	if req.Band != nil {
		b, _ := rx5808.BandIndex(*req.Band)
		if err := s.core.SetBandChannel(b, uint8(*req.Channel-1)); err != nil {
			return fmt.Errorf("tune failed: %w", err)
		}
	}
	if req.Threshold != nil {
		s.core.SetThreshold(uint8(*req.Threshold))
	}
	if req.EnterRSSI != nil {
		s.core.SetEnterRSSI(uint8(*req.EnterRSSI))
	}
	if req.ExitRSSI != nil {
		s.core.SetExitRSSI(uint8(*req.ExitRSSI))
	}
	if req.MinLapMs != nil {
		s.core.SetMinLap(time.Duration(*req.MinLapMs) * time.Millisecond)
	}
	if req.Activated != nil {
		s.core.SetActivated(*req.Activated)
	}
	return nil
}
