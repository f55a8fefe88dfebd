// Package api serves the timer's status surface: JSON state and counters,
// runtime configuration, a websocket event stream, and the RSSI chart.
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/gatetimer/internal/lapdb"
	"github.com/banshee-data/gatetimer/internal/monitoring"
	"github.com/banshee-data/gatetimer/internal/node"
	"github.com/banshee-data/gatetimer/internal/rx5808"
	"github.com/banshee-data/gatetimer/internal/serialmux"
	"github.com/banshee-data/gatetimer/internal/timing"
)

// ANSI escape codes for the request log
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// TraceSource supplies the recent RSSI trace and loop timing, normally a
// *timing.Sampler.
type TraceSource interface {
	Trace() []timing.TraceSample
	LoopStats() timing.LoopStats
}

// Options carries the optional collaborators whose counters are reported
// by /api/diagnostics. Nil fields are left out of the report.
type Options struct {
	Sampler  TraceSource
	Node     interface{ Stats() node.Stats }
	Link     interface{ Stats() serialmux.LinkStats }
	Recorder interface{ Stats() lapdb.RecorderStats }
	Receiver ReceiverSource
}

// ReceiverSource reports what the receiver is tuned to and how many tune
// requests it turned away, normally a *rx5808.Tuner.
type ReceiverSource interface {
	Settings() rx5808.Settings
	Stats() rx5808.Stats
}

type Server struct {
	core   *timing.Core
	opts   Options
	events *eventHub
}

// NewServer returns a server over core. It subscribes to core for the
// websocket stream; Close removes the subscription.
func NewServer(core *timing.Core, opts Options) *Server {
	s := &Server{
		core:   core,
		opts:   opts,
		events: newEventHub(core.Millis),
	}
	s.events.unsubscribe = core.Subscribe(s.events)
	return s
}

// Close stops the event stream.
func (s *Server) Close() {
	s.events.close()
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// underlying writer.
func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes. The websocket route is left out of the
// logging middleware because it hijacks the connection.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/api/state", LoggingMiddleware(http.HandlerFunc(s.handleState)))
	mux.Handle("/api/diagnostics", LoggingMiddleware(http.HandlerFunc(s.handleDiagnostics)))
	mux.Handle("/api/laps", LoggingMiddleware(http.HandlerFunc(s.handleLaps)))
	mux.Handle("/api/config", LoggingMiddleware(http.HandlerFunc(s.handleConfig)))
	mux.HandleFunc("/api/events", s.handleEvents)
	return mux
}

// AttachAdminRoutes adds the RSSI chart and a timing summary to the
// /debug/ index on mux.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("Timing", func() any {
		st, ok := s.core.State()
		if !ok {
			return "busy"
		}
		return timingSummary(st)
	})
	debug.HandleFunc("rssi-chart", "RSSI trace with enter and exit levels", s.handleRSSIChart)
}

func timingSummary(st timing.State) string {
	active := "paused"
	if st.Activated {
		active = "active"
	}
	return fmt.Sprintf("%s %s, %d laps", describeReceiver(st.FrequencyMHz), active, st.LapCount)
}
