package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/gatetimer/internal/timing"
)

// rssiChart renders the trace as a line chart with the enter and exit
// levels drawn as flat series.
func rssiChart(trace []timing.TraceSample, st timing.State) *charts.Line {
	xs := make([]string, len(trace))
	rssi := make([]opts.LineData, len(trace))
	enter := make([]opts.LineData, len(trace))
	exit := make([]opts.LineData, len(trace))
	for i, p := range trace {
		xs[i] = strconv.FormatUint(uint64(p.Millis), 10)
		rssi[i] = opts.LineData{Value: p.RSSI}
		enter[i] = opts.LineData{Value: st.EnterRSSI}
		exit[i] = opts.LineData{Value: st.ExitRSSI}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "RSSI trace", Theme: "dark", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Filtered RSSI",
			Subtitle: fmt.Sprintf("%s samples=%d enter=%d exit=%d laps=%d", describeReceiver(st.FrequencyMHz), len(trace), st.EnterRSSI, st.ExitRSSI, st.LapCount),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "uptime (ms)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 255, Name: "RSSI"}),
	)
	line.SetXAxis(xs).
		AddSeries("rssi", rssi).
		AddSeries("enter", enter).
		AddSeries("exit", exit)
	return line
}

func (s *Server) handleRSSIChart(w http.ResponseWriter, r *http.Request) {
	if s.opts.Sampler == nil {
		http.Error(w, "no sampler attached", http.StatusNotFound)
		return
	}
	st, ok := s.core.State()
	if !ok {
		http.Error(w, "timing state busy", http.StatusServiceUnavailable)
		return
	}

	var buf bytes.Buffer
	if err := rssiChart(s.opts.Sampler.Trace(), st).Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}
