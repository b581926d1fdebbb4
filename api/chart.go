package api

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// handleChart renders a go-echarts line chart of altitude, vertical
// velocity, and predicted apogee over the sampler's rolling window,
// following internal/lidar/monitor/echarts_handlers.go's
// charts.NewLine/SetGlobalOptions/AddSeries/Render-to-buffer pattern.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	samples := s.snapshotSamples()

	xAxis := make([]string, len(samples))
	altitude := make([]opts.LineData, len(samples))
	velocity := make([]opts.LineData, len(samples))
	apogee := make([]opts.LineData, len(samples))

	var t0 int64
	if len(samples) > 0 {
		t0 = samples[0].timestampNs
	}
	for i, smp := range samples {
		xAxis[i] = formatSeconds(smp.timestampNs - t0)
		altitude[i] = opts.LineData{Value: smp.altitude}
		velocity[i] = opts.LineData{Value: smp.velocity}
		if smp.havePrediction {
			apogee[i] = opts.LineData{Value: smp.predictedApogee}
		} else {
			apogee[i] = opts.LineData{Value: nil}
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Flight telemetry"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "m, m/s"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	line.SetXAxis(xAxis).
		AddSeries("altitude (m)", altitude).
		AddSeries("vertical velocity (m/s)", velocity).
		AddSeries("predicted apogee (m)", apogee)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func formatSeconds(ns int64) string {
	seconds := float64(ns) / 1e9
	return strconv.FormatFloat(seconds, 'f', 2, 64)
}
