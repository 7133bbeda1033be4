package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/signalsfoundry/station-keeper/internal/sim/state"
)

// driftCharts builds the distance-to-target and cumulative-correction plots.
func driftCharts(snap state.SeriesSnapshot, threshold float64) (*charts.Line, *charts.Line) {
	ticks := make([]int, len(snap.Distances))
	distances := make([]opts.LineData, len(snap.Distances))
	for i, d := range snap.Distances {
		ticks[i] = i
		distances[i] = opts.LineData{Value: d}
	}
	corrections := make([]opts.LineData, len(snap.Corrections))
	for i, c := range snap.Corrections {
		corrections[i] = opts.LineData{Value: c}
	}

	drift := charts.NewLine()
	drift.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Station keeping", Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Distance to target", Subtitle: fmt.Sprintf("threshold=%.3f km points=%d", threshold, len(distances))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "km"}),
	)
	drift.SetXAxis(ticks).AddSeries("distance", distances)

	count := charts.NewLine()
	count.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Corrections applied"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	count.SetXAxis(ticks).AddSeries("corrections", corrections)
	return drift, count
}

func (s *Server) handleDriftChart(w http.ResponseWriter, _ *http.Request) {
	drift, count := driftCharts(s.station.Series(), s.station.Status().Threshold)

	page := components.NewPage()
	page.AddCharts(drift, count)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
