package web

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"pinger-sim/internal/pinger"
)

// chartHandler renders recorded measurements as an HTML line chart: range
// on the left axis, bearing and elevation in degrees on the right.
func chartHandler(h History) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		limit := 600
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 10000 {
				http.Error(w, "limit must be between 1 and 10000", http.StatusBadRequest)
				return
			}
			limit = n
		}
		ms, err := h.Measurements(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		var buf bytes.Buffer
		if err := measurementChart(ms).Render(&buf); err != nil {
			http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(buf.Bytes())
	})
}

// measurementChart expects ms newest first, as History returns them.
func measurementChart(ms []pinger.Measurement) *charts.Line {
	n := len(ms)
	x := make([]string, n)
	rng := make([]opts.LineData, n)
	bearing := make([]opts.LineData, n)
	elevation := make([]opts.LineData, n)
	for i, m := range ms {
		j := n - 1 - i
		x[j] = strconv.FormatFloat(m.Stamp.Seconds(), 'f', 2, 64)
		rng[j] = opts.LineData{Value: m.Range}
		bearing[j] = opts.LineData{Value: m.Bearing * 180 / math.Pi, YAxisIndex: 1}
		elevation[j] = opts.LineData{Value: m.Elevation * 180 / math.Pi, YAxisIndex: 1}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Pinger measurements", Width: "100%", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{Title: "Pinger measurements", Subtitle: fmt.Sprintf("samples=%d", n)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "sim time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "range (m)"}),
	)
	line.ExtendYAxis(opts.YAxis{Name: "angle (deg)", Min: -180, Max: 180})
	line.SetXAxis(x).
		AddSeries("range", rng).
		AddSeries("bearing", bearing).
		AddSeries("elevation", elevation)
	return line
}
