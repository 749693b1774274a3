package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/crossroads/internal/httputil"
)

const defaultChartHours = 1

// showCountsChart renders the per-direction vehicle counts of recent status
// samples as an HTML line chart.
func (s *Server) showCountsChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.store == nil {
		httputil.ServiceUnavailable(w, "no database configured")
		return
	}
	hours, err := positiveParam(r, "hours", defaultChartHours)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	samples, err := s.store.StatusSamples(r.Context(), s.since(hours))
	if err != nil {
		httputil.InternalServerError(w, "failed to load samples: "+err.Error())
		return
	}

	x := make([]string, 0, len(samples))
	one := make([]opts.LineData, 0, len(samples))
	two := make([]opts.LineData, 0, len(samples))
	for _, st := range samples {
		x = append(x, st.UpdatedAt.Local().Format(time.TimeOnly))
		one = append(one, opts.LineData{Value: st.VehiclesOne})
		two = append(two, opts.LineData{Value: st.VehiclesTwo})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Vehicle counts", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Vehicles waiting", Subtitle: fmt.Sprintf("last %dh, %d samples", hours, len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "vehicles"}),
	)
	line.SetXAxis(x).
		AddSeries("DIRECTION_1", one).
		AddSeries("DIRECTION_2", two)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// showGreenDurationPlot renders a PNG histogram of green phase durations.
func (s *Server) showGreenDurationPlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.store == nil {
		httputil.ServiceUnavailable(w, "no database configured")
		return
	}
	hours, err := positiveParam(r, "hours", defaultEventHours)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	phases, err := s.store.GreenPhases(r.Context(), s.since(hours))
	if err != nil {
		httputil.InternalServerError(w, "failed to load green phases: "+err.Error())
		return
	}
	if len(phases) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "no completed green phases in range")
		return
	}

	values := make(plotter.Values, len(phases))
	for i, p := range phases {
		values[i] = p.Duration.Seconds()
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Green phase durations (last %dh)", hours)
	p.X.Label.Text = "seconds"
	p.Y.Label.Text = "phases"

	hist, err := plotter.NewHist(values, 16)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to build histogram: %v", err))
		return
	}
	hist.LineStyle.Width = vg.Points(1)
	p.Add(hist)

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to encode plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
