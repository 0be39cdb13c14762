package report

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes registers the live control charts under /debug/.
func (c *Collector) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("control-charts", "task errors and estimator uncertainty of the current run", c.handleCharts)
}

func (c *Collector) handleCharts(w http.ResponseWriter, r *http.Request) {
	page := components.NewPage()
	page.SetPageTitle("Control run")
	page.AddCharts(c.taskErrorChart(), c.covarianceChart(), c.pathChart())

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (c *Collector) taskErrorChart() *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Task error norms"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "error"}),
	)

	names := c.history.Names()
	var start float64
	first := true
	for _, name := range names {
		if s := c.history.Series(name); len(s) > 0 {
			if t := float64(s[0].Time.UnixNano()) / 1e9; first || t < start {
				start, first = t, false
			}
		}
	}
	for _, name := range names {
		series := c.history.Series(name)
		data := make([]opts.LineData, len(series))
		for i, s := range series {
			data[i] = opts.LineData{Value: []interface{}{float64(s.Time.UnixNano())/1e9 - start, s.Norm}}
		}
		line.AddSeries(name, data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}
	return line
}

func (c *Collector) covarianceChart() *charts.Line {
	poses := c.Poses()
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Covariance trace", Subtitle: fmt.Sprintf("samples=%d", len(poses))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "tr(P)"}),
	)
	data := make([]opts.LineData, len(poses))
	for i, s := range poses {
		data[i] = opts.LineData{Value: []interface{}{s.Time.Sub(poses[0].Time).Seconds(), s.CovarianceTrace}}
	}
	line.AddSeries("trace", data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	return line
}

func (c *Collector) pathChart() *charts.Scatter {
	poses := c.Poses()
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "600px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Base path"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Y (m)"}),
	)
	data := make([]opts.ScatterData, len(poses))
	for i, s := range poses {
		data[i] = opts.ScatterData{Value: []interface{}{s.X, s.Y}}
	}
	scatter.AddSeries("base", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	return scatter
}
