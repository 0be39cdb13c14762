package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/mobile-manipulator/internal/tasks"
)

// Output file names written by WritePlots.
const (
	TaskErrorsFile      = "task_errors.png"
	CovarianceTraceFile = "covariance_trace.png"
	BasePathFile        = "base_path.png"
)

// WritePlots writes the task error, covariance trace and base path plots
// into dir, creating it if needed. Plots with no data are skipped.
func (c *Collector) WritePlots(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plot dir: %w", err)
	}
	var written []string

	if len(c.history.Names()) > 0 {
		path := filepath.Join(dir, TaskErrorsFile)
		if err := PlotTaskErrors(c.history, path); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	poses := c.Poses()
	if len(poses) > 0 {
		path := filepath.Join(dir, CovarianceTraceFile)
		if err := PlotCovarianceTrace(poses, path); err != nil {
			return written, err
		}
		written = append(written, path)

		path = filepath.Join(dir, BasePathFile)
		if err := PlotBasePath(poses, path); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	for _, p := range written {
		logf("wrote %s", p)
	}
	return written, nil
}

// PlotTaskErrors plots the error norm of every task in h against time.
func PlotTaskErrors(h *tasks.ErrorHistory, path string) error {
	names := h.Names()
	if len(names) == 0 {
		return fmt.Errorf("no task errors recorded")
	}

	var start time.Time
	for _, name := range names {
		if s := h.Series(name); len(s) > 0 && (start.IsZero() || s[0].Time.Before(start)) {
			start = s[0].Time
		}
	}

	p := plot.New()
	p.Title.Text = "Task error norms"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Error norm"

	for i, name := range names {
		series := h.Series(name)
		pts := make(plotter.XYs, len(series))
		for j, s := range series {
			pts[j] = plotter.XY{X: s.Time.Sub(start).Seconds(), Y: s.Norm}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("task %s: %w", name, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(name, line)
	}
	p.Legend.Top = true
	p.Legend.Left = false

	return p.Save(14*vg.Inch, 6*vg.Inch, path)
}

// PlotCovarianceTrace plots the estimator covariance trace against time.
// Samples taken while vision was degraded are marked.
func PlotCovarianceTrace(poses []PoseSample, path string) error {
	if len(poses) == 0 {
		return fmt.Errorf("no pose samples recorded")
	}
	start := poses[0].Time

	trace := make(plotter.XYs, len(poses))
	var degraded plotter.XYs
	for i, s := range poses {
		trace[i] = plotter.XY{X: s.Time.Sub(start).Seconds(), Y: s.CovarianceTrace}
		if s.VisionDegraded {
			degraded = append(degraded, trace[i])
		}
	}

	p := plot.New()
	p.Title.Text = "Estimator covariance trace"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "tr(P)"

	line, err := plotter.NewLine(trace)
	if err != nil {
		return err
	}
	line.Color = plotutil.Color(0)
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("trace", line)

	if len(degraded) > 0 {
		sc, err := plotter.NewScatter(degraded)
		if err != nil {
			return err
		}
		sc.Color = plotutil.Color(1)
		sc.Radius = vg.Points(1.5)
		p.Add(sc)
		p.Legend.Add("vision degraded", sc)
	}
	p.Legend.Top = true
	p.Legend.Left = false

	return p.Save(14*vg.Inch, 6*vg.Inch, path)
}

// PlotBasePath plots the estimated base position in the world plane.
func PlotBasePath(poses []PoseSample, path string) error {
	if len(poses) == 0 {
		return fmt.Errorf("no pose samples recorded")
	}
	pts := make(plotter.XYs, len(poses))
	for i, s := range poses {
		pts[i] = plotter.XY{X: s.X, Y: s.Y}
	}

	p := plot.New()
	p.Title.Text = "Base path"
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = plotutil.Color(2)
	line.Width = vg.Points(1)
	p.Add(line, plotter.NewGrid())

	return p.Save(8*vg.Inch, 8*vg.Inch, path)
}
