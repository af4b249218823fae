// Package report renders speed summaries as PNG graphs.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"log"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/ayusman/speedcam/internal/config"
	"github.com/ayusman/speedcam/internal/store"
)

// ErrNoData is returned when a run has no measurements to plot.
var ErrNoData = errors.New("no speed records for graph")

var (
	countColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	speedColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// Summarizer is the part of the speed repository the graphs read from.
type Summarizer interface {
	Summary(opts store.SummaryOptions) ([]store.SummaryBucket, error)
}

// Generator writes count and average speed graphs for each configured run.
type Generator struct {
	src     Summarizer
	dir     string
	units   string
	addDate bool
	now     func() time.Time
}

// NewGenerator creates a Generator writing into dir.
func NewGenerator(src Summarizer, dir, units string, addDate bool) *Generator {
	return &Generator{src: src, dir: dir, units: units, addDate: addDate, now: time.Now}
}

// Filenames returns the count and speed graph paths for run.
func (g *Generator) Filenames(run config.GraphRun) (count, speed string) {
	base := fmt.Sprintf("%s_%dd_over%g.png", run.Group, run.Days, run.MinSpeed)
	if g.addDate {
		base = g.now().Format("20060102-1504-") + base
	}
	return filepath.Join(g.dir, "count_"+base), filepath.Join(g.dir, "speed_"+base)
}

// Run renders one graph pair and returns the written paths.
func (g *Generator) Run(run config.GraphRun) ([]string, error) {
	group, err := store.ParseGroup(run.Group)
	if err != nil {
		return nil, err
	}
	buckets, err := g.src.Summary(store.SummaryOptions{
		Group:    group,
		Days:     run.Days,
		MinSpeed: run.MinSpeed,
		Now:      g.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	if len(buckets) == 0 {
		return nil, ErrNoData
	}
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create graph dir: %w", err)
	}

	countPath, speedPath := g.Filenames(run)
	subtitle := fmt.Sprintf("last %d days, speed over %g %s", run.Days, run.MinSpeed, g.units)

	if err := saveCountPlot(buckets, run.Group, subtitle, countPath); err != nil {
		return nil, err
	}
	if err := saveSpeedPlot(buckets, run.Group, subtitle, g.units, speedPath); err != nil {
		return nil, err
	}
	return []string{countPath, speedPath}, nil
}

// RunAll renders every run, logging and skipping runs without data.
func (g *Generator) RunAll(runs []config.GraphRun) ([]string, error) {
	var written []string
	for _, run := range runs {
		paths, err := g.Run(run)
		if errors.Is(err, ErrNoData) {
			log.Printf("Graph %s/%dd: no data", run.Group, run.Days)
			continue
		}
		if err != nil {
			return written, fmt.Errorf("graph %s/%dd: %w", run.Group, run.Days, err)
		}
		written = append(written, paths...)
	}
	return written, nil
}

func bucketLabels(buckets []store.SummaryBucket) []string {
	labels := make([]string, len(buckets))
	for i, b := range buckets {
		labels[i] = b.Bucket
	}
	return labels
}

func saveCountPlot(buckets []store.SummaryBucket, group, subtitle, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Vehicle count by %s (%s)", group, subtitle)
	p.X.Label.Text = group
	p.Y.Label.Text = "Count"

	values := make(plotter.Values, len(buckets))
	for i, b := range buckets {
		values[i] = float64(b.Count)
	}
	bars, err := plotter.NewBarChart(values, vg.Points(12))
	if err != nil {
		return fmt.Errorf("count bars: %w", err)
	}
	bars.Color = countColor
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(bucketLabels(buckets)...)

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	log.Printf("Saved graph %s", path)
	return nil
}

func saveSpeedPlot(buckets []store.SummaryBucket, group, subtitle, units, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Average speed by %s (%s)", group, subtitle)
	p.X.Label.Text = group
	p.Y.Label.Text = fmt.Sprintf("Speed (%s)", units)

	avg := make(plotter.XYs, len(buckets))
	peak := make(plotter.XYs, len(buckets))
	for i, b := range buckets {
		avg[i] = plotter.XY{X: float64(i), Y: b.AvgSpeed}
		peak[i] = plotter.XY{X: float64(i), Y: b.MaxSpeed}
	}

	avgLine, avgPoints, err := plotter.NewLinePoints(avg)
	if err != nil {
		return fmt.Errorf("speed line: %w", err)
	}
	avgLine.Color = speedColor
	avgLine.Width = vg.Points(1)
	avgPoints.Color = speedColor

	peakLine, err := plotter.NewLine(peak)
	if err != nil {
		return fmt.Errorf("max speed line: %w", err)
	}
	peakLine.Color = countColor
	peakLine.Width = vg.Points(1)
	peakLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(avgLine, avgPoints, peakLine)
	p.Legend.Add("average", avgLine)
	p.Legend.Add("max", peakLine)
	p.Legend.Top = true
	p.Legend.Left = false
	p.NominalX(bucketLabels(buckets)...)

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	log.Printf("Saved graph %s", path)
	return nil
}
