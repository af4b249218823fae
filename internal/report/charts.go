package report

import (
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/ayusman/speedcam/internal/store"
)

// ChartOptions titles an interactive summary chart.
type ChartOptions struct {
	Title    string
	Subtitle string
	Units    string
	// AssetsHost overrides where the echarts scripts are loaded from.
	AssetsHost string
}

// RenderSummaryChart writes an HTML page with a count bar chart and an average
// speed line chart of buckets.
func RenderSummaryChart(w io.Writer, buckets []store.SummaryBucket, o ChartOptions) error {
	labels := bucketLabels(buckets)
	counts := make([]opts.BarData, len(buckets))
	avg := make([]opts.LineData, len(buckets))
	peak := make([]opts.LineData, len(buckets))
	for i, b := range buckets {
		counts[i] = opts.BarData{Value: b.Count}
		avg[i] = opts.LineData{Value: round1(b.AvgSpeed)}
		peak[i] = opts.LineData{Value: round1(b.MaxSpeed)}
	}

	init := opts.Initialization{PageTitle: o.Title, Width: "100%", Height: "420px"}
	if o.AssetsHost != "" {
		init.AssetsHost = o.AssetsHost
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(init),
		charts.WithTitleOpts(opts.Title{Title: o.Title + " - count", Subtitle: o.Subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).
		AddSeries("count", counts,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(init),
		charts.WithTitleOpts(opts.Title{Title: o.Title + " - speed", Subtitle: o.Subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: o.Units}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(labels).
		AddSeries("average", avg).
		AddSeries("max", peak)

	page := components.NewPage()
	if o.AssetsHost != "" {
		page.SetAssetsHost(o.AssetsHost)
	}
	page.AddCharts(bar, line)
	return page.Render(w)
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
