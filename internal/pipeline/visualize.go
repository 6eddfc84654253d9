package pipeline

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"open-data-insight/internal/model"
)

var (
	errNoValues     = errors.New("no values to plot")
	errConstant     = errors.New("all values are identical")
	errTooFewPoints = errors.New("fewer than two time points")
)

// VisualizerOptions bounds the chart set.
type VisualizerOptions struct {
	MaxCharts            int
	MaxCategoricalCharts int
	MaxSeries            int
	HistogramBuckets     int
	Width, Height        vg.Length
}

func (o VisualizerOptions) withDefaults() VisualizerOptions {
	if o.MaxCharts <= 0 {
		o.MaxCharts = 12
	}
	if o.MaxCategoricalCharts <= 0 {
		o.MaxCategoricalCharts = 2
	}
	if o.MaxSeries <= 0 {
		o.MaxSeries = 4
	}
	if o.HistogramBuckets <= 0 {
		o.HistogramBuckets = 10
	}
	if o.Width <= 0 {
		o.Width = 8 * vg.Inch
	}
	if o.Height <= 0 {
		o.Height = 4 * vg.Inch
	}
	return o
}

// Visualizer recommends chart presets from a summary and renders them to PNG.
type Visualizer struct {
	opts VisualizerOptions
}

func NewVisualizer(opts VisualizerOptions) *Visualizer {
	return &Visualizer{opts: opts.withDefaults()}
}

type recommendation struct {
	column      string
	chartType   string
	title       string
	description string
	build       func() (*plot.Plot, error)
}

// Generate renders every recommended chart. A chart that fails is left out
// and reported as a *RenderError; it never stops the others.
func (v *Visualizer) Generate(schema model.Schema, records []model.Record, summary *model.IngestionSummary) ([]model.VisualizationArtifact, []*RenderError) {
	artifacts := []model.VisualizationArtifact{}
	var failures []*RenderError
	for _, rec := range v.recommend(schema, records, summary) {
		if len(artifacts) >= v.opts.MaxCharts {
			break
		}
		art, err := v.render(rec)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		artifacts = append(artifacts, art)
	}
	return artifacts, failures
}

func (v *Visualizer) recommend(schema model.Schema, records []model.Record, summary *model.IngestionSummary) []recommendation {
	var recs []recommendation
	numericCols := schema.OfType(model.ColumnNumeric)

	for _, col := range numericCols {
		ns, ok := summary.NumericSummary[col.Name]
		if !ok || ns.Mean == nil {
			continue
		}
		name := col.Name
		recs = append(recs, recommendation{
			column:      name,
			chartType:   model.ChartHistogram,
			title:       fmt.Sprintf("Distribution of %s", name),
			description: fmt.Sprintf("%d values from %s to %s", countOf(summary, name), formatBound(*ns.Minimum), formatBound(*ns.Maximum)),
			build: func() (*plot.Plot, error) {
				if *ns.Minimum == *ns.Maximum {
					return nil, errConstant
				}
				return v.histogram(name, numbers(records, name))
			},
		})
	}

	for i, col := range schema.OfType(model.ColumnCategorical) {
		if i >= v.opts.MaxCategoricalCharts {
			break
		}
		name := col.Name
		top := summary.CategoricalSummary[name]
		recs = append(recs, recommendation{
			column:      name,
			chartType:   model.ChartBar,
			title:       fmt.Sprintf("Most frequent values of %s", name),
			description: fmt.Sprintf("Top %d distinct values by count", len(top)),
			build:       func() (*plot.Plot, error) { return v.bar(name, top) },
		})
	}

	for _, col := range schema.OfType(model.ColumnTemporal) {
		name := col.Name
		series := numericCols
		if len(series) > v.opts.MaxSeries {
			series = series[:v.opts.MaxSeries]
		}
		desc := "Records per day"
		if len(series) > 0 {
			desc = fmt.Sprintf("%s over %s", joinNames(series), name)
		}
		recs = append(recs, recommendation{
			column:      name,
			chartType:   model.ChartLine,
			title:       fmt.Sprintf("Time series by %s", name),
			description: desc,
			build:       func() (*plot.Plot, error) { return v.timeSeries(name, series, records) },
		})
	}
	return recs
}

func (v *Visualizer) render(rec recommendation) (art model.VisualizationArtifact, rerr *RenderError) {
	fail := func(err error) *RenderError {
		return &RenderError{Column: rec.column, ChartType: rec.chartType, Err: err}
	}
	defer func() {
		if r := recover(); r != nil {
			rerr = fail(fmt.Errorf("panic: %v", r))
		}
	}()

	p, err := rec.build()
	if err != nil {
		return art, fail(err)
	}
	p.Title.Text = rec.title
	wt, err := p.WriterTo(v.opts.Width, v.opts.Height, "png")
	if err != nil {
		return art, fail(err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return art, fail(err)
	}
	return model.VisualizationArtifact{
		Column:      rec.column,
		ChartType:   rec.chartType,
		Title:       rec.title,
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		Description: rec.description,
	}, nil
}

func (v *Visualizer) histogram(column string, values []float64) (*plot.Plot, error) {
	if len(values) == 0 {
		return nil, errNoValues
	}
	h, err := plotter.NewHist(plotter.Values(values), v.opts.HistogramBuckets)
	if err != nil {
		return nil, err
	}
	h.FillColor = plotutil.Color(2)
	p := plot.New()
	p.X.Label.Text = column
	p.Y.Label.Text = "count"
	p.Add(h)
	return p, nil
}

func (v *Visualizer) bar(column string, top []model.CategoryCount) (*plot.Plot, error) {
	if len(top) == 0 {
		return nil, errNoValues
	}
	values := make(plotter.Values, len(top))
	labels := make([]string, len(top))
	for i, c := range top {
		values[i] = float64(c.Count)
		labels[i] = c.Value
	}
	bars, err := plotter.NewBarChart(values, vg.Points(30))
	if err != nil {
		return nil, err
	}
	bars.Color = plotutil.Color(0)
	p := plot.New()
	p.X.Label.Text = column
	p.Y.Label.Text = "count"
	p.Add(bars)
	p.NominalX(labels...)
	return p, nil
}

func (v *Visualizer) timeSeries(timeColumn string, series []model.Column, records []model.Record) (*plot.Plot, error) {
	p := plot.New()
	p.X.Label.Text = timeColumn
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01-02"}

	if len(series) == 0 {
		perDay := make(map[int64]int)
		for _, r := range records {
			if t, ok := temporalValue(r.Get(timeColumn)); ok {
				day := t.UTC().Truncate(24 * time.Hour).Unix()
				perDay[day]++
			}
		}
		xys := make(plotter.XYs, 0, len(perDay))
		for day, n := range perDay {
			xys = append(xys, plotter.XY{X: float64(day), Y: float64(n)})
		}
		if len(xys) < 2 {
			return nil, errTooFewPoints
		}
		sort.Slice(xys, func(i, j int) bool { return xys[i].X < xys[j].X })
		line, err := plotter.NewLine(xys)
		if err != nil {
			return nil, err
		}
		line.Color = plotutil.Color(0)
		p.Y.Label.Text = "records"
		p.Add(line)
		return p, nil
	}

	plotted := 0
	for i, col := range series {
		var xys plotter.XYs
		for _, r := range records {
			t, ok := temporalValue(r.Get(timeColumn))
			if !ok {
				continue
			}
			y, ok := numericValue(r.Get(col.Name))
			if !ok {
				continue
			}
			xys = append(xys, plotter.XY{X: float64(t.Unix()), Y: y})
		}
		if len(xys) < 2 {
			continue
		}
		sort.SliceStable(xys, func(a, b int) bool { return xys[a].X < xys[b].X })
		if xys[0].X == xys[len(xys)-1].X {
			continue
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return nil, err
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(col.Name, line)
		plotted++
	}
	if plotted == 0 {
		return nil, errTooFewPoints
	}
	p.Legend.Top = true
	return p, nil
}

func numbers(records []model.Record, column string) []float64 {
	out := make([]float64, 0, len(records))
	for _, r := range records {
		if v := r.Get(column); v.Kind == model.KindNumber {
			out = append(out, v.Num)
		}
	}
	return out
}

func countOf(summary *model.IngestionSummary, column string) int {
	if d, ok := summary.Detail(column); ok {
		return d.NonNull
	}
	return 0
}

func joinNames(cols []model.Column) string {
	var buf bytes.Buffer
	for i, c := range cols {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(c.Name)
	}
	return buf.String()
}
