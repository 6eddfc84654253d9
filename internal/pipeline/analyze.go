package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"open-data-insight/internal/model"
)

// AnalyzerOptions sizes the summary sections.
type AnalyzerOptions struct {
	SampleLimit      int
	TopCategories    int
	HistogramBuckets int
}

func (o AnalyzerOptions) withDefaults() AnalyzerOptions {
	if o.SampleLimit <= 0 {
		o.SampleLimit = 5
	}
	if o.TopCategories <= 0 {
		o.TopCategories = 5
	}
	if o.HistogramBuckets <= 0 {
		o.HistogramBuckets = 10
	}
	return o
}

// Analyzer computes per-column statistics over a normalized record set.
type Analyzer struct {
	opts AnalyzerOptions
}

func NewAnalyzer(opts AnalyzerOptions) *Analyzer {
	return &Analyzer{opts: opts.withDefaults()}
}

// runningStats is a single-pass mean/min/max accumulator.
type runningStats struct {
	n        int
	mean     float64
	min, max float64
}

func (r *runningStats) add(x float64) {
	r.n++
	if r.n == 1 {
		r.mean, r.min, r.max = x, x, x
		return
	}
	r.mean += (x - r.mean) / float64(r.n)
	r.min = math.Min(r.min, x)
	r.max = math.Max(r.max, x)
}

// Analyze builds every section of the summary except visualizations.
func (a *Analyzer) Analyze(schema model.Schema, records []model.Record) *model.IngestionSummary {
	summary := &model.IngestionSummary{
		RecordCount:        len(records),
		SchemaFields:       schema.Names(),
		SampleRecords:      a.samples(schema, records),
		NumericSummary:     make(map[string]model.NumericSummary),
		SchemaDetails:      make([]model.SchemaDetail, 0, len(schema)),
		CategoricalSummary: make(map[string][]model.CategoryCount),
		DescriptiveStats:   make(map[string]map[string]*float64),
		NumericHistograms:  make(map[string][]model.HistogramBucket),
		Visualizations:     []model.VisualizationArtifact{},
	}
	for _, name := range model.DescriptiveStatNames {
		summary.DescriptiveStats[name] = make(map[string]*float64)
	}

	for _, col := range schema {
		detail := model.SchemaDetail{Column: col.Name, Dtype: col.Type}
		for _, r := range records {
			if !r.Get(col.Name).IsNull() {
				detail.NonNull++
			}
		}
		detail.NullCount = len(records) - detail.NonNull

		switch col.Type {
		case model.ColumnNumeric:
			detail.Outliers = a.numeric(summary, col.Name, records)
		case model.ColumnCategorical:
			if top := a.categories(col.Name, records); len(top) > 0 {
				summary.CategoricalSummary[col.Name] = top
			}
		}
		summary.SchemaDetails = append(summary.SchemaDetails, detail)
	}
	return summary
}

func (a *Analyzer) samples(schema model.Schema, records []model.Record) []model.Record {
	limit := min(a.opts.SampleLimit, len(records))
	out := make([]model.Record, 0, limit)
	for _, r := range records[:limit] {
		row := make(model.Record, len(schema))
		for _, col := range schema {
			row[col.Name] = r.Get(col.Name)
		}
		out = append(out, row)
	}
	return out
}

// numeric fills the numeric sections for one column and returns its
// outlier count.
func (a *Analyzer) numeric(summary *model.IngestionSummary, column string, records []model.Record) int {
	var rs runningStats
	values := make([]float64, 0, len(records))
	for _, r := range records {
		v := r.Get(column)
		if v.Kind != model.KindNumber || math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
			continue
		}
		rs.add(v.Num)
		values = append(values, v.Num)
	}

	stats := summary.DescriptiveStats
	stats[model.StatCount][column] = ptr(float64(rs.n))
	if rs.n == 0 {
		summary.NumericSummary[column] = model.NumericSummary{}
		for _, name := range model.DescriptiveStatNames[1:] {
			stats[name][column] = nil
		}
		return 0
	}

	// Incremental rounding must not push the mean outside [min, max].
	mean := math.Min(math.Max(rs.mean, rs.min), rs.max)
	summary.NumericSummary[column] = model.NumericSummary{
		Mean:    ptr(mean),
		Minimum: ptr(rs.min),
		Maximum: ptr(rs.max),
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	q1, q2, q3 := Quantile(sorted, 0.25), Quantile(sorted, 0.5), Quantile(sorted, 0.75)

	stats[model.StatMean][column] = ptr(mean)
	stats[model.StatStd][column] = nil
	if rs.n > 1 {
		stats[model.StatStd][column] = ptr(stat.StdDev(values, nil))
	}
	stats[model.StatMin][column] = ptr(rs.min)
	stats[model.StatQ1][column] = ptr(q1)
	stats[model.StatQ2][column] = ptr(q2)
	stats[model.StatQ3][column] = ptr(q3)
	stats[model.StatMax][column] = ptr(rs.max)

	summary.NumericHistograms[column] = Histogram(values, rs.min, rs.max, a.opts.HistogramBuckets)

	iqr := q3 - q1
	lo, hi := q1-1.5*iqr, q3+1.5*iqr
	outliers := 0
	for _, x := range values {
		if x < lo || x > hi {
			outliers++
		}
	}
	return outliers
}

// Quantile returns the p-quantile of sorted data by linear interpolation
// between closest ranks: h = (n-1)p.
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}
	h := float64(n-1) * p
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// Histogram partitions [minimum, maximum] into equal-width buckets. Buckets
// are half-open except the last, which includes maximum. A constant column
// yields one bucket.
func Histogram(values []float64, minimum, maximum float64, buckets int) []model.HistogramBucket {
	if len(values) == 0 {
		return nil
	}
	if minimum == maximum || buckets < 2 {
		return []model.HistogramBucket{{
			Range: fmt.Sprintf("[%s, %s]", formatBound(minimum, -1), formatBound(maximum, -1)),
			Count: len(values),
		}}
	}
	width := (maximum - minimum) / float64(buckets)
	prec := boundPrecision(minimum, maximum, width)
	counts := make([]int, buckets)
	for _, x := range values {
		idx := int((x - minimum) / width)
		if idx >= buckets {
			idx = buckets - 1
		}
		if idx < 0 {
			idx = 0
		}
		counts[idx]++
	}
	out := make([]model.HistogramBucket, buckets)
	for i := range counts {
		lo := minimum + float64(i)*width
		if i == buckets-1 {
			out[i] = model.HistogramBucket{Range: fmt.Sprintf("[%s, %s]", formatBound(lo, prec), formatBound(maximum, prec)), Count: counts[i]}
			continue
		}
		hi := minimum + float64(i+1)*width
		out[i] = model.HistogramBucket{Range: fmt.Sprintf("[%s, %s)", formatBound(lo, prec), formatBound(hi, prec)), Count: counts[i]}
	}
	return out
}

// boundPrecision returns enough significant digits to tell adjacent bucket
// bounds apart.
func boundPrecision(minimum, maximum, width float64) int {
	prec := 6
	scale := math.Max(math.Abs(minimum), math.Abs(maximum))
	if width > 0 && scale > 0 {
		prec = max(prec, int(math.Ceil(math.Log10(scale/width)))+2)
	}
	return min(prec, 17)
}

func formatBound(f float64, prec int) string {
	return strconv.FormatFloat(f, 'g', prec, 64)
}

// categories counts non-null values and keeps the most frequent, breaking
// ties by first appearance.
func (a *Analyzer) categories(column string, records []model.Record) []model.CategoryCount {
	index := make(map[string]int)
	var counts []model.CategoryCount
	for _, r := range records {
		v := r.Get(column)
		if v.IsNull() {
			continue
		}
		key := v.String()
		if i, ok := index[key]; ok {
			counts[i].Count++
			continue
		}
		index[key] = len(counts)
		counts = append(counts, model.CategoryCount{Value: key, Count: 1})
	}
	sort.SliceStable(counts, func(i, j int) bool { return counts[i].Count > counts[j].Count })
	if len(counts) > a.opts.TopCategories {
		counts = counts[:a.opts.TopCategories]
	}
	return counts
}

func ptr(f float64) *float64 { return &f }
