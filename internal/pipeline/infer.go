package pipeline

import (
	"time"

	"open-data-insight/internal/model"
	"open-data-insight/pkg/utils"
)

// ambiguityFloor is the conforming fraction above which a column that
// still misses the threshold is reported as ambiguous.
const ambiguityFloor = 0.5

// Dataset accumulates normalized records across pages.
type Dataset struct {
	Columns []string
	Records []model.Record
	seen    map[string]struct{}
}

func NewDataset() *Dataset {
	return &Dataset{seen: make(map[string]struct{})}
}

func (d *Dataset) Len() int { return len(d.Records) }

// Append adds up to limit records of page. A negative limit means no limit.
// It reports whether records were dropped.
func (d *Dataset) Append(page *ParsedPage, limit int) bool {
	records := page.Records
	truncated := false
	if limit >= 0 && len(records) > limit {
		records = records[:limit]
		truncated = true
	}
	d.Records = append(d.Records, records...)

	cols := page.Columns
	if truncated {
		cols = columnsOf(records, page.Columns)
	}
	for _, c := range cols {
		if _, ok := d.seen[c]; !ok {
			d.seen[c] = struct{}{}
			d.Columns = append(d.Columns, c)
		}
	}
	return truncated
}

// columnsOf keeps the entries of order that appear in records.
func columnsOf(records []model.Record, order []string) []string {
	var out []string
	for _, c := range order {
		for _, r := range records {
			if _, ok := r[c]; ok {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// InferSchema types each column from a sample of its non-null values.
// Numeric wins over temporal; anything below the threshold is categorical.
func (n *Normalizer) InferSchema(columns []string, records []model.Record) (model.Schema, []*SchemaAmbiguityWarning) {
	schema := make(model.Schema, 0, len(columns))
	var warnings []*SchemaAmbiguityWarning
	for _, col := range columns {
		var sampled, numeric, temporal int
		for _, r := range records {
			v := r.Get(col)
			if v.IsNull() {
				continue
			}
			sampled++
			if _, ok := numericValue(v); ok {
				numeric++
			}
			if _, ok := temporalValue(v); ok {
				temporal++
			}
			if sampled >= n.opts.InferenceSample {
				break
			}
		}

		typ := model.ColumnCategorical
		if sampled > 0 {
			numFrac := float64(numeric) / float64(sampled)
			timeFrac := float64(temporal) / float64(sampled)
			switch {
			case numFrac >= n.opts.TypeThreshold:
				typ = model.ColumnNumeric
			case timeFrac >= n.opts.TypeThreshold:
				typ = model.ColumnTemporal
			case numFrac >= ambiguityFloor && numFrac >= timeFrac:
				warnings = append(warnings, &SchemaAmbiguityWarning{Column: col, Candidate: model.ColumnNumeric, Fraction: numFrac})
			case timeFrac >= ambiguityFloor:
				warnings = append(warnings, &SchemaAmbiguityWarning{Column: col, Candidate: model.ColumnTemporal, Fraction: timeFrac})
			}
		}
		schema = append(schema, model.Column{Name: col, Type: typ})
	}
	return schema, warnings
}

// Coerce rewrites values in place to match the schema: numeric strings
// become numbers, and values that do not conform to a numeric or temporal
// column become null. It returns the number of values nulled per column.
func (n *Normalizer) Coerce(schema model.Schema, records []model.Record) map[string]int {
	nulled := make(map[string]int)
	for _, col := range schema {
		if col.Type == model.ColumnCategorical {
			continue
		}
		for _, r := range records {
			v, ok := r[col.Name]
			if !ok || v.IsNull() {
				continue
			}
			switch col.Type {
			case model.ColumnNumeric:
				if f, ok := numericValue(v); ok {
					r[col.Name] = model.NumberValue(f)
					continue
				}
			case model.ColumnTemporal:
				if _, ok := temporalValue(v); ok {
					continue
				}
			}
			r[col.Name] = model.NullValue()
			nulled[col.Name]++
		}
	}
	return nulled
}

// numericValue reports the number held by v. Booleans are never numbers.
func numericValue(v model.Value) (float64, bool) {
	switch v.Kind {
	case model.KindNumber:
		return v.Num, true
	case model.KindString:
		return utils.ParseNumber(v.Str)
	}
	return 0, false
}

func temporalValue(v model.Value) (time.Time, bool) {
	if v.Kind != model.KindString {
		return time.Time{}, false
	}
	return utils.ParseTime(v.Str)
}
