package model

// NumericSummary holds the streaming mean/min/max of a numeric column.
// All three are null when the column has no non-null values.
type NumericSummary struct {
	Mean    *float64 `json:"mean"`
	Minimum *float64 `json:"minimum"`
	Maximum *float64 `json:"maximum"`
}

type SchemaDetail struct {
	Column    string     `json:"column"`
	Dtype     ColumnType `json:"dtype"`
	NonNull   int        `json:"non_null"`
	NullCount int        `json:"null_count"`
	Outliers  int        `json:"outliers"`
}

type CategoryCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

type HistogramBucket struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}

// Chart types produced by the visualization stage.
const (
	ChartHistogram = "histogram"
	ChartBar       = "bar"
	ChartLine      = "line"
)

type VisualizationArtifact struct {
	Column      string `json:"column"`
	ChartType   string `json:"chart_type"`
	Title       string `json:"title"`
	ImageBase64 string `json:"image_base64"`
	Description string `json:"description,omitempty"`
}

// Names of the descriptive statistics rows.
const (
	StatCount = "count"
	StatMean  = "mean"
	StatStd   = "std"
	StatMin   = "min"
	StatQ1    = "25%"
	StatQ2    = "50%"
	StatQ3    = "75%"
	StatMax   = "max"
)

var DescriptiveStatNames = []string{StatCount, StatMean, StatStd, StatMin, StatQ1, StatQ2, StatQ3, StatMax}

// IngestionSummary is the immutable output of a completed job.
type IngestionSummary struct {
	RecordCount        int                            `json:"record_count"`
	SchemaFields       []string                       `json:"schema_fields"`
	SampleRecords      []Record                       `json:"sample_records"`
	NumericSummary     map[string]NumericSummary      `json:"numeric_summary"`
	SchemaDetails      []SchemaDetail                 `json:"schema_details"`
	CategoricalSummary map[string][]CategoryCount     `json:"categorical_summary"`
	DescriptiveStats   map[string]map[string]*float64 `json:"descriptive_stats"`
	NumericHistograms  map[string][]HistogramBucket   `json:"numeric_histograms"`
	Visualizations     []VisualizationArtifact        `json:"visualizations"`
}

// Detail returns the schema detail for column.
func (s *IngestionSummary) Detail(column string) (SchemaDetail, bool) {
	for _, d := range s.SchemaDetails {
		if d.Column == column {
			return d, true
		}
	}
	return SchemaDetail{}, false
}
