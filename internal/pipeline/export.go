package pipeline

import (
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"open-data-insight/internal/model"
	"open-data-insight/pkg/utils"
)

// ExportResult represents the result of an export operation
type ExportResult struct {
	Type        string    `json:"type"` // "json", "csv", "png"
	Path        string    `json:"path"`
	RecordCount int       `json:"record_count"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	ExportedAt  time.Time `json:"exported_at"`
}

// ExportManager writes a completed summary to the job's output directory
type ExportManager struct {
	JobID  string
	Output *utils.OutputManager
}

func NewExportManager(jobID string, output *utils.OutputManager) *ExportManager {
	return &ExportManager{JobID: jobID, Output: output}
}

// Export writes summary.json, sample.csv and one PNG per chart. Every file
// is attempted; failures are reported per result.
func (em *ExportManager) Export(summary *model.IngestionSummary) []ExportResult {
	results := []ExportResult{
		em.write("json", "summary.json", len(summary.SchemaFields), func(f *os.File) error {
			enc := json.NewEncoder(f)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		}),
		em.write("csv", "sample.csv", len(summary.SampleRecords), func(f *os.File) error {
			return writeRecordsCSV(f, summary.SchemaFields, summary.SampleRecords)
		}),
	}
	for i, art := range summary.Visualizations {
		name := fmt.Sprintf("%02d_%s_%s.png", i+1, art.ChartType, art.Column)
		results = append(results, em.write("png", name, 1, func(f *os.File) error {
			data, err := base64.StdEncoding.DecodeString(art.ImageBase64)
			if err != nil {
				return fmt.Errorf("decode chart: %w", err)
			}
			_, err = f.Write(data)
			return err
		}))
	}
	return results
}

func (em *ExportManager) write(kind, fileName string, count int, fn func(*os.File) error) ExportResult {
	result := ExportResult{Type: kind, ExportedAt: time.Now().UTC()}
	path, err := em.Output.GetOutputFilePath(em.JobID, fileName)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Path = path

	file, err := os.Create(path)
	if err != nil {
		result.Error = fmt.Sprintf("create file: %v", err)
		return result
	}
	if err := fn(file); err != nil {
		file.Close()
		result.Error = err.Error()
		return result
	}
	if err := file.Close(); err != nil {
		result.Error = fmt.Sprintf("close file: %v", err)
		return result
	}
	result.Success = true
	result.RecordCount = count
	return result
}

func writeRecordsCSV(f *os.File, columns []string, records []model.Record) error {
	writer := csv.NewWriter(f)
	if err := writer.Write(columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	row := make([]string, len(columns))
	for _, r := range records {
		for i, c := range columns {
			row[i] = r.Get(c).String()
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
