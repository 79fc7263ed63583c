package converters

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/feichai0017/document-splitter/internal/models"
)

// ReportConverter 定义报告转换器接口
type ReportConverter interface {
	Convert(run RunInfo, results []models.DocumentResult) (*models.RunReport, error)
}

// RunInfo describes the run a report belongs to.
type RunInfo struct {
	ID          string
	Mode        string
	Workers     int
	MaxInFlight int
	StartedAt   time.Time
	FinishedAt  time.Time
}

// JSONConverter builds run reports and writes them as indented JSON.
type JSONConverter struct{}

func NewJSONConverter() *JSONConverter {
	return &JSONConverter{}
}

func (c *JSONConverter) Convert(run RunInfo, results []models.DocumentResult) (*models.RunReport, error) {
	report := &models.RunReport{
		RunID:       run.ID,
		Mode:        run.Mode,
		Workers:     run.Workers,
		MaxInFlight: run.MaxInFlight,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Documents:   make([]models.DocumentResult, 0, len(results)),
	}

	for _, r := range results {
		if r.Path == "" {
			return nil, fmt.Errorf("result without document path")
		}
		if r.Reason == "" && r.Err != nil {
			r.Reason = r.Err.Error()
		}

		switch r.Status {
		case models.StatusCompleted:
			report.Totals.Completed++
		case models.StatusSkipped:
			report.Totals.Skipped++
		case models.StatusFailed:
			report.Totals.Failed++
		default:
			return nil, fmt.Errorf("unknown status %q for %s", r.Status, r.Path)
		}
		report.Totals.Outputs += len(r.Outputs())
		report.Documents = append(report.Documents, r)
	}
	report.Totals.Documents = len(report.Documents)

	return report, nil
}

// ReportPath returns "<dir>/<start>.report.json", matching the run log name.
func ReportPath(dir string, start time.Time) string {
	return filepath.Join(dir, start.Format("2006-01-02_15-04-05")+".report.json")
}

// WriteFile writes report to path.
func (c *JSONConverter) WriteFile(path string, report *models.RunReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
