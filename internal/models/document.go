package models

import (
	"time"
)

// FileType 文件类型
type FileType string

const (
	PDF   FileType = "pdf"
	Image FileType = "image"
)

// SourceDocument is one input file discovered in the source directory.
type SourceDocument struct {
	Path  string `json:"path"`
	Index int    `json:"index"`
	Total int    `json:"total"`
}

// Unit is a single-page document split out of a SourceDocument.
type Unit struct {
	Path   string `json:"path"`
	Index  int    `json:"index"`
	Parent string `json:"parent"`
}

// RasterImage is a transient rendering of a Unit.
type RasterImage struct {
	Path  string `json:"path"`
	Index int    `json:"index"`
	Unit  string `json:"unit"`
}

// Code is one value decoded from a raster image.
type Code struct {
	Format string `json:"format"`
	Value  string `json:"value"`
}

// ClassificationKind tags where a classification came from.
type ClassificationKind string

const (
	KindNone      ClassificationKind = "none"
	KindCode      ClassificationKind = "code"
	KindTextMatch ClassificationKind = "text"
)

// ClassificationResult drives the output filename of a Unit.
type ClassificationResult struct {
	Kind   ClassificationKind `json:"kind"`
	Format string             `json:"format,omitempty"`
	Value  string             `json:"value,omitempty"`
	// Attempts counts decode attempts, including the initial one.
	Attempts int `json:"attempts"`
}

// Found reports whether the result carries a usable value.
func (r ClassificationResult) Found() bool {
	return r.Kind != KindNone && r.Value != ""
}

// NoClassification is the result of a total miss.
func NoClassification(attempts int) ClassificationResult {
	return ClassificationResult{Kind: KindNone, Attempts: attempts}
}

// DocumentMetadata 文档元数据
type DocumentMetadata struct {
	Title       string    `json:"title,omitempty"`
	Author      string    `json:"author,omitempty"`
	FileType    FileType  `json:"fileType"`
	FileSize    int64     `json:"fileSize"`
	Pages       int       `json:"pages"`
	Hash        string    `json:"hash"`
	InspectedAt time.Time `json:"inspectedAt"`
}

// ProcessingStatus is the terminal state of one document.
type ProcessingStatus string

const (
	StatusCompleted ProcessingStatus = "completed"
	StatusSkipped   ProcessingStatus = "skipped"
	StatusFailed    ProcessingStatus = "failed"
)

// RoutedUnit records where one Unit ended up.
type RoutedUnit struct {
	Unit           string               `json:"unit"`
	Output         string               `json:"output,omitempty"`
	Classification ClassificationResult `json:"classification"`
	Error          string               `json:"error,omitempty"`
}

// DocumentResult is the per-document outcome handed back to the manager.
type DocumentResult struct {
	Path       string            `json:"path"`
	Status     ProcessingStatus  `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	Err        error             `json:"-"`
	Metadata   *DocumentMetadata `json:"metadata,omitempty"`
	Units      []RoutedUnit      `json:"units,omitempty"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
}

// Outputs returns the routed artifact paths.
func (r DocumentResult) Outputs() []string {
	outputs := make([]string, 0, len(r.Units))
	for _, u := range r.Units {
		if u.Output != "" {
			outputs = append(outputs, u.Output)
		}
	}
	return outputs
}

// Duration is the wall time spent on the document.
func (r DocumentResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunTotals 汇总统计
type RunTotals struct {
	Documents int `json:"documents"`
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Outputs   int `json:"outputs"`
}

// RunReport is the per-run summary written next to the run log.
type RunReport struct {
	RunID       string           `json:"runId"`
	Mode        string           `json:"mode"`
	Workers     int              `json:"workers"`
	MaxInFlight int              `json:"maxInFlight,omitempty"`
	StartedAt   time.Time        `json:"startedAt"`
	FinishedAt  time.Time        `json:"finishedAt"`
	Totals      RunTotals        `json:"totals"`
	Documents   []DocumentResult `json:"documents"`
}
