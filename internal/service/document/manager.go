package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/feichai0017/document-splitter/config"
	"github.com/feichai0017/document-splitter/internal/models"
	"github.com/feichai0017/document-splitter/pkg/converters"
	"github.com/feichai0017/document-splitter/pkg/lock"
	"github.com/feichai0017/document-splitter/pkg/logger"
	"github.com/feichai0017/document-splitter/pkg/worker"
)

// DefaultExtension selects source documents, case-insensitively.
const DefaultExtension = ".pdf"

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	SourceDir string
	ReportDir string
	Extension string
	Mode      config.Mode
	Workers   int
	// RunStart names the report file; it defaults to the start of processing.
	RunStart  time.Time
}

// Manager enumerates source documents and hands each one to a DocumentProcessor.
type Manager struct {
	config    ManagerConfig
	processor DocumentProcessor
	converter *converters.JSONConverter
	runID     string
	logger    logger.Logger
	now       func() time.Time
}

func NewManager(cfg ManagerConfig, processor DocumentProcessor, runID string, log logger.Logger) *Manager {
	if cfg.Extension == "" {
		cfg.Extension = DefaultExtension
	}
	return &Manager{
		config:    cfg,
		processor: processor,
		converter: converters.NewJSONConverter(),
		runID:     runID,
		logger:    log,
		now:       time.Now,
	}
}

// Run processes the source directory in the configured mode.
func (m *Manager) Run(ctx context.Context) (*models.RunReport, error) {
	switch m.config.Mode {
	case config.ModeMulti:
		return m.ProcessAllConcurrent(ctx, m.config.Workers)
	case config.ModeSingle, "":
		return m.ProcessAll(ctx)
	default:
		return nil, fmt.Errorf("%w: %s", config.ErrInvalidMode, m.config.Mode)
	}
}

// ProcessAll handles documents one at a time in listing order.
func (m *Manager) ProcessAll(ctx context.Context) (*models.RunReport, error) {
	start := m.now()
	docs, err := m.ListDocuments()
	if err != nil {
		return nil, err
	}
	m.logger.Info("Starting sequential run", logger.Int("documents", len(docs)))

	results := make([]models.DocumentResult, len(docs))
	for i, doc := range docs {
		if ctx.Err() != nil {
			fillCancelled(results[i:], docs[i:])
			break
		}
		results[i] = m.processOne(ctx, doc)
	}

	return m.finish(start, string(config.ModeSingle), 1, 1, results)
}

// ProcessAllConcurrent runs at most maxWorkers documents at once and returns
// after all of them have finished. maxWorkers is checked before anything on
// disk is touched.
func (m *Manager) ProcessAllConcurrent(ctx context.Context, maxWorkers int) (*models.RunReport, error) {
	if maxWorkers < 1 {
		return nil, fmt.Errorf("%w: got %d", config.ErrInvalidWorkers, maxWorkers)
	}
	pool, err := worker.NewPool(maxWorkers, m.logger)
	if err != nil {
		return nil, err
	}

	start := m.now()
	docs, err := m.ListDocuments()
	if err != nil {
		return nil, err
	}
	m.logger.Info("Starting concurrent run",
		logger.Int("documents", len(docs)),
		logger.Int("workers", pool.Size()),
	)

	results := make([]models.DocumentResult, len(docs))
	for i, doc := range docs {
		// Each slot is written by exactly one task.
		results[i] = models.DocumentResult{Path: doc.Path, Status: models.StatusFailed, Reason: "not processed"}

		err := ctx.Err()
		if err == nil {
			err = pool.Go(ctx, doc.Path, func(taskCtx context.Context) error {
				results[i] = m.processOne(taskCtx, doc)
				return nil
			})
		}
		if err != nil {
			m.logger.Warn("Stopping dispatch", logger.Error(err))
			fillCancelled(results[i:], docs[i:])
			break
		}
		m.logger.Debug("Document dispatched",
			logger.String("document", doc.Path),
			logger.Int("in_flight", pool.InFlight()),
		)
	}

	if err := pool.Close(); err != nil {
		m.logger.Error("Worker errors", logger.Error(err))
	}
	return m.finish(start, string(config.ModeMulti), maxWorkers, pool.MaxInFlight(), results)
}

// ListDocuments returns the regular files in the source directory whose
// extension matches, in directory order.
func (m *Manager) ListDocuments() ([]models.SourceDocument, error) {
	entries, err := os.ReadDir(m.config.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("%w: source %s: %w", config.ErrMissingDir, m.config.SourceDir, err)
	}

	var docs []models.SourceDocument
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(e.Name()), m.config.Extension) {
			continue
		}
		docs = append(docs, models.SourceDocument{Path: filepath.Join(m.config.SourceDir, e.Name())})
	}
	for i := range docs {
		docs[i].Index = i
		docs[i].Total = len(docs)
	}
	return docs, nil
}

// processOne shields the run from a document that panics. In-flight
// documents are never cancelled, so the processor gets a context without
// cancellation.
func (m *Manager) processOne(ctx context.Context, doc models.SourceDocument) (result models.DocumentResult) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Document processing panicked",
				logger.String("document", doc.Path),
				logger.Any("panic", r),
				logger.Stack(),
			)
			result = models.DocumentResult{
				Path:       doc.Path,
				Status:     models.StatusFailed,
				Reason:     fmt.Sprintf("panic: %v", r),
				FinishedAt: m.now(),
			}
		}
	}()
	return m.processor.Process(context.WithoutCancel(ctx), doc)
}

func (m *Manager) finish(start time.Time, mode string, workers, maxInFlight int, results []models.DocumentResult) (*models.RunReport, error) {
	if len(results) == 0 {
		m.logger.Info("No files found", logger.String("source", m.config.SourceDir))
	}

	report, err := m.converter.Convert(converters.RunInfo{
		ID:          m.runID,
		Mode:        mode,
		Workers:     workers,
		MaxInFlight: maxInFlight,
		StartedAt:   start,
		FinishedAt:  m.now(),
	}, results)
	if err != nil {
		return nil, fmt.Errorf("build report: %w", err)
	}

	for _, r := range report.Documents {
		if r.Status == models.StatusFailed {
			m.logger.Error("Document failed",
				logger.String("document", r.Path),
				logger.String("reason", r.Reason),
				logger.String("lock", lock.Path(r.Path)),
			)
		}
	}

	m.logger.Info("Document splitter finished",
		logger.Int("documents", report.Totals.Documents),
		logger.Int("completed", report.Totals.Completed),
		logger.Int("skipped", report.Totals.Skipped),
		logger.Int("failed", report.Totals.Failed),
		logger.Int("outputs", report.Totals.Outputs),
		logger.Int("max_in_flight", report.MaxInFlight),
		logger.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)

	if m.config.ReportDir != "" {
		stamp := start
		if !m.config.RunStart.IsZero() {
			stamp = m.config.RunStart
		}
		path := converters.ReportPath(m.config.ReportDir, stamp)
		if err := m.converter.WriteFile(path, report); err != nil {
			m.logger.Error("Failed to write run report", logger.Error(err))
		}
	}
	return report, nil
}

func fillCancelled(results []models.DocumentResult, docs []models.SourceDocument) {
	for i := range results {
		results[i] = models.DocumentResult{
			Path:   docs[i].Path,
			Status: models.StatusSkipped,
			Reason: "run cancelled",
		}
	}
}
