package document

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	agentdoc "github.com/feichai0017/document-splitter/internal/agent/document"
	"github.com/feichai0017/document-splitter/internal/models"
	"github.com/feichai0017/document-splitter/pkg/logger"
	"github.com/feichai0017/document-splitter/pkg/status"
	"github.com/feichai0017/document-splitter/pkg/storage"
)

const outputExt = ".pdf"

// ServiceConfig holds the directories a processor works in.
type ServiceConfig struct {
	TempDir   string
	ImageDir  string
	OutputDir string
	BackupDir string
}

// DocumentService is the per-document state machine:
// claim, back up, split, then rasterize, classify and route each unit,
// remove the source and release the claim.
type DocumentService struct {
	config     ServiceConfig
	locker     Claimer
	splitter   agentdoc.Splitter
	rasterizer agentdoc.Rasterizer
	classifier agentdoc.Classifier
	inspector  agentdoc.Inspector
	validator  Validator
	mirror     storage.Storage
	statuses   status.Store
	runID      string
	logger     logger.Logger
	now        func() time.Time
}

var _ DocumentProcessor = (*DocumentService)(nil)

// Option configures optional collaborators.
type Option func(*DocumentService)

// WithInspector records document metadata in results.
func WithInspector(i agentdoc.Inspector) Option {
	return func(s *DocumentService) { s.inspector = i }
}

// WithValidator rejects unusable sources before they are backed up or split.
func WithValidator(v Validator) Option {
	return func(s *DocumentService) { s.validator = v }
}

// WithMirror uploads backups and routed outputs to object storage.
func WithMirror(m storage.Storage) Option {
	return func(s *DocumentService) { s.mirror = m }
}

// WithStatusStore publishes each document's final status.
func WithStatusStore(st status.Store, runID string) Option {
	return func(s *DocumentService) {
		s.statuses = st
		s.runID = runID
	}
}

func NewService(
	cfg ServiceConfig,
	locker Claimer,
	splitter agentdoc.Splitter,
	rasterizer agentdoc.Rasterizer,
	classifier agentdoc.Classifier,
	log logger.Logger,
	opts ...Option,
) *DocumentService {
	s := &DocumentService{
		config:     cfg,
		locker:     locker,
		splitter:   splitter,
		rasterizer: rasterizer,
		classifier: classifier,
		logger:     log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process runs one document through the pipeline.
func (s *DocumentService) Process(ctx context.Context, doc models.SourceDocument) (result models.DocumentResult) {
	log := s.logger.With(
		logger.String("document", doc.Path),
		logger.String("progress", fmt.Sprintf("%d/%d", doc.Index+1, doc.Total)),
	)
	result = models.DocumentResult{
		Path:      doc.Path,
		StartedAt: s.now(),
	}
	defer func() {
		result.FinishedAt = s.now()
		s.publish(ctx, log, result)
	}()

	if !s.locker.TryAcquire(doc.Path) {
		result.Status = models.StatusSkipped
		result.Reason = "claimed by another worker"
		return result
	}
	if _, err := os.Stat(doc.Path); errors.Is(err, fs.ErrNotExist) {
		// Finished by another worker between listing and claiming.
		s.locker.Release(doc.Path)
		result.Status = models.StatusSkipped
		result.Reason = "already processed"
		return result
	}
	log.Info("Processing document")

	if s.validator != nil {
		if err := s.validate(doc.Path); err != nil {
			// Same as a split failure: the claim stays until an operator looks.
			log.Error("Document rejected", logger.Error(err))
			return failed(result, err)
		}
	}

	if s.inspector != nil {
		meta, err := s.inspector.ExtractMetadata(ctx, doc.Path)
		if err != nil {
			log.Warn("Failed to read document metadata", logger.Error(err))
		} else {
			result.Metadata = &meta
		}
	}

	s.backup(ctx, log, doc.Path)

	units, err := s.splitter.Split(ctx, doc.Path, s.config.TempDir)
	if err != nil {
		// The claim stays in place so the document is not picked up again
		// until an operator has looked at it.
		log.Error("Error splitting document", logger.Error(err))
		return failed(result, err)
	}
	log.Info("Document split", logger.Int("units", len(units)))

	unrouted := 0
	for _, unit := range units {
		routed, err := s.processUnit(ctx, log, unit)
		result.Units = append(result.Units, routed)
		if err == nil {
			continue
		}
		if errors.Is(err, agentdoc.ErrRasterize) {
			log.Error("Error rasterizing unit", logger.String("unit", unit.Path), logger.Error(err))
			return failed(result, err)
		}
		unrouted++
	}

	if unrouted > 0 {
		err := fmt.Errorf("%d of %d units could not be routed", unrouted, len(units))
		log.Error("Document left in place", logger.Error(err))
		return failed(result, err)
	}

	if err := os.Remove(doc.Path); err != nil {
		log.Error("Error removing source document", logger.Error(err))
	}
	s.locker.Release(doc.Path)

	result.Status = models.StatusCompleted
	log.Info("Document processed",
		logger.Int("outputs", len(result.Outputs())),
		logger.Duration("elapsed", s.now().Sub(result.StartedAt)),
	)
	return result
}

// processUnit classifies one unit and copies it to the output directory. The
// unit and its images are deleted only once the copy is durable.
func (s *DocumentService) processUnit(ctx context.Context, log logger.Logger, unit models.Unit) (models.RoutedUnit, error) {
	routed := models.RoutedUnit{Unit: unit.Path}

	images, err := s.rasterizer.Rasterize(ctx, unit, s.config.ImageDir)
	if err != nil {
		if !errors.Is(err, agentdoc.ErrRasterize) {
			err = fmt.Errorf("%w: %w", agentdoc.ErrRasterize, err)
		}
		routed.Error = err.Error()
		return routed, err
	}

	classification, name := s.classify(ctx, log, unit, images)
	routed.Classification = classification

	dst, err := CopyNoClobber(unit.Path, s.config.OutputDir, name, outputExt)
	if err != nil {
		log.Error("Error copying unit to output",
			logger.String("unit", unit.Path),
			logger.Error(err),
		)
		routed.Error = err.Error()
		return routed, err
	}
	routed.Output = dst

	log.Info("Unit routed",
		logger.String("unit", filepath.Base(unit.Path)),
		logger.String("output", filepath.Base(dst)),
		logger.String("kind", string(classification.Kind)),
		logger.Int("attempts", classification.Attempts),
	)

	for _, img := range images {
		if err := os.Remove(img.Path); err != nil {
			log.Warn("Error removing image", logger.String("image", img.Path), logger.Error(err))
		}
	}
	if err := os.Remove(unit.Path); err != nil {
		log.Warn("Error removing unit", logger.String("unit", unit.Path), logger.Error(err))
	}

	s.mirrorFile(ctx, log, dst, storage.PrefixOutput)
	return routed, nil
}

// classify returns the first usable classification across the unit's images
// and the file stem it maps to. A miss keeps the unit's own name.
func (s *DocumentService) classify(ctx context.Context, log logger.Logger, unit models.Unit, images []models.RasterImage) (models.ClassificationResult, string) {
	attempts := 0
	for _, img := range images {
		res, err := s.classifier.ClassifyFile(ctx, img.Path)
		attempts += res.Attempts
		if err != nil {
			log.Warn("Error classifying image", logger.String("image", img.Path), logger.Error(err))
			continue
		}
		if !res.Found() {
			continue
		}
		name := SanitizeName(res.Value)
		if name == "" {
			log.Warn("Classification value unusable as file name", logger.String("value", res.Value))
			continue
		}
		res.Attempts = attempts
		return res, name
	}

	log.Debug("No classification, keeping unit name", logger.String("unit", unit.Path))
	return models.NoClassification(attempts), Stem(unit.Path)
}

func (s *DocumentService) validate(path string) error {
	res, err := s.validator.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("%w: %w", agentdoc.ErrSplit, err)
	}
	return nil
}

// backup copies the source into the backup directory. Failures are logged only.
func (s *DocumentService) backup(ctx context.Context, log logger.Logger, path string) {
	dst, err := CopyNoClobber(path, s.config.BackupDir, Stem(path), filepath.Ext(path))
	if err != nil {
		log.Warn("Backup failed, continuing", logger.Error(err))
		return
	}
	log.Debug("Backup written", logger.String("backup", dst))
	s.mirrorFile(ctx, log, dst, storage.PrefixBackup)
}

func (s *DocumentService) mirrorFile(ctx context.Context, log logger.Logger, path, prefix string) {
	if s.mirror == nil {
		return
	}
	key := storage.Key(prefix, path)
	if err := storage.UploadFile(ctx, s.mirror, path, key); err != nil {
		log.Warn("Mirror upload failed", logger.String("key", key), logger.Error(err))
	}
}

func (s *DocumentService) publish(ctx context.Context, log logger.Logger, result models.DocumentResult) {
	if s.statuses == nil {
		return
	}
	st := &status.DocumentStatus{
		RunID:      s.runID,
		Document:   result.Path,
		Status:     string(result.Status),
		Outputs:    result.Outputs(),
		Error:      result.Reason,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
	}
	if err := s.statuses.SaveFinalStatus(ctx, st); err != nil {
		log.Warn("Failed to save final status", logger.Error(err))
	}
}

func failed(result models.DocumentResult, err error) models.DocumentResult {
	result.Status = models.StatusFailed
	result.Err = err
	result.Reason = err.Error()
	return result
}
