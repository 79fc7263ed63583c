package document

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	agentdoc "github.com/feichai0017/document-splitter/internal/agent/document"
	"github.com/feichai0017/document-splitter/internal/models"
	"github.com/feichai0017/document-splitter/internal/utils/validator"
	"github.com/feichai0017/document-splitter/pkg/lock"
	"github.com/feichai0017/document-splitter/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInspector struct{}

func (fakeInspector) ExtractMetadata(ctx context.Context, path string) (models.DocumentMetadata, error) {
	return models.DocumentMetadata{Title: "Invoice batch", FileType: models.PDF, Pages: 3}, nil
}

func TestProcessWithoutCodesKeepsUnitNames(t *testing.T) {
	d := newTestDirs(t)
	src := writeSource(t, d.Source, "scan.pdf")
	svc := newTestService(d, &fakeSplitter{pages: 3}, &fakeRasterizer{}, nil, logger.NewNop())

	result := svc.Process(context.Background(), models.SourceDocument{Path: src, Total: 1})

	require.Equal(t, models.StatusCompleted, result.Status, result.Reason)
	assert.Equal(t, []string{"scan_0.pdf", "scan_1.pdf", "scan_2.pdf"}, dirNames(t, d.OutputDir))
	assert.Equal(t, []string{"scan.pdf"}, dirNames(t, d.BackupDir))
	assert.Empty(t, dirNames(t, d.TempDir))
	assert.Empty(t, dirNames(t, d.ImageDir))
	assert.Empty(t, dirNames(t, d.Source), "source and lock are both gone")

	content, err := os.ReadFile(filepath.Join(d.OutputDir, "scan_1.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "scan page 1", string(content))

	require.Len(t, result.Units, 3)
	for _, u := range result.Units {
		assert.Equal(t, models.KindNone, u.Classification.Kind)
	}
	assert.False(t, result.FinishedAt.IsZero())
}

func TestProcessRoutesByCode(t *testing.T) {
	d := newTestDirs(t)
	src := writeSource(t, d.Source, "scan.pdf")
	cls := &fakeClassifier{values: map[string]string{"scan_0_0.png": "ABC123"}}
	svc := newTestService(d, &fakeSplitter{pages: 1}, &fakeRasterizer{}, cls, logger.NewNop())

	result := svc.Process(context.Background(), models.SourceDocument{Path: src, Total: 1})

	require.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, []string{"ABC123.pdf"}, dirNames(t, d.OutputDir))
	require.Len(t, result.Units, 1)
	assert.Equal(t, models.KindCode, result.Units[0].Classification.Kind)
	assert.Equal(t, filepath.Join(d.OutputDir, "ABC123.pdf"), result.Units[0].Output)
}

func TestProcessCollidingCodesGetSuffixes(t *testing.T) {
	d := newTestDirs(t)
	src := writeSource(t, d.Source, "scan.pdf")
	require.NoError(t, os.WriteFile(filepath.Join(d.OutputDir, "ABC123.pdf"), []byte("earlier run"), 0644))
	cls := &fakeClassifier{values: map[string]string{
		"scan_0_0.png": "ABC123",
		"scan_1_0.png": "ABC123",
	}}
	svc := newTestService(d, &fakeSplitter{pages: 2}, &fakeRasterizer{}, cls, logger.NewNop())

	result := svc.Process(context.Background(), models.SourceDocument{Path: src, Total: 1})

	require.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, []string{"ABC123.pdf", "ABC123_1.pdf", "ABC123_2.pdf"}, dirNames(t, d.OutputDir))

	earlier, err := os.ReadFile(filepath.Join(d.OutputDir, "ABC123.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "earlier run", string(earlier))

	first, err := os.ReadFile(filepath.Join(d.OutputDir, "ABC123_1.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "scan page 0", string(first))
}

func TestProcessUnusableValueFallsBackToUnitName(t *testing.T) {
	d := newTestDirs(t)
	src := writeSource(t, d.Source, "scan.pdf")
	cls := &fakeClassifier{values: map[string]string{"scan_0_0.png": "///"}}
	log := logger.NewTestLogger()
	svc := newTestService(d, &fakeSplitter{pages: 1}, &fakeRasterizer{}, cls, log)

	result := svc.Process(context.Background(), models.SourceDocument{Path: src, Total: 1})

	require.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, []string{"scan_0.pdf"}, dirNames(t, d.OutputDir))
	assert.True(t, log.Contains("WARN", "unusable as file name"))
}

func TestProcessSkipsClaimedDocument(t *testing.T) {
	d := newTestDirs(t)
	src := writeSource(t, d.Source, "scan.pdf")
	other := lock.New("other-run", logger.NewNop())
	require.NoError(t, other.Acquire(src))

	split := &fakeSplitter{pages: 2}
	log := logger.NewTestLogger()
	svc := newTestService(d, split, &fakeRasterizer{}, nil, log)

	result := svc.Process(context.Background(), models.SourceDocument{Path: src, Total: 1})

	assert.Equal(t, models.StatusSkipped, result.Status)
	assert.Equal(t, []string{"scan.pdf", "scan.pdf.lock"}, dirNames(t, d.Source))
	assert.Empty(t, dirNames(t, d.BackupDir))
	assert.Empty(t, dirNames(t, d.OutputDir))
	assert.True(t, log.Contains("INFO", "already claimed"))

	rec, err := lock.Read(src)
	require.NoError(t, err)
	assert.Equal(t, "other-run", rec.Owner)
}

func TestProcessSkipsAlreadyProcessedDocument(t *testing.T) {
	d := newTestDirs(t)
	src := filepath.Join(d.Source, "gone.pdf")
	svc := newTestService(d, &fakeSplitter{pages: 1}, &fakeRasterizer{}, nil, logger.NewNop())

	result := svc.Process(context.Background(), models.SourceDocument{Path: src, Total: 1})

	assert.Equal(t, models.StatusSkipped, result.Status)
	assert.Equal(t, "already processed", result.Reason)
	assert.Empty(t, dirNames(t, d.Source), "claim released")
}

func TestProcessSplitFailureKeepsClaim(t *testing.T) {
	d := newTestDirs(t)
	src := writeSource(t, d.Source, "broken.pdf")
	log := logger.NewTestLogger()
	svc := newTestService(d, &fakeSplitter{err: errors.New("corrupt xref")}, &fakeRasterizer{}, nil, log)

	result := svc.Process(context.Background(), models.SourceDocument{Path: src, Total: 1})

	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Contains(t, result.Reason, "corrupt xref")
	assert.Equal(t, []string{"broken.pdf", "broken.pdf.lock"}, dirNames(t, d.Source))
	assert.Equal(t, []string{"broken.pdf"}, dirNames(t, d.BackupDir))
	assert.True(t, log.Contains("ERROR", "Error splitting document"))
}

func TestProcessRasterizeFailureKeepsSource(t *testing.T) {
	d := newTestDirs(t)
	src := writeSource(t, d.Source, "scan.pdf")
	svc := newTestService(d, &fakeSplitter{pages: 2}, &fakeRasterizer{err: errors.New("no renderer")}, nil, logger.NewNop())

	result := svc.Process(context.Background(), models.SourceDocument{Path: src, Total: 1})

	assert.Equal(t, models.StatusFailed, result.Status)
	require.ErrorIs(t, result.Err, agentdoc.ErrRasterize)
	assert.Contains(t, result.Reason, "no renderer")
	assert.Equal(t, []string{"scan.pdf", "scan.pdf.lock"}, dirNames(t, d.Source))
	assert.Empty(t, dirNames(t, d.OutputDir))
	assert.Len(t, result.Units, 1, "processing stops at the first unit")
}

func TestProcessCopyFailureRetainsUnits(t *testing.T) {
	d := newTestDirs(t)
	src := writeSource(t, d.Source, "scan.pdf")
	require.NoError(t, os.RemoveAll(d.OutputDir))
	svc := newTestService(d, &fakeSplitter{pages: 2}, &fakeRasterizer{}, nil, logger.NewNop())

	result := svc.Process(context.Background(), models.SourceDocument{Path: src, Total: 1})

	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Contains(t, result.Reason, "2 of 2 units")
	assert.Equal(t, []string{"scan_0.pdf", "scan_1.pdf"}, dirNames(t, d.TempDir))
	assert.Equal(t, []string{"scan.pdf", "scan.pdf.lock"}, dirNames(t, d.Source))
	require.Len(t, result.Units, 2)
	for _, u := range result.Units {
		assert.Empty(t, u.Output)
		assert.NotEmpty(t, u.Error)
	}
}

func TestProcessBackupFailureContinues(t *testing.T) {
	d := newTestDirs(t)
	src := writeSource(t, d.Source, "scan.pdf")
	require.NoError(t, os.RemoveAll(d.BackupDir))
	log := logger.NewTestLogger()
	svc := newTestService(d, &fakeSplitter{pages: 1}, &fakeRasterizer{}, nil, log)

	result := svc.Process(context.Background(), models.SourceDocument{Path: src, Total: 1})

	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, []string{"scan_0.pdf"}, dirNames(t, d.OutputDir))
	assert.True(t, log.Contains("WARN", "Backup failed"))
}

func TestProcessBackupKeepsEarlierCopies(t *testing.T) {
	d := newTestDirs(t)
	src := writeSource(t, d.Source, "scan.pdf")
	require.NoError(t, os.WriteFile(filepath.Join(d.BackupDir, "scan.pdf"), []byte("yesterday"), 0644))
	svc := newTestService(d, &fakeSplitter{pages: 1}, &fakeRasterizer{}, nil, logger.NewNop())

	result := svc.Process(context.Background(), models.SourceDocument{Path: src, Total: 1})

	require.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, []string{"scan.pdf", "scan_1.pdf"}, dirNames(t, d.BackupDir))
}

func TestProcessPublishesStatusAndMirrors(t *testing.T) {
	d := newTestDirs(t)
	src := writeSource(t, d.Source, "scan.pdf")
	mirror := &fakeMirror{}
	statuses := &fakeStatusStore{}
	svc := newTestService(d, &fakeSplitter{pages: 2}, &fakeRasterizer{}, nil, logger.NewNop(),
		WithMirror(mirror),
		WithStatusStore(statuses, "run-1"),
		WithInspector(fakeInspector{}),
	)

	result := svc.Process(context.Background(), models.SourceDocument{Path: src, Total: 1})

	require.Equal(t, models.StatusCompleted, result.Status)
	require.NotNil(t, result.Metadata)
	assert.Equal(t, "Invoice batch", result.Metadata.Title)

	assert.ElementsMatch(t, []string{"backup/scan.pdf", "out/scan_0.pdf", "out/scan_1.pdf"}, mirror.keys)

	require.Len(t, statuses.statuses, 1)
	st := statuses.statuses[0]
	assert.Equal(t, "run-1", st.RunID)
	assert.Equal(t, src, st.Document)
	assert.Equal(t, "completed", st.Status)
	assert.Len(t, st.Outputs, 2)
	assert.False(t, st.FinishedAt.IsZero())
}

func TestProcessRejectsInvalidSource(t *testing.T) {
	d := newTestDirs(t)
	src := filepath.Join(d.Source, "notes.pdf")
	require.NoError(t, os.WriteFile(src, []byte("meeting notes, not a scan"), 0644))
	split := &fakeSplitter{pages: 1}
	svc := newTestService(d, split, &fakeRasterizer{}, nil, logger.NewNop(),
		WithValidator(validator.NewDocumentValidator(logger.NewNop(), nil)),
	)

	result := svc.Process(context.Background(), models.SourceDocument{Path: src, Total: 1})

	assert.Equal(t, models.StatusFailed, result.Status)
	require.ErrorIs(t, result.Err, agentdoc.ErrSplit)
	assert.Contains(t, result.Reason, "INVALID_MIME_TYPE")
	assert.Equal(t, []string{"notes.pdf", "notes.pdf.lock"}, dirNames(t, d.Source))
	assert.Empty(t, dirNames(t, d.BackupDir))
	assert.Empty(t, dirNames(t, d.TempDir))
}
