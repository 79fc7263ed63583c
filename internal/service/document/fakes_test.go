package document

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/feichai0017/document-splitter/internal/models"
	"github.com/feichai0017/document-splitter/pkg/lock"
	"github.com/feichai0017/document-splitter/pkg/logger"
	"github.com/feichai0017/document-splitter/pkg/status"
	"github.com/stretchr/testify/require"
)

// fakeSplitter writes one "<stem>_<i>.pdf" file per page.
type fakeSplitter struct {
	pages int
	err   error
}

func (f *fakeSplitter) Split(ctx context.Context, src, outDir string) ([]models.Unit, error) {
	if f.err != nil {
		return nil, f.err
	}
	if _, err := os.Stat(src); err != nil {
		return nil, err
	}
	stem := Stem(src)
	units := make([]models.Unit, 0, f.pages)
	for i := 0; i < f.pages; i++ {
		path := filepath.Join(outDir, fmt.Sprintf("%s_%d.pdf", stem, i))
		if err := os.WriteFile(path, []byte(fmt.Sprintf("%s page %d", stem, i)), 0644); err != nil {
			return nil, err
		}
		units = append(units, models.Unit{Path: path, Index: i, Parent: src})
	}
	return units, nil
}

// fakeRasterizer writes one image per unit named after it.
type fakeRasterizer struct {
	err error
}

func (f *fakeRasterizer) Rasterize(ctx context.Context, unit models.Unit, outDir string) ([]models.RasterImage, error) {
	if f.err != nil {
		return nil, f.err
	}
	path := filepath.Join(outDir, Stem(unit.Path)+"_0.png")
	if err := os.WriteFile(path, []byte(filepath.Base(unit.Path)), 0644); err != nil {
		return nil, err
	}
	return []models.RasterImage{{Path: path, Unit: unit.Path}}, nil
}

// fakeClassifier maps image base names to code values. Everything else is a miss.
type fakeClassifier struct {
	values map[string]string
}

func (f *fakeClassifier) ClassifyFile(ctx context.Context, path string) (models.ClassificationResult, error) {
	if v, ok := f.values[filepath.Base(path)]; ok {
		return models.ClassificationResult{Kind: models.KindCode, Format: "QR_CODE", Value: v, Attempts: 1}, nil
	}
	return models.NoClassification(5), nil
}

type fakeMirror struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeMirror) Store(ctx context.Context, r io.Reader, key string) (string, error) {
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return "mem://" + key, nil
}

func (f *fakeMirror) CleanupBefore(ctx context.Context, threshold time.Time) error { return nil }

type fakeStatusStore struct {
	mu       sync.Mutex
	statuses []*status.DocumentStatus
}

func (f *fakeStatusStore) SaveFinalStatus(ctx context.Context, st *status.DocumentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, st)
	return nil
}

func (f *fakeStatusStore) Close() error { return nil }

type testDirs struct {
	Source string
	ServiceConfig
}

func newTestDirs(t *testing.T) testDirs {
	t.Helper()
	root := t.TempDir()
	d := testDirs{
		Source: filepath.Join(root, "source"),
		ServiceConfig: ServiceConfig{
			TempDir:   filepath.Join(root, "temp"),
			ImageDir:  filepath.Join(root, "images"),
			OutputDir: filepath.Join(root, "out"),
			BackupDir: filepath.Join(root, "backup"),
		},
	}
	for _, dir := range []string{d.Source, d.TempDir, d.ImageDir, d.OutputDir, d.BackupDir} {
		require.NoError(t, os.MkdirAll(dir, 0755))
	}
	return d
}

func writeSource(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 "+name), 0644))
	return path
}

func newTestService(d testDirs, split *fakeSplitter, raster *fakeRasterizer, cls *fakeClassifier, log logger.Logger, opts ...Option) *DocumentService {
	if cls == nil {
		cls = &fakeClassifier{}
	}
	return NewService(d.ServiceConfig, lock.New("test", log), split, raster, cls, log, opts...)
}
