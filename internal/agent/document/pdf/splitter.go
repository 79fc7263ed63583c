package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/feichai0017/document-splitter/internal/agent/document"
	"github.com/feichai0017/document-splitter/internal/models"
	"github.com/feichai0017/document-splitter/pkg/logger"
)

// Splitter splits a PDF into single-page units with pdfcpu.
type Splitter struct {
	conf   *model.Configuration
	logger logger.Logger
}

var _ document.Splitter = (*Splitter)(nil)

func NewSplitter(log logger.Logger) *Splitter {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Splitter{
		conf:   conf,
		logger: log,
	}
}

// Split writes "<base>_<i>.pdf" (i from 0) into outDir. pdfcpu numbers its
// pages from 1 and writes next to a name it picks, so the split happens in a
// scratch directory first.
func (s *Splitter) Split(ctx context.Context, src string, outDir string) ([]models.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pageCount, err := api.PageCountFile(src)
	if err != nil {
		return nil, fmt.Errorf("%w: page count: %w", document.ErrSplit, err)
	}

	scratch, err := os.MkdirTemp(outDir, ".split-*")
	if err != nil {
		return nil, fmt.Errorf("%w: scratch dir: %w", document.ErrSplit, err)
	}
	defer os.RemoveAll(scratch)

	if err := api.SplitFile(src, scratch, 1, s.conf); err != nil {
		return nil, fmt.Errorf("%w: %w", document.ErrSplit, err)
	}

	pages, err := splitPages(scratch)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", document.ErrSplit, err)
	}
	if len(pages) != pageCount {
		return nil, fmt.Errorf("%w: expected %d pages, got %d", document.ErrSplit, pageCount, len(pages))
	}

	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	units := make([]models.Unit, 0, len(pages))
	for i, page := range pages {
		dst := filepath.Join(outDir, fmt.Sprintf("%s_%d.pdf", base, i))
		if err := os.Rename(page, dst); err != nil {
			return nil, fmt.Errorf("%w: move page %d: %w", document.ErrSplit, i, err)
		}
		units = append(units, models.Unit{Path: dst, Index: i, Parent: src})
	}

	s.logger.Debug("Split document",
		logger.String("document", src),
		logger.Int("units", len(units)),
	)
	return units, nil
}

// splitPages returns pdfcpu's output files ordered by their trailing page number.
func splitPages(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.pdf"))
	if err != nil {
		return nil, err
	}

	type page struct {
		path string
		num  int
	}
	pages := make([]page, 0, len(matches))
	for _, m := range matches {
		stem := strings.TrimSuffix(filepath.Base(m), ".pdf")
		idx := strings.LastIndex(stem, "_")
		if idx < 0 {
			return nil, fmt.Errorf("unexpected split output %s", m)
		}
		n, err := strconv.Atoi(stem[idx+1:])
		if err != nil {
			return nil, fmt.Errorf("unexpected split output %s", m)
		}
		pages = append(pages, page{path: m, num: n})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].num < pages[j].num })

	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.path
	}
	return out, nil
}
