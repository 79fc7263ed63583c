package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	dcconfig "github.com/JaimeStill/document-context/pkg/config"
	dcdocument "github.com/JaimeStill/document-context/pkg/document"
	dcimage "github.com/JaimeStill/document-context/pkg/image"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/document-splitter/internal/agent/document"
	"github.com/feichai0017/document-splitter/internal/models"
	"github.com/feichai0017/document-splitter/pkg/logger"
)

// RenderOptions controls the ImageMagick rendering.
type RenderOptions struct {
	DPI    int
	Format string
}

// Rasterizer renders each page of a unit to an image file.
type Rasterizer struct {
	cfg    dcconfig.ImageConfig
	logger logger.Logger
}

var _ document.Rasterizer = (*Rasterizer)(nil)

func NewRasterizer(opts RenderOptions, log logger.Logger) *Rasterizer {
	cfg := dcconfig.DefaultImageConfig()
	if opts.DPI > 0 {
		cfg.DPI = opts.DPI
	}
	if opts.Format != "" {
		cfg.Format = opts.Format
	}
	if cfg.Options == nil {
		cfg.Options = map[string]any{}
	}
	cfg.Options["background"] = "white"

	return &Rasterizer{
		cfg:    cfg,
		logger: log,
	}
}

// Rasterize writes "<unit base>_<j>.<format>" into outDir, one per page.
func (r *Rasterizer) Rasterize(ctx context.Context, unit models.Unit, outDir string) ([]models.RasterImage, error) {
	pdfDoc, err := dcdocument.OpenPDF(unit.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %w", document.ErrRasterize, err)
	}
	defer pdfDoc.Close()

	renderer, err := dcimage.NewImageMagickRenderer(r.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create renderer: %w", document.ErrRasterize, err)
	}

	pages, err := pdfDoc.ExtractAllPages()
	if err != nil {
		return nil, fmt.Errorf("%w: extract pages: %w", document.ErrRasterize, err)
	}

	base := strings.TrimSuffix(filepath.Base(unit.Path), filepath.Ext(unit.Path))
	images := make([]models.RasterImage, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(min(runtime.NumCPU(), len(pages)), 1))

	for j, page := range pages {
		imgPath := filepath.Join(outDir, fmt.Sprintf("%s_%d.%s", base, j, r.cfg.Format))
		images[j] = models.RasterImage{Path: imgPath, Index: j, Unit: unit.Path}

		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			data, err := page.ToImage(renderer, nil)
			if err != nil {
				return fmt.Errorf("render page %d: %w", j, err)
			}
			if err := os.WriteFile(imgPath, data, 0644); err != nil {
				return fmt.Errorf("write page %d image: %w", j, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, img := range images {
			os.Remove(img.Path)
		}
		return nil, fmt.Errorf("%w: %w", document.ErrRasterize, err)
	}

	r.logger.Debug("Rasterized unit",
		logger.String("unit", unit.Path),
		logger.Int("images", len(images)),
	)
	return images, nil
}
