package document

import (
	"context"
	"errors"
	"image"

	"github.com/feichai0017/document-splitter/internal/models"
)

var (
	ErrSplit     = errors.New("split failed")
	ErrRasterize = errors.New("rasterize failed")
)

// Splitter 将多页文档拆分为单页 Unit
type Splitter interface {
	// Split writes one single-page file per page of src into outDir and
	// returns them in page order.
	Split(ctx context.Context, src string, outDir string) ([]models.Unit, error)
}

// Rasterizer 将 Unit 渲染为图片
type Rasterizer interface {
	Rasterize(ctx context.Context, unit models.Unit, outDir string) ([]models.RasterImage, error)
}

// CodeScanner decodes machine-readable codes. Results keep decoder order; an
// image without codes yields an empty slice and a nil error.
type CodeScanner interface {
	Scan(ctx context.Context, img image.Image) ([]models.Code, error)
}

// TextRecognizer returns the recognized text lines of an image.
type TextRecognizer interface {
	Recognize(ctx context.Context, img image.Image) ([]string, error)
	Close() error
}

// Classifier picks the routing value for one raster image.
type Classifier interface {
	ClassifyFile(ctx context.Context, path string) (models.ClassificationResult, error)
}

// Inspector 提取文档元数据
type Inspector interface {
	ExtractMetadata(ctx context.Context, path string) (models.DocumentMetadata, error)
}
