package image

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/feichai0017/document-splitter/internal/agent/document"
	"github.com/feichai0017/document-splitter/internal/models"
	"github.com/feichai0017/document-splitter/pkg/logger"
)

var readerFactories = map[string]func() gozxing.Reader{
	"QR_CODE":     qrcode.NewQRCodeReader,
	"DATA_MATRIX": func() gozxing.Reader { return datamatrix.NewDataMatrixReader() },
	"CODE_128":    oned.NewCode128Reader,
	"CODE_39":     oned.NewCode39Reader,
	"EAN_13":      oned.NewEAN13Reader,
}

// ScannerOptions selects the symbologies to try, in order.
type ScannerOptions struct {
	Formats   []string
	TryHarder bool
}

// Scanner decodes barcodes with gozxing. Each configured reader is tried in
// order and every hit is returned.
type Scanner struct {
	formats []string
	hints   map[gozxing.DecodeHintType]interface{}
	logger  logger.Logger
}

var _ document.CodeScanner = (*Scanner)(nil)

func NewScanner(opts ScannerOptions, log logger.Logger) (*Scanner, error) {
	formats := make([]string, 0, len(opts.Formats))
	for _, f := range opts.Formats {
		f = strings.ToUpper(strings.TrimSpace(f))
		if _, ok := readerFactories[f]; !ok {
			return nil, fmt.Errorf("unsupported barcode format %q", f)
		}
		formats = append(formats, f)
	}
	if len(formats) == 0 {
		return nil, fmt.Errorf("no barcode formats configured")
	}

	hints := map[gozxing.DecodeHintType]interface{}{}
	if opts.TryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}

	return &Scanner{
		formats: formats,
		hints:   hints,
		logger:  log,
	}, nil
}

func (s *Scanner) Scan(ctx context.Context, img image.Image) ([]models.Code, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("binarize image: %w", err)
	}

	var codes []models.Code
	for _, format := range s.formats {
		if err := ctx.Err(); err != nil {
			return codes, err
		}

		// Readers keep internal state, so each scan gets a fresh one.
		result, err := readerFactories[format]().Decode(bmp, s.hints)
		if err != nil {
			if _, ok := err.(gozxing.ReaderException); !ok {
				s.logger.Warn("Barcode reader failed",
					logger.String("format", format),
					logger.Error(err),
				)
			}
			continue
		}

		text := strings.TrimSpace(result.GetText())
		if text == "" {
			continue
		}
		codes = append(codes, models.Code{
			Format: result.GetBarcodeFormat().String(),
			Value:  text,
		})
	}
	return codes, nil
}
