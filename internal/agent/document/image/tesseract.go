package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/feichai0017/document-splitter/internal/agent/document"
	"github.com/feichai0017/document-splitter/pkg/logger"
)

// TesseractRecognizer runs local OCR. A client is created per call since
// gosseract clients are not safe for concurrent use.
type TesseractRecognizer struct {
	languages   []string
	pageSegMode gosseract.PageSegMode
	logger      logger.Logger
}

var _ document.TextRecognizer = (*TesseractRecognizer)(nil)

func NewTesseractRecognizer(languages []string, log logger.Logger) *TesseractRecognizer {
	return &TesseractRecognizer{
		languages:   languages,
		pageSegMode: gosseract.PSM_AUTO,
		logger:      log,
	}
}

// Recognize returns one string per detected text line.
func (r *TesseractRecognizer) Recognize(ctx context.Context, img image.Image) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(r.languages...); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(r.pageSegMode); err != nil {
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("failed to recognize text: %w", err)
	}

	lines := make([]string, 0, len(boxes))
	for _, box := range boxes {
		if line := strings.TrimSpace(box.Word); line != "" {
			lines = append(lines, line)
		}
	}

	r.logger.Debug("OCR completed", logger.Int("lines", len(lines)))
	return lines, nil
}

func (r *TesseractRecognizer) Close() error {
	return nil
}
