package image

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/feichai0017/document-splitter/internal/agent/document"
	"github.com/feichai0017/document-splitter/internal/models"
	"github.com/feichai0017/document-splitter/pkg/logger"
)

// FormatOCR tags classifications that came from recognized text.
const FormatOCR = "ocr"

var ocrConfusions = strings.NewReplacer("O", "0", "l", "1")

// TextPolicy enables the OCR fallback. Both fields must be set.
type TextPolicy struct {
	Prefixes []string
	Ratio    *float64
}

// Classifier runs the fallback chain: direct decode, enhanced decode, then
// prefix-filtered OCR over the top of the page.
type Classifier struct {
	scanner    document.CodeScanner
	enhancer   *Enhancer
	recognizer document.TextRecognizer
	prefixes   []string
	crop       *CropTopProcessor
	logger     logger.Logger
}

var _ document.Classifier = (*Classifier)(nil)

// NewClassifier builds a Classifier. recognizer may be nil when the text
// fallback is not wanted; the fallback is also off unless policy has both a
// prefix list and a ratio.
func NewClassifier(scanner document.CodeScanner, enhancer *Enhancer, recognizer document.TextRecognizer, policy TextPolicy, log logger.Logger) *Classifier {
	c := &Classifier{
		scanner:  scanner,
		enhancer: enhancer,
		logger:   log,
	}

	if recognizer != nil && len(policy.Prefixes) > 0 && policy.Ratio != nil {
		ratio := *policy.Ratio
		if ratio <= 0 || ratio > 1 {
			log.Warn("OCR crop ratio out of range, using 1.0", logger.Float64("ratio", ratio))
			ratio = 1.0
		}
		c.recognizer = recognizer
		c.prefixes = policy.Prefixes
		c.crop = NewCropTopProcessor(ratio)
	}
	return c
}

// TextFallbackEnabled reports whether OCR runs after a decode miss.
func (c *Classifier) TextFallbackEnabled() bool {
	return c.recognizer != nil
}

// ClassifyFile opens the image at path and classifies it.
func (c *Classifier) ClassifyFile(ctx context.Context, path string) (models.ClassificationResult, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return models.NoClassification(0), fmt.Errorf("open image %s: %w", path, err)
	}
	return c.Classify(ctx, img), nil
}

// Classify returns the first non-empty result of the chain, or a None result.
func (c *Classifier) Classify(ctx context.Context, img image.Image) models.ClassificationResult {
	attempts := 1
	if codes := c.decode(ctx, img); len(codes) > 0 {
		return codeResult(codes[0], attempts)
	}

	if c.enhancer != nil {
		codes, n := c.enhancer.Run(ctx, img, func(enhanced image.Image) []models.Code {
			return c.decode(ctx, enhanced)
		})
		attempts += n
		if len(codes) > 0 {
			return codeResult(codes[0], attempts)
		}
	}

	if c.recognizer == nil {
		return models.NoClassification(attempts)
	}

	if value := c.recognizeText(ctx, img); value != "" {
		return models.ClassificationResult{
			Kind:     models.KindTextMatch,
			Format:   FormatOCR,
			Value:    value,
			Attempts: attempts,
		}
	}
	return models.NoClassification(attempts)
}

func (c *Classifier) decode(ctx context.Context, img image.Image) []models.Code {
	codes, err := c.scanner.Scan(ctx, img)
	if err != nil {
		c.logger.Warn("Code scan failed", logger.Error(err))
		return nil
	}
	return codes
}

func (c *Classifier) recognizeText(ctx context.Context, img image.Image) string {
	cropped, err := c.crop.Process(img)
	if err != nil {
		c.logger.Warn("Crop failed", logger.Error(err))
		return ""
	}

	lines, err := c.recognizer.Recognize(ctx, cropped)
	if err != nil {
		c.logger.Warn("Text recognition failed", logger.Error(err))
		return ""
	}

	matches := FilterByPrefixes(lines, c.prefixes)
	if len(matches) == 0 {
		return ""
	}
	return matches[0]
}

// FilterByPrefixes keeps lines containing any prefix and normalizes common
// OCR confusions in them.
func FilterByPrefixes(lines []string, prefixes []string) []string {
	var kept []string
	for _, line := range lines {
		for _, prefix := range prefixes {
			if prefix != "" && strings.Contains(line, prefix) {
				kept = append(kept, NormalizeOCR(strings.TrimSpace(line)))
				break
			}
		}
	}
	return kept
}

// NormalizeOCR maps O to 0 and l to 1.
func NormalizeOCR(s string) string {
	return ocrConfusions.Replace(s)
}

func codeResult(code models.Code, attempts int) models.ClassificationResult {
	return models.ClassificationResult{
		Kind:     models.KindCode,
		Format:   code.Format,
		Value:    code.Value,
		Attempts: attempts,
	}
}
