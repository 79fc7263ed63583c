package image

import (
	"context"
	"image"

	"github.com/feichai0017/document-splitter/internal/models"
	"github.com/feichai0017/document-splitter/pkg/logger"
)

// MaxEnhanceAttempts bounds the number of re-decodes after the initial one.
const MaxEnhanceAttempts = 4

// Stage is one named transform of the enhancement pipeline.
type Stage struct {
	Name string
	ImagePreprocessor
}

// EnhanceOptions holds the transform parameters.
type EnhanceOptions struct {
	Scale        float64
	Contrast     float64
	SharpenSigma float64
}

// DefaultStages returns grayscale, upscale, contrast and sharpen, in that order.
func DefaultStages(opts EnhanceOptions) []Stage {
	return []Stage{
		{Name: "grayscale", ImagePreprocessor: NewGrayscaleProcessor()},
		{Name: "upscale", ImagePreprocessor: NewUpscaleProcessor(opts.Scale)},
		{Name: "contrast", ImagePreprocessor: NewContrastProcessor(opts.Contrast)},
		{Name: "sharpen", ImagePreprocessor: NewSharpenProcessor(opts.SharpenSigma)},
	}
}

// Enhancer re-runs a decoder over progressively enhanced versions of an image.
type Enhancer struct {
	stages []Stage
	logger logger.Logger
}

// NewEnhancer keeps at most MaxEnhanceAttempts stages.
func NewEnhancer(stages []Stage, log logger.Logger) *Enhancer {
	if len(stages) > MaxEnhanceAttempts {
		stages = stages[:MaxEnhanceAttempts]
	}
	return &Enhancer{stages: stages, logger: log}
}

// Run applies the stages cumulatively, calling decode after each one, and
// returns the first non-empty result along with the number of attempts made.
func (e *Enhancer) Run(ctx context.Context, img image.Image, decode func(image.Image) []models.Code) ([]models.Code, int) {
	current := img
	attempts := 0

	for _, stage := range e.stages {
		if ctx.Err() != nil {
			break
		}

		next, err := stage.Process(current)
		if err != nil {
			e.logger.Warn("Enhancement stage failed",
				logger.String("stage", stage.Name),
				logger.Error(err),
			)
			continue
		}
		current = next
		attempts++

		if codes := decode(current); len(codes) > 0 {
			e.logger.Debug("Decoded after enhancement",
				logger.String("stage", stage.Name),
				logger.Int("attempt", attempts),
			)
			return codes, attempts
		}
	}
	return nil, attempts
}
