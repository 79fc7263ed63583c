package agent

import (
	"context"
	"fmt"

	cfg "github.com/feichai0017/document-splitter/config"
	"github.com/feichai0017/document-splitter/internal/agent/document"
	"github.com/feichai0017/document-splitter/internal/agent/document/image"
	"github.com/feichai0017/document-splitter/internal/agent/document/pdf"
	"github.com/feichai0017/document-splitter/pkg/logger"
)

// Processors bundles the collaborators a document processor needs.
type Processors struct {
	Splitter   document.Splitter
	Rasterizer document.Rasterizer
	Classifier document.Classifier
	Inspector  document.Inspector
	Recognizer document.TextRecognizer
}

// Close releases the text recognizer, if any.
func (p *Processors) Close() error {
	if p.Recognizer == nil {
		return nil
	}
	return p.Recognizer.Close()
}

type ProcessorFactory struct {
	config *cfg.Config
	logger logger.Logger
}

func NewProcessorFactory(config *cfg.Config, logger logger.Logger) *ProcessorFactory {
	return &ProcessorFactory{
		config: config,
		logger: logger,
	}
}

// Build wires the splitter, rasterizer, classifier and inspector from config.
func (f *ProcessorFactory) Build(ctx context.Context) (*Processors, error) {
	c := f.config

	scanner, err := image.NewScanner(image.ScannerOptions{
		Formats:   c.Scanner.Formats,
		TryHarder: c.Scanner.TryHarder,
	}, f.logger.Named("scanner"))
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}

	enhancer := image.NewEnhancer(image.DefaultStages(image.EnhanceOptions{
		Scale:        c.Enhance.Scale,
		Contrast:     c.Enhance.Contrast,
		SharpenSigma: c.Enhance.SharpenSigma,
	}), f.logger.Named("enhance"))

	var recognizer document.TextRecognizer
	if c.OCR.Enabled() {
		recognizer, err = f.newRecognizer(ctx)
		if err != nil {
			return nil, err
		}
		f.logger.Info("OCR fallback enabled",
			logger.String("engine", c.OCR.Engine),
			logger.Strings("prefixes", c.OCR.Prefixes),
			logger.Float64("ratio", *c.OCR.Ratio),
		)
	}

	classifier := image.NewClassifier(scanner, enhancer, recognizer, image.TextPolicy{
		Prefixes: c.OCR.Prefixes,
		Ratio:    c.OCR.Ratio,
	}, f.logger.Named("classifier"))

	return &Processors{
		Splitter: pdf.NewSplitter(f.logger.Named("splitter")),
		Rasterizer: pdf.NewRasterizer(pdf.RenderOptions{
			DPI:    c.Render.DPI,
			Format: c.Render.Format,
		}, f.logger.Named("rasterizer")),
		Classifier: classifier,
		Inspector:  pdf.NewInspector(f.logger.Named("inspector")),
		Recognizer: recognizer,
	}, nil
}

func (f *ProcessorFactory) newRecognizer(ctx context.Context) (document.TextRecognizer, error) {
	ocr := f.config.OCR
	switch ocr.Engine {
	case "textract":
		r, err := image.NewTextractRecognizer(ctx, &image.TextractConfig{
			Region:        ocr.Textract.Region,
			Endpoint:      ocr.Textract.Endpoint,
			AccessKey:     ocr.Textract.AccessKey,
			SecretKey:     ocr.Textract.SecretKey,
			MinConfidence: 80.0,
		}, f.logger.Named("textract"))
		if err != nil {
			return nil, fmt.Errorf("failed to create textract recognizer: %w", err)
		}
		return r, nil
	case "tesseract", "":
		return image.NewTesseractRecognizer(ocr.Languages, f.logger.Named("tesseract")), nil
	default:
		return nil, fmt.Errorf("unsupported ocr engine: %s", ocr.Engine)
	}
}
