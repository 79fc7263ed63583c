package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/feichai0017/document-splitter/config"
	"github.com/feichai0017/document-splitter/internal/agent/document/image"
	"github.com/feichai0017/document-splitter/pkg/logger"
)

func TestBuildWithoutOCR(t *testing.T) {
	c := cfg.Default()

	p, err := NewProcessorFactory(c, logger.NewNop()).Build(context.Background())
	require.NoError(t, err)

	assert.NotNil(t, p.Splitter)
	assert.NotNil(t, p.Rasterizer)
	assert.NotNil(t, p.Inspector)
	assert.Nil(t, p.Recognizer)

	classifier, ok := p.Classifier.(*image.Classifier)
	require.True(t, ok)
	assert.False(t, classifier.TextFallbackEnabled())
	require.NoError(t, p.Close())
}

func TestBuildWithTesseract(t *testing.T) {
	c := cfg.Default()
	r := 0.3
	c.OCR.Prefixes = []string{"KSZ"}
	c.OCR.Ratio = &r

	p, err := NewProcessorFactory(c, logger.NewNop()).Build(context.Background())
	require.NoError(t, err)

	_, ok := p.Recognizer.(*image.TesseractRecognizer)
	assert.True(t, ok)
	assert.True(t, p.Classifier.(*image.Classifier).TextFallbackEnabled())
}

func TestBuildRejectsBadScannerFormat(t *testing.T) {
	c := cfg.Default()
	c.Scanner.Formats = []string{"AZTEC"}

	_, err := NewProcessorFactory(c, logger.NewNop()).Build(context.Background())
	require.Error(t, err)
}
