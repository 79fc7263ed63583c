package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/disintegration/imaging"

	"github.com/feichai0017/document-splitter/internal/agent/document"
	"github.com/feichai0017/document-splitter/pkg/logger"
)

// TextractAPI is the part of the Textract client the recognizer needs.
type TextractAPI interface {
	DetectDocumentText(ctx context.Context, params *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
}

type TextractConfig struct {
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	MinConfidence float32
}

// TextractRecognizer sends images to AWS Textract and keeps LINE blocks.
type TextractRecognizer struct {
	client TextractAPI
	logger logger.Logger
	config *TextractConfig
}

var _ document.TextRecognizer = (*TextractRecognizer)(nil)

func NewTextractRecognizer(ctx context.Context, cfg *TextractConfig, log logger.Logger) (*TextractRecognizer, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	// load aws config
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	client := textract.NewFromConfig(awsCfg, func(o *textract.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewTextractRecognizerWithClient(client, cfg, log), nil
}

func NewTextractRecognizerWithClient(client TextractAPI, cfg *TextractConfig, log logger.Logger) *TextractRecognizer {
	return &TextractRecognizer{
		client: client,
		logger: log,
		config: cfg,
	}
}

func (r *TextractRecognizer) Recognize(ctx context.Context, img image.Image) ([]string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	result, err := r.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{Bytes: buf.Bytes()},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to detect document text: %w", err)
	}

	return r.processBlocks(result.Blocks), nil
}

// Close is a no-op; the textract client needs no cleanup.
func (r *TextractRecognizer) Close() error {
	return nil
}

func (r *TextractRecognizer) processBlocks(blocks []types.Block) []string {
	var texts []string
	for _, block := range blocks {
		if block.BlockType != types.BlockTypeLine || block.Text == nil {
			continue
		}
		if block.Confidence != nil && *block.Confidence < r.config.MinConfidence {
			continue
		}
		if text := strings.TrimSpace(*block.Text); text != "" {
			texts = append(texts, text)
		}
	}
	return texts
}
