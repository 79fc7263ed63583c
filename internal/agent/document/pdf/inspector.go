package pdf

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/feichai0017/document-splitter/internal/agent/document"
	"github.com/feichai0017/document-splitter/internal/models"
	"github.com/feichai0017/document-splitter/pkg/logger"
)

// Inspector reads document metadata for the run report.
type Inspector struct {
	logger logger.Logger
}

var _ document.Inspector = (*Inspector)(nil)

func NewInspector(logger logger.Logger) *Inspector {
	return &Inspector{
		logger: logger,
	}
}

func (p *Inspector) ExtractMetadata(ctx context.Context, path string) (models.DocumentMetadata, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return models.DocumentMetadata{}, err
	}

	// 计算文件哈希
	hash := sha256.Sum256(content)
	hashString := hex.EncodeToString(hash[:])

	metadata := models.DocumentMetadata{
		FileType:    models.PDF,
		FileSize:    int64(len(content)),
		Hash:        hashString,
		InspectedAt: time.Now(),
	}

	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return metadata, fmt.Errorf("read pdf: %w", err)
	}
	metadata.Pages = pdfReader.NumPage()

	// 尝试从PDF文档中获取更多信息
	trailer := pdfReader.Trailer()
	if !trailer.IsNull() {
		info := trailer.Key("Info")
		if !info.IsNull() {
			if title := info.Key("Title"); !title.IsNull() {
				metadata.Title = title.Text()
			}
			if author := info.Key("Author"); !author.IsNull() {
				metadata.Author = author.Text()
			}
		}
	}

	return metadata, nil
}
