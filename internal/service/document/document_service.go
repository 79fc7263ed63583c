package document

import (
	"context"

	"github.com/feichai0017/document-splitter/internal/models"
	"github.com/feichai0017/document-splitter/internal/utils/validator"
)

// DocumentProcessor takes one source document from claim to release.
// Failures are reported in the result, never as a panic or error return.
type DocumentProcessor interface {
	Process(ctx context.Context, doc models.SourceDocument) models.DocumentResult
}

// Claimer is the per-document claim lock.
type Claimer interface {
	TryAcquire(path string) bool
	Release(path string)
}

// Validator rejects source documents that cannot be split.
type Validator interface {
	ValidateFile(path string) (*validator.ValidationResult, error)
}
