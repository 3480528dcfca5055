package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrChunking: bad chunker input or configuration. Non-fatal to the
	// session; other documents in the batch still index.
	ErrChunking = errors.New("chunking failed")
	// ErrEmbeddingMismatch: chunk/embedding batch length contract violation,
	// fatal to that indexing batch.
	ErrEmbeddingMismatch = errors.New("embedding count mismatch")
	// ErrRetrieval: both retrieval backends failed or timed out, fatal to
	// that query only.
	ErrRetrieval = errors.New("retrieval failed")
	// ErrGeneration: answer provider failure, fatal to that query only.
	ErrGeneration = errors.New("answer generation failed")

	ErrSessionNotFound  = errors.New("session not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
