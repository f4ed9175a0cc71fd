package services

import (
	"errors"
	"fmt"
)

var (
	ErrMissingAPIKey       = errors.New("GEMINI_API_KEY is not set")
	ErrDocumentNotFound    = errors.New("document not found")
	ErrUnsupportedDocument = errors.New("unsupported document type")
	ErrEmbeddingFailed     = errors.New("embedding failed")
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
	ErrIndexNotReady       = errors.New("index did not become ready")
	ErrUpsertFailed        = errors.New("upsert failed")
	ErrSearchFailed        = errors.New("search failed")
	ErrEmptyModelOutput    = errors.New("empty response from model")
)

// PipelineError records the operation that failed together with its kind
// sentinel and cause. errors.Is matches both.
type PipelineError struct {
	Op   string
	Kind error
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opError(op string, kind, err error) error {
	return &PipelineError{Op: op, Kind: kind, Err: err}
}
