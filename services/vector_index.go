package services

import (
	"context"

	"github/itish2003/multimodal-rag/models"
)

// IndexInfo describes one named vector index.
type IndexInfo struct {
	Name string
	// Dimension is 0 when the backend cannot tell.
	Dimension  int
	Metric     string
	Ready      bool
	TotalCount int
}

type IndexSpec struct {
	Name      string
	Dimension int
	Metric    string
}

// VectorIndex is the vector database behind the store. Upsert writes one
// batch and either stores all of it or returns an error.
type VectorIndex interface {
	ListIndexes(ctx context.Context) ([]IndexInfo, error)
	DescribeIndex(ctx context.Context, name string) (IndexInfo, error)
	CreateIndex(ctx context.Context, spec IndexSpec) error
	DeleteIndex(ctx context.Context, name string) error
	Upsert(ctx context.Context, name string, records []models.Record) error
	Query(ctx context.Context, name string, vector []float32, topK int, filter models.Filter) ([]models.SearchResult, error)
	DeleteAll(ctx context.Context, name string) error
	DeleteWhere(ctx context.Context, name string, filter models.Filter) error
}

var (
	_ VectorIndex = (*ChromaIndex)(nil)
	_ VectorIndex = (*ChromemIndex)(nil)
	_ VectorIndex = (*PgVectorIndex)(nil)
)

// metadataFromMap reads record metadata out of a decoded JSON-like map.
func metadataFromMap(m map[string]interface{}) models.RecordMetadata {
	var meta models.RecordMetadata
	switch v := m["page_number"].(type) {
	case float64:
		meta.PageNumber = int(v)
	case int64:
		meta.PageNumber = int(v)
	case int:
		meta.PageNumber = v
	}
	if v, ok := m["has_images"].(bool); ok {
		meta.HasImages = v
	}
	if v, ok := m["content"].(string); ok {
		meta.Content = v
	}
	if v, ok := m["source"].(string); ok {
		meta.Source = v
	}
	return meta
}
