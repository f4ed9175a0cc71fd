package models

import "strconv"

// MetadataContentLimit is the number of runes of chunk text kept in record metadata.
const MetadataContentLimit = 500

// Chunk is a bounded slice of page content, the unit of embedding and retrieval.
type Chunk struct {
	ChunkID    int    `json:"chunk_id"`
	PageNumber int    `json:"page_number"`
	Content    string `json:"content"`
	HasImages  bool   `json:"has_images"`
	// Source tags the chunk with its document. Untagged chunks are keyed by
	// chunk id alone.
	Source string `json:"source,omitempty"`
}

// RecordID is the identity of the chunk in the vector index.
func (c Chunk) RecordID() string {
	id := strconv.Itoa(c.ChunkID)
	if c.Source == "" {
		return id
	}
	return c.Source + "#" + id
}

// RecordMetadata is stored next to every vector.
type RecordMetadata struct {
	PageNumber int    `json:"page_number"`
	HasImages  bool   `json:"has_images"`
	Content    string `json:"content"`
	Source     string `json:"source,omitempty"`
}

// Record is a vector ready to be written to the index.
type Record struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata RecordMetadata `json:"metadata"`
}

// NewRecord builds the stored form of a chunk.
func NewRecord(c Chunk, values []float32) Record {
	return Record{
		ID:     c.RecordID(),
		Values: values,
		Metadata: RecordMetadata{
			PageNumber: c.PageNumber,
			HasImages:  c.HasImages,
			Content:    Truncate(c.Content, MetadataContentLimit),
			Source:     c.Source,
		},
	}
}
