package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// IngestReport counts what one ingestion produced.
type IngestReport struct {
	Document string `json:"document"`
	Pages    int    `json:"pages"`
	Images   int    `json:"images"`
	Chunks   int    `json:"chunks"`
	Records  int    `json:"records"`
}

// IngestionService runs the whole pipeline for one PDF: extraction, image
// description, chunking and upsert.
type IngestionService struct {
	processor *DocumentProcessor
	store     *VectorStore

	// Image temp files are named by page and position, so runs are serialized.
	mu sync.Mutex
}

func NewIngestionService(processor *DocumentProcessor, store *VectorStore) *IngestionService {
	return &IngestionService{processor: processor, store: store}
}

// IngestFile processes the PDF at path and stores its chunks. source tags
// the chunks; an empty source keys them by chunk id only, so a later
// untagged document overwrites them.
func (s *IngestionService) IngestFile(ctx context.Context, path, source string) (*IngestReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := log.With().Str("component", "ingest").Str("path", path).Logger()

	pages, err := s.processor.ProcessPDF(ctx, path)
	if err != nil {
		return nil, err
	}
	report := &IngestReport{Document: source, Pages: len(pages)}
	for _, p := range pages {
		report.Images += len(p.ImageDescriptions)
	}

	chunks, err := s.processor.ChunkDocument(pages, source)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", path, err)
	}
	report.Chunks = len(chunks)
	logger.Info().Int("pages", report.Pages).Int("images", report.Images).Int("chunks", report.Chunks).Msg("document processed")

	report.Records, err = s.store.Upsert(ctx, chunks)
	if err != nil {
		return report, err
	}
	logger.Info().Int("records", report.Records).Msg("document indexed")
	return report, nil
}
