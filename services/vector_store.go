package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github/itish2003/multimodal-rag/models"
)

const defaultSearchTopK = 5

type VectorStoreOptions struct {
	IndexName    string
	Dimension    int
	Metric       string
	BatchSize    int
	Workers      int
	ReadyTimeout time.Duration
	PollInterval time.Duration
	DocumentTask TaskType
	QueryTask    TaskType
	Progress     ProgressReporter
}

// VectorStore embeds chunks and keeps them in one named vector index.
type VectorStore struct {
	index    VectorIndex
	embedder Embedder
	opts     VectorStoreOptions
	logger   zerolog.Logger
}

func NewVectorStore(index VectorIndex, embedder Embedder, opts VectorStoreOptions) *VectorStore {
	if opts.Metric == "" {
		opts.Metric = "cosine"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 2 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.DocumentTask == "" {
		opts.DocumentTask = TaskRetrievalDocument
	}
	if opts.QueryTask == "" {
		opts.QueryTask = TaskRetrievalDocument
	}
	if opts.Progress == nil {
		opts.Progress = noopProgress{}
	}
	return &VectorStore{
		index:    index,
		embedder: embedder,
		opts:     opts,
		logger:   log.With().Str("component", "vector_store").Str("index", opts.IndexName).Logger(),
	}
}

func (s *VectorStore) IndexName() string { return s.opts.IndexName }

// EnsureIndex makes sure the index exists with the embedder's dimension. An
// existing index with a different known dimension is dropped and recreated.
func (s *VectorStore) EnsureIndex(ctx context.Context) error {
	infos, err := s.index.ListIndexes(ctx)
	if err != nil {
		return fmt.Errorf("list indexes: %w", err)
	}

	for _, info := range infos {
		if info.Name != s.opts.IndexName {
			continue
		}
		if info.Dimension == 0 || info.Dimension == s.opts.Dimension {
			s.logger.Info().Int("vectors", info.TotalCount).Msg("using existing index")
			return nil
		}
		s.logger.Warn().
			Int("have", info.Dimension).
			Int("want", s.opts.Dimension).
			Msg("index dimension mismatch, recreating index")
		if err := s.index.DeleteIndex(ctx, s.opts.IndexName); err != nil {
			return fmt.Errorf("delete mismatched index: %w", err)
		}
		break
	}

	s.logger.Info().Int("dimension", s.opts.Dimension).Msg("creating index")
	err = s.index.CreateIndex(ctx, IndexSpec{
		Name:      s.opts.IndexName,
		Dimension: s.opts.Dimension,
		Metric:    s.opts.Metric,
	})
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return s.waitReady(ctx)
}

func (s *VectorStore) waitReady(ctx context.Context) error {
	timeout := time.NewTimer(s.opts.ReadyTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		info, err := s.index.DescribeIndex(ctx, s.opts.IndexName)
		if err == nil && info.Ready {
			s.logger.Info().Msg("index is ready")
			return nil
		}
		if err != nil {
			s.logger.Debug().Err(err).Msg("index not described yet")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return opError("ensure_index", ErrIndexNotReady,
				fmt.Errorf("%s not ready after %s", s.opts.IndexName, s.opts.ReadyTimeout))
		case <-ticker.C:
		}
	}
}

// Embed returns the document embedding of text.
func (s *VectorStore) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embedder.Embed(ctx, text, s.opts.DocumentTask)
}

// Upsert embeds and stores chunks in consecutive batches and returns the
// number of records written. A failing batch stops the run; batches that
// were already sent stay stored.
func (s *VectorStore) Upsert(ctx context.Context, chunks []models.Chunk) (int, error) {
	s.opts.Progress.Start("Uploading vectors", len(chunks))
	defer s.opts.Progress.Finish()

	written := 0
	for start := 0; start < len(chunks); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(chunks))
		batch := chunks[start:end]

		records, err := mapOrdered(ctx, s.opts.Workers, batch, func(ctx context.Context, _ int, c models.Chunk) (models.Record, error) {
			values, err := s.Embed(ctx, c.Content)
			if err != nil {
				return models.Record{}, fmt.Errorf("chunk %s: %w", c.RecordID(), err)
			}
			return models.NewRecord(c, values), nil
		})
		if err != nil {
			return written, opError("upsert", ErrUpsertFailed, err)
		}
		if err := s.index.Upsert(ctx, s.opts.IndexName, records); err != nil {
			return written, opError("upsert", ErrUpsertFailed, fmt.Errorf("batch %d-%d: %w", start, end-1, err))
		}

		written += len(records)
		s.opts.Progress.Advance(len(records))
		s.logger.Debug().Int("batch_start", start).Int("records", len(records)).Msg("batch stored")
	}

	s.logger.Info().Int("records", written).Msg("upsert finished")
	return written, nil
}

// Search returns up to topK records most similar to query, best first.
// No matches is an empty result with a nil error.
func (s *VectorStore) Search(ctx context.Context, query string, topK int, filter models.Filter) ([]models.SearchResult, error) {
	if topK <= 0 {
		topK = defaultSearchTopK
	}

	vector, err := s.embedder.Embed(ctx, query, s.opts.QueryTask)
	if err != nil {
		return nil, opError("search", ErrSearchFailed, err)
	}
	results, err := s.index.Query(ctx, s.opts.IndexName, vector, topK, filter)
	if err != nil {
		return nil, opError("search", ErrSearchFailed, err)
	}

	slices.SortStableFunc(results, func(a, b models.SearchResult) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(results) > topK {
		results = results[:topK]
	}
	s.logger.Debug().Int("results", len(results)).Msg("search finished")
	return results, nil
}

// Clear deletes every vector in the index and returns how many there were.
func (s *VectorStore) Clear(ctx context.Context) (int, error) {
	info, err := s.index.DescribeIndex(ctx, s.opts.IndexName)
	if err != nil {
		return 0, fmt.Errorf("describe index: %w", err)
	}
	if info.TotalCount == 0 {
		s.logger.Info().Msg("no vectors to delete")
		return 0, nil
	}
	if err := s.index.DeleteAll(ctx, s.opts.IndexName); err != nil {
		return 0, fmt.Errorf("delete vectors: %w", err)
	}
	s.logger.Info().Int("deleted", info.TotalCount).Msg("cleared index")
	return info.TotalCount, nil
}

func (s *VectorStore) Count(ctx context.Context) (int, error) {
	info, err := s.index.DescribeIndex(ctx, s.opts.IndexName)
	if err != nil {
		return 0, fmt.Errorf("describe index: %w", err)
	}
	return info.TotalCount, nil
}

// DeleteSource removes every record tagged with source.
func (s *VectorStore) DeleteSource(ctx context.Context, source string) error {
	if source == "" {
		return errors.New("source must not be empty")
	}
	if err := s.index.DeleteWhere(ctx, s.opts.IndexName, models.Filter{Source: source}); err != nil {
		return fmt.Errorf("delete records of %s: %w", source, err)
	}
	return nil
}
