package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github/itish2003/multimodal-rag/models"
)

// TaskType hints the embedding model about how the vector will be used.
type TaskType string

const (
	TaskRetrievalDocument TaskType = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    TaskType = "RETRIEVAL_QUERY"
)

// Embedder converts text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string, task TaskType) ([]float32, error)
	Dimension() int
}

var (
	_ Embedder = (*GeminiEmbedder)(nil)
	_ Embedder = (*FallbackEmbedder)(nil)
	_ Embedder = (*HashEmbedder)(nil)
)

type EmbedderOptions struct {
	Model         string
	Dimension     int
	MaxInputChars int
}

// GeminiEmbedder calls the Gemini embedding API.
type GeminiEmbedder struct {
	models ContentEmbedder
	opts   EmbedderOptions
}

func NewGeminiEmbedder(models ContentEmbedder, opts EmbedderOptions) *GeminiEmbedder {
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = 10000
	}
	return &GeminiEmbedder{models: models, opts: opts}
}

func (e *GeminiEmbedder) Dimension() int { return e.opts.Dimension }

func (e *GeminiEmbedder) Embed(ctx context.Context, text string, task TaskType) ([]float32, error) {
	// Keeps requests under the provider's token limit.
	text = models.Truncate(text, e.opts.MaxInputChars)

	resp, err := e.models.EmbedContent(ctx, e.opts.Model, genai.Text(text), &genai.EmbedContentConfig{
		TaskType:             string(task),
		OutputDimensionality: genai.Ptr(int32(e.opts.Dimension)),
	})
	if err != nil {
		return nil, opError("embed", ErrEmbeddingFailed, err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, opError("embed", ErrEmbeddingFailed, errors.New("no embedding in response"))
	}

	values := resp.Embeddings[0].Values
	if len(values) != e.opts.Dimension {
		return nil, opError("embed", ErrDimensionMismatch,
			fmt.Errorf("%w: got %d values, want %d", ErrEmbeddingFailed, len(values), e.opts.Dimension))
	}
	return values, nil
}

// FallbackEmbedder substitutes a pseudo-random vector when the wrapped
// embedder fails. Such vectors carry no meaning; this is a degraded mode that
// must be enabled explicitly.
type FallbackEmbedder struct {
	next Embedder
}

func NewFallbackEmbedder(next Embedder) *FallbackEmbedder {
	return &FallbackEmbedder{next: next}
}

func (e *FallbackEmbedder) Dimension() int { return e.next.Dimension() }

func (e *FallbackEmbedder) Embed(ctx context.Context, text string, task TaskType) ([]float32, error) {
	values, err := e.next.Embed(ctx, text, task)
	if err == nil {
		return values, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	log.Warn().Str("component", "embedder").Err(err).Msg("embedding failed, using random fallback vector")

	values = make([]float32, e.next.Dimension())
	for i := range values {
		values[i] = rand.Float32()
	}
	return values, nil
}

// HashEmbedder is an offline embedder that hashes lower-cased words into a
// signed bag-of-words vector. Identical texts get identical vectors.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{dim: dim}
}

func (e *HashEmbedder) Dimension() int { return e.dim }

func (e *HashEmbedder) Embed(_ context.Context, text string, _ TaskType) ([]float32, error) {
	if e.dim <= 0 {
		return nil, opError("embed", ErrEmbeddingFailed, errors.New("dimension must be positive"))
	}
	values := make([]float32, e.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dim))
		if sum&(1<<63) != 0 {
			values[idx]--
		} else {
			values[idx]++
		}
	}

	var norm float64
	for _, v := range values {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		values[0] = 1
		return values, nil
	}
	norm = math.Sqrt(norm)
	for i := range values {
		values[i] = float32(float64(values[i]) / norm)
	}
	return values, nil
}
