package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github/itish2003/multimodal-rag/models"
)

// Searcher finds the chunks most similar to a query.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, filter models.Filter) ([]models.SearchResult, error)
}

var _ Searcher = (*VectorStore)(nil)

type QueryOptions struct {
	Model           string
	TopK            int
	Temperature     float32
	MaxOutputTokens int32
	TopP            float32
	SamplingTopK    float32
}

// QueryProcessor answers questions from retrieved chunks.
type QueryProcessor struct {
	searcher Searcher
	models   ContentGenerator
	opts     QueryOptions
	logger   zerolog.Logger
}

func NewQueryProcessor(searcher Searcher, models ContentGenerator, opts QueryOptions) *QueryProcessor {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	return &QueryProcessor{
		searcher: searcher,
		models:   models,
		opts:     opts,
		logger:   log.With().Str("component", "query").Logger(),
	}
}

// GenerateResponse retrieves context for query and asks the model for a
// grounded answer. Failures are reported inside the response, never as a
// separate error.
func (q *QueryProcessor) GenerateResponse(ctx context.Context, query string, useVision bool) models.Response {
	q.logger.Info().Str("query", query).Bool("vision", useVision).Msg("answering query")

	results, err := q.searcher.Search(ctx, query, q.opts.TopK, models.Filter{})
	if err != nil {
		q.logger.Error().Err(err).Msg("retrieval failed")
		return models.ErrorResponse{Kind: models.FailureRetrieval, Err: err}
	}
	if len(results) == 0 {
		return models.NoMatchResponse{}
	}

	sources := make([]models.Source, len(results))
	contextParts := make([]string, len(results))
	anyImages := false
	for i, r := range results {
		sources[i] = models.NewSource(r)
		contextParts[i] = fmt.Sprintf("[Source %d, Page %s]\n%s", i+1, sources[i].PageLabel(), r.Content)
		anyImages = anyImages || r.Metadata.HasImages
	}

	contents := []*genai.Content{
		genai.NewContentFromText(systemPrompt(useVision && anyImages), genai.RoleUser),
		genai.NewContentFromText(primingReply, genai.RoleModel),
		genai.NewContentFromText(userPrompt(strings.Join(contextParts, "\n\n"), query), genai.RoleUser),
	}
	resp, err := q.models.GenerateContent(ctx, q.opts.Model, contents, &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(q.opts.Temperature),
		MaxOutputTokens: q.opts.MaxOutputTokens,
		TopP:            genai.Ptr(q.opts.TopP),
		TopK:            genai.Ptr(q.opts.SamplingTopK),
	})
	if err != nil {
		kind := classifyModelError(err)
		q.logger.Error().Err(err).Stringer("kind", kind).Msg("generation failed")
		return models.ErrorResponse{Kind: kind, Err: err, Sources: sources, Context: contextParts}
	}

	answer := ""
	if resp != nil {
		answer = strings.TrimSpace(resp.Text())
	}
	if answer == "" {
		return models.ErrorResponse{
			Kind:    models.FailureGeneration,
			Err:     ErrEmptyModelOutput,
			Sources: sources,
			Context: contextParts,
		}
	}
	return models.AnswerResponse{Answer: answer, Sources: sources, Context: contextParts}
}

// classifyModelError maps a Gemini API error to a failure kind by its HTTP
// code and status.
func classifyModelError(err error) models.FailureKind {
	var code int
	var status string

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code, status = apiErr.Code, apiErr.Status
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		code, status = apiErrPtr.Code, apiErrPtr.Status
	default:
		return models.FailureGeneration
	}

	switch {
	case code == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED":
		return models.FailureQuota
	case code == http.StatusUnauthorized || code == http.StatusForbidden ||
		status == "PERMISSION_DENIED" || status == "UNAUTHENTICATED":
		return models.FailureAccess
	default:
		return models.FailureGeneration
	}
}

// FormatResponse renders a response for the terminal.
func FormatResponse(r models.Response) string {
	var b strings.Builder
	b.WriteString(models.AnswerText(r))
	b.WriteString("\n\n")

	sources := models.SourcesOf(r)
	if len(sources) == 0 {
		return b.String()
	}
	b.WriteString("\nSources:\n")
	for i, s := range sources {
		fmt.Fprintf(&b, "\n[%d] Page %s\n", i+1, s.PageLabel())
		b.WriteString(s.Content + "\n")
		if s.HasImages {
			b.WriteString("(Contains visual content)\n")
		}
	}
	return b.String()
}
