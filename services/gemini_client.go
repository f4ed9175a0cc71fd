package services

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// ContentGenerator is the part of genai.Models used for text and vision calls.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ContentEmbedder is the part of genai.Models used for embeddings.
type ContentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// GeminiModels is the model surface shared by every Gemini-backed service.
type GeminiModels interface {
	ContentGenerator
	ContentEmbedder
}

// NewGeminiClient creates the Gemini API client. It fails fast without a key.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return client, nil
}

// limitedModels waits on a shared limiter before every model call.
type limitedModels struct {
	next    GeminiModels
	limiter *rate.Limiter
}

// WithRateLimit wraps models so calls do not exceed rps per second.
// A non-positive rps returns models unchanged.
func WithRateLimit(models GeminiModels, rps float64) GeminiModels {
	if rps <= 0 {
		return models
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &limitedModels{next: models, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (m *limitedModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return m.next.GenerateContent(ctx, model, contents, config)
}

func (m *limitedModels) EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return m.next.EmbedContent(ctx, model, contents, config)
}
