package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"google.golang.org/genai"

	"github/itish2003/multimodal-rag/config"
	"github/itish2003/multimodal-rag/logging"
	"github/itish2003/multimodal-rag/services"
)

const manifestFile = "index_manifest.yaml"

// App holds every collaborator, constructed once per command.
type App struct {
	Config    *config.Config
	Library   *services.DocumentLibrary
	Processor *services.DocumentProcessor
	Store     *services.VectorStore
	Ingestion *services.IngestionService
	Indexer   *services.FileIndexingService
	// Query and Chat are nil when no Gemini client is available.
	Query *services.QueryProcessor
	Chat  *services.ChatService

	closers []func()
}

type appOptions struct {
	// needGemini makes a missing API key fatal.
	needGemini bool
	progress   services.ProgressReporter
}

// needsGeminiForIngest reports whether ingestion calls Gemini at all.
func needsGeminiForIngest(cfg *config.Config) bool {
	return cfg.Embedding.Provider == "gemini" || cfg.Processing.DescribeImages
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*App, error) {
	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	var client *genai.Client
	var models services.GeminiModels
	if cfg.Gemini.APIKey != "" {
		var err error
		client, err = services.NewGeminiClient(ctx, cfg.Gemini.APIKey)
		if err != nil {
			return nil, err
		}
		models = services.WithRateLimit(client.Models, cfg.Gemini.RequestsPerSecond)
		logging.Component("app").Info().Str("model", cfg.Gemini.Model).Msg("connected to Google Gemini")
	} else if opts.needGemini {
		return nil, services.ErrMissingAPIKey
	}

	index, err := app.openIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(cfg, models)
	if err != nil {
		return nil, err
	}

	var source services.PDFSource
	if cfg.Processing.PDFBackend == "plain" {
		source = services.NewPlainPDFSource()
	} else {
		source = services.NewUniPDFSource(cfg.Processing.UnidocLicenseKey)
	}

	var describer services.ImageDescriber
	if cfg.Processing.DescribeImages && models != nil {
		describer = services.NewGeminiDescriber(models, services.VisionOptions{
			Model:           cfg.VisionModelName(),
			MaxDimension:    cfg.Vision.MaxDimension,
			JPEGQuality:     cfg.Vision.JPEGQuality,
			Temperature:     cfg.Vision.Temperature,
			MaxOutputTokens: cfg.Vision.MaxOutputTokens,
		})
	}

	chunker, err := services.NewChunker(cfg.Processing.ChunkStrategy, cfg.Processing.ChunkSize, cfg.Processing.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	app.Processor = services.NewDocumentProcessor(source, describer, chunker, services.ProcessorOptions{
		ImagesDir: cfg.Paths.ImagesDir,
		Workers:   cfg.Processing.Workers,
		Progress:  opts.progress,
	})
	app.Store = services.NewVectorStore(index, embedder, services.VectorStoreOptions{
		IndexName:    cfg.Index.Name,
		Dimension:    cfg.Embedding.Dimension,
		Metric:       cfg.Index.Metric,
		BatchSize:    cfg.Index.BatchSize,
		Workers:      cfg.Processing.Workers,
		ReadyTimeout: cfg.Index.ReadyTimeout,
		PollInterval: cfg.Index.PollInterval,
		DocumentTask: services.TaskType(cfg.Embedding.TaskType),
		QueryTask:    services.TaskType(cfg.Embedding.QueryTaskType),
		Progress:     opts.progress,
	})
	if err := app.Store.EnsureIndex(ctx); err != nil {
		return nil, err
	}

	app.Ingestion = services.NewIngestionService(app.Processor, app.Store)
	if app.Library, err = services.NewDocumentLibrary(cfg.Paths.DocumentsDir); err != nil {
		return nil, err
	}
	app.Indexer, err = services.NewFileIndexingService(app.Ingestion, app.Store, filepath.Join(cfg.Paths.DataDir, manifestFile))
	if err != nil {
		return nil, err
	}

	if models != nil {
		app.Query = services.NewQueryProcessor(app.Store, models, services.QueryOptions{
			Model:           cfg.Gemini.Model,
			TopK:            cfg.Query.TopK,
			Temperature:     cfg.Query.Temperature,
			MaxOutputTokens: cfg.Query.MaxOutputTokens,
			TopP:            cfg.Query.TopP,
			SamplingTopK:    cfg.Query.SamplingTopK,
		})
		app.Chat = services.NewChatService(services.GeminiChatFactory(client, cfg.Gemini.Model), app.Store, app.Library)
	}

	ok = true
	return app, nil
}

func (a *App) openIndex(ctx context.Context, cfg *config.Config) (services.VectorIndex, error) {
	switch cfg.Index.Backend {
	case "chromem":
		return services.NewChromemIndex(cfg.Index.Chromem.Path, cfg.Index.Chromem.Compress)
	case "pgvector":
		idx, err := services.NewPgVectorIndex(ctx, cfg.Index.PgVector.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, idx.Close)
		return idx, nil
	default:
		client, err := chromago.NewHTTPClient(chromago.WithBaseURL(cfg.Index.Chroma.URL))
		if err != nil {
			return nil, fmt.Errorf("failed to create chroma client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				logging.Component("app").Warn().Err(err).Msg("failed to close chroma client")
			}
		})
		return services.NewChromaIndex(client), nil
	}
}

func newEmbedder(cfg *config.Config, models services.GeminiModels) (services.Embedder, error) {
	var embedder services.Embedder
	switch cfg.Embedding.Provider {
	case "hash":
		embedder = services.NewHashEmbedder(cfg.Embedding.Dimension)
	default:
		if models == nil {
			// Commands that never embed run without a key.
			return nil, nil
		}
		embedder = services.NewGeminiEmbedder(models, services.EmbedderOptions{
			Model:         cfg.Embedding.Model,
			Dimension:     cfg.Embedding.Dimension,
			MaxInputChars: cfg.Embedding.MaxInputChars,
		})
	}
	if cfg.Embedding.DegradedFallback {
		logging.Component("app").Warn().Msg("degraded embedding fallback enabled: failed embeddings become random vectors")
		embedder = services.NewFallbackEmbedder(embedder)
	}
	return embedder, nil
}

// requireQuery returns the query processor or the reason it is missing.
func (a *App) requireQuery() (*services.QueryProcessor, error) {
	if a.Query == nil {
		return nil, errors.Join(errors.New("query needs a Gemini client"), services.ErrMissingAPIKey)
	}
	return a.Query, nil
}

// Close releases the index connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
