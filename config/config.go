package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every static setting of the pipeline. It is loaded once at
// startup and never changed afterwards.
type Config struct {
	Gemini     GeminiConfig     `yaml:"gemini"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Index      IndexConfig      `yaml:"index"`
	Processing ProcessingConfig `yaml:"processing"`
	Paths      PathsConfig      `yaml:"paths"`
	Query      QueryConfig      `yaml:"query"`
	Vision     VisionConfig     `yaml:"vision"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type GeminiConfig struct {
	APIKey            string  `yaml:"api_key"`
	Model             string  `yaml:"model"`
	VisionModel       string  `yaml:"vision_model"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type EmbeddingConfig struct {
	Provider         string `yaml:"provider"` // gemini or hash
	Model            string `yaml:"model"`
	Dimension        int    `yaml:"dimension"`
	MaxInputChars    int    `yaml:"max_input_chars"`
	TaskType         string `yaml:"task_type"`
	QueryTaskType    string `yaml:"query_task_type"`
	DegradedFallback bool   `yaml:"degraded_fallback"`
}

type IndexConfig struct {
	Backend      string         `yaml:"backend"` // chroma, chromem or pgvector
	Name         string         `yaml:"name"`
	Metric       string         `yaml:"metric"`
	BatchSize    int            `yaml:"batch_size"`
	ReadyTimeout time.Duration  `yaml:"ready_timeout"`
	PollInterval time.Duration  `yaml:"poll_interval"`
	Chroma       ChromaConfig   `yaml:"chroma"`
	Chromem      ChromemConfig  `yaml:"chromem"`
	PgVector     PgVectorConfig `yaml:"pgvector"`
}

type ChromaConfig struct {
	URL string `yaml:"url"`
}

type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps the index in memory.
	Path     string `yaml:"path"`
	Compress bool   `yaml:"compress"`
}

type PgVectorConfig struct {
	DSN string `yaml:"dsn"`
}

type ProcessingConfig struct {
	ChunkSize        int    `yaml:"chunk_size"`
	ChunkOverlap     int    `yaml:"chunk_overlap"`
	ChunkStrategy    string `yaml:"chunk_strategy"` // window or recursive
	Workers          int    `yaml:"workers"`
	DescribeImages   bool   `yaml:"describe_images"`
	PDFBackend       string `yaml:"pdf_backend"` // unipdf or plain
	UnidocLicenseKey string `yaml:"unidoc_license_key"`
}

type PathsConfig struct {
	DataDir      string `yaml:"data_dir"`
	DocumentsDir string `yaml:"documents_dir"`
	ImagesDir    string `yaml:"images_dir"`
}

type QueryConfig struct {
	TopK            int     `yaml:"top_k"`
	Temperature     float32 `yaml:"temperature"`
	MaxOutputTokens int32   `yaml:"max_output_tokens"`
	TopP            float32 `yaml:"top_p"`
	SamplingTopK    float32 `yaml:"sampling_top_k"`
}

type VisionConfig struct {
	MaxDimension    int     `yaml:"max_dimension"`
	JPEGQuality     int     `yaml:"jpeg_quality"`
	Temperature     float32 `yaml:"temperature"`
	MaxOutputTokens int32   `yaml:"max_output_tokens"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	return &Config{
		Gemini: GeminiConfig{
			Model: "gemini-2.5-flash",
		},
		Embedding: EmbeddingConfig{
			Provider:      "gemini",
			Model:         "gemini-embedding-001",
			Dimension:     768,
			MaxInputChars: 10000,
			TaskType:      "RETRIEVAL_DOCUMENT",
			QueryTaskType: "RETRIEVAL_DOCUMENT",
		},
		Index: IndexConfig{
			Backend:      "chroma",
			Name:         "multimodal-rag-index",
			Metric:       "cosine",
			BatchSize:    100,
			ReadyTimeout: 2 * time.Minute,
			PollInterval: time.Second,
			Chroma: ChromaConfig{
				URL: "http://localhost:8000",
			},
			Chromem: ChromemConfig{
				Path: filepath.Join("data", "index"),
			},
		},
		Processing: ProcessingConfig{
			ChunkSize:      1000,
			ChunkOverlap:   200,
			ChunkStrategy:  "window",
			Workers:        4,
			DescribeImages: true,
			PDFBackend:     "unipdf",
		},
		Paths: PathsConfig{
			DataDir:      "data",
			DocumentsDir: filepath.Join("data", "documents"),
			ImagesDir:    filepath.Join("data", "images"),
		},
		Query: QueryConfig{
			TopK:            3,
			Temperature:     0.3,
			MaxOutputTokens: 2048,
			TopP:            0.95,
			SamplingTopK:    40,
		},
		Vision: VisionConfig{
			MaxDimension:    2048,
			JPEGQuality:     90,
			Temperature:     0.2,
			MaxOutputTokens: 2048,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in that order, and validates the result.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&c.Gemini.APIKey, "GEMINI_API_KEY")
	setString(&c.Gemini.Model, "GEMINI_MODEL")
	setString(&c.Embedding.Model, "RAG_EMBEDDING_MODEL")
	setString(&c.Index.Name, "INDEX_NAME")
	setString(&c.Index.Backend, "RAG_INDEX_BACKEND")
	setString(&c.Index.Chroma.URL, "CHROMA_URL")
	setString(&c.Index.Chromem.Path, "CHROMEM_PATH")
	setString(&c.Index.PgVector.DSN, "PGVECTOR_DSN")
	setString(&c.Processing.UnidocLicenseKey, "UNIDOC_LICENSE_KEY")
	setString(&c.Logging.Level, "RAG_LOG_LEVEL")
	setString(&c.Logging.Format, "RAG_LOG_FORMAT")
	setString(&c.Server.Addr, "RAG_SERVER_ADDR")

	if v := os.Getenv("RAG_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
		c.Paths.DocumentsDir = filepath.Join(v, "documents")
		c.Paths.ImagesDir = filepath.Join(v, "images")
	}
	if v := os.Getenv("RAG_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Processing.Workers = n
		}
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	fail := func(field, msg string) {
		errs = append(errs, fmt.Errorf("%s: %s", field, msg))
	}

	if c.Processing.ChunkSize <= 0 {
		fail("processing.chunk_size", "must be positive")
	}
	if c.Processing.ChunkOverlap < 0 {
		fail("processing.chunk_overlap", "must not be negative")
	}
	if c.Processing.ChunkOverlap >= c.Processing.ChunkSize {
		fail("processing.chunk_overlap", "must be smaller than chunk_size")
	}
	if c.Processing.Workers <= 0 {
		fail("processing.workers", "must be positive")
	}
	switch c.Processing.ChunkStrategy {
	case "window", "recursive":
	default:
		fail("processing.chunk_strategy", fmt.Sprintf("unknown strategy %q", c.Processing.ChunkStrategy))
	}
	switch c.Processing.PDFBackend {
	case "unipdf", "plain":
	default:
		fail("processing.pdf_backend", fmt.Sprintf("unknown backend %q", c.Processing.PDFBackend))
	}

	if c.Embedding.Dimension <= 0 {
		fail("embedding.dimension", "must be positive")
	}
	if c.Embedding.MaxInputChars <= 0 {
		fail("embedding.max_input_chars", "must be positive")
	}
	switch c.Embedding.Provider {
	case "gemini", "hash":
	default:
		fail("embedding.provider", fmt.Sprintf("unknown provider %q", c.Embedding.Provider))
	}

	if c.Index.Name == "" {
		fail("index.name", "is required")
	}
	if c.Index.Metric != "cosine" {
		fail("index.metric", fmt.Sprintf("unsupported metric %q, only cosine is supported", c.Index.Metric))
	}
	if c.Index.BatchSize <= 0 {
		fail("index.batch_size", "must be positive")
	}
	if c.Index.ReadyTimeout <= 0 {
		fail("index.ready_timeout", "must be positive")
	}
	if c.Index.PollInterval <= 0 {
		fail("index.poll_interval", "must be positive")
	}
	switch c.Index.Backend {
	case "chroma", "chromem":
	case "pgvector":
		if c.Index.PgVector.DSN == "" {
			fail("index.pgvector.dsn", "is required for the pgvector backend")
		}
	default:
		fail("index.backend", fmt.Sprintf("unknown backend %q", c.Index.Backend))
	}

	if c.Query.TopK <= 0 {
		fail("query.top_k", "must be positive")
	}
	if c.Vision.MaxDimension <= 0 {
		fail("vision.max_dimension", "must be positive")
	}
	if c.Vision.JPEGQuality < 1 || c.Vision.JPEGQuality > 100 {
		fail("vision.jpeg_quality", "must be between 1 and 100")
	}

	return errors.Join(errs...)
}

// VisionModelName falls back to the main model when no dedicated vision
// model is configured.
func (c *Config) VisionModelName() string {
	if c.Gemini.VisionModel != "" {
		return c.Gemini.VisionModel
	}
	return c.Gemini.Model
}

// EnsureDirectories creates the documents and images directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DocumentsDir, c.Paths.ImagesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
