package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github/itish2003/multimodal-rag/models"
)

// ProgressReporter receives coarse progress of long-running stages.
type ProgressReporter interface {
	Start(stage string, total int)
	Advance(n int)
	Finish()
}

type noopProgress struct{}

func (noopProgress) Start(string, int) {}
func (noopProgress) Advance(int)       {}
func (noopProgress) Finish()           {}

type ProcessorOptions struct {
	ImagesDir string
	Workers   int
	Progress  ProgressReporter
}

// DocumentProcessor turns a PDF into pages of text plus image descriptions,
// and pages into chunks.
type DocumentProcessor struct {
	source    PDFSource
	describer ImageDescriber
	chunker   Chunker
	imagesDir string
	workers   int
	progress  ProgressReporter
}

// NewDocumentProcessor wires the processor. A nil describer disables image
// description; every image then gets the "not available" marker.
func NewDocumentProcessor(source PDFSource, describer ImageDescriber, chunker Chunker, opts ProcessorOptions) *DocumentProcessor {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ImagesDir == "" {
		opts.ImagesDir = os.TempDir()
	}
	if opts.Progress == nil {
		opts.Progress = noopProgress{}
	}
	return &DocumentProcessor{
		source:    source,
		describer: describer,
		chunker:   chunker,
		imagesDir: opts.ImagesDir,
		workers:   opts.Workers,
		progress:  opts.Progress,
	}
}

type imageJob struct {
	page     int // index into the page slice
	pageNum  int
	imageNum int // 1-based position on the page
	image    RawImage
}

type imageOutcome struct {
	description string
	ok          bool
}

// ProcessPDF extracts every page of the PDF at path, in document order.
func (p *DocumentProcessor) ProcessPDF(ctx context.Context, path string) ([]models.Page, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, opError("process_pdf", ErrDocumentNotFound, errors.New(path))
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if strings.ToLower(filepath.Ext(path)) != ".pdf" {
		return nil, opError("process_pdf", ErrUnsupportedDocument, errors.New(path))
	}

	rawPages, err := p.source.ReadPages(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read pages of %s: %w", path, err)
	}
	log.Info().Str("component", "processor").Str("path", path).Int("pages", len(rawPages)).Msg("extracted pages")

	var jobs []imageJob
	for i, rp := range rawPages {
		for j, img := range rp.Images {
			jobs = append(jobs, imageJob{page: i, pageNum: rp.Number, imageNum: j + 1, image: img})
		}
	}

	if len(jobs) > 0 && p.describer != nil {
		if err := os.MkdirAll(p.imagesDir, 0o755); err != nil {
			return nil, fmt.Errorf("create images dir: %w", err)
		}
	}

	p.progress.Start("Describing images", len(jobs))
	outcomes, err := mapOrdered(ctx, p.workers, jobs, func(ctx context.Context, _ int, job imageJob) (imageOutcome, error) {
		defer p.progress.Advance(1)
		return p.describeImage(ctx, job), nil
	})
	p.progress.Finish()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	descriptions := make([][]string, len(rawPages))
	for k, job := range jobs {
		if outcomes[k].ok {
			descriptions[job.page] = append(descriptions[job.page], outcomes[k].description)
		}
	}

	pages := make([]models.Page, len(rawPages))
	for i, rp := range rawPages {
		pages[i] = models.NewPage(rp.Number, rp.Text, descriptions[i])
	}
	return pages, nil
}

// describeImage stores the image in a temporary file for the describer and
// always removes it. Failures never propagate: a failed write skips the
// image, a failed description yields an error marker.
func (p *DocumentProcessor) describeImage(ctx context.Context, job imageJob) imageOutcome {
	if p.describer == nil {
		return imageOutcome{description: imageProcessingUnavailable, ok: true}
	}

	logger := log.With().Str("component", "processor").Int("page", job.pageNum).Int("image", job.imageNum).Logger()

	path := filepath.Join(p.imagesDir, fmt.Sprintf("page_%d_img_%d.png", job.pageNum, job.imageNum))
	if err := os.WriteFile(path, job.image.Data, 0o644); err != nil {
		logger.Error().Err(err).Msg("could not store image")
		return imageOutcome{}
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn().Err(err).Str("path", path).Msg("could not remove temporary image")
		}
	}()

	description, err := p.describer.Describe(ctx, path)
	if err != nil {
		logger.Error().Err(err).Msg("image description failed")
		return imageOutcome{description: fmt.Sprintf(imageDescriptionErrorFmt, err), ok: true}
	}
	return imageOutcome{description: description, ok: true}
}

// ChunkDocument splits pages with the configured chunker. source tags the
// chunks; empty leaves them keyed by chunk id only.
func (p *DocumentProcessor) ChunkDocument(pages []models.Page, source string) ([]models.Chunk, error) {
	return ChunkDocument(pages, p.chunker, source)
}
