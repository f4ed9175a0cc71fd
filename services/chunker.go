package services

import (
	"fmt"

	"github.com/tmc/langchaingo/textsplitter"

	"github/itish2003/multimodal-rag/models"
)

// Chunker splits the content of one page into chunk texts.
type Chunker interface {
	Split(text string) ([]string, error)
}

// WindowChunker cuts fixed-size character windows whose starts advance by
// Size-Overlap. The last window of a page may be shorter than Size.
type WindowChunker struct {
	Size    int
	Overlap int
}

func NewWindowChunker(size, overlap int) (*WindowChunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &WindowChunker{Size: size, Overlap: overlap}, nil
}

func (c *WindowChunker) Split(text string) ([]string, error) {
	runes := []rune(text)
	step := c.Size - c.Overlap

	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + c.Size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out, nil
}

// RecursiveChunker splits on paragraph, line and word boundaries before
// falling back to characters.
type RecursiveChunker struct {
	splitter textsplitter.RecursiveCharacter
}

func NewRecursiveChunker(size, overlap int) (*RecursiveChunker, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("invalid chunk size %d / overlap %d", size, overlap)
	}
	return &RecursiveChunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		),
	}, nil
}

func (c *RecursiveChunker) Split(text string) ([]string, error) {
	return c.splitter.SplitText(text)
}

// NewChunker builds the chunker named by strategy.
func NewChunker(strategy string, size, overlap int) (Chunker, error) {
	switch strategy {
	case "", "window":
		return NewWindowChunker(size, overlap)
	case "recursive":
		return NewRecursiveChunker(size, overlap)
	default:
		return nil, fmt.Errorf("unknown chunk strategy %q", strategy)
	}
}

// ChunkDocument splits every page's full content. Chunk ids are sequential
// across the whole document in emission order.
func ChunkDocument(pages []models.Page, chunker Chunker, source string) ([]models.Chunk, error) {
	var chunks []models.Chunk
	chunkID := 0
	for _, page := range pages {
		texts, err := chunker.Split(page.FullContent)
		if err != nil {
			return nil, fmt.Errorf("split page %d: %w", page.PageNumber, err)
		}
		hasImages := page.HasImages()
		for _, text := range texts {
			chunks = append(chunks, models.Chunk{
				ChunkID:    chunkID,
				PageNumber: page.PageNumber,
				Content:    text,
				HasImages:  hasImages,
				Source:     source,
			})
			chunkID++
		}
	}
	return chunks, nil
}
