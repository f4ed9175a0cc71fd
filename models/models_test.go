package models

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPageFullContent(t *testing.T) {
	page := NewPage(2, "body text", nil)
	assert.Equal(t, "Page 2\n\nbody text", page.FullContent)
	assert.False(t, page.HasImages())

	page = NewPage(3, "body", []string{"a chart", "a photo"})
	assert.Equal(t, "Page 3\n\nbody\n\nVisual Content:\na chart\na photo", page.FullContent)
	assert.True(t, page.HasImages())
}

func TestNewPageCopiesDescriptions(t *testing.T) {
	descs := []string{"one"}
	page := NewPage(1, "", descs)
	descs[0] = "changed"
	assert.Equal(t, "one", page.ImageDescriptions[0])
}

func TestHasImagesIgnoresEmptyDescriptions(t *testing.T) {
	page := Page{PageNumber: 1, ImageDescriptions: []string{"", ""}}
	assert.False(t, page.HasImages())
}

func TestTruncateCountsRunes(t *testing.T) {
	assert.Equal(t, "héll", Truncate("héllo", 4))
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "", Truncate("anything", 0))
	assert.Equal(t, "日本", Truncate("日本語", 2))
}

func TestRecordID(t *testing.T) {
	assert.Equal(t, "7", Chunk{ChunkID: 7}.RecordID())
	assert.Equal(t, "report.pdf#7", Chunk{ChunkID: 7, Source: "report.pdf"}.RecordID())
}

func TestNewRecordTruncatesMetadataContent(t *testing.T) {
	chunk := Chunk{ChunkID: 1, PageNumber: 4, Content: strings.Repeat("x", 900), HasImages: true}
	rec := NewRecord(chunk, []float32{0.1, 0.2})

	assert.Equal(t, "1", rec.ID)
	assert.Equal(t, 4, rec.Metadata.PageNumber)
	assert.True(t, rec.Metadata.HasImages)
	assert.Len(t, rec.Metadata.Content, MetadataContentLimit)
}

func TestFilterMatches(t *testing.T) {
	page := 2
	withImages := true
	meta := RecordMetadata{PageNumber: 2, HasImages: true, Source: "a.pdf"}

	assert.True(t, Filter{}.Matches(meta))
	assert.True(t, Filter{}.IsEmpty())
	assert.True(t, Filter{PageNumber: &page, HasImages: &withImages, Source: "a.pdf"}.Matches(meta))
	assert.False(t, Filter{Source: "b.pdf"}.Matches(meta))

	other := 3
	assert.False(t, Filter{PageNumber: &other}.Matches(meta))
}

func TestAnswerTextVariants(t *testing.T) {
	assert.Equal(t, "42", AnswerText(AnswerResponse{Answer: "42"}))
	assert.Equal(t, NoMatchAnswer, AnswerText(NoMatchResponse{}))
	assert.Equal(t, QuotaAnswer, AnswerText(ErrorResponse{Kind: FailureQuota}))
	assert.Equal(t, AccessAnswer, AnswerText(ErrorResponse{Kind: FailureAccess}))
	assert.Equal(t,
		"I'm sorry, I encountered an error while generating a response. The error was: boom",
		AnswerText(ErrorResponse{Kind: FailureGeneration, Err: errors.New("boom")}))
	assert.True(t, strings.HasSuffix(
		AnswerText(ErrorResponse{Kind: FailureRetrieval, Err: errors.New("index down")}), "index down"))
}

func TestNewSourcePreview(t *testing.T) {
	src := NewSource(SearchResult{
		Content:  strings.Repeat("a", 600),
		Metadata: RecordMetadata{PageNumber: 5, HasImages: true},
	})
	assert.Equal(t, 5, src.Page)
	assert.Equal(t, "5", src.PageLabel())
	assert.Equal(t, strings.Repeat("a", 500)+"...", src.Content)
	assert.True(t, src.HasImages)

	assert.Equal(t, "N/A", Source{}.PageLabel())
}

func TestNewQueryResponse(t *testing.T) {
	view := NewQueryResponse(NoMatchResponse{})
	assert.Equal(t, "no_match", view.Status)
	assert.Equal(t, NoMatchAnswer, view.Answer)
	assert.NotNil(t, view.Sources)
	assert.Empty(t, view.Sources)

	view = NewQueryResponse(ErrorResponse{Kind: FailureQuota, Sources: []Source{{Page: 1}}})
	assert.Equal(t, "error", view.Status)
	assert.Equal(t, "quota", view.Error)
	assert.Len(t, view.Sources, 1)
}
