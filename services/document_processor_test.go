package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingDescriber checks that the image file exists while it is being
// described and answers with its base name.
type recordingDescriber struct {
	mu    sync.Mutex
	paths []string
	fail  map[string]error
	delay map[string]time.Duration
}

func (d *recordingDescriber) Describe(_ context.Context, path string) (string, error) {
	base := filepath.Base(path)
	if wait := d.delay[base]; wait > 0 {
		time.Sleep(wait)
	}
	d.mu.Lock()
	d.paths = append(d.paths, path)
	d.mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	if err := d.fail[base]; err != nil {
		return "", err
	}
	return "description of " + base, nil
}

func writePDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))
	return path
}

func pngImage() RawImage {
	return RawImage{Data: []byte("not really a png"), MIMEType: "image/png"}
}

func TestProcessPDFMissingFile(t *testing.T) {
	p := NewDocumentProcessor(&fakeSource{}, nil, nil, ProcessorOptions{})
	_, err := p.ProcessPDF(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestProcessPDFUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))

	p := NewDocumentProcessor(&fakeSource{}, nil, nil, ProcessorOptions{})
	_, err := p.ProcessPDF(context.Background(), path)
	assert.ErrorIs(t, err, ErrUnsupportedDocument)
}

func TestProcessPDFDescribesImagesInOrder(t *testing.T) {
	imagesDir := t.TempDir()
	source := &fakeSource{pages: []RawPage{
		{Number: 1, Text: "intro", Images: []RawImage{pngImage(), pngImage(), pngImage()}},
		{Number: 2, Text: "text only"},
		{Number: 3, Text: "diagram page", Images: []RawImage{pngImage()}},
	}}
	describer := &recordingDescriber{delay: map[string]time.Duration{
		"page_1_img_1.png": 30 * time.Millisecond,
	}}

	p := NewDocumentProcessor(source, describer, nil, ProcessorOptions{ImagesDir: imagesDir, Workers: 4})
	pages, err := p.ProcessPDF(context.Background(), writePDF(t))
	require.NoError(t, err)
	require.Len(t, pages, 3)

	assert.Equal(t, []string{
		"description of page_1_img_1.png",
		"description of page_1_img_2.png",
		"description of page_1_img_3.png",
	}, pages[0].ImageDescriptions)
	assert.True(t, pages[0].HasImages())
	assert.False(t, pages[1].HasImages())
	assert.Equal(t, "Page 2\n\ntext only", pages[1].FullContent)
	assert.Equal(t, []string{"description of page_3_img_1.png"}, pages[2].ImageDescriptions)
	assert.True(t, strings.HasSuffix(pages[2].FullContent, "Visual Content:\ndescription of page_3_img_1.png"))

	assert.Len(t, describer.paths, 4)
	entries, err := os.ReadDir(imagesDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary images must be removed")
}

func TestProcessPDFDescriptionFailureBecomesMarker(t *testing.T) {
	imagesDir := t.TempDir()
	source := &fakeSource{pages: []RawPage{
		{Number: 1, Text: "a", Images: []RawImage{pngImage(), pngImage()}},
	}}
	describer := &recordingDescriber{fail: map[string]error{
		"page_1_img_2.png": errors.New("model overloaded"),
	}}

	p := NewDocumentProcessor(source, describer, nil, ProcessorOptions{ImagesDir: imagesDir, Workers: 2})
	pages, err := p.ProcessPDF(context.Background(), writePDF(t))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"description of page_1_img_1.png",
		"[Image description error: model overloaded]",
	}, pages[0].ImageDescriptions)

	entries, err := os.ReadDir(imagesDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcessPDFWithoutDescriber(t *testing.T) {
	source := &fakeSource{pages: []RawPage{
		{Number: 1, Text: "a", Images: []RawImage{pngImage()}},
	}}

	p := NewDocumentProcessor(source, nil, nil, ProcessorOptions{ImagesDir: t.TempDir()})
	pages, err := p.ProcessPDF(context.Background(), writePDF(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"[Image processing not available]"}, pages[0].ImageDescriptions)
	assert.True(t, pages[0].HasImages())
}

func TestProcessPDFSourceError(t *testing.T) {
	p := NewDocumentProcessor(&fakeSource{err: errors.New("corrupt xref")}, nil, nil, ProcessorOptions{})
	_, err := p.ProcessPDF(context.Background(), writePDF(t))
	assert.ErrorContains(t, err, "corrupt xref")
}

func TestProcessPDFCancelled(t *testing.T) {
	source := &fakeSource{pages: []RawPage{
		{Number: 1, Text: "a", Images: []RawImage{pngImage()}},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewDocumentProcessor(source, &recordingDescriber{}, nil, ProcessorOptions{ImagesDir: t.TempDir()})
	_, err := p.ProcessPDF(ctx, writePDF(t))
	assert.ErrorIs(t, err, context.Canceled)
}
