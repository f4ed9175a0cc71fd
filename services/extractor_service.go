package services

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

// RawImage is an embedded image as extracted from a page.
type RawImage struct {
	Data     []byte
	MIMEType string
}

// RawPage is the unprocessed content of one PDF page.
type RawPage struct {
	Number int
	Text   string
	Images []RawImage
}

// PDFSource reads pages, in document order, from a PDF file.
type PDFSource interface {
	ReadPages(ctx context.Context, path string) ([]RawPage, error)
}

var unidocLicenseOnce sync.Once

// UniPDFSource extracts text and embedded images with UniPDF.
type UniPDFSource struct{}

// NewUniPDFSource sets the metered license key once per process. An empty
// key leaves UniPDF unlicensed.
func NewUniPDFSource(licenseKey string) *UniPDFSource {
	if licenseKey != "" {
		unidocLicenseOnce.Do(func() {
			if err := license.SetMeteredKey(licenseKey); err != nil {
				log.Error().Err(err).Msg("failed to set Unidoc license key, PDF processing will fail")
			}
		})
	}
	return &UniPDFSource{}
}

func (s *UniPDFSource) ReadPages(ctx context.Context, path string) ([]RawPage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pdfReader, err := model.NewPdfReader(f)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return nil, fmt.Errorf("count pages: %w", err)
	}

	pages := make([]RawPage, 0, numPages)
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := pdfReader.GetPage(i)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", i, err)
		}

		ex, err := extractor.New(page)
		if err != nil {
			return nil, fmt.Errorf("page %d extractor: %w", i, err)
		}

		text, err := ex.ExtractText()
		if err != nil {
			return nil, fmt.Errorf("page %d text: %w", i, err)
		}

		pages = append(pages, RawPage{
			Number: i,
			Text:   text,
			Images: extractImages(ex, i),
		})
	}
	return pages, nil
}

// extractImages never fails the page; unreadable images are skipped.
func extractImages(ex *extractor.Extractor, pageNum int) []RawImage {
	pageImages, err := ex.ExtractPageImages(nil)
	if err != nil {
		log.Warn().Err(err).Int("page", pageNum).Msg("could not extract images")
		return nil
	}

	var images []RawImage
	for idx, mark := range pageImages.Images {
		if mark.Image == nil {
			continue
		}
		goImg, err := mark.Image.ToGoImage()
		if err != nil {
			log.Warn().Err(err).Int("page", pageNum).Int("image", idx+1).Msg("could not decode image")
			continue
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, goImg); err != nil {
			log.Warn().Err(err).Int("page", pageNum).Int("image", idx+1).Msg("could not encode image")
			continue
		}
		images = append(images, RawImage{Data: buf.Bytes(), MIMEType: "image/png"})
	}
	return images
}

// PlainPDFSource reads page text only and needs no license. Images are not
// extracted.
type PlainPDFSource struct{}

func NewPlainPDFSource() *PlainPDFSource {
	return &PlainPDFSource{}
}

func (s *PlainPDFSource) ReadPages(ctx context.Context, path string) ([]RawPage, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	numPages := r.NumPage()
	pages := make([]RawPage, 0, numPages)
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, RawPage{Number: i})
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d text: %w", i, err)
		}
		pages = append(pages, RawPage{Number: i, Text: text})
	}
	return pages, nil
}
