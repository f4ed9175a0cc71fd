package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"golang.org/x/image/draw"
	"google.golang.org/genai"
)

const (
	imageProcessingUnavailable = "[Image processing not available]"
	imageDescriptionErrorFmt   = "[Image description error: %v]"
)

// ImageDescriber turns an image file into a natural-language description.
type ImageDescriber interface {
	Describe(ctx context.Context, path string) (string, error)
}

type VisionOptions struct {
	Model           string
	MaxDimension    int
	JPEGQuality     int
	Temperature     float32
	MaxOutputTokens int32
}

// GeminiDescriber asks a Gemini vision model to describe images.
type GeminiDescriber struct {
	models ContentGenerator
	opts   VisionOptions
}

func NewGeminiDescriber(models ContentGenerator, opts VisionOptions) *GeminiDescriber {
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = 2048
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 90
	}
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = 2048
	}
	return &GeminiDescriber{models: models, opts: opts}
}

func (d *GeminiDescriber) Describe(ctx context.Context, path string) (string, error) {
	data, err := prepareImage(path, d.opts.MaxDimension, d.opts.JPEGQuality)
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(imageDescriptionPrompt),
			genai.NewPartFromBytes(data, "image/jpeg"),
		}, genai.RoleUser),
	}

	result, err := d.models.GenerateContent(ctx, d.opts.Model, contents, &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(d.opts.Temperature),
		MaxOutputTokens: d.opts.MaxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("vision model call failed: %w", err)
	}

	if result == nil {
		return "", ErrEmptyModelOutput
	}
	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", ErrEmptyModelOutput
	}
	return text, nil
}

// prepareImage decodes an image file, flattens it onto an opaque RGB canvas,
// fits it within maxDim x maxDim keeping its aspect ratio and encodes it as JPEG.
func prepareImage(path string, maxDim, quality int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := src.Bounds()
	w, h := fitWithin(b.Dx(), b.Dy(), maxDim)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// fitWithin returns the size of a w x h image scaled down to fit a square of
// side limit. Images that already fit are unchanged.
func fitWithin(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	scale := float64(limit) / float64(w)
	if hs := float64(limit) / float64(h); hs < scale {
		scale = hs
	}
	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}
