package models

import (
	"fmt"
	"strings"
)

// Page is the text and visual content extracted from one PDF page.
type Page struct {
	PageNumber        int      `json:"page_number"`
	Text              string   `json:"text"`
	ImageDescriptions []string `json:"image_descriptions"`
	FullContent       string   `json:"full_content"`
}

// NewPage assembles a page and its full content block.
func NewPage(number int, text string, descriptions []string) Page {
	full := fmt.Sprintf("Page %d\n\n%s", number, text)
	if len(descriptions) > 0 {
		full += "\n\nVisual Content:\n" + strings.Join(descriptions, "\n")
	}

	descs := make([]string, len(descriptions))
	copy(descs, descriptions)

	return Page{
		PageNumber:        number,
		Text:              text,
		ImageDescriptions: descs,
		FullContent:       full,
	}
}

// HasImages reports whether at least one image produced a non-empty description.
func (p Page) HasImages() bool {
	for _, d := range p.ImageDescriptions {
		if d != "" {
			return true
		}
	}
	return false
}

// Truncate returns the first n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
