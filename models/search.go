package models

// SearchResult is a ranked projection of a stored record.
type SearchResult struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata RecordMetadata `json:"metadata"`
	Content  string         `json:"content"`
}

// Filter restricts a search to records whose metadata matches every set field.
type Filter struct {
	PageNumber *int   `json:"page_number,omitempty"`
	HasImages  *bool  `json:"has_images,omitempty"`
	Source     string `json:"source,omitempty"`
}

// IsEmpty reports whether the filter has no conditions.
func (f Filter) IsEmpty() bool {
	return f.PageNumber == nil && f.HasImages == nil && f.Source == ""
}

// Matches evaluates the filter against record metadata.
func (f Filter) Matches(m RecordMetadata) bool {
	if f.PageNumber != nil && *f.PageNumber != m.PageNumber {
		return false
	}
	if f.HasImages != nil && *f.HasImages != m.HasImages {
		return false
	}
	if f.Source != "" && f.Source != m.Source {
		return false
	}
	return true
}
