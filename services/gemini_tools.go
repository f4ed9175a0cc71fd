package services

import "google.golang.org/genai"

const (
	toolSearchDocuments = "searchDocuments"
	toolListDocuments   = "listDocuments"
)

// GetAllTools defines the functions available to Gemini in chat sessions.
func GetAllTools() []*genai.Tool {
	return []*genai.Tool{
		{
			FunctionDeclarations: []*genai.FunctionDeclaration{
				{
					Name:        toolSearchDocuments,
					Description: "Search the processed PDF documents for passages relevant to a specific topic or question. Results include page numbers and whether the page contains images.",
					Parameters: &genai.Schema{
						Type: genai.TypeObject,
						Properties: map[string]*genai.Schema{
							"query": {
								Type:        genai.TypeString,
								Description: "The specific topic or question to search for. This should be a concise search query.",
							},
							"page_number": {
								Type:        genai.TypeInteger,
								Description: "Optional page number to restrict the search to.",
							},
							"images_only": {
								Type:        genai.TypeBoolean,
								Description: "Only return passages from pages that contain images.",
							},
						},
						Required: []string{"query"},
					},
				},
				{
					Name:        toolListDocuments,
					Description: "List the PDF documents available in the document library.",
					Parameters: &genai.Schema{
						Type:       genai.TypeObject,
						Properties: map[string]*genai.Schema{},
					},
				},
			},
		},
	}
}
