package models

import "fmt"

const (
	NoMatchAnswer    = "I couldn't find any relevant information to answer your question."
	QuotaAnswer      = "I've reached my API quota limit. Please check your Google AI Studio account for usage limits."
	AccessAnswer     = "I'm having trouble accessing the AI model. Please verify your API key and permissions."
	generationPrefix = "I'm sorry, I encountered an error while generating a response. The error was: "
	retrievalPrefix  = "I'm sorry, I couldn't search the document index. The error was: "
)

// Source is a retrieved chunk as shown to the user next to an answer.
type Source struct {
	Page      int    `json:"page"`
	Content   string `json:"content"`
	HasImages bool   `json:"has_images"`
}

// NewSource builds a source preview from a search result.
func NewSource(r SearchResult) Source {
	return Source{
		Page:      r.Metadata.PageNumber,
		Content:   Truncate(r.Content, MetadataContentLimit) + "...",
		HasImages: r.Metadata.HasImages,
	}
}

// PageLabel renders the page number, or N/A when the record had none.
func (s Source) PageLabel() string {
	if s.Page <= 0 {
		return "N/A"
	}
	return fmt.Sprintf("%d", s.Page)
}

// FailureKind classifies why a query produced no answer.
type FailureKind int

const (
	FailureGeneration FailureKind = iota
	FailureQuota
	FailureAccess
	FailureRetrieval
)

func (k FailureKind) String() string {
	switch k {
	case FailureQuota:
		return "quota"
	case FailureAccess:
		return "access"
	case FailureRetrieval:
		return "retrieval"
	default:
		return "generation"
	}
}

// Response is the outcome of a query. It is one of AnswerResponse,
// NoMatchResponse or ErrorResponse.
type Response interface {
	isResponse()
}

// AnswerResponse is a grounded answer produced by the model.
type AnswerResponse struct {
	Answer  string
	Sources []Source
	Context []string
}

// NoMatchResponse is returned when retrieval found nothing; no model call is made.
type NoMatchResponse struct{}

// ErrorResponse carries a failed retrieval or generation.
type ErrorResponse struct {
	Kind    FailureKind
	Err     error
	Sources []Source
	Context []string
}

func (AnswerResponse) isResponse()  {}
func (NoMatchResponse) isResponse() {}
func (ErrorResponse) isResponse()   {}

// AnswerText renders the user-facing answer of any response variant.
func AnswerText(r Response) string {
	switch v := r.(type) {
	case AnswerResponse:
		return v.Answer
	case NoMatchResponse:
		return NoMatchAnswer
	case ErrorResponse:
		switch v.Kind {
		case FailureQuota:
			return QuotaAnswer
		case FailureAccess:
			return AccessAnswer
		case FailureRetrieval:
			return retrievalPrefix + errText(v.Err)
		default:
			return generationPrefix + errText(v.Err)
		}
	default:
		return ""
	}
}

// SourcesOf returns the sources attached to a response, if any.
func SourcesOf(r Response) []Source {
	switch v := r.(type) {
	case AnswerResponse:
		return v.Sources
	case ErrorResponse:
		return v.Sources
	default:
		return nil
	}
}

// ContextOf returns the labelled context blocks sent to the model, if any.
func ContextOf(r Response) []string {
	switch v := r.(type) {
	case AnswerResponse:
		return v.Context
	case ErrorResponse:
		return v.Context
	default:
		return nil
	}
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// QueryResponse is the JSON shape of a Response.
type QueryResponse struct {
	Status  string   `json:"status"`
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
	Context []string `json:"context"`
	Error   string   `json:"error,omitempty"`
}

func NewQueryResponse(r Response) QueryResponse {
	out := QueryResponse{
		Answer:  AnswerText(r),
		Sources: SourcesOf(r),
		Context: ContextOf(r),
	}
	if out.Sources == nil {
		out.Sources = []Source{}
	}
	if out.Context == nil {
		out.Context = []string{}
	}

	switch v := r.(type) {
	case AnswerResponse:
		out.Status = "answered"
	case NoMatchResponse:
		out.Status = "no_match"
	case ErrorResponse:
		out.Status = "error"
		out.Error = v.Kind.String()
	}
	return out
}

// ChatResponse is returned by the conversational endpoint.
type ChatResponse struct {
	Answer    string   `json:"answer"`
	Sources   []Source `json:"sources,omitempty"`
	SessionID string   `json:"sessionID"`
}

// IngestResponse reports the outcome of ingesting one document.
type IngestResponse struct {
	Message  string `json:"message"`
	Document string `json:"document,omitempty"`
	Pages    int    `json:"pages"`
	Images   int    `json:"images"`
	Chunks   int    `json:"chunks"`
	Records  int    `json:"records"`
	Error    string `json:"error,omitempty"`
}
