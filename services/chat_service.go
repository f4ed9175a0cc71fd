package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github/itish2003/multimodal-rag/models"
)

const (
	maxToolRounds   = 5
	chatSearchTopK  = 3
	chatEmptyAnswer = "I'm sorry, I couldn't generate a response."
)

// ChatSession is one multi-turn conversation with the model.
type ChatSession interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// ChatSessionFactory starts a new conversation.
type ChatSessionFactory func(ctx context.Context) (ChatSession, error)

// GeminiChatFactory starts Gemini chat sessions with the document tools.
func GeminiChatFactory(client *genai.Client, model string) ChatSessionFactory {
	return func(ctx context.Context) (ChatSession, error) {
		chat, err := client.Chats.Create(ctx, model, &genai.GenerateContentConfig{
			Tools:             GetAllTools(),
			SystemInstruction: GetChatSystemPrompt(),
		}, nil)
		if err != nil {
			return nil, err
		}
		return chat, nil
	}
}

// DocumentLister lists the documents available to chat.
type DocumentLister interface {
	List() ([]DocumentInfo, error)
}

var _ DocumentLister = (*DocumentLibrary)(nil)

type chatEntry struct {
	mu      sync.Mutex
	session ChatSession
}

// ChatService answers conversational questions. The model retrieves context
// itself through the searchDocuments tool.
type ChatService struct {
	newSession ChatSessionFactory
	searcher   Searcher
	library    DocumentLister
	logger     zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*chatEntry
}

// NewChatService wires the service. library may be nil, in which case the
// listDocuments tool reports that no library is configured.
func NewChatService(newSession ChatSessionFactory, searcher Searcher, library DocumentLister) *ChatService {
	return &ChatService{
		newSession: newSession,
		searcher:   searcher,
		library:    library,
		logger:     log.With().Str("component", "chat").Logger(),
		sessions:   make(map[string]*chatEntry),
	}
}

// session returns the conversation for sessionID, starting a new one when
// the id is empty or unknown (e.g. after a restart).
func (s *ChatService) session(ctx context.Context, sessionID string) (string, *chatEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID != "" {
		if entry, ok := s.sessions[sessionID]; ok {
			return sessionID, entry, nil
		}
	}

	s.logger.Info().Msg("no active session found, creating a new one")
	chat, err := s.newSession(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("could not start new chat session: %w", err)
	}
	sessionID = uuid.New().String()
	entry := &chatEntry{session: chat}
	s.sessions[sessionID] = entry
	return sessionID, entry, nil
}

// Chat sends message in the given session and returns the final answer with
// every source the model retrieved along the way.
func (s *ChatService) Chat(ctx context.Context, message, sessionID string) (*models.ChatResponse, error) {
	sessionID, entry, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	logger := s.logger.With().Str("session", sessionID).Logger()
	logger.Info().Str("message", message).Msg("chat message")

	parts := []genai.Part{{Text: message}}
	var sources []models.Source

	for round := 0; ; round++ {
		result, err := entry.session.SendMessage(ctx, parts...)
		if err != nil {
			return nil, fmt.Errorf("gemini api call failed: %w", err)
		}
		if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
			return &models.ChatResponse{Answer: chatEmptyAnswer, Sources: sources, SessionID: sessionID}, nil
		}

		var calls []*genai.FunctionCall
		var text strings.Builder
		for _, p := range result.Candidates[0].Content.Parts {
			if p.FunctionCall != nil {
				calls = append(calls, p.FunctionCall)
			} else if p.Text != "" {
				text.WriteString(p.Text)
			}
		}
		if len(calls) == 0 {
			return &models.ChatResponse{
				Answer:    strings.TrimSpace(text.String()),
				Sources:   sources,
				SessionID: sessionID,
			}, nil
		}
		if round >= maxToolRounds {
			return nil, fmt.Errorf("model requested tools more than %d times", maxToolRounds)
		}

		parts = make([]genai.Part, 0, len(calls))
		for _, call := range calls {
			logger.Info().Str("tool", call.Name).Interface("args", call.Args).Msg("model called tool")
			output, found := s.runTool(ctx, call)
			sources = append(sources, found...)
			parts = append(parts, genai.Part{FunctionResponse: &genai.FunctionResponse{
				Name:     call.Name,
				Response: map[string]any{"result": output},
			}})
		}
	}
}

type toolHit struct {
	Page      int     `json:"page"`
	Content   string  `json:"content"`
	HasImages bool    `json:"has_images"`
	Score     float64 `json:"score"`
	Document  string  `json:"document,omitempty"`
}

// runTool executes one function call and returns its result text and any
// sources it retrieved.
func (s *ChatService) runTool(ctx context.Context, call *genai.FunctionCall) (string, []models.Source) {
	switch call.Name {
	case toolSearchDocuments:
		query, ok := call.Args["query"].(string)
		if !ok || query == "" {
			return "Error: 'query' argument must be a non-empty string.", nil
		}
		var filter models.Filter
		if page, ok := call.Args["page_number"].(float64); ok && page > 0 {
			p := int(page)
			filter.PageNumber = &p
		}
		if imagesOnly, ok := call.Args["images_only"].(bool); ok && imagesOnly {
			filter.HasImages = &imagesOnly
		}

		results, err := s.searcher.Search(ctx, query, chatSearchTopK, filter)
		if err != nil {
			return fmt.Sprintf("Error retrieving documents: %v", err), nil
		}
		if len(results) == 0 {
			return "No relevant passages found.", nil
		}
		hits := make([]toolHit, len(results))
		sources := make([]models.Source, len(results))
		for i, r := range results {
			hits[i] = toolHit{
				Page:      r.Metadata.PageNumber,
				Content:   r.Content,
				HasImages: r.Metadata.HasImages,
				Score:     r.Score,
				Document:  r.Metadata.Source,
			}
			sources[i] = models.NewSource(r)
		}
		jsonBytes, err := json.Marshal(hits)
		if err != nil {
			return "Error: Could not format the retrieved documents.", nil
		}
		return string(jsonBytes), sources

	case toolListDocuments:
		if s.library == nil {
			return "Error: no document library is configured.", nil
		}
		docs, err := s.library.List()
		if err != nil {
			return fmt.Sprintf("Error listing documents: %v", err), nil
		}
		names := make([]string, len(docs))
		for i, d := range docs {
			names[i] = d.Name
		}
		jsonBytes, err := json.Marshal(names)
		if err != nil {
			return "Error: Could not format the document list.", nil
		}
		return string(jsonBytes), nil

	default:
		return fmt.Sprintf("Error: Unknown function '%s' requested.", call.Name), nil
	}
}
