package services

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github/itish2003/multimodal-rag/models"
)

// scriptedSession replays canned model turns and records what it was sent.
type scriptedSession struct {
	replies []*genai.GenerateContentResponse
	sent    [][]genai.Part
	err     error
}

func (s *scriptedSession) SendMessage(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	s.sent = append(s.sent, parts)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.replies) == 0 {
		return textResponse("out of script"), nil
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

func callResponse(name string, args map[string]any) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{
			Role:  genai.RoleModel,
			Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{Name: name, Args: args}}},
		}}},
	}
}

func factoryFor(sessions ...*scriptedSession) (ChatSessionFactory, *int) {
	created := 0
	return func(context.Context) (ChatSession, error) {
		if created >= len(sessions) {
			return nil, errors.New("no more sessions")
		}
		s := sessions[created]
		created++
		return s, nil
	}, &created
}

func TestChatPlainAnswer(t *testing.T) {
	session := &scriptedSession{replies: []*genai.GenerateContentResponse{textResponse(" Hello there. ")}}
	factory, created := factoryFor(session)
	svc := NewChatService(factory, &fakeSearcher{}, nil)

	resp, err := svc.Chat(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "Hello there.", resp.Answer)
	assert.NotEmpty(t, resp.SessionID)
	assert.Empty(t, resp.Sources)
	assert.Equal(t, 1, *created)
	require.Len(t, session.sent, 1)
	assert.Equal(t, "hi", session.sent[0][0].Text)
}

func TestChatRunsSearchTool(t *testing.T) {
	session := &scriptedSession{replies: []*genai.GenerateContentResponse{
		callResponse(toolSearchDocuments, map[string]any{"query": "revenue", "page_number": float64(5), "images_only": true}),
		textResponse("Revenue grew, see page 5."),
	}}
	factory, _ := factoryFor(session)
	searcher := &fakeSearcher{results: []models.SearchResult{
		{ID: "r.pdf#3", Score: 0.8, Content: "Chart of revenue", Metadata: models.RecordMetadata{PageNumber: 5, HasImages: true, Source: "r.pdf"}},
	}}
	svc := NewChatService(factory, searcher, nil)

	resp, err := svc.Chat(context.Background(), "How did revenue change?", "")
	require.NoError(t, err)
	assert.Equal(t, "Revenue grew, see page 5.", resp.Answer)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, 5, resp.Sources[0].Page)

	require.Equal(t, []string{"revenue"}, searcher.queries)
	assert.Equal(t, []int{chatSearchTopK}, searcher.topKs)
	require.NotNil(t, searcher.filters[0].PageNumber)
	assert.Equal(t, 5, *searcher.filters[0].PageNumber)
	require.NotNil(t, searcher.filters[0].HasImages)
	assert.True(t, *searcher.filters[0].HasImages)

	require.Len(t, session.sent, 2)
	fr := session.sent[1][0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, toolSearchDocuments, fr.Name)

	var hits []toolHit
	require.NoError(t, json.Unmarshal([]byte(fr.Response["result"].(string)), &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, toolHit{Page: 5, Content: "Chart of revenue", HasImages: true, Score: 0.8, Document: "r.pdf"}, hits[0])
}

func TestChatReusesSession(t *testing.T) {
	first := &scriptedSession{replies: []*genai.GenerateContentResponse{textResponse("one"), textResponse("two")}}
	second := &scriptedSession{replies: []*genai.GenerateContentResponse{textResponse("fresh")}}
	factory, created := factoryFor(first, second)
	svc := NewChatService(factory, &fakeSearcher{}, nil)
	ctx := context.Background()

	r1, err := svc.Chat(ctx, "a", "")
	require.NoError(t, err)
	r2, err := svc.Chat(ctx, "b", r1.SessionID)
	require.NoError(t, err)
	assert.Equal(t, r1.SessionID, r2.SessionID)
	assert.Equal(t, "two", r2.Answer)
	assert.Equal(t, 1, *created)

	r3, err := svc.Chat(ctx, "c", "unknown-after-restart")
	require.NoError(t, err)
	assert.NotEqual(t, r1.SessionID, r3.SessionID)
	assert.Equal(t, "fresh", r3.Answer)
	assert.Equal(t, 2, *created)
}

func TestChatListDocumentsTool(t *testing.T) {
	lib, err := NewDocumentLibrary(t.TempDir())
	require.NoError(t, err)
	for _, name := range []string{"b.pdf", "a.pdf", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(lib.Dir, name), []byte("x"), 0o644))
	}

	session := &scriptedSession{replies: []*genai.GenerateContentResponse{
		callResponse(toolListDocuments, nil),
		textResponse("You have a.pdf and b.pdf."),
	}}
	factory, _ := factoryFor(session)
	svc := NewChatService(factory, &fakeSearcher{}, lib)

	_, err = svc.Chat(context.Background(), "what documents are there?", "")
	require.NoError(t, err)
	fr := session.sent[1][0].FunctionResponse
	assert.Equal(t, `["a.pdf","b.pdf"]`, fr.Response["result"])
}

func TestChatToolErrorsAreReportedToModel(t *testing.T) {
	session := &scriptedSession{replies: []*genai.GenerateContentResponse{
		callResponse(toolSearchDocuments, map[string]any{"query": ""}),
		callResponse("deleteEverything", nil),
		callResponse(toolListDocuments, nil),
		textResponse("done"),
	}}
	factory, _ := factoryFor(session)
	svc := NewChatService(factory, &fakeSearcher{}, nil)

	resp, err := svc.Chat(context.Background(), "x", "")
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Answer)

	results := make([]string, 0, 3)
	for _, parts := range session.sent[1:] {
		results = append(results, parts[0].FunctionResponse.Response["result"].(string))
	}
	assert.Equal(t, []string{
		"Error: 'query' argument must be a non-empty string.",
		"Error: Unknown function 'deleteEverything' requested.",
		"Error: no document library is configured.",
	}, results)
}

func TestChatStopsRunawayToolLoop(t *testing.T) {
	var replies []*genai.GenerateContentResponse
	for i := 0; i <= maxToolRounds+1; i++ {
		replies = append(replies, callResponse(toolSearchDocuments, map[string]any{"query": "again"}))
	}
	factory, _ := factoryFor(&scriptedSession{replies: replies})
	svc := NewChatService(factory, &fakeSearcher{}, nil)

	_, err := svc.Chat(context.Background(), "loop", "")
	assert.Error(t, err)
}

func TestChatEmptyCandidates(t *testing.T) {
	session := &scriptedSession{replies: []*genai.GenerateContentResponse{{}}}
	factory, _ := factoryFor(session)
	svc := NewChatService(factory, &fakeSearcher{}, nil)

	resp, err := svc.Chat(context.Background(), "x", "")
	require.NoError(t, err)
	assert.Equal(t, chatEmptyAnswer, resp.Answer)
}

func TestChatModelError(t *testing.T) {
	factory, _ := factoryFor(&scriptedSession{err: errors.New("unavailable")})
	svc := NewChatService(factory, &fakeSearcher{}, nil)

	_, err := svc.Chat(context.Background(), "x", "")
	assert.ErrorContains(t, err, "unavailable")
}
