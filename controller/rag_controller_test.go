package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/itish2003/multimodal-rag/models"
	"github/itish2003/multimodal-rag/services"
)

type stubAnswerer struct {
	resp   models.Response
	query  string
	vision bool
}

func (s *stubAnswerer) GenerateResponse(_ context.Context, query string, useVision bool) models.Response {
	s.query, s.vision = query, useVision
	return s.resp
}

type stubChatter struct {
	resp *models.ChatResponse
	err  error
}

func (s *stubChatter) Chat(context.Context, string, string) (*models.ChatResponse, error) {
	return s.resp, s.err
}

type stubIndexer struct {
	report  *services.IngestReport
	err     error
	paths   []string
	deleted []string
}

func (s *stubIndexer) IngestFile(_ context.Context, path, _ string) (*services.IngestReport, error) {
	s.paths = append(s.paths, path)
	return s.report, s.err
}

func (s *stubIndexer) DeleteSource(_ context.Context, source string) error {
	s.deleted = append(s.deleted, source)
	return nil
}

type stubIndex struct {
	count    int
	cleared  bool
	clearErr error
}

func (s *stubIndex) Count(context.Context) (int, error) { return s.count, nil }

func (s *stubIndex) Clear(context.Context) (int, error) {
	if s.clearErr != nil {
		return 0, s.clearErr
	}
	n := s.count
	s.count = 0
	s.cleared = true
	return n, nil
}

type testServer struct {
	router   *gin.Engine
	answerer *stubAnswerer
	chatter  *stubChatter
	indexer  *stubIndexer
	library  *services.DocumentLibrary
	index    *stubIndex
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	lib, err := services.NewDocumentLibrary(t.TempDir())
	require.NoError(t, err)
	s := &testServer{
		answerer: &stubAnswerer{resp: models.NoMatchResponse{}},
		chatter:  &stubChatter{resp: &models.ChatResponse{Answer: "hi", SessionID: "s1"}},
		indexer:  &stubIndexer{report: &services.IngestReport{Document: "a.pdf", Pages: 2, Images: 1, Chunks: 3, Records: 3}},
		library:  lib,
		index:    &stubIndex{count: 12},
	}
	s.router = NewRouter(NewRAGController(s.answerer, s.chatter, s.indexer, s.library, s.index))
	return s
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode[map[string]any](t, w)["status"])
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestUploadDocument(t *testing.T) {
	s := newTestServer(t)

	w := s.do(uploadRequest(t, "a.pdf", "%PDF-1.4"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[models.IngestResponse](t, w)
	assert.Equal(t, "a.pdf", resp.Document)
	assert.Equal(t, 3, resp.Records)
	assert.Equal(t, []string{filepath.Join(s.library.Dir, "a.pdf")}, s.indexer.paths)

	w = s.do(uploadRequest(t, "a.pdf", "%PDF-1.4"))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(uploadRequest(t, "a.docx", "x"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(jsonRequest(http.MethodPost, "/api/v1/documents", `{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadDocumentIngestFailure(t *testing.T) {
	s := newTestServer(t)
	s.indexer.report = nil
	s.indexer.err = services.ErrEmbeddingFailed

	w := s.do(uploadRequest(t, "bad.pdf", "%PDF-1.4"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decode[models.IngestResponse](t, w).Error, "embedding failed")
	_, err := os.Stat(filepath.Join(s.library.Dir, "bad.pdf"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "failed upload is removed")
	assert.Equal(t, []string{"bad.pdf"}, s.indexer.deleted)
}

// failingEmbedder fails the nth call and delegates the others.
type failingEmbedder struct {
	services.Embedder
	mu     sync.Mutex
	calls  int
	failOn int
}

func (f *failingEmbedder) Embed(ctx context.Context, text string, task services.TaskType) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if n == f.failOn {
		return nil, errors.New("resource exhausted")
	}
	return f.Embedder.Embed(ctx, text, task)
}

type pageSource []services.RawPage

func (p pageSource) ReadPages(context.Context, string) ([]services.RawPage, error) {
	return p, nil
}

func TestUploadDocumentIngestFailureDropsStoredBatches(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	idx, err := services.NewChromemIndex("", false)
	require.NoError(t, err)
	embedder := &failingEmbedder{Embedder: services.NewHashEmbedder(32), failOn: 3}
	store := services.NewVectorStore(idx, embedder, services.VectorStoreOptions{
		IndexName:    "docs",
		Dimension:    32,
		BatchSize:    1,
		Workers:      1,
		ReadyTimeout: time.Second,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, store.EnsureIndex(ctx))

	chunker, err := services.NewWindowChunker(1000, 200)
	require.NoError(t, err)
	source := pageSource{{Number: 1, Text: strings.Repeat("ledger entry ", 200)}}
	processor := services.NewDocumentProcessor(source, nil, chunker, services.ProcessorOptions{ImagesDir: t.TempDir(), Workers: 1})
	indexer, err := services.NewFileIndexingService(services.NewIngestionService(processor, store), store, filepath.Join(t.TempDir(), "manifest.yaml"))
	require.NoError(t, err)
	lib, err := services.NewDocumentLibrary(t.TempDir())
	require.NoError(t, err)

	router := NewRouter(NewRAGController(&stubAnswerer{}, &stubChatter{}, indexer, lib, store))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, "doc.pdf", "%PDF-1.4"))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Equal(t, 3, embedder.calls, "two batches were stored before the failure")

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	docs, err := lib.List()
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.NotContains(t, indexer.Indexed(), "doc.pdf")
}

func TestListAndDeleteDocuments(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(uploadRequest(t, "a.pdf", "x")).Code)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["count"])

	w = s.do(httptest.NewRequest(http.MethodDelete, "/api/v1/documents/a.pdf", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"a.pdf"}, s.indexer.deleted)

	w = s.do(httptest.NewRequest(http.MethodDelete, "/api/v1/documents/a.pdf", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(httptest.NewRequest(http.MethodDelete, "/api/v1/documents/notes.txt", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuery(t *testing.T) {
	tests := []struct {
		name       string
		resp       models.Response
		wantCode   int
		wantStatus string
	}{
		{"answer", models.AnswerResponse{Answer: "42", Sources: []models.Source{{Page: 1}}, Context: []string{"c"}}, http.StatusOK, "answered"},
		{"no match", models.NoMatchResponse{}, http.StatusOK, "no_match"},
		{"quota", models.ErrorResponse{Kind: models.FailureQuota}, http.StatusTooManyRequests, "error"},
		{"retrieval", models.ErrorResponse{Kind: models.FailureRetrieval, Err: errors.New("down")}, http.StatusServiceUnavailable, "error"},
		{"generation", models.ErrorResponse{Kind: models.FailureGeneration, Err: errors.New("bad")}, http.StatusBadGateway, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.answerer.resp = tt.resp

			w := s.do(jsonRequest(http.MethodPost, "/api/v1/query", `{"query":"what?","vision":true}`))
			assert.Equal(t, tt.wantCode, w.Code)
			body := decode[models.QueryResponse](t, w)
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, models.AnswerText(tt.resp), body.Answer)
			assert.NotNil(t, body.Sources)
			assert.Equal(t, "what?", s.answerer.query)
			assert.True(t, s.answerer.vision)
		})
	}
}

func TestQueryRequiresQuery(t *testing.T) {
	s := newTestServer(t)
	w := s.do(jsonRequest(http.MethodPost, "/api/v1/query", `{"vision":true}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChat(t *testing.T) {
	s := newTestServer(t)
	w := s.do(jsonRequest(http.MethodPost, "/api/v1/chat", `{"message":"hello"}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s1", decode[models.ChatResponse](t, w).SessionID)

	s.chatter.err = errors.New("model down")
	w = s.do(jsonRequest(http.MethodPost, "/api/v1/chat", `{"message":"hello"}`))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestIndexEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/index", nil))
	assert.EqualValues(t, 12, decode[map[string]any](t, w)["vectors"])

	w = s.do(httptest.NewRequest(http.MethodDelete, "/api/v1/index", nil))
	body := decode[map[string]any](t, w)
	assert.Equal(t, "Index cleared", body["message"])
	assert.EqualValues(t, 12, body["deleted"])

	w = s.do(httptest.NewRequest(http.MethodDelete, "/api/v1/index", nil))
	body = decode[map[string]any](t, w)
	assert.Equal(t, "No vectors to delete", body["message"])

	s.index.clearErr = errors.New("unreachable")
	w = s.do(httptest.NewRequest(http.MethodDelete, "/api/v1/index", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
