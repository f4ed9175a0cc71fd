package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github/itish2003/multimodal-rag/models"
)

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(text, genai.RoleModel)}},
	}
}

type generateCall struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls []generateCall
	text  string
	err   error
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, generateCall{model: model, contents: contents, config: config})
	if f.err != nil {
		return nil, f.err
	}
	return textResponse(f.text), nil
}

type embedCall struct {
	model    string
	contents []*genai.Content
	config   *genai.EmbedContentConfig
}

type fakeContentEmbedder struct {
	mu     sync.Mutex
	calls  []embedCall
	values int
	err    error
}

func (f *fakeContentEmbedder) EmbedContent(_ context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, embedCall{model: model, contents: contents, config: config})
	if f.err != nil {
		return nil, f.err
	}
	return &genai.EmbedContentResponse{
		Embeddings: []*genai.ContentEmbedding{{Values: make([]float32, f.values)}},
	}, nil
}

// failingEmbedder wraps a HashEmbedder and fails for texts containing failOn.
type failingEmbedder struct {
	*HashEmbedder
	failOn string
}

func (e *failingEmbedder) Embed(ctx context.Context, text string, task TaskType) ([]float32, error) {
	if e.failOn != "" && strings.Contains(text, e.failOn) {
		return nil, opError("embed", ErrEmbeddingFailed, errors.New("provider unavailable"))
	}
	return e.HashEmbedder.Embed(ctx, text, task)
}

// fakeIndex is an in-memory VectorIndex with injectable failures.
type fakeIndex struct {
	mu sync.Mutex

	specs   map[string]IndexSpec
	records map[string]map[string]models.Record
	batches [][]models.Record

	// readyAfter is the number of DescribeIndex calls that report not ready.
	readyAfter    int
	describeCalls int
	failBatch     int // 1-based upsert call that fails; 0 never
	upsertCalls   int
	queryResults  []models.SearchResult
	queryErr      error
	deleted       []string
	deletedAll    int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		specs:   make(map[string]IndexSpec),
		records: make(map[string]map[string]models.Record),
	}
}

func (f *fakeIndex) ListIndexes(context.Context) ([]IndexInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var infos []IndexInfo
	for name, spec := range f.specs {
		infos = append(infos, IndexInfo{Name: name, Dimension: spec.Dimension, Metric: spec.Metric, Ready: true, TotalCount: len(f.records[name])})
	}
	return infos, nil
}

func (f *fakeIndex) DescribeIndex(_ context.Context, name string) (IndexInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.describeCalls++
	spec, ok := f.specs[name]
	if !ok {
		return IndexInfo{}, errors.New("no such index")
	}
	return IndexInfo{
		Name:       name,
		Dimension:  spec.Dimension,
		Metric:     spec.Metric,
		Ready:      f.describeCalls > f.readyAfter,
		TotalCount: len(f.records[name]),
	}, nil
}

func (f *fakeIndex) CreateIndex(_ context.Context, spec IndexSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs[spec.Name] = spec
	f.records[spec.Name] = make(map[string]models.Record)
	return nil
}

func (f *fakeIndex) DeleteIndex(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	delete(f.specs, name)
	delete(f.records, name)
	return nil
}

func (f *fakeIndex) Upsert(_ context.Context, name string, records []models.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	if f.failBatch == f.upsertCalls {
		return errors.New("backend rejected batch")
	}
	f.batches = append(f.batches, records)
	if f.records[name] == nil {
		f.records[name] = make(map[string]models.Record)
	}
	for _, r := range records {
		f.records[name][r.ID] = r
	}
	return nil
}

func (f *fakeIndex) Query(_ context.Context, _ string, _ []float32, _ int, _ models.Filter) ([]models.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	out := make([]models.SearchResult, len(f.queryResults))
	copy(out, f.queryResults)
	return out, nil
}

func (f *fakeIndex) DeleteAll(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedAll++
	f.records[name] = make(map[string]models.Record)
	return nil
}

func (f *fakeIndex) DeleteWhere(_ context.Context, name string, filter models.Filter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, r := range f.records[name] {
		if filter.Matches(r.Metadata) {
			delete(f.records[name], id)
		}
	}
	return nil
}

func (f *fakeIndex) storedIDs(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.records[name]))
	for id := range f.records[name] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type fakeSource struct {
	pages []RawPage
	err   error
}

func (f *fakeSource) ReadPages(context.Context, string) ([]RawPage, error) {
	return f.pages, f.err
}

type fakeSearcher struct {
	mu      sync.Mutex
	results []models.SearchResult
	err     error
	queries []string
	topKs   []int
	filters []models.Filter
}

func (f *fakeSearcher) Search(_ context.Context, query string, topK int, filter models.Filter) ([]models.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.topKs = append(f.topKs, topK)
	f.filters = append(f.filters, filter)
	return f.results, f.err
}
