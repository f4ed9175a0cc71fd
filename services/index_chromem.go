package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"gopkg.in/yaml.v3"

	"github/itish2003/multimodal-rag/models"
)

const chromemSpecsFile = "indexes.yaml"

// ChromemIndex keeps indexes in an embedded chromem-go database, in memory or
// persisted to a directory. chromem collections do not record a dimension,
// so index specs are kept in a YAML file next to the data.
type ChromemIndex struct {
	db   *chromem.DB
	path string

	mu    sync.Mutex
	specs map[string]IndexSpec
}

// NewChromemIndex opens the database at path, or an in-memory one when path
// is empty.
func NewChromemIndex(path string, compress bool) (*ChromemIndex, error) {
	idx := &ChromemIndex{path: path, specs: make(map[string]IndexSpec)}
	if path == "" {
		idx.db = chromem.NewDB()
		return idx, nil
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create chromem directory: %w", err)
	}
	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("open chromem database: %w", err)
	}
	idx.db = db
	if err := idx.loadSpecs(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (c *ChromemIndex) loadSpecs() error {
	data, err := os.ReadFile(filepath.Join(c.path, chromemSpecsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read index specs: %w", err)
	}
	if err := yaml.Unmarshal(data, &c.specs); err != nil {
		return fmt.Errorf("parse index specs: %w", err)
	}
	if c.specs == nil {
		c.specs = make(map[string]IndexSpec)
	}
	return nil
}

// saveSpecs must be called with mu held.
func (c *ChromemIndex) saveSpecs() error {
	if c.path == "" {
		return nil
	}
	data, err := yaml.Marshal(c.specs)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.path, chromemSpecsFile), data, 0o644)
}

func (c *ChromemIndex) info(name string, col *chromem.Collection) IndexInfo {
	c.mu.Lock()
	spec := c.specs[name]
	c.mu.Unlock()
	return IndexInfo{
		Name:       name,
		Dimension:  spec.Dimension,
		Metric:     "cosine",
		Ready:      true,
		TotalCount: col.Count(),
	}
}

func (c *ChromemIndex) collection(name string) (*chromem.Collection, error) {
	col := c.db.GetCollection(name, nil)
	if col == nil {
		return nil, fmt.Errorf("index %q does not exist", name)
	}
	return col, nil
}

func (c *ChromemIndex) ListIndexes(_ context.Context) ([]IndexInfo, error) {
	cols := c.db.ListCollections()
	infos := make([]IndexInfo, 0, len(cols))
	for name, col := range cols {
		infos = append(infos, c.info(name, col))
	}
	return infos, nil
}

func (c *ChromemIndex) DescribeIndex(_ context.Context, name string) (IndexInfo, error) {
	col, err := c.collection(name)
	if err != nil {
		return IndexInfo{}, err
	}
	return c.info(name, col), nil
}

func (c *ChromemIndex) CreateIndex(_ context.Context, spec IndexSpec) error {
	if spec.Metric != "" && spec.Metric != "cosine" {
		return fmt.Errorf("chromem only supports cosine similarity, got %q", spec.Metric)
	}
	spec.Metric = "cosine"
	meta := map[string]string{
		"dimension": strconv.Itoa(spec.Dimension),
		"metric":    spec.Metric,
	}
	if _, err := c.db.CreateCollection(spec.Name, meta, nil); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.specs[spec.Name] = spec
	return c.saveSpecs()
}

func (c *ChromemIndex) DeleteIndex(_ context.Context, name string) error {
	if err := c.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.specs, name)
	return c.saveSpecs()
}

func (c *ChromemIndex) Upsert(ctx context.Context, name string, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	col, err := c.collection(name)
	if err != nil {
		return err
	}

	c.mu.Lock()
	dim := c.specs[name].Dimension
	c.mu.Unlock()

	// Validate the whole batch before writing any of it.
	docs := make([]chromem.Document, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("record %d has an empty id", i)
		}
		if dim > 0 && len(rec.Values) != dim {
			return fmt.Errorf("record %s: %w: got %d values, want %d", rec.ID, ErrDimensionMismatch, len(rec.Values), dim)
		}
		docs[i] = chromem.Document{
			ID:        rec.ID,
			Metadata:  chromemMetadata(rec.Metadata),
			Embedding: rec.Values,
			Content:   rec.Metadata.Content,
		}
	}
	return col.AddDocuments(ctx, docs, runtime.NumCPU())
}

func (c *ChromemIndex) Query(ctx context.Context, name string, vector []float32, topK int, filter models.Filter) ([]models.SearchResult, error) {
	col, err := c.collection(name)
	if err != nil {
		return nil, err
	}
	count := col.Count()
	if count == 0 || topK <= 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	res, err := col.QueryEmbedding(ctx, vector, topK, chromemWhere(filter), nil)
	if err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, 0, len(res))
	for _, r := range res {
		meta := recordMetadataFromStrings(r.Metadata)
		results = append(results, models.SearchResult{
			ID:       r.ID,
			Score:    float64(r.Similarity),
			Metadata: meta,
			Content:  meta.Content,
		})
	}
	return results, nil
}

// DeleteAll recreates the collection; chromem has no delete-everything call.
func (c *ChromemIndex) DeleteAll(ctx context.Context, name string) error {
	if _, err := c.collection(name); err != nil {
		return err
	}
	c.mu.Lock()
	spec, ok := c.specs[name]
	c.mu.Unlock()
	if !ok {
		spec = IndexSpec{Name: name, Metric: "cosine"}
	}
	if err := c.DeleteIndex(ctx, name); err != nil {
		return err
	}
	return c.CreateIndex(ctx, spec)
}

func (c *ChromemIndex) DeleteWhere(ctx context.Context, name string, filter models.Filter) error {
	if filter.IsEmpty() {
		return errors.New("delete requires a filter")
	}
	col, err := c.collection(name)
	if err != nil {
		return err
	}
	return col.Delete(ctx, chromemWhere(filter), nil)
}

func chromemMetadata(m models.RecordMetadata) map[string]string {
	out := map[string]string{
		"page_number": strconv.Itoa(m.PageNumber),
		"has_images":  strconv.FormatBool(m.HasImages),
		"content":     m.Content,
	}
	if m.Source != "" {
		out["source"] = m.Source
	}
	return out
}

func recordMetadataFromStrings(m map[string]string) models.RecordMetadata {
	page, _ := strconv.Atoi(m["page_number"])
	hasImages, _ := strconv.ParseBool(m["has_images"])
	return models.RecordMetadata{
		PageNumber: page,
		HasImages:  hasImages,
		Content:    m["content"],
		Source:     m["source"],
	}
}

func chromemWhere(f models.Filter) map[string]string {
	if f.IsEmpty() {
		return nil
	}
	where := make(map[string]string)
	if f.PageNumber != nil {
		where["page_number"] = strconv.Itoa(*f.PageNumber)
	}
	if f.HasImages != nil {
		where["has_images"] = strconv.FormatBool(*f.HasImages)
	}
	if f.Source != "" {
		where["source"] = f.Source
	}
	return where
}
