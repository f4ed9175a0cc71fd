package services

import (
	"context"
	"encoding/json"
	"fmt"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/rs/zerolog/log"

	"github/itish2003/multimodal-rag/models"
)

// ChromaIndex stores vectors in a Chroma server, one collection per index.
// The dimension and metric are kept in the collection metadata.
type ChromaIndex struct {
	client chromago.Client
}

func NewChromaIndex(client chromago.Client) *ChromaIndex {
	return &ChromaIndex{client: client}
}

func (c *ChromaIndex) describe(ctx context.Context, col chromago.Collection) (IndexInfo, error) {
	count, err := col.Count(ctx)
	if err != nil {
		return IndexInfo{}, fmt.Errorf("failed to count items in collection: %w", err)
	}
	info := IndexInfo{Name: col.Name(), Metric: "cosine", Ready: true, TotalCount: int(count)}
	if meta := col.Metadata(); meta != nil {
		if dim, ok := meta.GetInt("dimension"); ok {
			info.Dimension = int(dim)
		}
		if metric, ok := meta.GetString("hnsw:space"); ok {
			info.Metric = metric
		}
	}
	return info, nil
}

func (c *ChromaIndex) ListIndexes(ctx context.Context) ([]IndexInfo, error) {
	cols, err := c.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	infos := make([]IndexInfo, 0, len(cols))
	for _, col := range cols {
		info, err := c.describe(ctx, col)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (c *ChromaIndex) DescribeIndex(ctx context.Context, name string) (IndexInfo, error) {
	col, err := c.client.GetCollection(ctx, name)
	if err != nil {
		return IndexInfo{}, fmt.Errorf("failed to get collection %s: %w", name, err)
	}
	return c.describe(ctx, col)
}

func (c *ChromaIndex) CreateIndex(ctx context.Context, spec IndexSpec) error {
	metric := spec.Metric
	if metric == "" {
		metric = "cosine"
	}
	_, err := c.client.CreateCollection(ctx, spec.Name,
		chromago.WithCollectionMetadataCreate(
			chromago.NewMetadata(
				chromago.NewStringAttribute("hnsw:space", metric),
				chromago.NewIntAttribute("dimension", int64(spec.Dimension)),
				chromago.NewStringAttribute("created_by", "multimodal-rag"),
			),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", spec.Name, err)
	}
	return nil
}

func (c *ChromaIndex) DeleteIndex(ctx context.Context, name string) error {
	if err := c.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", name, err)
	}
	return nil
}

func (c *ChromaIndex) Upsert(ctx context.Context, name string, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	col, err := c.client.GetCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to get collection %s: %w", name, err)
	}

	ids := make([]chromago.DocumentID, len(records))
	texts := make([]string, len(records))
	embs := make([]embeddings.Embedding, len(records))
	metas := make([]chromago.DocumentMetadata, len(records))
	for i, rec := range records {
		ids[i] = chromago.DocumentID(rec.ID)
		texts[i] = rec.Metadata.Content
		embs[i] = embeddings.NewEmbeddingFromFloat32(rec.Values)
		attrs := []*chromago.MetaAttribute{
			chromago.NewIntAttribute("page_number", int64(rec.Metadata.PageNumber)),
			chromago.NewBoolAttribute("has_images", rec.Metadata.HasImages),
			chromago.NewStringAttribute("content", rec.Metadata.Content),
		}
		if rec.Metadata.Source != "" {
			attrs = append(attrs, chromago.NewStringAttribute("source", rec.Metadata.Source))
		}
		metas[i] = chromago.NewDocumentMetadata(attrs...)
	}

	err = col.Upsert(ctx,
		chromago.WithIDs(ids...),
		chromago.WithTexts(texts...),
		chromago.WithEmbeddings(embs...),
		chromago.WithMetadatas(metas...),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert records to chromadb: %w", err)
	}
	return nil
}

func (c *ChromaIndex) Query(ctx context.Context, name string, vector []float32, topK int, filter models.Filter) ([]models.SearchResult, error) {
	col, err := c.client.GetCollection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection %s: %w", name, err)
	}

	opts := []chromago.CollectionQueryOption{
		chromago.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(vector)),
		chromago.WithNResults(topK),
	}
	if where := chromaWhere(filter); where != nil {
		opts = append(opts, chromago.WithWhereQuery(where))
	}
	res, err := col.Query(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chromadb: %w", err)
	}

	idGroups := res.GetIDGroups()
	if len(idGroups) == 0 {
		return nil, nil
	}
	docs := res.GetDocumentsGroups()
	metas := res.GetMetadatasGroups()
	dists := res.GetDistancesGroups()

	results := make([]models.SearchResult, 0, len(idGroups[0]))
	for i, id := range idGroups[0] {
		var meta models.RecordMetadata
		if len(metas) > 0 && i < len(metas[0]) && metas[0][i] != nil {
			meta = chromaMetadata(metas[0][i])
		}
		if meta.Content == "" && len(docs) > 0 && i < len(docs[0]) && docs[0][i] != nil {
			meta.Content = docs[0][i].ContentString()
		}
		score := 0.0
		if len(dists) > 0 && i < len(dists[0]) {
			// Cosine distance to similarity.
			score = 1 - float64(dists[0][i])
		}
		results = append(results, models.SearchResult{
			ID:       string(id),
			Score:    score,
			Metadata: meta,
			Content:  meta.Content,
		})
	}
	return results, nil
}

// DeleteAll drops and recreates the collection with the same spec.
func (c *ChromaIndex) DeleteAll(ctx context.Context, name string) error {
	info, err := c.DescribeIndex(ctx, name)
	if err != nil {
		return err
	}
	if err := c.DeleteIndex(ctx, name); err != nil {
		return err
	}
	return c.CreateIndex(ctx, IndexSpec{Name: name, Dimension: info.Dimension, Metric: info.Metric})
}

func (c *ChromaIndex) DeleteWhere(ctx context.Context, name string, filter models.Filter) error {
	where := chromaWhere(filter)
	if where == nil {
		return fmt.Errorf("delete requires a filter")
	}
	col, err := c.client.GetCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to get collection %s: %w", name, err)
	}
	return col.Delete(ctx, chromago.WithWhereDelete(where))
}

func chromaWhere(f models.Filter) chromago.WhereClause {
	var clauses []chromago.WhereClause
	if f.PageNumber != nil {
		clauses = append(clauses, chromago.EqInt("page_number", *f.PageNumber))
	}
	if f.HasImages != nil {
		clauses = append(clauses, chromago.EqBool("has_images", *f.HasImages))
	}
	if f.Source != "" {
		clauses = append(clauses, chromago.EqString("source", f.Source))
	}
	switch len(clauses) {
	case 0:
		return nil
	case 1:
		return clauses[0]
	default:
		return chromago.And(clauses...)
	}
}

// chromaMetadata converts document metadata through JSON, the only public
// view of its values.
func chromaMetadata(meta chromago.DocumentMetadata) models.RecordMetadata {
	jsonBytes, err := json.Marshal(meta)
	if err != nil {
		log.Warn().Str("component", "chroma").Err(err).Msg("could not marshal metadata")
		return models.RecordMetadata{}
	}
	var metadataMap map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &metadataMap); err != nil {
		log.Warn().Str("component", "chroma").Err(err).Msg("could not unmarshal metadata")
		return models.RecordMetadata{}
	}
	return metadataFromMap(metadataMap)
}
