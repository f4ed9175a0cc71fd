package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github/itish2003/multimodal-rag/models"
)

const pgRegistryTable = "rag_indexes"

// PgVectorIndex stores every index as its own table in Postgres with the
// pgvector extension. A registry table records each index's dimension.
type PgVectorIndex struct {
	pool *pgxpool.Pool
}

// NewPgVectorIndex connects to dsn and prepares the extension and registry.
func NewPgVectorIndex(ctx context.Context, dsn string) (*PgVectorIndex, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	idx := &PgVectorIndex{pool: pool}
	if err := idx.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

func (p *PgVectorIndex) initialize(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+pgRegistryTable+` (
			name TEXT PRIMARY KEY,
			dimension INTEGER NOT NULL,
			metric TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create index registry: %w", err)
	}
	return nil
}

func (p *PgVectorIndex) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func tableName(index string) string {
	return pgx.Identifier{"rag_" + index}.Sanitize()
}

func (p *PgVectorIndex) count(ctx context.Context, name string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, "SELECT count(*) FROM "+tableName(name)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", name, err)
	}
	return n, nil
}

func (p *PgVectorIndex) ListIndexes(ctx context.Context) ([]IndexInfo, error) {
	rows, err := p.pool.Query(ctx, "SELECT name, dimension, metric FROM "+pgRegistryTable+" ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}
	var infos []IndexInfo
	for rows.Next() {
		var info IndexInfo
		if err := rows.Scan(&info.Name, &info.Dimension, &info.Metric); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		info.Ready = true
		infos = append(infos, info)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range infos {
		if infos[i].TotalCount, err = p.count(ctx, infos[i].Name); err != nil {
			return nil, err
		}
	}
	return infos, nil
}

func (p *PgVectorIndex) DescribeIndex(ctx context.Context, name string) (IndexInfo, error) {
	info := IndexInfo{Name: name, Ready: true}
	err := p.pool.QueryRow(ctx,
		"SELECT dimension, metric FROM "+pgRegistryTable+" WHERE name = $1", name,
	).Scan(&info.Dimension, &info.Metric)
	if errors.Is(err, pgx.ErrNoRows) {
		return IndexInfo{}, fmt.Errorf("index %q does not exist", name)
	}
	if err != nil {
		return IndexInfo{}, fmt.Errorf("failed to describe index %s: %w", name, err)
	}
	if info.TotalCount, err = p.count(ctx, name); err != nil {
		return IndexInfo{}, err
	}
	return info, nil
}

func (p *PgVectorIndex) CreateIndex(ctx context.Context, spec IndexSpec) error {
	if spec.Metric != "" && spec.Metric != "cosine" {
		return fmt.Errorf("pgvector index only supports cosine, got %q", spec.Metric)
	}
	if spec.Dimension <= 0 {
		return fmt.Errorf("index dimension must be positive, got %d", spec.Dimension)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	table := tableName(spec.Name)
	_, err = tx.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE %s (
			id TEXT PRIMARY KEY,
			page_number INTEGER NOT NULL,
			has_images BOOLEAN NOT NULL,
			content TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			embedding vector(%d) NOT NULL
		)`, table, spec.Dimension))
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	_, err = tx.Exec(ctx, fmt.Sprintf(
		"CREATE INDEX ON %s USING hnsw (embedding vector_cosine_ops)", table))
	if err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}
	_, err = tx.Exec(ctx,
		"INSERT INTO "+pgRegistryTable+" (name, dimension, metric) VALUES ($1, $2, 'cosine')",
		spec.Name, spec.Dimension)
	if err != nil {
		return fmt.Errorf("failed to register index: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *PgVectorIndex) DeleteIndex(ctx context.Context, name string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+tableName(name)); err != nil {
		return fmt.Errorf("failed to drop table: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM "+pgRegistryTable+" WHERE name = $1", name); err != nil {
		return fmt.Errorf("failed to unregister index: %w", err)
	}
	return tx.Commit(ctx)
}

// Upsert writes the batch in one transaction.
func (p *PgVectorIndex) Upsert(ctx context.Context, name string, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, page_number, has_images, content, source, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			page_number = EXCLUDED.page_number,
			has_images = EXCLUDED.has_images,
			content = EXCLUDED.content,
			source = EXCLUDED.source,
			embedding = EXCLUDED.embedding`,
		tableName(name))

	for _, rec := range records {
		_, err := tx.Exec(ctx, stmt,
			rec.ID,
			rec.Metadata.PageNumber,
			rec.Metadata.HasImages,
			rec.Metadata.Content,
			rec.Metadata.Source,
			pgvector.NewVector(rec.Values),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert record %s: %w", rec.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *PgVectorIndex) Query(ctx context.Context, name string, vector []float32, topK int, filter models.Filter) ([]models.SearchResult, error) {
	args := []any{pgvector.NewVector(vector)}
	where, args := pgWhere(filter, args)
	args = append(args, topK)

	query := fmt.Sprintf(`
		SELECT id, page_number, has_images, content, source, 1 - (embedding <=> $1) AS score
		FROM %s%s
		ORDER BY embedding <=> $1
		LIMIT $%d`,
		tableName(name), where, len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		err := rows.Scan(
			&r.ID,
			&r.Metadata.PageNumber,
			&r.Metadata.HasImages,
			&r.Metadata.Content,
			&r.Metadata.Source,
			&r.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Content = r.Metadata.Content
		results = append(results, r)
	}
	return results, rows.Err()
}

func (p *PgVectorIndex) DeleteAll(ctx context.Context, name string) error {
	if _, err := p.pool.Exec(ctx, "DELETE FROM "+tableName(name)); err != nil {
		return fmt.Errorf("failed to delete records of %s: %w", name, err)
	}
	return nil
}

func (p *PgVectorIndex) DeleteWhere(ctx context.Context, name string, filter models.Filter) error {
	if filter.IsEmpty() {
		return fmt.Errorf("delete requires a filter")
	}
	where, args := pgWhere(filter, nil)
	if _, err := p.pool.Exec(ctx, "DELETE FROM "+tableName(name)+where, args...); err != nil {
		return fmt.Errorf("failed to delete records of %s: %w", name, err)
	}
	return nil
}

// pgWhere appends the filter values to args and returns the matching WHERE
// clause, or "" for an empty filter.
func pgWhere(f models.Filter, args []any) (string, []any) {
	var conds []string
	add := func(column string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if f.PageNumber != nil {
		add("page_number", *f.PageNumber)
	}
	if f.HasImages != nil {
		add("has_images", *f.HasImages)
	}
	if f.Source != "" {
		add("source", f.Source)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
