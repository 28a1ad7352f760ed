// Package kmclient implements the knowledge-management search adapter:
// `search(query, keywords) → {data, total}`.
//
// Documents are stored in PostgreSQL with a pgvector HNSW index over their
// embeddings for semantic search. Keyword hints additionally narrow the
// search via a full-text index on document content.
package kmclient

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/parlance-ai/answerstream/pkg/provider/embeddings"
)

// defaultTopK bounds the number of documents returned per search when the
// caller does not need more; component I only ever consumes the whole set.
const defaultTopK = 8

// Document is a knowledge-base document as returned to the caller, matching
// the `document` shape of the `km_result` SSE event.
type Document struct {
	ID              string
	PublicID        string
	Content         string
	Metadata        map[string]any
	SampleQuestions []string
}

// Result pairs a Document with its retrieval scores, matching one entry of
// `km_result.data.data`.
type Result struct {
	DocumentID    string
	Document      Document
	Score         float64
	RerankerScore float64
}

// SearchResult is the KM search response shape, matching `km_result.data`.
type SearchResult struct {
	Data  []Result
	Total int
}

// Client is a PostgreSQL/pgvector-backed KM search adapter.
// It is safe for concurrent use.
type Client struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// New connects to the PostgreSQL database at dsn, registers pgvector types on
// every connection, runs [Migrate] against embedder's dimensions, and returns
// a ready-to-use [Client].
func New(ctx context.Context, dsn string, embedder embeddings.Provider) (*Client, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("kmclient: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("kmclient: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kmclient: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embedder.Dimensions()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kmclient: migrate: %w", err)
	}

	return &Client{pool: pool, embedder: embedder}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() {
	c.pool.Close()
}

// IndexDocument upserts a document into the KM store, embedding its content
// with the configured embeddings provider. Used by ingestion tooling and
// tests; the answer-flow pipeline only calls [Client.Search].
func (c *Client) IndexDocument(ctx context.Context, doc Document) error {
	vec, err := c.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("kmclient: embed document %s: %w", doc.ID, err)
	}

	const q = `
		INSERT INTO km_documents (id, public_id, content, embedding, metadata, sample_questions)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			public_id        = EXCLUDED.public_id,
			content           = EXCLUDED.content,
			embedding         = EXCLUDED.embedding,
			metadata          = EXCLUDED.metadata,
			sample_questions  = EXCLUDED.sample_questions`

	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err = c.pool.Exec(ctx, q, doc.ID, doc.PublicID, doc.Content, pgvector.NewVector(vec), metadata, doc.SampleQuestions)
	if err != nil {
		return fmt.Errorf("kmclient: index document %s: %w", doc.ID, err)
	}
	return nil
}

// Search embeds query and finds the closest documents by cosine distance,
// optionally narrowed by keywords via a full-text match against document
// content: `search(query, keywords) → {data, total}`.
//
// An empty result (no error) is expected and valid: the generation stage
// must handle "no documents".
func (c *Client) Search(ctx context.Context, query string, keywords []string) (SearchResult, error) {
	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return SearchResult{}, fmt.Errorf("kmclient: embed query: %w", err)
	}
	queryVec := pgvector.NewVector(vec)

	args := []any{queryVec}
	whereClause := ""
	if len(keywords) > 0 {
		args = append(args, keywords)
		whereClause = fmt.Sprintf("WHERE to_tsvector('english', content) @@ to_tsquery('english', array_to_string($%d, ' | '))", len(args))
	}
	args = append(args, defaultTopK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, public_id, content, metadata, sample_questions,
		       1 - (embedding <=> $1) AS score
		FROM   km_documents
		%s
		ORDER  BY embedding <=> $1
		LIMIT  %s`, whereClause, limitArg)

	rows, err := c.pool.Query(ctx, q, args...)
	if err != nil {
		return SearchResult{}, fmt.Errorf("kmclient: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Result, error) {
		var r Result
		if err := row.Scan(
			&r.Document.ID,
			&r.Document.PublicID,
			&r.Document.Content,
			&r.Document.Metadata,
			&r.Document.SampleQuestions,
			&r.Score,
		); err != nil {
			return Result{}, err
		}
		r.DocumentID = r.Document.ID
		// No separate reranking stage is wired; the vector similarity score
		// doubles as the reranker score.
		r.RerankerScore = r.Score
		return r, nil
	})
	if err != nil {
		return SearchResult{}, fmt.Errorf("kmclient: scan rows: %w", err)
	}
	if results == nil {
		results = []Result{}
	}

	return SearchResult{Data: results, Total: len(results)}, nil
}
