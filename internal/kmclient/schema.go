package kmclient

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddl returns the KM document table DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddl(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS km_documents (
    id                TEXT         PRIMARY KEY,
    public_id         TEXT         NOT NULL DEFAULT '',
    content           TEXT         NOT NULL,
    embedding         vector(%d),
    metadata          JSONB        NOT NULL DEFAULT '{}',
    sample_questions  TEXT[]       NOT NULL DEFAULT '{}',
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_km_documents_embedding
    ON km_documents USING hnsw (embedding vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_km_documents_fts
    ON km_documents USING GIN (to_tsvector('english', content));
`, embeddingDimensions)
}

// Migrate creates the km_documents table and its indexes if they do not
// already exist. Idempotent and safe to call on every application start.
//
// embeddingDimensions must match the configured embeddings provider's output
// dimension; changing it after the first migration requires a manual schema
// change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddl(embeddingDimensions)); err != nil {
		return fmt.Errorf("kmclient: migrate: %w", err)
	}
	return nil
}
