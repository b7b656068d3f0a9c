// Package pgvector implements the vector adapter over PostgreSQL with the
// pgvector extension.
package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"
)

const defaultTable = "entity_embeddings"

// Store upserts embeddings keyed by entity id:
//
//	CREATE TABLE entity_embeddings (
//	    id         TEXT PRIMARY KEY,
//	    embedding  VECTOR NOT NULL,
//	    payload    JSONB,
//	    updated_at TIMESTAMPTZ NOT NULL
//	);
type Store struct {
	pool  *pgxpool.Pool
	table string
}

// Option configures a Store.
type Option func(*Store)

// WithTable overrides the target table name.
func WithTable(table string) Option {
	return func(s *Store) {
		if table != "" {
			s.table = table
		}
	}
}

// New creates a Store over an existing pool. The pool's connections must have
// the pgvector type registered; pgvector-go's pgx integration does that at
// connect time.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:  pool,
		table: defaultTable,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert writes the embedding and payload under id, replacing any earlier
// row. The upsert keeps the calling step safe to retry.
func (s *Store) Upsert(ctx context.Context, id string, embedding []float32, payload map[string]any) error {
	attrs, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, payload, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET embedding = EXCLUDED.embedding,
		    payload = EXCLUDED.payload,
		    updated_at = EXCLUDED.updated_at
	`, s.table)
	if _, err := s.pool.Exec(ctx, query, id, pgv.NewVector(embedding), attrs, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// DeleteByID removes the embedding row for id. A missing row is not an
// error: the undo must be safe to repeat.
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("delete embedding: %w", err)
	}
	return nil
}
