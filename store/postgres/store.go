// Package postgres implements the relational system-of-record adapter over
// PostgreSQL via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultTable = "entities"

// Store writes entities to a single table with a JSONB attrs column:
//
//	CREATE TABLE entities (
//	    id         UUID PRIMARY KEY,
//	    attrs      JSONB NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL,
//	    deleted_at TIMESTAMPTZ
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

// NewPool connects a pgx pool and verifies the connection with a ping.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// New creates a Store over an existing pool.
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

// InsertEntity writes one row and returns its generated id.
func (s *Store) InsertEntity(ctx context.Context, entity map[string]any) (string, error) {
	attrs, err := json.Marshal(entity)
	if err != nil {
		return "", fmt.Errorf("marshal entity: %w", err)
	}

	id := uuid.New().String()
	query := fmt.Sprintf(`
		INSERT INTO %s (id, attrs, created_at)
		VALUES ($1, $2, $3)
	`, s.table)
	if _, err := s.pool.Exec(ctx, query, id, attrs, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("insert entity: %w", err)
	}
	return id, nil
}

// MarkDeleted soft-deletes the row by stamping deleted_at. A row that is
// already stamped, or was never written, is not an error: the undo must be
// safe to repeat.
func (s *Store) MarkDeleted(ctx context.Context, entityID string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET deleted_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, s.table)
	if _, err := s.pool.Exec(ctx, query, entityID, time.Now().UTC()); err != nil {
		return fmt.Errorf("soft-delete entity: %w", err)
	}
	return nil
}
