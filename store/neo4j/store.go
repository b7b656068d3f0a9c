// Package neo4j implements the graph adapter over Neo4j.
package neo4j

import (
	"context"
	"fmt"
	"strings"

	neo "github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/manifoldworks/polywrite/ingest"
)

const (
	defaultLabel   = "Entity"
	defaultRelType = "RELATES_TO"
)

// Store creates and deletes entity nodes. One CreateNode call writes the node
// and all of its relationships inside a single managed transaction, so the
// saga sees one compensable unit.
type Store struct {
	driver   neo.DriverWithContext
	database string
	label    string
}

// Option configures a Store.
type Option func(*Store)

// WithDatabase selects the target database; defaults to the server default.
func WithDatabase(name string) Option {
	return func(s *Store) {
		s.database = name
	}
}

// WithLabel overrides the node label used for entities.
func WithLabel(label string) Option {
	return func(s *Store) {
		if label != "" {
			s.label = label
		}
	}
}

// New creates a Store with its own driver.
func New(uri, username, password string, opts ...Option) (*Store, error) {
	driver, err := neo.NewDriverWithContext(uri, neo.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("new neo4j driver: %w", err)
	}
	return NewFromDriver(driver, opts...), nil
}

// NewFromDriver creates a Store from an existing driver.
func NewFromDriver(driver neo.DriverWithContext, opts ...Option) *Store {
	s := &Store{
		driver: driver,
		label:  defaultLabel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateNode merges the entity node, sets its properties, and creates every
// relationship, all in one write transaction. Relationship targets are merged
// as bare nodes so an edge to a not-yet-ingested entity still lands.
func (s *Store) CreateNode(ctx context.Context, id string, properties map[string]any, relationships []ingest.Relationship) error {
	session := s.driver.NewSession(ctx, neo.SessionConfig{
		AccessMode:   neo.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo.ManagedTransaction) (any, error) {
		nodeQuery := fmt.Sprintf(`MERGE (n:%s {id: $id}) SET n += $props`, s.label)
		if _, err := tx.Run(ctx, nodeQuery, map[string]any{
			"id":    id,
			"props": scalarProperties(properties),
		}); err != nil {
			return nil, fmt.Errorf("merge node: %w", err)
		}

		for _, rel := range relationships {
			relQuery := fmt.Sprintf(`
				MATCH (n:%s {id: $id})
				MERGE (t {id: $target})
				MERGE (n)-[r:%s]->(t)
				SET r += $props
			`, s.label, relType(rel.Type))
			if _, err := tx.Run(ctx, relQuery, map[string]any{
				"id":     id,
				"target": rel.TargetID,
				"props":  scalarProperties(rel.Properties),
			}); err != nil {
				return nil, fmt.Errorf("merge relationship %s->%s: %w", rel.Type, rel.TargetID, err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("create node %s: %w", id, err)
	}
	return nil
}

// DeleteNode detaches and deletes the node, cascading over its relationships.
// A node that is already gone is not an error: the undo must be safe to
// repeat.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	session := s.driver.NewSession(ctx, neo.SessionConfig{
		AccessMode:   neo.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(`MATCH (n:%s {id: $id}) DETACH DELETE n`, s.label)
		if _, err := tx.Run(ctx, query, map[string]any{"id": id}); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("delete node %s: %w", id, err)
	}
	return nil
}

// Close closes the underlying driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// relType sanitizes a relationship type for inlining into Cypher, which does
// not allow relationship types as parameters. Anything outside [A-Za-z0-9_]
// is dropped and the result is uppercased.
func relType(t string) string {
	var sb strings.Builder
	for _, r := range t {
		switch {
		case r >= 'a' && r <= 'z':
			sb.WriteRune(r - ('a' - 'A'))
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		}
	}
	if sb.Len() == 0 {
		return defaultRelType
	}
	return sb.String()
}

// scalarProperties filters a property map down to values Neo4j can store
// directly, dropping nested maps and nil values.
func scalarProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		switch v.(type) {
		case nil, map[string]any:
			continue
		default:
			out[k] = v
		}
	}
	return out
}
