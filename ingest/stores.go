package ingest

import (
	"context"
	"time"

	"github.com/manifoldworks/polywrite"
)

// Context keys shared by the pipeline steps. Declared once so the producer
// and consumers of a value cannot drift apart.
const (
	KeyParentID      polywrite.Key = "parent_id"
	KeyEntity        polywrite.Key = "entity"
	KeyEntityID      polywrite.Key = "entity_id"
	KeyCachePayload  polywrite.Key = "cache_payload"
	KeyCacheKey      polywrite.Key = "cache_key"
	KeyEmbedding     polywrite.Key = "embedding"
	KeyRelationships polywrite.Key = "relationships"
	KeyVectorID      polywrite.Key = "vector_id"
	KeyGraphNodeID   polywrite.Key = "graph_node_id"
	KeyAuditContext  polywrite.Key = "audit_context"
)

// Step names of the fixed pipeline, in declared order.
const (
	StepRelationalInsert polywrite.StepName = "relational_insert"
	StepCacheWrite       polywrite.StepName = "cache_write"
	StepVectorUpsert     polywrite.StepName = "vector_upsert"
	StepGraphWrite       polywrite.StepName = "graph_write"
)

// Service names used for circuit-breaker bookkeeping.
const (
	ServiceRelational = "relational"
	ServiceCache      = "cache"
	ServiceVector     = "vector"
	ServiceGraph      = "graph"
)

// Relationship describes one edge to create alongside the entity's graph node.
type Relationship struct {
	Type       string
	TargetID   string
	Properties map[string]any
}

// RelationalStore is the system-of-record adapter. InsertEntity writes one
// row and returns the new entity id; MarkDeleted is the compensating
// soft-delete.
type RelationalStore interface {
	InsertEntity(ctx context.Context, entity map[string]any) (string, error)
	MarkDeleted(ctx context.Context, entityID string) error
}

// CacheStore writes a keyed blob with a TTL; Delete is the compensation.
type CacheStore interface {
	Put(ctx context.Context, key string, value map[string]any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// VectorStore upserts an embedding with its payload; DeleteByID is the
// compensation.
type VectorStore interface {
	Upsert(ctx context.Context, id string, embedding []float32, payload map[string]any) error
	DeleteByID(ctx context.Context, id string) error
}

// GraphStore creates the entity's node together with its relationships;
// DeleteNode is the compensation and relies on cascade to remove the
// relationships.
type GraphStore interface {
	CreateNode(ctx context.Context, id string, properties map[string]any, relationships []Relationship) error
	DeleteNode(ctx context.Context, id string) error
}

// Breaker is the resilience collaborator the steps call their stores
// through. breaker.Breaker satisfies it.
type Breaker interface {
	Call(ctx context.Context, service string, fn func(context.Context) error) error
}

// passBreaker invokes the call directly; used when no breaker is configured.
type passBreaker struct{}

func (passBreaker) Call(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}
