package ingest

import (
	"context"
	"time"

	"github.com/manifoldworks/polywrite"
)

// relationalInsertStep writes the entity to the system of record and captures
// the generated entity id for every later step. Compensation soft-deletes the
// row rather than removing it, so the audit trail survives a rollback.
func relationalInsertStep(store RelationalStore, cb Breaker) polywrite.Step {
	return polywrite.NewStepFunc(StepRelationalInsert,
		func(ctx context.Context, txctx *polywrite.TxContext) (polywrite.Output, error) {
			entity, ok := polywrite.ValueAs[map[string]any](txctx, KeyEntity)
			if !ok {
				return nil, polywrite.Stepf(ServiceRelational, "context missing %q", KeyEntity)
			}

			var entityID string
			err := cb.Call(ctx, ServiceRelational, func(ctx context.Context) error {
				id, err := store.InsertEntity(ctx, entity)
				if err != nil {
					return err
				}
				entityID = id
				return nil
			})
			if err != nil {
				return nil, polywrite.NewStepError(ServiceRelational, err)
			}
			return polywrite.Output{string(KeyEntityID): entityID}, nil
		},
		func(ctx context.Context, txctx *polywrite.TxContext) error {
			entityID, ok := polywrite.ValueAs[string](txctx, KeyEntityID)
			if !ok {
				return polywrite.Stepf(ServiceRelational, "no entity id to soft-delete")
			}
			if err := cb.Call(ctx, ServiceRelational, func(ctx context.Context) error {
				return store.MarkDeleted(ctx, entityID)
			}); err != nil {
				return polywrite.NewStepError(ServiceRelational, err)
			}
			return nil
		})
}

// cacheWriteStep writes the cache payload under a key derived from the entity
// id. Compensation deletes the key outright; a missing key is not an error.
func cacheWriteStep(store CacheStore, cb Breaker, ttl time.Duration) polywrite.Step {
	return polywrite.NewStepFunc(StepCacheWrite,
		func(ctx context.Context, txctx *polywrite.TxContext) (polywrite.Output, error) {
			entityID, ok := polywrite.ValueAs[string](txctx, KeyEntityID)
			if !ok {
				return nil, polywrite.Stepf(ServiceCache, "context missing %q", KeyEntityID)
			}
			payload, ok := polywrite.ValueAs[map[string]any](txctx, KeyCachePayload)
			if !ok {
				return nil, polywrite.Stepf(ServiceCache, "context missing %q", KeyCachePayload)
			}

			key := cacheKey(entityID)
			if err := cb.Call(ctx, ServiceCache, func(ctx context.Context) error {
				return store.Put(ctx, key, payload, ttl)
			}); err != nil {
				return nil, polywrite.NewStepError(ServiceCache, err)
			}
			return polywrite.Output{string(KeyCacheKey): key}, nil
		},
		func(ctx context.Context, txctx *polywrite.TxContext) error {
			key, ok := polywrite.ValueAs[string](txctx, KeyCacheKey)
			if !ok {
				return polywrite.Stepf(ServiceCache, "no cache key to delete")
			}
			if err := cb.Call(ctx, ServiceCache, func(ctx context.Context) error {
				return store.Delete(ctx, key)
			}); err != nil {
				return polywrite.NewStepError(ServiceCache, err)
			}
			return nil
		})
}

// vectorUpsertStep upserts the entity's embedding keyed by the entity id.
// Upsert keeps the step safe to retry; compensation deletes by id.
func vectorUpsertStep(store VectorStore, cb Breaker) polywrite.Step {
	return polywrite.NewStepFunc(StepVectorUpsert,
		func(ctx context.Context, txctx *polywrite.TxContext) (polywrite.Output, error) {
			entityID, ok := polywrite.ValueAs[string](txctx, KeyEntityID)
			if !ok {
				return nil, polywrite.Stepf(ServiceVector, "context missing %q", KeyEntityID)
			}
			embedding, ok := polywrite.ValueAs[[]float32](txctx, KeyEmbedding)
			if !ok || len(embedding) == 0 {
				return nil, polywrite.Stepf(ServiceVector, "context missing %q", KeyEmbedding)
			}
			payload, _ := polywrite.ValueAs[map[string]any](txctx, KeyEntity)

			if err := cb.Call(ctx, ServiceVector, func(ctx context.Context) error {
				return store.Upsert(ctx, entityID, embedding, payload)
			}); err != nil {
				return nil, polywrite.NewStepError(ServiceVector, err)
			}
			return polywrite.Output{string(KeyVectorID): entityID}, nil
		},
		func(ctx context.Context, txctx *polywrite.TxContext) error {
			vectorID, ok := polywrite.ValueAs[string](txctx, KeyVectorID)
			if !ok {
				return polywrite.Stepf(ServiceVector, "no vector id to delete")
			}
			if err := cb.Call(ctx, ServiceVector, func(ctx context.Context) error {
				return store.DeleteByID(ctx, vectorID)
			}); err != nil {
				return polywrite.NewStepError(ServiceVector, err)
			}
			return nil
		})
}

// graphWriteStep creates the entity's graph node with its relationships in a
// single adapter call so there is one compensable unit, not a node plus loose
// edges. Compensation cascade-deletes the node.
func graphWriteStep(store GraphStore, cb Breaker) polywrite.Step {
	return polywrite.NewStepFunc(StepGraphWrite,
		func(ctx context.Context, txctx *polywrite.TxContext) (polywrite.Output, error) {
			entityID, ok := polywrite.ValueAs[string](txctx, KeyEntityID)
			if !ok {
				return nil, polywrite.Stepf(ServiceGraph, "context missing %q", KeyEntityID)
			}
			properties, _ := polywrite.ValueAs[map[string]any](txctx, KeyEntity)
			rels, _ := polywrite.ValueAs[[]Relationship](txctx, KeyRelationships)

			if err := cb.Call(ctx, ServiceGraph, func(ctx context.Context) error {
				return store.CreateNode(ctx, entityID, properties, rels)
			}); err != nil {
				return nil, polywrite.NewStepError(ServiceGraph, err)
			}
			return polywrite.Output{string(KeyGraphNodeID): entityID}, nil
		},
		func(ctx context.Context, txctx *polywrite.TxContext) error {
			nodeID, ok := polywrite.ValueAs[string](txctx, KeyGraphNodeID)
			if !ok {
				return polywrite.Stepf(ServiceGraph, "no graph node to delete")
			}
			if err := cb.Call(ctx, ServiceGraph, func(ctx context.Context) error {
				return store.DeleteNode(ctx, nodeID)
			}); err != nil {
				return polywrite.NewStepError(ServiceGraph, err)
			}
			return nil
		})
}

func cacheKey(entityID string) string {
	return "entity:" + entityID
}
