// Package ingest wires the saga engine to a concrete four-store write
// pipeline: relational insert, cache write, vector upsert, graph write. It is
// both the public entry point for multi-store entity creation and the
// reference for composing polywrite steps over real adapters.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/manifoldworks/polywrite"
)

// Result statuses reported by Run.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

const defaultCacheTTL = 15 * time.Minute

// Config carries the pipeline's collaborators. The four stores are required;
// everything else has a working default.
type Config struct {
	Relational RelationalStore
	Cache      CacheStore
	Vector     VectorStore
	Graph      GraphStore

	// Breaker guards every store call. Defaults to a passthrough that
	// invokes the call directly.
	Breaker Breaker

	// AuditSink receives the lifecycle events of every transaction.
	AuditSink polywrite.Sink

	Logger  *slog.Logger
	Metrics *polywrite.Metrics

	// CacheTTL applies to requests that leave their TTL unset.
	CacheTTL time.Duration
}

// Pipeline runs the fixed entity-ingest saga. A Pipeline is safe for
// concurrent use; every Run builds its own transaction.
type Pipeline struct {
	cfg Config
}

// New validates the configuration and returns a ready Pipeline.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Relational == nil:
		return nil, errors.New("ingest: relational store is required")
	case cfg.Cache == nil:
		return nil, errors.New("ingest: cache store is required")
	case cfg.Vector == nil:
		return nil, errors.New("ingest: vector store is required")
	case cfg.Graph == nil:
		return nil, errors.New("ingest: graph store is required")
	}
	if cfg.Breaker == nil {
		cfg.Breaker = passBreaker{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	return &Pipeline{cfg: cfg}, nil
}

// Request is one entity to write across all four stores.
type Request struct {
	// ParentID, when set, adds a CHILD_OF relationship from the new node to
	// the parent's node.
	ParentID string

	// Entity is the row written to the system of record. Required.
	Entity map[string]any

	// CachePayload is the blob cached under the entity's key. Defaults to
	// Entity when nil.
	CachePayload map[string]any

	// CacheTTL overrides the pipeline default for this request.
	CacheTTL time.Duration

	// Embedding is the entity's vector representation. Required.
	Embedding []float32

	// Relationships are extra graph edges created with the node.
	Relationships []Relationship

	// AuditContext is caller-supplied metadata attached to every audit event
	// of this transaction.
	AuditContext map[string]any
}

func (r Request) validate() error {
	if len(r.Entity) == 0 {
		return errors.New("ingest: request entity is required")
	}
	if len(r.Embedding) == 0 {
		return errors.New("ingest: request embedding is required")
	}
	return nil
}

// Result is the caller-facing outcome of one Run. A step failure is a normal
// outcome, not an error: it is reported here with the compensation verdict.
type Result struct {
	TransactionID string `json:"transaction_id"`
	EntityID      string `json:"entity_id,omitempty"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
	FailedStep    string `json:"failed_step,omitempty"`
	Compensated   bool   `json:"compensated"`

	// CompensationErrors is non-empty when Compensated is false; each entry
	// names a step whose undo failed and needs manual cleanup.
	CompensationErrors []string  `json:"compensation_errors,omitempty"`
	CompletedAt        time.Time `json:"completed_at"`
}

// Run executes the four-step saga for one entity. Step failures come back as
// a failed Result with err == nil; the returned error is reserved for misuse
// (invalid request) and engine defects, which the caller should not swallow.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}

	cachePayload := req.CachePayload
	if cachePayload == nil {
		cachePayload = req.Entity
	}
	ttl := req.CacheTTL
	if ttl <= 0 {
		ttl = p.cfg.CacheTTL
	}
	relationships := req.Relationships
	if req.ParentID != "" {
		relationships = append([]Relationship{{
			Type:     "CHILD_OF",
			TargetID: req.ParentID,
		}}, relationships...)
	}

	txctx := polywrite.NewTxContextFrom(map[polywrite.Key]any{
		KeyParentID:      req.ParentID,
		KeyEntity:        req.Entity,
		KeyCachePayload:  cachePayload,
		KeyEmbedding:     req.Embedding,
		KeyRelationships: relationships,
		KeyAuditContext:  req.AuditContext,
	})

	steps := []polywrite.Step{
		relationalInsertStep(p.cfg.Relational, p.cfg.Breaker),
		cacheWriteStep(p.cfg.Cache, p.cfg.Breaker, ttl),
		vectorUpsertStep(p.cfg.Vector, p.cfg.Breaker),
		graphWriteStep(p.cfg.Graph, p.cfg.Breaker),
	}

	opts := []polywrite.OrchestratorOption{
		polywrite.WithLogger(p.cfg.Logger),
		polywrite.WithMetrics(p.cfg.Metrics),
	}
	if p.cfg.AuditSink != nil {
		opts = append(opts, polywrite.WithAuditSink(p.cfg.AuditSink))
	}

	o, err := polywrite.NewOrchestrator("entity_ingest", steps, opts...)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: %w", err)
	}
	tx := o.Transaction()

	final, err := o.Execute(ctx, txctx)
	if err != nil {
		var failure *polywrite.StepFailedError
		if !errors.As(err, &failure) {
			// Not a saga outcome; let it propagate as a defect.
			return Result{}, err
		}

		result := Result{
			TransactionID: tx.ID.String(),
			Status:        StatusFailed,
			Error:         failure.Err.Error(),
			FailedStep:    failure.StepName.String(),
			Compensated:   failure.Compensated,
			CompletedAt:   tx.EndedAt,
		}
		for _, cerr := range failure.CompensationErrors {
			result.CompensationErrors = append(result.CompensationErrors, cerr.Error())
		}
		return result, nil
	}

	entityID, _ := polywrite.ValueAs[string](final, KeyEntityID)
	return Result{
		TransactionID: tx.ID.String(),
		EntityID:      entityID,
		Status:        StatusSuccess,
		Compensated:   false,
		CompletedAt:   tx.EndedAt,
	}, nil
}
