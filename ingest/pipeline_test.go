package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifoldworks/polywrite"
)

// recorder collects adapter calls in invocation order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeRelational struct {
	rec       *recorder
	insertErr error
	deleteErr error
}

func (f *fakeRelational) InsertEntity(_ context.Context, _ map[string]any) (string, error) {
	f.rec.add("relational.insert")
	if f.insertErr != nil {
		return "", f.insertErr
	}
	return "ent-42", nil
}

func (f *fakeRelational) MarkDeleted(_ context.Context, entityID string) error {
	f.rec.add("relational.delete:" + entityID)
	return f.deleteErr
}

type fakeCache struct {
	rec       *recorder
	putErr    error
	deleteErr error
	lastTTL   time.Duration
}

func (f *fakeCache) Put(_ context.Context, key string, _ map[string]any, ttl time.Duration) error {
	f.rec.add("cache.put:" + key)
	f.lastTTL = ttl
	return f.putErr
}

func (f *fakeCache) Delete(_ context.Context, key string) error {
	f.rec.add("cache.delete:" + key)
	return f.deleteErr
}

type fakeVector struct {
	rec       *recorder
	upsertErr error
	deleteErr error
}

func (f *fakeVector) Upsert(_ context.Context, id string, _ []float32, _ map[string]any) error {
	f.rec.add("vector.upsert:" + id)
	return f.upsertErr
}

func (f *fakeVector) DeleteByID(_ context.Context, id string) error {
	f.rec.add("vector.delete:" + id)
	return f.deleteErr
}

type fakeGraph struct {
	rec       *recorder
	createErr error
	deleteErr error
	lastRels  []Relationship
}

func (f *fakeGraph) CreateNode(_ context.Context, id string, _ map[string]any, rels []Relationship) error {
	f.rec.add("graph.create:" + id)
	f.lastRels = rels
	return f.createErr
}

func (f *fakeGraph) DeleteNode(_ context.Context, id string) error {
	f.rec.add("graph.delete:" + id)
	return f.deleteErr
}

type fixture struct {
	rec        *recorder
	relational *fakeRelational
	cache      *fakeCache
	vector     *fakeVector
	graph      *fakeGraph
	pipeline   *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	rec := &recorder{}
	f := &fixture{
		rec:        rec,
		relational: &fakeRelational{rec: rec},
		cache:      &fakeCache{rec: rec},
		vector:     &fakeVector{rec: rec},
		graph:      &fakeGraph{rec: rec},
	}

	p, err := New(Config{
		Relational: f.relational,
		Cache:      f.cache,
		Vector:     f.vector,
		Graph:      f.graph,
	})
	require.NoError(t, err)
	f.pipeline = p
	return f
}

func validRequest() Request {
	return Request{
		ParentID:  "ent-7",
		Entity:    map[string]any{"name": "widget", "kind": "gadget"},
		Embedding: []float32{0.1, 0.2, 0.3},
		Relationships: []Relationship{
			{Type: "TAGGED", TargetID: "tag-1"},
		},
	}
}

func TestRunHappyPath(t *testing.T) {
	f := newFixture(t)

	res, err := f.pipeline.Run(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "ent-42", res.EntityID)
	assert.NotEmpty(t, res.TransactionID)
	assert.Empty(t, res.FailedStep)
	assert.Empty(t, res.CompensationErrors)
	assert.False(t, res.CompletedAt.IsZero())

	assert.Equal(t, []string{
		"relational.insert",
		"cache.put:entity:ent-42",
		"vector.upsert:ent-42",
		"graph.create:ent-42",
	}, f.rec.list())

	// The parent edge is prepended to the caller's relationships.
	require.Len(t, f.graph.lastRels, 2)
	assert.Equal(t, "CHILD_OF", f.graph.lastRels[0].Type)
	assert.Equal(t, "ent-7", f.graph.lastRels[0].TargetID)
	assert.Equal(t, "TAGGED", f.graph.lastRels[1].Type)

	assert.Equal(t, defaultCacheTTL, f.cache.lastTTL)
}

func TestRunVectorFailureCompensatesCacheThenRelational(t *testing.T) {
	f := newFixture(t)
	f.vector.upsertErr = errors.New("qdrant unavailable")

	res, err := f.pipeline.Run(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "vector_upsert", res.FailedStep)
	assert.True(t, res.Compensated)
	assert.Empty(t, res.CompensationErrors)
	assert.Contains(t, res.Error, "qdrant unavailable")
	assert.Empty(t, res.EntityID)

	// Cache is undone before the relational row, and the graph store is
	// never touched.
	assert.Equal(t, []string{
		"relational.insert",
		"cache.put:entity:ent-42",
		"vector.upsert:ent-42",
		"cache.delete:entity:ent-42",
		"relational.delete:ent-42",
	}, f.rec.list())
}

func TestRunCompensationFailureIsSurfacedNotFatal(t *testing.T) {
	f := newFixture(t)
	f.vector.upsertErr = errors.New("vector write refused")
	f.cache.deleteErr = errors.New("cache delete refused")

	res, err := f.pipeline.Run(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "vector_upsert", res.FailedStep)
	assert.False(t, res.Compensated)
	require.Len(t, res.CompensationErrors, 1)
	assert.Contains(t, res.CompensationErrors[0], "cache_write")
	assert.Contains(t, res.CompensationErrors[0], "cache delete refused")

	// The relational soft-delete still ran after the cache undo failed.
	assert.Contains(t, f.rec.list(), "relational.delete:ent-42")
}

func TestRunFirstStepFailureLeavesNothingToUndo(t *testing.T) {
	f := newFixture(t)
	f.relational.insertErr = errors.New("unique violation")

	res, err := f.pipeline.Run(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "relational_insert", res.FailedStep)
	assert.True(t, res.Compensated)
	assert.Equal(t, []string{"relational.insert"}, f.rec.list())
}

func TestRunRejectsInvalidRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Run(context.Background(), Request{Embedding: []float32{1}})
	require.ErrorContains(t, err, "entity is required")

	_, err = f.pipeline.Run(context.Background(), Request{Entity: map[string]any{"a": 1}})
	require.ErrorContains(t, err, "embedding is required")

	assert.Empty(t, f.rec.list())
}

func TestRunRequestTTLOverridesDefault(t *testing.T) {
	f := newFixture(t)

	req := validRequest()
	req.CacheTTL = 90 * time.Second
	_, err := f.pipeline.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, f.cache.lastTTL)
}

func TestRunRoutesCallsThroughBreaker(t *testing.T) {
	rec := &recorder{}
	var services []string
	br := breakerFunc(func(ctx context.Context, service string, fn func(context.Context) error) error {
		services = append(services, service)
		return fn(ctx)
	})

	p, err := New(Config{
		Relational: &fakeRelational{rec: rec},
		Cache:      &fakeCache{rec: rec},
		Vector:     &fakeVector{rec: rec},
		Graph:      &fakeGraph{rec: rec},
		Breaker:    br,
	})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, []string{
		ServiceRelational, ServiceCache, ServiceVector, ServiceGraph,
	}, services)
}

func TestRunEmitsAuditEvents(t *testing.T) {
	rec := &recorder{}
	var events []polywrite.EventType
	sink := polywrite.FuncSink(func(_ context.Context, e polywrite.AuditEvent) error {
		events = append(events, e.EventType)
		return nil
	})

	p, err := New(Config{
		Relational: &fakeRelational{rec: rec},
		Cache:      &fakeCache{rec: rec},
		Vector:     &fakeVector{rec: rec, upsertErr: errors.New("down")},
		Graph:      &fakeGraph{rec: rec},
		AuditSink:  sink,
	})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), validRequest())
	require.NoError(t, err)
	require.Equal(t, StatusFailed, res.Status)

	assert.Equal(t, []polywrite.EventType{
		polywrite.EventTransactionStarted,
		polywrite.EventStepCompleted,
		polywrite.EventStepCompleted,
		polywrite.EventStepFailed,
		polywrite.EventTransactionFailed,
		polywrite.EventCompensationStarted,
		polywrite.EventStepCompensated,
		polywrite.EventStepCompensated,
		polywrite.EventTransactionCompensated,
	}, events)
}

func TestNewRequiresAllStores(t *testing.T) {
	rec := &recorder{}
	base := Config{
		Relational: &fakeRelational{rec: rec},
		Cache:      &fakeCache{rec: rec},
		Vector:     &fakeVector{rec: rec},
		Graph:      &fakeGraph{rec: rec},
	}

	for name, strip := range map[string]func(*Config){
		"relational": func(c *Config) { c.Relational = nil },
		"cache":      func(c *Config) { c.Cache = nil },
		"vector":     func(c *Config) { c.Vector = nil },
		"graph":      func(c *Config) { c.Graph = nil },
	} {
		cfg := base
		strip(&cfg)
		_, err := New(cfg)
		assert.ErrorContains(t, err, name, "missing %s store must be rejected", name)
	}
}

// breakerFunc adapts a function to the Breaker interface.
type breakerFunc func(ctx context.Context, service string, fn func(context.Context) error) error

func (f breakerFunc) Call(ctx context.Context, service string, fn func(context.Context) error) error {
	return f(ctx, service, fn)
}
