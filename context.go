package polywrite

import (
	"github.com/tidwall/btree"
)

// Key identifies a value in the transaction context. Sagas should declare
// their keys as typed constants rather than inline strings so producers and
// consumers of a value cannot drift apart silently.
type Key string

// TxContext is the mutable data carrier threaded through every step of one
// transaction. It is shared by reference across the steps of a single
// invocation and never across transactions. Steps run on one logical control
// flow, so TxContext does no locking of its own.
type TxContext struct {
	values *btree.Map[Key, any]
}

// NewTxContext creates an empty transaction context.
func NewTxContext() *TxContext {
	return &TxContext{values: btree.NewMap[Key, any](8)}
}

// NewTxContextFrom creates a transaction context seeded with initial values.
func NewTxContextFrom(seed map[Key]any) *TxContext {
	txctx := NewTxContext()
	for k, v := range seed {
		txctx.values.Set(k, v)
	}
	return txctx
}

// Set stores a value under key, replacing any earlier value.
func (c *TxContext) Set(key Key, value any) {
	c.values.Set(key, value)
}

// Get retrieves the value stored under key.
func (c *TxContext) Get(key Key) (any, bool) {
	return c.values.Get(key)
}

// Merge folds a step's output into the context. Later writes win on key
// conflicts, so values from step k are visible to steps k+1 onward until
// overridden.
func (c *TxContext) Merge(out Output) {
	for k, v := range out {
		c.values.Set(Key(k), v)
	}
}

// Len returns the number of keys in the context.
func (c *TxContext) Len() int {
	return c.values.Len()
}

// Snapshot returns a copy of the context as a plain map, for audit payloads
// and logging.
func (c *TxContext) Snapshot() map[Key]any {
	snap := make(map[Key]any, c.values.Len())
	c.values.Scan(func(k Key, v any) bool {
		snap[k] = v
		return true
	})
	return snap
}

// Clone returns an independent copy of the context. The orchestrator clones
// the context when building per-step compensation contexts so one step's
// captured output does not leak into another step's undo.
func (c *TxContext) Clone() *TxContext {
	clone := NewTxContext()
	c.values.Scan(func(k Key, v any) bool {
		clone.values.Set(k, v)
		return true
	})
	return clone
}

// ValueAs retrieves the value stored under key with a type assertion.
// Returns the zero value and false when the key is absent or holds a
// different type.
func ValueAs[T any](c *TxContext, key Key) (T, bool) {
	var zero T
	value, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := value.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
