// Package breaker provides a per-service circuit breaker. Saga step adapters
// route their store calls through it so a struggling backend fails fast
// instead of stalling the whole pipeline.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// ErrServiceUnavailable is returned without invoking the call when the
// circuit for a service is open.
var ErrServiceUnavailable = errors.New("service unavailable: circuit open")

// Default configuration values.
const (
	defaultFailureThreshold = 5
	defaultCooldown         = 30 * time.Second
)

// Breaker tracks consecutive failures per service name. After the failure
// threshold is reached the circuit opens and calls fail fast with
// ErrServiceUnavailable; once the cooldown elapses the next call is allowed
// through as a probe, and its outcome closes or re-opens the circuit.
//
// The probe is not exclusive: concurrent callers arriving after the cooldown
// may all be let through. That keeps the bookkeeping cheap and is harmless
// for the store adapters this guards.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	logger    *slog.Logger

	services *xsync.MapOf[string, *serviceState]
}

type serviceState struct {
	mu       sync.Mutex
	failures int
	open     bool
	openedAt time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the circuit.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithCooldown sets how long an open circuit rejects calls before probing.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a Breaker with independent state per service name.
func New(opts ...Option) *Breaker {
	b := &Breaker{
		threshold: defaultFailureThreshold,
		cooldown:  defaultCooldown,
		now:       time.Now,
		logger:    slog.Default(),
		services:  xsync.NewMapOf[string, *serviceState](),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Call invokes fn under the circuit for service. When the circuit is open
// and the cooldown has not elapsed, fn is not invoked and the returned error
// wraps ErrServiceUnavailable.
func (b *Breaker) Call(ctx context.Context, service string, fn func(context.Context) error) error {
	st, _ := b.services.LoadOrCompute(service, func() *serviceState {
		return &serviceState{}
	})

	st.mu.Lock()
	if st.open && b.now().Sub(st.openedAt) < b.cooldown {
		st.mu.Unlock()
		return fmt.Errorf("%s: %w", service, ErrServiceUnavailable)
	}
	probing := st.open
	st.mu.Unlock()

	err := fn(ctx)

	st.mu.Lock()
	defer st.mu.Unlock()

	if err != nil {
		st.failures++
		if st.failures >= b.threshold || probing {
			if !st.open || probing {
				b.logger.Warn("circuit opened",
					"service", service,
					"consecutive_failures", st.failures,
				)
			}
			st.open = true
			st.openedAt = b.now()
		}
		return err
	}

	if st.open {
		b.logger.Info("circuit closed", "service", service)
	}
	st.open = false
	st.failures = 0
	return nil
}

// Open reports whether the circuit for service is currently open.
func (b *Breaker) Open(service string) bool {
	st, ok := b.services.Load(service)
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.open && b.now().Sub(st.openedAt) < b.cooldown
}
