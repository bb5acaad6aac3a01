// Package route implements the per-session route table: a name -> Handler
// map shared in shape by both client sessions and the server hub.
//
// Handlers are opaque computations (spec: "duck-typed handlers") rendered
// here as a well-typed function value, the idiomatic Go translation for a
// target language that lacks heterogeneous keyword-argument callables.
package route

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Skelmis/zonis-go/zerr"
)

// Handler accepts the keyword-mapping arguments of an inbound request and
// returns a JSON-encodable value, or an error to be reported back to the
// peer as a failure_response.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Middleware wraps a Handler with cross-cutting behavior (logging, recovery).
// Composition mirrors the teacher's middleware.Chain: the first middleware
// given is outermost, so it runs first on the way in and last on the way out.
type Middleware func(next Handler) Handler

// Chain composes middlewares into a single Middleware, applied in the order
// given: Chain(A, B)(h) == A(B(h)).
func Chain(mws ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Table is a name -> Handler map. Mutated only during setup (before a
// session's reader starts); Dispatch is safe to call concurrently with
// itself once setup is done, since the underlying map is read-only at that
// point, but Register still takes the lock to be safe against late,
// programmer-error registrations racing a dispatch.
type Table struct {
	mu      sync.RWMutex
	routes  map[string]Handler
	wrapper Middleware
	logger  *zap.Logger
}

// New creates an empty route table. chain, if non-nil, wraps every handler
// at dispatch time in addition to the table's own built-in logging; pass
// nil for no extra wrapping. logger defaults to zap.NewNop() if nil.
func New(chain Middleware, logger *zap.Logger) *Table {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Table{
		routes:  make(map[string]Handler),
		wrapper: chain,
		logger:  logger,
	}
}

// Register inserts name -> h. Returns zerr.ErrDuplicateRoute if name is
// already registered; the table is left unchanged on failure.
func (t *Table) Register(name string, h Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.routes[name]; ok {
		return fmt.Errorf("route %q: %w", name, zerr.ErrDuplicateRoute)
	}
	t.routes[name] = h
	return nil
}

// Lookup performs an exact-match lookup for name.
func (t *Table) Lookup(name string) (Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.routes[name]
	return h, ok
}

// Dispatch invokes the handler registered under name. Returns
// zerr.ErrUnknownRoute if no such route exists. A handler panic is
// recovered and surfaced as an error rather than crashing the caller's
// goroutine (typically the session's single reader) — handler errors are
// captured and returned, never swallowed.
func (t *Table) Dispatch(ctx context.Context, name string, args map[string]any) (result any, err error) {
	h, ok := t.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("route %q: %w", name, zerr.ErrUnknownRoute)
	}
	if t.wrapper != nil {
		h = t.wrapper(h)
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("route %q panicked: %v", name, r)
		}
		duration := time.Since(start)
		if err != nil {
			t.logger.Error("route dispatch failed",
				zap.String("route", name), zap.Duration("duration", duration), zap.Error(err))
		} else {
			t.logger.Debug("route dispatch completed",
				zap.String("route", name), zap.Duration("duration", duration))
		}
	}()

	return h(ctx, args)
}
