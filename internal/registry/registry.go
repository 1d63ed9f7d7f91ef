// Package registry tracks which document fields are backed by an index
// handler, answering IsIndexed(fieldName) for the query splitter. Adapted
// from the keydir shape of the Bitcask-style index this repo's storage
// layer was originally built around: a closed-flag-guarded map behind a
// RWMutex, reused here for a different key space (field name -> handler
// instead of key -> RecordPointer).
package registry

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/vulcanodb/axon/internal/indexhandler"
	"github.com/vulcanodb/axon/pkg/errors"
)

// Config holds the parameters needed to build a Registry.
type Config struct {
	Logger *zap.SugaredLogger
}

// Registry maps field names to their index handler and answers isIndexed
// queries on behalf of the query splitter.
type Registry struct {
	log      *zap.SugaredLogger
	mu       sync.RWMutex
	handlers map[string]indexhandler.Handler
	closed   atomic.Bool
}

// New creates an empty Registry.
func New(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Registry{
		log:      cfg.Logger,
		handlers: make(map[string]indexhandler.Handler, 8),
	}
}

// Register binds fieldName to handler. Registering the same field name
// twice replaces the prior handler without closing it -- callers that
// reopen a field's handler are responsible for closing the old one first.
func (r *Registry) Register(fieldName string, handler indexhandler.Handler) error {
	if r.closed.Load() {
		return errors.NewNotInitializedError("registry.Register: registry is closed")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[fieldName] = handler
	return nil
}

// Get returns the handler registered for fieldName, if any.
func (r *Registry) Get(fieldName string) (indexhandler.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[fieldName]
	return h, ok
}

// IsIndexed reports whether fieldName has a registered index handler.
func (r *Registry) IsIndexed(fieldName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[fieldName]
	return ok
}

// FieldNames returns every field name currently registered, in no
// particular order.
func (r *Registry) FieldNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Flush flushes every registered handler, aggregating per-handler failures.
func (r *Registry) Flush() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	closeErr := errors.NewCloseError()
	for name, h := range r.handlers {
		if err := h.Flush(); err != nil {
			closeErr.Add(name, err)
		}
	}
	return closeErr.OrNil()
}

// Close closes every registered handler exactly once, aggregating
// per-handler failures.
func (r *Registry) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	closeErr := errors.NewCloseError()
	for name, h := range r.handlers {
		if err := h.Close(); err != nil {
			closeErr.Add(name, err)
		}
	}
	clear(r.handlers)
	r.handlers = nil
	return closeErr.OrNil()
}
