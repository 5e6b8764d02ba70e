// Package engine defines the backend adapter contract every search engine
// implementation must satisfy, plus the shared normalization helpers that
// turn native responses into the canonical result model.
package engine

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kailas-cloud/searchbridge/internal/domain"
	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
	"github.com/kailas-cloud/searchbridge/internal/domain/query"
	"github.com/kailas-cloud/searchbridge/internal/domain/result"
)

// Document is one flat search document keyed by target field name. Every
// document carries "objectID" as a string.
type Document map[string]any

// ObjectID returns the document's stable identifier.
func (d Document) ObjectID() string {
	id, _ := d["objectID"].(string)
	return id
}

// Adapter is the per-backend engine contract. Implementations are stateless
// strategy objects, safe for concurrent use.
type Adapter interface {
	// TestConnection is a cheap liveness probe. Expected auth/network
	// failures yield false, never an error.
	TestConnection(ctx context.Context) bool

	IndexExists(ctx context.Context, idx domidx.Index) (bool, error)
	CreateIndex(ctx context.Context, idx domidx.Index) error
	DeleteIndex(ctx context.Context, idx domidx.Index) error
	// UpdateIndexSettings idempotently applies the index's field-type
	// mappings as backend-native schema/settings.
	UpdateIndexSettings(ctx context.Context, idx domidx.Index) error

	// IndexDocuments batch-upserts documents keyed by objectID. Replaying
	// the same batch converges to the same remote state.
	IndexDocuments(ctx context.Context, idx domidx.Index, docs []Document) error
	// DeleteDocument is idempotent; deleting a missing id is not an error.
	DeleteDocument(ctx context.Context, idx domidx.Index, id string) error
	// GetDocument returns nil (no error) when the document does not exist.
	GetDocument(ctx context.Context, idx domidx.Index, id string) (Document, error)
	GetDocumentCount(ctx context.Context, idx domidx.Index) (int, error)
	// ClearIndex removes all documents in one engine-level operation.
	ClearIndex(ctx context.Context, idx domidx.Index) error

	Search(ctx context.Context, idx domidx.Index, queryText string, opts *query.Options) (result.Result, error)
}

// Swapper is the optional alias-indirection capability used for zero-downtime
// rebuilds. A concurrent query against the alias during a swap observes
// either the complete old backing index or the complete new one.
type Swapper interface {
	SupportsAtomicSwap() bool
	// BeginSwap creates a fresh backing index and returns its name.
	BeginSwap(ctx context.Context, idx domidx.Index) (string, error)
	// IndexDocumentsTo writes a batch into a named backing index.
	IndexDocumentsTo(ctx context.Context, idx domidx.Index, backing string, docs []Document) error
	// CountBacking returns the document count of a backing index.
	CountBacking(ctx context.Context, idx domidx.Index, backing string) (int, error)
	// CommitSwap atomically repoints the live alias to the backing index and
	// discards the previous backing.
	CommitSwap(ctx context.Context, idx domidx.Index, backing string) error
	// AbortSwap discards an unfinished backing index.
	AbortSwap(ctx context.Context, idx domidx.Index, backing string) error
}

// Embedder resolves text to a fixed-length vector. Adapters use it when a
// vector query arrives without a precomputed embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Error wraps an underlying backend error with the operation name for
// diagnostics. It matches domain.ErrEngine under errors.Is.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Is reports a match for domain.ErrEngine so callers can classify failures
// without caring about the backend.
func (e *Error) Is(target error) bool { return target == domain.ErrEngine }

// Deps carries the collaborators handed to adapter factories.
type Deps struct {
	Embedder Embedder
	Logger   *zap.Logger
}

// Factory builds an adapter from engine-specific settings.
type Factory func(settings map[string]string, deps Deps) (Adapter, error)

// Registry maps engine type tags to adapter factories. Factories are
// registered at startup; lookups are read-only afterward.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for an engine type tag.
func (r *Registry) Register(engineType string, f Factory) {
	r.factories[engineType] = f
}

// Types returns the registered engine type tags, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Build creates an adapter for the given index configuration. An unknown
// engine type is a validation error, not an engine error.
func (r *Registry) Build(idx domidx.Index, deps Deps) (Adapter, error) {
	f, ok := r.factories[idx.EngineType()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.NewValidationError("engineType", "unknown engine type"), idx.EngineType())
	}
	adapter, err := f(idx.Settings(), deps)
	if err != nil {
		return nil, fmt.Errorf("build %s adapter: %w", idx.EngineType(), err)
	}
	return adapter, nil
}

// AsSwapper returns the adapter's swap capability, ok=false when the backend
// has no alias indirection.
func AsSwapper(a Adapter) (Swapper, bool) {
	s, ok := a.(Swapper)
	if !ok {
		return nil, false
	}
	return s, s.SupportsAtomicSwap()
}
