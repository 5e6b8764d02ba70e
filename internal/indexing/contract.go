// Package indexing orchestrates the flow from content-change events to
// engine writes: event fan-out, deferred task execution, full imports,
// and zero-downtime rebuilds.
package indexing

import (
	"context"

	"github.com/kailas-cloud/searchbridge/internal/content"
	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
	"github.com/kailas-cloud/searchbridge/internal/engine"
)

// IndexStore loads index configurations. Implemented by repository/index.
type IndexStore interface {
	Get(ctx context.Context, handle string) (domidx.Index, error)
	List(ctx context.Context) ([]domidx.Index, error)
}

// DocumentResolver turns a content item into a flat document for an index.
// Implemented by mapper.Mapper.
type DocumentResolver interface {
	ResolveItem(item *content.Item, idx domidx.Index) engine.Document
}

// AdapterSource builds engine adapters for index configurations.
// Implemented by engine.Registry.
type AdapterSource interface {
	Build(idx domidx.Index, deps engine.Deps) (engine.Adapter, error)
}
