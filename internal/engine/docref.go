package engine

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/searchbridge/internal/domain"
	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
)

// DocumentRef is an explicit two-state reference to a remote document:
// unresolved (handle + id) until Resolve is called, resolved afterward.
// There is no implicit lazy fetch; callers decide when the network round
// trip happens.
type DocumentRef struct {
	adapter  Adapter
	index    domidx.Index
	id       string
	doc      Document
	resolved bool
}

// NewDocumentRef creates an unresolved reference.
func NewDocumentRef(adapter Adapter, idx domidx.Index, id string) *DocumentRef {
	return &DocumentRef{adapter: adapter, index: idx, id: id}
}

// ID returns the referenced document id.
func (r *DocumentRef) ID() string { return r.id }

// IndexHandle returns the owning index handle.
func (r *DocumentRef) IndexHandle() string { return r.index.Handle() }

// Resolved reports whether the document has been fetched.
func (r *DocumentRef) Resolved() bool { return r.resolved }

// Resolve fetches the document once. Subsequent calls return the stored
// document without touching the backend. A missing document is
// domain.ErrDocumentNotFound.
func (r *DocumentRef) Resolve(ctx context.Context) (Document, error) {
	if r.resolved {
		return r.doc, nil
	}
	doc, err := r.adapter.GetDocument(ctx, r.index, r.id)
	if err != nil {
		return nil, fmt.Errorf("resolve document %s: %w", r.id, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("resolve document %s: %w", r.id, domain.ErrDocumentNotFound)
	}
	r.doc = doc
	r.resolved = true
	return doc, nil
}
