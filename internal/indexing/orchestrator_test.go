package indexing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kailas-cloud/searchbridge/internal/content"
	"github.com/kailas-cloud/searchbridge/internal/domain"
	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
	"github.com/kailas-cloud/searchbridge/internal/engine"
	"github.com/kailas-cloud/searchbridge/internal/engine/memory"
	"github.com/kailas-cloud/searchbridge/internal/queue"
)

func TestHandleEventEnqueuesTasks(t *testing.T) {
	store := newFakeStore(articleIndex(t, "articles"), articleIndex(t, "events", scoped()))
	orch, tasks := newTestOrchestrator(t, store, newFakeContentRepo(), fixedAdapter(memory.New()), 0)

	ev := content.Event{Kind: content.EventSaved, Item: article(7, "hello")}
	if err := orch.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	pending := tasks.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %v, want one task", pending)
	}
	if pending[0].Op != queue.OpUpsert || pending[0].Index != "articles" || pending[0].ItemID != 7 {
		t.Errorf("task = %+v", pending[0])
	}
}

func TestUpsertItemIndexesCurrentState(t *testing.T) {
	idx := articleIndex(t, "articles")
	eng := memory.New()
	repo := newFakeContentRepo(article(7, "current title"))
	orch, _ := newTestOrchestrator(t, newFakeStore(idx), repo, fixedAdapter(eng), 0)

	if err := orch.UpsertItem(context.Background(), "articles", 7); err != nil {
		t.Fatalf("UpsertItem: %v", err)
	}

	doc, err := eng.GetDocument(context.Background(), idx, "7")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc == nil || doc["title"] != "current title" {
		t.Errorf("document = %v, want the freshly resolved item", doc)
	}
}

func TestUpsertItemDeletesMissingItem(t *testing.T) {
	idx := articleIndex(t, "articles")
	eng := memory.New()
	seedEngine(t, eng, idx, engine.Document{"objectID": "7", "title": "stale"})
	orch, _ := newTestOrchestrator(t, newFakeStore(idx), newFakeContentRepo(), fixedAdapter(eng), 0)

	if err := orch.UpsertItem(context.Background(), "articles", 7); err != nil {
		t.Fatalf("UpsertItem: %v", err)
	}
	if doc, _ := eng.GetDocument(context.Background(), idx, "7"); doc != nil {
		t.Errorf("stale document survived: %v", doc)
	}
}

func TestUpsertItemDeletesOutOfScopeItem(t *testing.T) {
	idx := articleIndex(t, "articles")
	eng := memory.New()
	seedEngine(t, eng, idx, engine.Document{"objectID": "7", "title": "stale"})

	moved := content.Item{ID: 7, ContentType: "event", Site: "en", Title: "now an event"}
	orch, _ := newTestOrchestrator(t, newFakeStore(idx), newFakeContentRepo(moved), fixedAdapter(eng), 0)

	if err := orch.UpsertItem(context.Background(), "articles", 7); err != nil {
		t.Fatalf("UpsertItem: %v", err)
	}
	if doc, _ := eng.GetDocument(context.Background(), idx, "7"); doc != nil {
		t.Errorf("out-of-scope document survived: %v", doc)
	}
}

func TestUpsertItemSkipsNonSyncedIndexes(t *testing.T) {
	for _, opt := range []struct {
		name string
		opt  func(*indexSpec)
	}{
		{"disabled", disabled()},
		{"readonly", readonly()},
	} {
		t.Run(opt.name, func(t *testing.T) {
			idx := articleIndex(t, "articles", opt.opt)
			eng := memory.New()
			repo := newFakeContentRepo(article(7, "x"))
			orch, _ := newTestOrchestrator(t, newFakeStore(idx), repo, fixedAdapter(eng), 0)

			if err := orch.UpsertItem(context.Background(), "articles", 7); err != nil {
				t.Fatalf("UpsertItem: %v", err)
			}
			if doc, _ := eng.GetDocument(context.Background(), idx, "7"); doc != nil {
				t.Errorf("non-synced index received a write: %v", doc)
			}
		})
	}
}

func TestUpsertItemUnknownIndex(t *testing.T) {
	orch, _ := newTestOrchestrator(t, newFakeStore(), newFakeContentRepo(), fixedAdapter(memory.New()), 0)
	if err := orch.UpsertItem(context.Background(), "ghost", 7); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestImportIndexBatches(t *testing.T) {
	idx := articleIndex(t, "articles")
	eng := memory.New()
	repo := newFakeContentRepo(
		article(1, "one"), article(2, "two"), article(3, "three"),
		article(4, "four"), article(5, "five"),
	)
	orch, _ := newTestOrchestrator(t, newFakeStore(idx), repo, fixedAdapter(eng), 2)

	report, err := orch.ImportIndex(context.Background(), "articles")
	if err != nil {
		t.Fatalf("ImportIndex: %v", err)
	}
	if report.Total != 5 || report.Indexed != 5 || report.Failed != 0 {
		t.Errorf("report = %+v, want 5 indexed", report)
	}
	if report.Batches != 3 {
		t.Errorf("batches = %d, want 3", report.Batches)
	}
	count, _ := eng.GetDocumentCount(context.Background(), idx)
	if count != 5 {
		t.Errorf("engine count = %d, want 5", count)
	}
}

func TestImportIndexContinuesPastFailedBatch(t *testing.T) {
	idx := articleIndex(t, "articles")
	eng := memory.New()
	adapter := &batchFailer{Engine: eng, failOn: map[int]bool{1: true}}
	repo := newFakeContentRepo(
		article(1, "one"), article(2, "two"), article(3, "three"), article(4, "four"),
	)
	orch, _ := newTestOrchestrator(t, newFakeStore(idx), repo, fixedAdapter(adapter), 2)

	report, err := orch.ImportIndex(context.Background(), "articles")
	var partial *PartialError
	if !errors.As(err, &partial) {
		t.Fatalf("error = %v, want PartialError", err)
	}
	if report.Total != 4 || report.Indexed != 2 || report.Failed != 2 {
		t.Errorf("report = %+v, want 2 indexed and 2 failed", report)
	}

	// The surviving batch stays indexed.
	count, _ := eng.GetDocumentCount(context.Background(), idx)
	if count != 2 {
		t.Errorf("engine count = %d, want 2", count)
	}
}

// batchFailer wraps the memory engine and fails chosen in-place batches.
type batchFailer struct {
	*memory.Engine
	calls  int
	failOn map[int]bool
}

func (b *batchFailer) IndexDocuments(ctx context.Context, idx domidx.Index, docs []engine.Document) error {
	call := b.calls
	b.calls++
	if b.failOn[call] {
		return &engine.Error{Op: "upsert", Err: fmt.Errorf("injected failure")}
	}
	return b.Engine.IndexDocuments(ctx, idx, docs)
}

func TestRefreshIndexFallsBackToFlushAndImport(t *testing.T) {
	idx := articleIndex(t, "articles")
	eng := memory.New() // no aliases: not swap-capable
	seedEngine(t, eng, idx, engine.Document{"objectID": "99", "title": "stale"})

	repo := newFakeContentRepo(article(1, "fresh"))
	orch, _ := newTestOrchestrator(t, newFakeStore(idx), repo, fixedAdapter(eng), 0)

	report, err := orch.RefreshIndex(context.Background(), "articles")
	if err != nil {
		t.Fatalf("RefreshIndex: %v", err)
	}
	if report.Swapped {
		t.Error("non-swap engine reported a swap")
	}

	ctx := context.Background()
	if doc, _ := eng.GetDocument(ctx, idx, "99"); doc != nil {
		t.Error("stale document survived the refresh")
	}
	if doc, _ := eng.GetDocument(ctx, idx, "1"); doc == nil {
		t.Error("fresh document missing after refresh")
	}
}

func TestRefreshIndexSwapsWhenCapable(t *testing.T) {
	idx := articleIndex(t, "articles")
	eng := memory.New(memory.WithAliases())
	seedEngine(t, eng, idx,
		engine.Document{"objectID": "99", "title": "stale"},
	)

	repo := newFakeContentRepo(article(1, "fresh one"), article(2, "fresh two"))
	orch, _ := newTestOrchestrator(t, newFakeStore(idx), repo, fixedAdapter(eng), 0)

	report, err := orch.RefreshIndex(context.Background(), "articles")
	if err != nil {
		t.Fatalf("RefreshIndex: %v", err)
	}
	if !report.Swapped {
		t.Error("swap-capable engine did not swap")
	}
	if report.Indexed != 2 {
		t.Errorf("indexed = %d, want 2", report.Indexed)
	}

	ctx := context.Background()
	count, _ := eng.GetDocumentCount(ctx, idx)
	if count != 2 {
		t.Errorf("live count = %d, want 2", count)
	}
	if doc, _ := eng.GetDocument(ctx, idx, "99"); doc != nil {
		t.Error("stale document survived the swap")
	}
}

func TestImportIndexForSwapFailsWholeRebuild(t *testing.T) {
	idx := articleIndex(t, "articles")
	eng := memory.New(memory.WithAliases())
	seedEngine(t, eng, idx, engine.Document{"objectID": "99", "title": "live"})

	adapter := &swapBatchFailer{Engine: eng, failOn: map[int]bool{1: true}}
	repo := newFakeContentRepo(
		article(1, "one"), article(2, "two"), article(3, "three"), article(4, "four"),
	)
	orch, _ := newTestOrchestrator(t, newFakeStore(idx), repo, fixedAdapter(adapter), 2)

	_, err := orch.ImportIndexForSwap(context.Background(), "articles")
	if err == nil {
		t.Fatal("expected the rebuild to fail")
	}

	// The live index is untouched by the aborted rebuild.
	ctx := context.Background()
	if doc, _ := eng.GetDocument(ctx, idx, "99"); doc == nil {
		t.Error("live document lost after aborted swap")
	}
	count, _ := eng.GetDocumentCount(ctx, idx)
	if count != 1 {
		t.Errorf("live count = %d, want 1", count)
	}
}

// swapBatchFailer fails chosen backing-index batches.
type swapBatchFailer struct {
	*memory.Engine
	calls  int
	failOn map[int]bool
}

func (s *swapBatchFailer) IndexDocumentsTo(ctx context.Context, idx domidx.Index, backing string, docs []engine.Document) error {
	call := s.calls
	s.calls++
	if s.failOn[call] {
		return &engine.Error{Op: "swap-upsert", Err: fmt.Errorf("injected failure")}
	}
	return s.Engine.IndexDocumentsTo(ctx, idx, backing, docs)
}

func TestImportIndexForSwapAbortsOnCountMismatch(t *testing.T) {
	idx := articleIndex(t, "articles")
	eng := memory.New(memory.WithAliases())
	seedEngine(t, eng, idx, engine.Document{"objectID": "99", "title": "live"})

	adapter := &miscountingSwapper{Engine: eng}
	repo := newFakeContentRepo(article(1, "one"), article(2, "two"))
	orch, _ := newTestOrchestrator(t, newFakeStore(idx), repo, fixedAdapter(adapter), 0)

	_, err := orch.ImportIndexForSwap(context.Background(), "articles")
	if !errors.Is(err, domain.ErrEngine) {
		t.Fatalf("error = %v, want ErrEngine", err)
	}

	ctx := context.Background()
	if doc, _ := eng.GetDocument(ctx, idx, "99"); doc == nil {
		t.Error("live document lost after aborted swap")
	}
}

// miscountingSwapper reports one document fewer than the backing holds.
type miscountingSwapper struct {
	*memory.Engine
}

func (m *miscountingSwapper) CountBacking(ctx context.Context, idx domidx.Index, backing string) (int, error) {
	n, err := m.Engine.CountBacking(ctx, idx, backing)
	return n - 1, err
}

func TestImportIndexForSwapRequiresCapability(t *testing.T) {
	idx := articleIndex(t, "articles")
	orch, _ := newTestOrchestrator(t, newFakeStore(idx), newFakeContentRepo(), fixedAdapter(memory.New()), 0)

	_, err := orch.ImportIndexForSwap(context.Background(), "articles")
	if !errors.Is(err, domain.ErrSwapNotSupported) {
		t.Errorf("error = %v, want ErrSwapNotSupported", err)
	}
}

func TestSearchDelegatesToAdapter(t *testing.T) {
	idx := articleIndex(t, "articles")
	eng := memory.New()
	seedEngine(t, eng, idx,
		engine.Document{"objectID": "1", "title": "go services"},
		engine.Document{"objectID": "2", "title": "unrelated"},
	)
	orch, _ := newTestOrchestrator(t, newFakeStore(idx), newFakeContentRepo(), fixedAdapter(eng), 0)

	res, err := orch.Search(context.Background(), "articles", "go", nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.TotalHits() != 1 {
		t.Errorf("TotalHits = %d, want 1", res.TotalHits())
	}
}

func TestGetDocument(t *testing.T) {
	idx := articleIndex(t, "articles")
	eng := memory.New()
	seedEngine(t, eng, idx, engine.Document{"objectID": "7", "title": "found"})
	orch, _ := newTestOrchestrator(t, newFakeStore(idx), newFakeContentRepo(), fixedAdapter(eng), 0)

	ctx := context.Background()
	doc, err := orch.GetDocument(ctx, "articles", "7")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc["title"] != "found" {
		t.Errorf("document = %v", doc)
	}

	if _, err := orch.GetDocument(ctx, "articles", "404"); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("missing document error = %v, want ErrDocumentNotFound", err)
	}
}

func TestIndexStatus(t *testing.T) {
	idx := articleIndex(t, "articles")
	eng := memory.New(memory.WithAliases())
	seedEngine(t, eng, idx,
		engine.Document{"objectID": "1", "title": "a"},
		engine.Document{"objectID": "2", "title": "b"},
	)
	repo := newFakeContentRepo(article(1, "a"), article(2, "b"), article(3, "c"))
	orch, _ := newTestOrchestrator(t, newFakeStore(idx), repo, fixedAdapter(eng), 0)

	st, err := orch.IndexStatus(context.Background(), "articles")
	if err != nil {
		t.Fatalf("IndexStatus: %v", err)
	}
	if !st.Reachable || !st.Exists {
		t.Errorf("status = %+v, want reachable and existing", st)
	}
	if st.Documents != 2 {
		t.Errorf("documents = %d, want 2", st.Documents)
	}
	if st.InRepo != 3 {
		t.Errorf("inRepo = %d, want 3", st.InRepo)
	}
	if !st.AtomicSwap {
		t.Error("aliased memory engine should report swap support")
	}
}

func TestDropIndexIsIdempotent(t *testing.T) {
	idx := articleIndex(t, "articles")
	eng := memory.New()
	seedEngine(t, eng, idx, engine.Document{"objectID": "1"})
	orch, _ := newTestOrchestrator(t, newFakeStore(idx), newFakeContentRepo(), fixedAdapter(eng), 0)

	ctx := context.Background()
	if err := orch.DropIndex(ctx, "articles"); err != nil {
		t.Fatalf("DropIndex: %v", err)
	}
	exists, _ := eng.IndexExists(ctx, idx)
	if exists {
		t.Error("engine index survived the drop")
	}
	// Dropping an absent index is a no-op.
	if err := orch.DropIndex(ctx, "articles"); err != nil {
		t.Errorf("second DropIndex: %v", err)
	}
}
