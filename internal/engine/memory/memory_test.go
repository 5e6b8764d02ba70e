package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/searchbridge/internal/domain"
	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
	"github.com/kailas-cloud/searchbridge/internal/domain/query"
	"github.com/kailas-cloud/searchbridge/internal/engine"
)

func testIndex(t *testing.T, handle string) domidx.Index {
	t.Helper()
	idx, err := domidx.New(handle, handle, "memory", nil, nil, domidx.ModeSynced, nil)
	if err != nil {
		t.Fatalf("New(%s): %v", handle, err)
	}
	return idx
}

func doc(id string, fields map[string]any) engine.Document {
	d := engine.Document{"objectID": id}
	for k, v := range fields {
		d[k] = v
	}
	return d
}

func seed(t *testing.T, e *Engine, idx domidx.Index, docs ...engine.Document) {
	t.Helper()
	ctx := context.Background()
	if err := e.CreateIndex(ctx, idx); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := e.IndexDocuments(ctx, idx, docs); err != nil {
		t.Fatalf("IndexDocuments: %v", err)
	}
}

func TestIndexAndSearch(t *testing.T) {
	e := New()
	idx := testIndex(t, "articles")
	seed(t, e, idx,
		doc("1", map[string]any{"title": "Go concurrency patterns", "category": "news"}),
		doc("2", map[string]any{"title": "Rust ownership", "category": "blog"}),
		doc("3", map[string]any{"title": "Advanced Go generics", "category": "news"}),
	)

	res, err := e.Search(context.Background(), idx, "go", &query.Options{Highlight: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.TotalHits() != 2 {
		t.Fatalf("TotalHits() = %d, want 2", res.TotalHits())
	}
	for _, hit := range res.Hits() {
		if hit.ObjectID() == "" {
			t.Error("hit missing objectID")
		}
		if _, ok := hit["_score"]; !ok {
			t.Error("hit missing _score")
		}
		if len(hit.Highlights()["title"]) == 0 {
			t.Errorf("hit %s missing title highlight", hit.ObjectID())
		}
	}
}

func TestHighlightTokenMatchingInsertedMarkup(t *testing.T) {
	e := New()
	idx := testIndex(t, "articles")
	seed(t, e, idx,
		doc("1", map[string]any{"title": "Search template"}),
		doc("2", map[string]any{"title": "memory search"}),
	)

	// "em" occurs after the first token's match; it must be tagged at its
	// position in the original text, not inside the <em> inserted for "search".
	res, err := e.Search(context.Background(), idx, "search em", &query.Options{Highlight: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	var frag string
	for _, hit := range res.Hits() {
		if hit.ObjectID() == "1" {
			frag = hit.Highlights()["title"][0]
		}
	}
	if frag != "<em>Search</em> t<em>em</em>plate" {
		t.Errorf("fragment = %q, want %q", frag, "<em>Search</em> t<em>em</em>plate")
	}

	// Overlapping token matches collapse into the earlier tag.
	res, err = e.Search(context.Background(), idx, "memo em", &query.Options{Highlight: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, hit := range res.Hits() {
		if hit.ObjectID() != "2" {
			continue
		}
		if got := hit.Highlights()["title"][0]; got != "<em>memo</em>ry search" {
			t.Errorf("fragment = %q, want %q", got, "<em>memo</em>ry search")
		}
	}
}

func TestSearchEmptyQueryMatchesAll(t *testing.T) {
	e := New()
	idx := testIndex(t, "articles")
	seed(t, e, idx,
		doc("1", map[string]any{"title": "a"}),
		doc("2", map[string]any{"title": "b"}),
	)

	res, err := e.Search(context.Background(), idx, "", nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.TotalHits() != 2 {
		t.Errorf("TotalHits() = %d, want 2", res.TotalHits())
	}
}

func TestSearchFilterAndFacets(t *testing.T) {
	e := New()
	idx := testIndex(t, "articles")
	seed(t, e, idx,
		doc("1", map[string]any{"title": "one", "category": "news", "site": "en"}),
		doc("2", map[string]any{"title": "two", "category": "news", "site": "de"}),
		doc("3", map[string]any{"title": "three", "category": "blog", "site": "en"}),
	)

	res, err := e.Search(context.Background(), idx, "", &query.Options{
		Filter: "site:en",
		Facets: []string{"category"},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.TotalHits() != 2 {
		t.Fatalf("TotalHits() = %d, want 2", res.TotalHits())
	}
	facets := res.Facets()["category"]
	if len(facets) != 2 {
		t.Fatalf("category facets = %v, want 2 values", facets)
	}
	for _, fv := range facets {
		if fv.Count != 1 {
			t.Errorf("facet %q count = %d, want 1", fv.Value, fv.Count)
		}
	}
}

func TestSearchSortAndPagination(t *testing.T) {
	e := New()
	idx := testIndex(t, "articles")
	seed(t, e, idx,
		doc("1", map[string]any{"price": 30}),
		doc("2", map[string]any{"price": 10}),
		doc("3", map[string]any{"price": 20}),
	)

	res, err := e.Search(context.Background(), idx, "", &query.Options{
		Sort:    []query.SortField{{Field: "price", Desc: true}},
		Page:    1,
		PerPage: 2,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.TotalHits() != 3 || res.TotalPages() != 2 {
		t.Fatalf("total = %d pages = %d, want 3 and 2", res.TotalHits(), res.TotalPages())
	}
	hits := res.Hits()
	if len(hits) != 2 || hits[0].ObjectID() != "1" || hits[1].ObjectID() != "3" {
		t.Errorf("page 1 = %v, want ids 1 then 3", hits)
	}
}

func TestSearchStatsAndHistograms(t *testing.T) {
	e := New()
	idx := testIndex(t, "articles")
	seed(t, e, idx,
		doc("1", map[string]any{"price": 5.0}),
		doc("2", map[string]any{"price": 15.0}),
		doc("3", map[string]any{"price": 25.0}),
	)

	res, err := e.Search(context.Background(), idx, "", &query.Options{
		StatsFields: []string{"price"},
		Histograms:  map[string]query.Histogram{"price": {Interval: 10}},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	st, ok := res.NumericStats()["price"]
	if !ok || st.Min != 5 || st.Max != 25 {
		t.Errorf("stats = %+v, want min 5 max 25", st)
	}
	buckets := res.Histograms()["price"]
	if len(buckets) != 3 {
		t.Fatalf("buckets = %v, want 3", buckets)
	}
	for i := 1; i < len(buckets); i++ {
		if buckets[i].Key <= buckets[i-1].Key {
			t.Errorf("buckets not ascending: %v", buckets)
		}
	}
}

func TestDeleteDocumentIdempotent(t *testing.T) {
	e := New()
	idx := testIndex(t, "articles")
	seed(t, e, idx, doc("1", map[string]any{"title": "a"}))

	ctx := context.Background()
	if err := e.DeleteDocument(ctx, idx, "1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if err := e.DeleteDocument(ctx, idx, "1"); err != nil {
		t.Errorf("second DeleteDocument: %v", err)
	}
	got, err := e.GetDocument(ctx, idx, "1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got != nil {
		t.Errorf("GetDocument after delete = %v, want nil", got)
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	e := New()
	idx := testIndex(t, "articles")
	batch := []engine.Document{doc("1", map[string]any{"title": "a"})}
	seed(t, e, idx, batch...)

	ctx := context.Background()
	if err := e.IndexDocuments(ctx, idx, batch); err != nil {
		t.Fatalf("replay IndexDocuments: %v", err)
	}
	count, err := e.GetDocumentCount(ctx, idx)
	if err != nil {
		t.Fatalf("GetDocumentCount: %v", err)
	}
	if count != 1 {
		t.Errorf("count after replay = %d, want 1", count)
	}
}

func TestIndexDocumentsRejectsMissingObjectID(t *testing.T) {
	e := New()
	idx := testIndex(t, "articles")
	ctx := context.Background()
	if err := e.CreateIndex(ctx, idx); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	err := e.IndexDocuments(ctx, idx, []engine.Document{{"title": "no id"}})
	if err == nil {
		t.Fatal("expected error for document without objectID")
	}
}

func TestClearIndex(t *testing.T) {
	e := New()
	idx := testIndex(t, "articles")
	seed(t, e, idx,
		doc("1", map[string]any{"title": "a"}),
		doc("2", map[string]any{"title": "b"}),
	)

	ctx := context.Background()
	if err := e.ClearIndex(ctx, idx); err != nil {
		t.Fatalf("ClearIndex: %v", err)
	}
	count, _ := e.GetDocumentCount(ctx, idx)
	if count != 0 {
		t.Errorf("count after clear = %d, want 0", count)
	}
	exists, _ := e.IndexExists(ctx, idx)
	if !exists {
		t.Error("index should survive a clear")
	}
}

func TestSwapNotSupportedWithoutAliases(t *testing.T) {
	e := New()
	if e.SupportsAtomicSwap() {
		t.Fatal("plain engine should not support swaps")
	}
	if _, err := e.BeginSwap(context.Background(), testIndex(t, "articles")); err == nil {
		t.Fatal("BeginSwap should fail without aliases")
	}
}

func TestSwapReplacesDocumentsAtomically(t *testing.T) {
	e := New(WithAliases())
	idx := testIndex(t, "articles")
	seed(t, e, idx,
		doc("1", map[string]any{"title": "old one"}),
		doc("2", map[string]any{"title": "old two"}),
	)

	ctx := context.Background()
	backing, err := e.BeginSwap(ctx, idx)
	if err != nil {
		t.Fatalf("BeginSwap: %v", err)
	}

	// The live index still serves the old documents mid-rebuild.
	count, _ := e.GetDocumentCount(ctx, idx)
	if count != 2 {
		t.Fatalf("live count during rebuild = %d, want 2", count)
	}

	fresh := []engine.Document{
		doc("1", map[string]any{"title": "new one"}),
		doc("3", map[string]any{"title": "new three"}),
	}
	if err := e.IndexDocumentsTo(ctx, idx, backing, fresh); err != nil {
		t.Fatalf("IndexDocumentsTo: %v", err)
	}
	n, err := e.CountBacking(ctx, idx, backing)
	if err != nil || n != 2 {
		t.Fatalf("CountBacking = %d, %v, want 2", n, err)
	}

	if err := e.CommitSwap(ctx, idx, backing); err != nil {
		t.Fatalf("CommitSwap: %v", err)
	}

	got, _ := e.GetDocument(ctx, idx, "3")
	if got == nil {
		t.Fatal("new document not visible after swap")
	}
	gone, _ := e.GetDocument(ctx, idx, "2")
	if gone != nil {
		t.Fatal("old-only document still visible after swap")
	}
	one, _ := e.GetDocument(ctx, idx, "1")
	if one["title"] != "new one" {
		t.Errorf("document 1 = %v, want rebuilt version", one["title"])
	}
}

func TestAbortSwapKeepsLiveIndex(t *testing.T) {
	e := New(WithAliases())
	idx := testIndex(t, "articles")
	seed(t, e, idx, doc("1", map[string]any{"title": "live"}))

	ctx := context.Background()
	backing, err := e.BeginSwap(ctx, idx)
	if err != nil {
		t.Fatalf("BeginSwap: %v", err)
	}
	if err := e.IndexDocumentsTo(ctx, idx, backing, []engine.Document{
		doc("9", map[string]any{"title": "partial"}),
	}); err != nil {
		t.Fatalf("IndexDocumentsTo: %v", err)
	}
	if err := e.AbortSwap(ctx, idx, backing); err != nil {
		t.Fatalf("AbortSwap: %v", err)
	}

	count, _ := e.GetDocumentCount(ctx, idx)
	if count != 1 {
		t.Errorf("live count after abort = %d, want 1", count)
	}
	if got, _ := e.GetDocument(ctx, idx, "9"); got != nil {
		t.Error("aborted backing document leaked into live index")
	}
}

func TestDocumentRefResolvesOnce(t *testing.T) {
	e := New()
	idx := testIndex(t, "articles")
	seed(t, e, idx, doc("1", map[string]any{"title": "a"}))

	ctx := context.Background()
	ref := engine.NewDocumentRef(e, idx, "1")
	if ref.Resolved() {
		t.Fatal("new ref must start unresolved")
	}
	got, err := ref.Resolve(ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got["title"] != "a" || !ref.Resolved() {
		t.Errorf("resolved doc = %v, resolved = %v", got, ref.Resolved())
	}

	// The stored document survives a backend delete: no second fetch.
	if err := e.DeleteDocument(ctx, idx, "1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	again, err := ref.Resolve(ctx)
	if err != nil || again == nil {
		t.Errorf("second Resolve = %v, %v, want the cached document", again, err)
	}

	missing := engine.NewDocumentRef(e, idx, "404")
	if _, err := missing.Resolve(ctx); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("missing document error = %v, want ErrDocumentNotFound", err)
	}
}

type embedderFn func(ctx context.Context, text string) ([]float32, error)

func (f embedderFn) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

func TestVectorSearchRanksByCosine(t *testing.T) {
	emb := embedderFn(func(_ context.Context, _ string) ([]float32, error) {
		return []float32{1, 0}, nil
	})
	e := New(WithEmbedder(emb))
	idx, err := domidx.New("articles", "Articles", "memory", nil, nil, domidx.ModeSynced, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	seed(t, e, idx,
		doc("near", map[string]any{"vec": []float32{0.9, 0.1}}),
		doc("far", map[string]any{"vec": []float32{0.1, 0.9}}),
		doc("novec", map[string]any{"title": "plain"}),
	)

	res, err := e.Search(context.Background(), idx, "anything", &query.Options{
		Vector:      true,
		VectorField: "vec",
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	hits := res.Hits()
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2 (document without vector excluded)", len(hits))
	}
	if hits[0].ObjectID() != "near" {
		t.Errorf("top hit = %q, want near", hits[0].ObjectID())
	}
}
