package indexing

import (
	"context"
	"strconv"
	"testing"

	"github.com/kailas-cloud/searchbridge/internal/content"
	"github.com/kailas-cloud/searchbridge/internal/domain"
	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
	"github.com/kailas-cloud/searchbridge/internal/engine"
	"github.com/kailas-cloud/searchbridge/internal/engine/memory"
	"github.com/kailas-cloud/searchbridge/internal/queue"
)

// fakeStore is an in-memory IndexStore.
type fakeStore struct {
	indexes map[string]domidx.Index
}

func newFakeStore(indexes ...domidx.Index) *fakeStore {
	s := &fakeStore{indexes: make(map[string]domidx.Index, len(indexes))}
	for _, idx := range indexes {
		s.indexes[idx.Handle()] = idx
	}
	return s
}

func (s *fakeStore) Get(_ context.Context, handle string) (domidx.Index, error) {
	idx, ok := s.indexes[handle]
	if !ok {
		return domidx.Index{}, domain.ErrNotFound
	}
	return idx, nil
}

func (s *fakeStore) List(_ context.Context) ([]domidx.Index, error) {
	out := make([]domidx.Index, 0, len(s.indexes))
	for _, idx := range s.indexes {
		out = append(out, idx)
	}
	return out, nil
}

// fakeContentRepo serves a fixed item set keyed by scope.
type fakeContentRepo struct {
	items          map[int64]content.Item
	itemsByScopeFn func(ctx context.Context, contentType, site string, offset, limit int) ([]content.Item, error)
}

func newFakeContentRepo(items ...content.Item) *fakeContentRepo {
	r := &fakeContentRepo{items: make(map[int64]content.Item, len(items))}
	for _, it := range items {
		r.items[it.ID] = it
	}
	return r
}

func (r *fakeContentRepo) scoped(contentType, site string) []content.Item {
	var out []content.Item
	for id := int64(0); id <= 1000; id++ {
		it, ok := r.items[id]
		if !ok {
			continue
		}
		if it.ContentType != contentType {
			continue
		}
		if site != "" && it.Site != site {
			continue
		}
		out = append(out, it)
	}
	return out
}

func (r *fakeContentRepo) ItemsByScope(ctx context.Context, contentType, site string, offset, limit int) ([]content.Item, error) {
	if r.itemsByScopeFn != nil {
		return r.itemsByScopeFn(ctx, contentType, site, offset, limit)
	}
	scoped := r.scoped(contentType, site)
	if offset >= len(scoped) {
		return nil, nil
	}
	end := offset + limit
	if end > len(scoped) {
		end = len(scoped)
	}
	return scoped[offset:end], nil
}

func (r *fakeContentRepo) CountByScope(_ context.Context, contentType, site string) (int, error) {
	return len(r.scoped(contentType, site)), nil
}

func (r *fakeContentRepo) ItemByID(_ context.Context, id int64) (content.Item, error) {
	it, ok := r.items[id]
	if !ok {
		return content.Item{}, domain.ErrNotFound
	}
	return it, nil
}

func (r *fakeContentRepo) SchemaForScope(_ context.Context, _ string) (content.Schema, error) {
	return content.Schema{}, nil
}

// titleResolver maps an item to a minimal document without mapper machinery.
type titleResolver struct{}

func (titleResolver) ResolveItem(item *content.Item, _ domidx.Index) engine.Document {
	return engine.Document{
		"objectID": strconv.FormatInt(item.ID, 10),
		"title":    item.Title,
		"_type":    item.ContentType,
	}
}

// adapterSourceFunc adapts a function to AdapterSource.
type adapterSourceFunc func(idx domidx.Index, deps engine.Deps) (engine.Adapter, error)

func (f adapterSourceFunc) Build(idx domidx.Index, deps engine.Deps) (engine.Adapter, error) {
	return f(idx, deps)
}

func fixedAdapter(a engine.Adapter) AdapterSource {
	return adapterSourceFunc(func(_ domidx.Index, _ engine.Deps) (engine.Adapter, error) {
		return a, nil
	})
}

func articleIndex(t *testing.T, handle string, opts ...func(*indexSpec)) domidx.Index {
	t.Helper()
	spec := &indexSpec{
		mode:    domidx.ModeSynced,
		enabled: true,
		scopes:  []domidx.Scope{{ContentType: "article"}},
	}
	for _, o := range opts {
		o(spec)
	}
	idx, err := domidx.New(handle, handle, "memory", nil, spec.scopes, spec.mode, nil)
	if err != nil {
		t.Fatalf("index.New(%s): %v", handle, err)
	}
	if !spec.enabled {
		idx = idx.WithEnabled(false)
	}
	return idx
}

type indexSpec struct {
	mode    domidx.Mode
	enabled bool
	scopes  []domidx.Scope
}

func readonly() func(*indexSpec)  { return func(s *indexSpec) { s.mode = domidx.ModeReadonly } }
func disabled() func(*indexSpec)  { return func(s *indexSpec) { s.enabled = false } }
func scoped(sc ...domidx.Scope) func(*indexSpec) {
	return func(s *indexSpec) { s.scopes = sc }
}

func article(id int64, title string) content.Item {
	return content.Item{ID: id, ContentType: "article", Site: "en", Title: title}
}

func newTestOrchestrator(t *testing.T, store IndexStore, repo content.Repository, adapters AdapterSource, batchSize int) (*Orchestrator, *queue.Memory) {
	t.Helper()
	tasks := queue.NewMemory()
	orch := New(Config{
		Store:     store,
		Repo:      repo,
		Resolver:  titleResolver{},
		Adapters:  adapters,
		Tasks:     tasks,
		BatchSize: batchSize,
	})
	return orch, tasks
}

func seedEngine(t *testing.T, eng *memory.Engine, idx domidx.Index, docs ...engine.Document) {
	t.Helper()
	ctx := context.Background()
	if err := eng.CreateIndex(ctx, idx); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if len(docs) > 0 {
		if err := eng.IndexDocuments(ctx, idx, docs); err != nil {
			t.Fatalf("IndexDocuments: %v", err)
		}
	}
}
