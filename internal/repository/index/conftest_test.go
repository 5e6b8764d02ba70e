package index

import (
	"context"
	"path"
	"testing"

	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
	"github.com/kailas-cloud/searchbridge/internal/domain/mapping"
)

// mockStore implements store over a plain map, with injectable overrides for
// failure cases.
type mockStore struct {
	data map[string]map[string]string

	hsetFn   func(ctx context.Context, key string, fields map[string]string) error
	existsFn func(ctx context.Context, key string) (bool, error)
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]map[string]string)}
}

func (m *mockStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if m.hsetFn != nil {
		return m.hsetFn(ctx, key, fields)
	}
	existing, ok := m.data[key]
	if !ok {
		existing = make(map[string]string, len(fields))
		m.data[key] = existing
	}
	for k, v := range fields {
		existing[k] = v
	}
	return nil
}

func (m *mockStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	out := make(map[string]string, len(m.data[key]))
	for k, v := range m.data[key] {
		out[k] = v
	}
	return out, nil
}

func (m *mockStore) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	out := make([]map[string]string, len(keys))
	for i, key := range keys {
		fields, err := m.HGetAll(ctx, key)
		if err != nil {
			return nil, err
		}
		out[i] = fields
	}
	return out, nil
}

func (m *mockStore) Del(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func (m *mockStore) Exists(ctx context.Context, key string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, key)
	}
	_, ok := m.data[key]
	return ok, nil
}

func (m *mockStore) Scan(_ context.Context, pattern string) ([]string, error) {
	var keys []string
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	s := newMockStore()
	return New(s), s
}

func testIndex(t *testing.T, handle string) domidx.Index {
	t.Helper()
	titled, err := mapping.NewAttribute("title", "title", mapping.Text)
	if err != nil {
		t.Fatalf("NewAttribute: %v", err)
	}
	idx, err := domidx.New(
		handle, "Articles", "redisearch",
		map[string]string{"addr": "stored:6379"},
		[]domidx.Scope{{ContentType: "article", Site: "en"}},
		domidx.ModeSynced,
		[]mapping.Mapping{titled.WithRole(mapping.RoleTitle).WithWeight(8)},
	)
	if err != nil {
		t.Fatalf("index.New: %v", err)
	}
	return idx
}
