package mapper

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/searchbridge/internal/content"
	"github.com/kailas-cloud/searchbridge/internal/domain"
	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
	"github.com/kailas-cloud/searchbridge/internal/domain/mapping"
)

// mockRepo implements content.Repository with injectable behavior.
type mockRepo struct {
	itemsByScopeFn   func(ctx context.Context, contentType, site string, offset, limit int) ([]content.Item, error)
	countByScopeFn   func(ctx context.Context, contentType, site string) (int, error)
	itemByIDFn       func(ctx context.Context, id int64) (content.Item, error)
	schemaForScopeFn func(ctx context.Context, contentType string) (content.Schema, error)
}

func (m *mockRepo) ItemsByScope(ctx context.Context, contentType, site string, offset, limit int) ([]content.Item, error) {
	if m.itemsByScopeFn != nil {
		return m.itemsByScopeFn(ctx, contentType, site, offset, limit)
	}
	return nil, nil
}

func (m *mockRepo) CountByScope(ctx context.Context, contentType, site string) (int, error) {
	if m.countByScopeFn != nil {
		return m.countByScopeFn(ctx, contentType, site)
	}
	return 0, nil
}

func (m *mockRepo) ItemByID(ctx context.Context, id int64) (content.Item, error) {
	if m.itemByIDFn != nil {
		return m.itemByIDFn(ctx, id)
	}
	return content.Item{}, domain.ErrNotFound
}

func (m *mockRepo) SchemaForScope(ctx context.Context, contentType string) (content.Schema, error) {
	if m.schemaForScopeFn != nil {
		return m.schemaForScopeFn(ctx, contentType)
	}
	return content.Schema{}, nil
}

func newTestMapper(t *testing.T, repo content.Repository) *Mapper {
	t.Helper()
	roles, err := NewRoleCache()
	if err != nil {
		t.Fatalf("NewRoleCache: %v", err)
	}
	return New(repo, roles, zap.NewNop())
}

func newTestIndex(t *testing.T, scopes []domidx.Scope, mappings []mapping.Mapping) domidx.Index {
	t.Helper()
	idx, err := domidx.New("articles", "Articles", "memory", nil, scopes, domidx.ModeSynced, mappings)
	if err != nil {
		t.Fatalf("index.New: %v", err)
	}
	return idx
}

func fieldMapping(t *testing.T, uid, target string, tt mapping.TargetType) mapping.Mapping {
	t.Helper()
	m, err := mapping.NewField(uid, "", target, tt)
	if err != nil {
		t.Fatalf("NewField(%s): %v", uid, err)
	}
	return m
}
