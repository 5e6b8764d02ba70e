package index

import (
	"context"
	"fmt"
	"sort"

	"github.com/kailas-cloud/searchbridge/internal/domain"
	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
)

const keyPrefix = "searchbridge:index:"

// Repo persists index configurations. Engine setting overrides from the
// deployment config are applied on read: an override for an index's engine
// type wins over the stored settings, so credentials never need to live in
// the store.
type Repo struct {
	store     store
	overrides map[string]map[string]string
}

// New creates an index configuration repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

// WithOverrides sets per-engine-type setting overrides.
func (r *Repo) WithOverrides(overrides map[string]map[string]string) *Repo {
	r.overrides = overrides
	return r
}

func metaKey(handle string) string {
	return keyPrefix + handle
}

// Create stores a new index configuration.
func (r *Repo) Create(ctx context.Context, idx domidx.Index) error {
	key := metaKey(idx.Handle())
	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return domain.ErrAlreadyExists
	}
	return r.write(ctx, key, idx)
}

// Save overwrites an existing index configuration.
func (r *Repo) Save(ctx context.Context, idx domidx.Index) error {
	key := metaKey(idx.Handle())
	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	// Full rewrite: stale mapping fields from a prior revision must not linger.
	if err := r.store.Del(ctx, key); err != nil {
		return fmt.Errorf("del index %s: %w", idx.Handle(), err)
	}
	return r.write(ctx, key, idx)
}

func (r *Repo) write(ctx context.Context, key string, idx domidx.Index) error {
	fields, err := indexToHash(idx)
	if err != nil {
		return err
	}
	if err := r.store.HSet(ctx, key, fields); err != nil {
		return fmt.Errorf("hset index %s: %w", idx.Handle(), err)
	}
	return nil
}

// Get retrieves an index configuration by handle.
func (r *Repo) Get(ctx context.Context, handle string) (domidx.Index, error) {
	m, err := r.store.HGetAll(ctx, metaKey(handle))
	if err != nil {
		return domidx.Index{}, fmt.Errorf("hgetall index %s: %w", handle, err)
	}
	if len(m) == 0 {
		return domidx.Index{}, domain.ErrNotFound
	}
	idx, err := indexFromHash(m)
	if err != nil {
		return domidx.Index{}, fmt.Errorf("parse index %s: %w", handle, err)
	}
	return r.applyOverrides(idx), nil
}

// List returns all index configurations sorted by handle.
func (r *Repo) List(ctx context.Context) ([]domidx.Index, error) {
	keys, err := r.store.Scan(ctx, metaKey("*"))
	if err != nil {
		return nil, fmt.Errorf("scan indexes: %w", err)
	}
	if len(keys) == 0 {
		return []domidx.Index{}, nil
	}

	results, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("hgetall multi indexes: %w", err)
	}

	indexes := make([]domidx.Index, 0, len(results))
	for i, m := range results {
		if len(m) == 0 {
			continue
		}
		idx, err := indexFromHash(m)
		if err != nil {
			return nil, fmt.Errorf("parse index %s: %w", keys[i], err)
		}
		indexes = append(indexes, r.applyOverrides(idx))
	}

	sort.Slice(indexes, func(i, j int) bool {
		return indexes[i].Handle() < indexes[j].Handle()
	})
	return indexes, nil
}

// Delete removes an index configuration.
func (r *Repo) Delete(ctx context.Context, handle string) error {
	key := metaKey(handle)
	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	if err := r.store.Del(ctx, key); err != nil {
		return fmt.Errorf("del index %s: %w", handle, err)
	}
	return nil
}

// applyOverrides merges config-level engine settings over the stored ones.
func (r *Repo) applyOverrides(idx domidx.Index) domidx.Index {
	override, ok := r.overrides[idx.EngineType()]
	if !ok || len(override) == 0 {
		return idx
	}
	merged := make(map[string]string, len(idx.Settings())+len(override))
	for k, v := range idx.Settings() {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return domidx.Reconstruct(
		idx.Handle(), idx.Name(), idx.EngineType(), merged,
		idx.Scopes(), idx.IndexMode(), idx.Enabled(), idx.Mappings(),
	)
}
