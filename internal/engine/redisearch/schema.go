package redisearch

import (
	"context"
	"strconv"

	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
	"github.com/kailas-cloud/searchbridge/internal/domain/mapping"
	"github.com/kailas-cloud/searchbridge/internal/engine"
)

// defaultVectorDim is used when an index carries an embedding mapping but no
// vector_dim setting.
const defaultVectorDim = 1536

// IndexExists probes the live alias via FT.INFO; "unknown index name" means
// absent.
func (s *Store) IndexExists(ctx context.Context, idx domidx.Index) (bool, error) {
	cmd := s.b().Arbitrary("FT.INFO").Args(s.aliasName(idx.Handle())).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "unknown index name") || isRedisErr(err, "no such index") {
			return false, nil
		}
		return false, &engine.Error{Op: "FT.INFO", Err: err}
	}
	return true, nil
}

// CreateIndex creates a backing index from the mapping schema and attaches
// the live alias. Idempotent: an existing index is left untouched.
func (s *Store) CreateIndex(ctx context.Context, idx domidx.Index) error {
	exists, err := s.IndexExists(ctx, idx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	backing := s.newBackingName(idx.Handle())
	if err := s.createBacking(ctx, idx, backing); err != nil {
		return err
	}

	cmd := s.b().Arbitrary("FT.ALIASADD").Args(s.aliasName(idx.Handle()), backing).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &engine.Error{Op: "FT.ALIASADD", Err: err}
	}
	return s.setBacking(ctx, idx.Handle(), backing)
}

// createBacking issues FT.CREATE for a named backing index scoped to its own
// key prefix.
func (s *Store) createBacking(ctx context.Context, idx domidx.Index, backing string) error {
	args := []string{backing, "ON", "HASH", "PREFIX", "1", backing + ":", "SCHEMA"}
	args = append(args, buildSchemaArgs(idx)...)

	cmd := s.b().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return nil
		}
		return &engine.Error{Op: "FT.CREATE", Err: err}
	}
	return nil
}

// DeleteIndex drops the backing index including its documents, and the alias
// with it. Missing indexes are not an error.
func (s *Store) DeleteIndex(ctx context.Context, idx domidx.Index) error {
	backing, err := s.currentBacking(ctx, idx.Handle())
	if err != nil {
		return err
	}
	if backing == "" {
		return nil
	}
	cmd := s.b().Arbitrary("FT.DROPINDEX").Args(backing, "DD").Build()
	if err := s.do(ctx, cmd).Error(); err != nil && !isRedisErr(err, "unknown index name") {
		return &engine.Error{Op: "FT.DROPINDEX", Err: err}
	}
	del := s.b().Del().Key(s.pointerKey(idx.Handle())).Build()
	if err := s.do(ctx, del).Error(); err != nil {
		return &engine.Error{Op: "DEL", Err: err}
	}
	return nil
}

// UpdateIndexSettings applies the mapping schema idempotently: a missing
// index is created, an existing one gets new fields via FT.ALTER (duplicate
// fields are ignored -- RediSearch cannot retype a field in place).
func (s *Store) UpdateIndexSettings(ctx context.Context, idx domidx.Index) error {
	exists, err := s.IndexExists(ctx, idx)
	if err != nil {
		return err
	}
	if !exists {
		return s.CreateIndex(ctx, idx)
	}

	backing, err := s.currentBacking(ctx, idx.Handle())
	if err != nil {
		return err
	}

	for _, m := range idx.EnabledMappings() {
		fieldArgs := buildFieldArgs(m, vectorDim(idx))
		args := append([]string{backing, "SCHEMA", "ADD"}, fieldArgs...)
		cmd := s.b().Arbitrary("FT.ALTER").Args(args...).Build()
		if err := s.do(ctx, cmd).Error(); err != nil {
			if isRedisErr(err, "duplicate field") || isRedisErr(err, "already exists") {
				continue
			}
			return &engine.Error{Op: "FT.ALTER", Err: err}
		}
	}
	return nil
}

// ClearIndex drops the backing index with its documents and recreates it
// empty under the same alias.
func (s *Store) ClearIndex(ctx context.Context, idx domidx.Index) error {
	backing, err := s.currentBacking(ctx, idx.Handle())
	if err != nil {
		return err
	}
	if backing == "" {
		return s.CreateIndex(ctx, idx)
	}

	drop := s.b().Arbitrary("FT.DROPINDEX").Args(backing, "DD").Build()
	if err := s.do(ctx, drop).Error(); err != nil && !isRedisErr(err, "unknown index name") {
		return &engine.Error{Op: "FT.DROPINDEX", Err: err}
	}

	if err := s.createBacking(ctx, idx, backing); err != nil {
		return err
	}
	alias := s.b().Arbitrary("FT.ALIASADD").Args(s.aliasName(idx.Handle()), backing).Build()
	if err := s.do(ctx, alias).Error(); err != nil && !isRedisErr(err, "already exists") {
		return &engine.Error{Op: "FT.ALIASADD", Err: err}
	}
	return nil
}

// --- Swap capability ---

// SupportsAtomicSwap reports true: FT aliases give an atomic repoint.
func (s *Store) SupportsAtomicSwap() bool { return true }

// BeginSwap creates a fresh backing index for the handle.
func (s *Store) BeginSwap(ctx context.Context, idx domidx.Index) (string, error) {
	backing := s.newBackingName(idx.Handle())
	if err := s.createBacking(ctx, idx, backing); err != nil {
		return "", err
	}
	return backing, nil
}

// CountBacking returns the document count of a backing index.
func (s *Store) CountBacking(ctx context.Context, _ domidx.Index, backing string) (int, error) {
	return s.searchCount(ctx, backing)
}

// CommitSwap repoints the live alias to the new backing index in one
// FT.ALIASUPDATE, then discards the previous backing and its documents. A
// query against the alias sees either the old or the new index, never a
// partial one.
func (s *Store) CommitSwap(ctx context.Context, idx domidx.Index, backing string) error {
	old, err := s.currentBacking(ctx, idx.Handle())
	if err != nil {
		return err
	}

	cmd := s.b().Arbitrary("FT.ALIASUPDATE").Args(s.aliasName(idx.Handle()), backing).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &engine.Error{Op: "FT.ALIASUPDATE", Err: err}
	}
	if err := s.setBacking(ctx, idx.Handle(), backing); err != nil {
		return err
	}

	if old != "" && old != backing {
		drop := s.b().Arbitrary("FT.DROPINDEX").Args(old, "DD").Build()
		if err := s.do(ctx, drop).Error(); err != nil && !isRedisErr(err, "unknown index name") {
			return &engine.Error{Op: "FT.DROPINDEX", Err: err}
		}
	}
	return nil
}

// AbortSwap discards an unfinished backing index.
func (s *Store) AbortSwap(ctx context.Context, _ domidx.Index, backing string) error {
	cmd := s.b().Arbitrary("FT.DROPINDEX").Args(backing, "DD").Build()
	if err := s.do(ctx, cmd).Error(); err != nil && !isRedisErr(err, "unknown index name") {
		return &engine.Error{Op: "FT.DROPINDEX", Err: err}
	}
	return nil
}

// --- schema building ---

func vectorDim(idx domidx.Index) int {
	if v := idx.Setting("vector_dim"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultVectorDim
}

func buildSchemaArgs(idx domidx.Index) []string {
	var args []string
	dim := vectorDim(idx)
	for _, m := range idx.EnabledMappings() {
		args = append(args, buildFieldArgs(m, dim)...)
	}
	if len(args) == 0 {
		// FT.CREATE requires at least one field; every document carries objectID.
		args = []string{"objectID", "TAG"}
	}
	return args
}

// buildFieldArgs maps one target type to its native field definition.
func buildFieldArgs(m mapping.Mapping, dim int) []string {
	name := m.TargetField()
	switch m.Type() {
	case mapping.Text:
		args := []string{name, "TEXT"}
		if m.Weight() > 0 && m.Weight() != mapping.DefaultWeight {
			args = append(args, "WEIGHT", strconv.Itoa(m.Weight()))
		}
		return args
	case mapping.Keyword, mapping.Facet, mapping.Boolean:
		return []string{name, "TAG", "SEPARATOR", "|"}
	case mapping.Integer, mapping.Float, mapping.Date:
		return []string{name, "NUMERIC", "SORTABLE"}
	case mapping.GeoPoint:
		return []string{name, "GEO"}
	case mapping.Object:
		// Serialized JSON, searchable as plain text.
		return []string{name, "TEXT", "NOSTEM"}
	case mapping.Embedding:
		return []string{
			name, "VECTOR", "FLAT", "6",
			"TYPE", "FLOAT32",
			"DIM", strconv.Itoa(dim),
			"DISTANCE_METRIC", "COSINE",
		}
	default:
		return []string{name, "TEXT"}
	}
}
