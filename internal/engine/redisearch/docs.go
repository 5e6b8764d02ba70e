package redisearch

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/redis/rueidis"

	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
	"github.com/kailas-cloud/searchbridge/internal/engine"
)

// tagSeparator joins multi-valued keyword/facet fields inside one hash field.
const tagSeparator = "|"

// IndexDocuments batch-upserts documents as hashes under the current backing
// index. Replaying the same batch converges to the same remote state.
func (s *Store) IndexDocuments(ctx context.Context, idx domidx.Index, docs []engine.Document) error {
	backing, err := s.currentBacking(ctx, idx.Handle())
	if err != nil {
		return err
	}
	if backing == "" {
		if err := s.CreateIndex(ctx, idx); err != nil {
			return err
		}
		if backing, err = s.currentBacking(ctx, idx.Handle()); err != nil {
			return err
		}
	}
	return s.writeDocs(ctx, backing, docs)
}

// IndexDocumentsTo writes a batch into a named backing index (swap path).
func (s *Store) IndexDocumentsTo(ctx context.Context, _ domidx.Index, backing string, docs []engine.Document) error {
	return s.writeDocs(ctx, backing, docs)
}

func (s *Store) writeDocs(ctx context.Context, backing string, docs []engine.Document) error {
	cmds := make([]rueidis.Completed, 0, len(docs))
	for _, doc := range docs {
		id := doc.ObjectID()
		if id == "" {
			return &engine.Error{Op: "HSET", Err: fmt.Errorf("document missing objectID")}
		}
		fields := encodeDoc(doc)
		b := s.b().Hset().Key(docKey(backing, id)).FieldValue()
		for k, v := range fields {
			b = b.FieldValue(k, v)
		}
		cmds = append(cmds, b.Build())
	}
	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return &engine.Error{Op: "HSET", Err: err}
		}
	}
	return nil
}

// DeleteDocument removes one document hash; a missing id is not an error.
func (s *Store) DeleteDocument(ctx context.Context, idx domidx.Index, id string) error {
	backing, err := s.currentBacking(ctx, idx.Handle())
	if err != nil {
		return err
	}
	if backing == "" {
		return nil
	}
	cmd := s.b().Del().Key(docKey(backing, id)).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &engine.Error{Op: "DEL", Err: err}
	}
	return nil
}

// GetDocument fetches one document hash, nil when absent.
func (s *Store) GetDocument(ctx context.Context, idx domidx.Index, id string) (engine.Document, error) {
	backing, err := s.currentBacking(ctx, idx.Handle())
	if err != nil {
		return nil, err
	}
	if backing == "" {
		return nil, nil
	}
	cmd := s.b().Hgetall().Key(docKey(backing, id)).Build()
	fields, err := s.do(ctx, cmd).AsStrMap()
	if err != nil {
		return nil, &engine.Error{Op: "HGETALL", Err: err}
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeDoc(fields), nil
}

// GetDocumentCount counts documents via FT.SEARCH with LIMIT 0 0.
func (s *Store) GetDocumentCount(ctx context.Context, idx domidx.Index) (int, error) {
	return s.searchCount(ctx, s.aliasName(idx.Handle()))
}

func (s *Store) searchCount(ctx context.Context, index string) (int, error) {
	cmd := s.b().Arbitrary("FT.SEARCH").Args(index, "*", "LIMIT", "0", "0").Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		if isRedisErr(err, "unknown index name") || isRedisErr(err, "no such index") {
			return 0, nil
		}
		return 0, &engine.Error{Op: "FT.SEARCH", Err: err}
	}
	if len(raw) == 0 {
		return 0, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return 0, fmt.Errorf("parse count: %w", err)
	}
	return int(total), nil
}

// --- hash encoding ---

// encodeDoc flattens a document into hash fields: lists joined by the tag
// separator, vectors as FLOAT32 little-endian blobs, objects as JSON.
func encodeDoc(doc engine.Document) map[string]string {
	fields := make(map[string]string, len(doc))
	for k, v := range doc {
		if strings.HasPrefix(k, "_") {
			continue
		}
		switch val := v.(type) {
		case nil:
			continue
		case string:
			fields[k] = val
		case bool:
			fields[k] = strconv.FormatBool(val)
		case int:
			fields[k] = strconv.Itoa(val)
		case int64:
			fields[k] = strconv.FormatInt(val, 10)
		case float64:
			fields[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case []float32:
			fields[k] = vectorToBytes(val)
		case []string:
			fields[k] = strings.Join(val, tagSeparator)
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprintf("%v", p))
			}
			fields[k] = strings.Join(parts, tagSeparator)
		default:
			if data, err := json.Marshal(val); err == nil {
				fields[k] = string(data)
			}
		}
	}
	return fields
}

// decodeDoc restores a document from hash fields. Values come back as
// strings; numeric re-typing is the caller's concern.
func decodeDoc(fields map[string]string) engine.Document {
	doc := make(engine.Document, len(fields))
	for k, v := range fields {
		if strings.Contains(v, tagSeparator) {
			doc[k] = strings.Split(v, tagSeparator)
			continue
		}
		doc[k] = v
	}
	return doc
}

// vectorToBytes encodes a FLOAT32 little-endian blob for VECTOR fields.
func vectorToBytes(vec []float32) string {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
