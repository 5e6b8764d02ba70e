// Package memory is an in-process engine adapter. It backs tests and local
// development, and doubles as the reference for adapter semantics: idempotent
// writes keyed by objectID, canonical normalization, and optional alias
// indirection for atomic swaps.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/kailas-cloud/searchbridge/internal/domain"
	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
	"github.com/kailas-cloud/searchbridge/internal/domain/query"
	"github.com/kailas-cloud/searchbridge/internal/domain/result"
	"github.com/kailas-cloud/searchbridge/internal/engine"
)

// Compile-time checks.
var (
	_ engine.Adapter = (*Engine)(nil)
	_ engine.Swapper = (*Engine)(nil)
)

// Engine stores documents in maps: backing index name -> objectID -> document.
// With aliases enabled, the index handle is an alias resolved to a backing
// name under the same lock as reads, so a swap is atomic from a query's
// point of view.
type Engine struct {
	mu       sync.RWMutex
	stores   map[string]map[string]engine.Document
	aliases  map[string]string
	seq      int
	swappble bool
	embedder engine.Embedder
}

// Option configures an Engine.
type Option func(*Engine)

// WithAliases enables alias indirection, making the engine swap-capable.
func WithAliases() Option {
	return func(e *Engine) { e.swappble = true }
}

// WithEmbedder wires the embedding provider used for vector queries without
// a precomputed embedding.
func WithEmbedder(emb engine.Embedder) Option {
	return func(e *Engine) { e.embedder = emb }
}

// New creates an empty in-memory engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		stores:  make(map[string]map[string]engine.Document),
		aliases: make(map[string]string),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Factory adapts a shared Engine instance to the registry contract. Every
// index built against it shares one store, mirroring one real backend
// process.
func Factory(e *Engine) engine.Factory {
	return func(_ map[string]string, deps engine.Deps) (engine.Adapter, error) {
		if e.embedder == nil {
			e.embedder = deps.Embedder
		}
		return e, nil
	}
}

// backing resolves an index handle to its backing store name. Caller holds
// at least a read lock.
func (e *Engine) backing(handle string) string {
	if b, ok := e.aliases[handle]; ok {
		return b
	}
	return handle
}

// TestConnection always succeeds for the in-process engine.
func (e *Engine) TestConnection(_ context.Context) bool { return true }

// IndexExists reports whether a backing store exists for the handle.
func (e *Engine) IndexExists(_ context.Context, idx domidx.Index) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.stores[e.backing(idx.Handle())]
	return ok, nil
}

// CreateIndex creates the backing store, idempotently.
func (e *Engine) CreateIndex(_ context.Context, idx domidx.Index) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	name := idx.Handle()
	if e.swappble {
		if _, ok := e.aliases[name]; !ok {
			backing := e.nextBackingLocked(name)
			e.aliases[name] = backing
			name = backing
		} else {
			name = e.aliases[name]
		}
	}
	if _, ok := e.stores[name]; !ok {
		e.stores[name] = make(map[string]engine.Document)
	}
	return nil
}

// DeleteIndex removes the backing store and alias.
func (e *Engine) DeleteIndex(_ context.Context, idx domidx.Index) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.stores, e.backing(idx.Handle()))
	delete(e.aliases, idx.Handle())
	return nil
}

// UpdateIndexSettings is a no-op: the in-memory engine is schemaless.
func (e *Engine) UpdateIndexSettings(_ context.Context, _ domidx.Index) error { return nil }

// IndexDocuments batch-upserts documents keyed by objectID.
func (e *Engine) IndexDocuments(_ context.Context, idx domidx.Index, docs []engine.Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.upsertLocked(e.backing(idx.Handle()), docs)
}

func (e *Engine) upsertLocked(backing string, docs []engine.Document) error {
	store, ok := e.stores[backing]
	if !ok {
		store = make(map[string]engine.Document)
		e.stores[backing] = store
	}
	for _, doc := range docs {
		id := doc.ObjectID()
		if id == "" {
			return &engine.Error{Op: "upsert", Err: fmt.Errorf("document missing objectID")}
		}
		store[id] = doc
	}
	return nil
}

// DeleteDocument removes a document; a missing id is not an error.
func (e *Engine) DeleteDocument(_ context.Context, idx domidx.Index, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if store, ok := e.stores[e.backing(idx.Handle())]; ok {
		delete(store, id)
	}
	return nil
}

// GetDocument returns nil when the document does not exist.
func (e *Engine) GetDocument(_ context.Context, idx domidx.Index, id string) (engine.Document, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	store, ok := e.stores[e.backing(idx.Handle())]
	if !ok {
		return nil, nil
	}
	doc, ok := store[id]
	if !ok {
		return nil, nil
	}
	return doc, nil
}

// GetDocumentCount returns the number of stored documents.
func (e *Engine) GetDocumentCount(_ context.Context, idx domidx.Index) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.stores[e.backing(idx.Handle())]), nil
}

// ClearIndex drops all documents in one operation, keeping the index.
func (e *Engine) ClearIndex(_ context.Context, idx domidx.Index) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	name := e.backing(idx.Handle())
	if _, ok := e.stores[name]; ok {
		e.stores[name] = make(map[string]engine.Document)
	}
	return nil
}

// --- Swap capability ---

// SupportsAtomicSwap reports whether alias indirection is enabled.
func (e *Engine) SupportsAtomicSwap() bool { return e.swappble }

// BeginSwap creates a fresh backing store for the handle.
func (e *Engine) BeginSwap(_ context.Context, idx domidx.Index) (string, error) {
	if !e.swappble {
		return "", domain.ErrSwapNotSupported
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	backing := e.nextBackingLocked(idx.Handle())
	e.stores[backing] = make(map[string]engine.Document)
	return backing, nil
}

// IndexDocumentsTo writes a batch into a named backing store.
func (e *Engine) IndexDocumentsTo(_ context.Context, _ domidx.Index, backing string, docs []engine.Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.stores[backing]; !ok {
		return &engine.Error{Op: "swap-upsert", Err: fmt.Errorf("unknown backing index %s", backing)}
	}
	return e.upsertLocked(backing, docs)
}

// CountBacking returns the document count of a backing store.
func (e *Engine) CountBacking(_ context.Context, _ domidx.Index, backing string) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.stores[backing]), nil
}

// CommitSwap repoints the alias to the backing store and drops the previous
// one, under the same lock searches take.
func (e *Engine) CommitSwap(_ context.Context, idx domidx.Index, backing string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.stores[backing]; !ok {
		return &engine.Error{Op: "swap-commit", Err: fmt.Errorf("unknown backing index %s", backing)}
	}
	old := e.aliases[idx.Handle()]
	e.aliases[idx.Handle()] = backing
	if old != "" && old != backing {
		delete(e.stores, old)
	}
	return nil
}

// AbortSwap discards an unfinished backing store.
func (e *Engine) AbortSwap(_ context.Context, _ domidx.Index, backing string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.stores, backing)
	return nil
}

func (e *Engine) nextBackingLocked(handle string) string {
	e.seq++
	return fmt.Sprintf("%s_v%d", handle, e.seq)
}

// --- Search ---

// Search runs a naive token-match query with canonical normalization:
// highlights, facets, numeric stats, histograms, sorting, and pagination.
func (e *Engine) Search(
	ctx context.Context, idx domidx.Index, queryText string, opts *query.Options,
) (result.Result, error) {
	if opts == nil {
		opts = &query.Options{}
	}
	if err := opts.Validate(); err != nil {
		return result.Result{}, err
	}
	opts.Normalize()

	var vector []float32
	if opts.Vector {
		vector = e.resolveVector(ctx, idx, queryText, opts)
	}

	e.mu.RLock()
	store := e.stores[e.backing(idx.Handle())]
	docs := make([]engine.Document, 0, len(store))
	for _, d := range store {
		docs = append(docs, d)
	}
	e.mu.RUnlock()

	tokens := tokenize(queryText)
	filters := parseFilter(opts.Filter)

	type scored struct {
		doc        engine.Document
		score      float64
		highlights map[string][]string
	}
	var matched []scored
	vectorField := opts.VectorField
	if vectorField == "" {
		vectorField = idx.EmbeddingField()
	}

	for _, doc := range docs {
		if !matchesFilter(doc, filters) {
			continue
		}
		var score float64
		if vector != nil {
			score = cosine(vector, toVector(doc[vectorField]))
			if score <= 0 {
				continue
			}
		} else {
			var ok bool
			score, ok = scoreTokens(doc, tokens, opts.Fields)
			if !ok {
				continue
			}
		}

		var highlights map[string][]string
		if opts.Highlight && len(tokens) > 0 {
			highlights = engine.NormalizeHighlights(highlightFields(doc, tokens))
		}
		matched = append(matched, scored{doc: doc, score: score, highlights: highlights})
	}

	sortScored := func(less func(a, b scored) bool) {
		sort.SliceStable(matched, func(i, j int) bool { return less(matched[i], matched[j]) })
	}
	if len(opts.Sort) > 0 {
		spec := opts.Sort
		sortScored(func(a, b scored) bool { return compareBySpec(a.doc, b.doc, spec) })
	} else {
		sortScored(func(a, b scored) bool {
			if a.score != b.score {
				return a.score > b.score
			}
			return a.doc.ObjectID() < b.doc.ObjectID()
		})
	}

	total := len(matched)
	start := (opts.Page - 1) * opts.PerPage
	if start > total {
		start = total
	}
	end := start + opts.PerPage
	if end > total {
		end = total
	}

	hits := make([]result.Hit, 0, end-start)
	for _, m := range matched[start:end] {
		hits = append(hits, engine.NewHit(m.doc, m.doc["objectID"], m.score, m.highlights))
	}

	facets := collectFacets(matched, opts.Facets, func(s scored) engine.Document { return s.doc })
	stats := collectStats(matched, opts.StatsFields, func(s scored) engine.Document { return s.doc })
	histograms := collectHistograms(matched, opts.Histograms, func(s scored) engine.Document { return s.doc })

	return result.New(result.Params{
		Hits:       hits,
		TotalHits:  total,
		Page:       opts.Page,
		PerPage:    opts.PerPage,
		Facets:     facets,
		Stats:      stats,
		Histograms: histograms,
		Raw:        map[string]any{"engine": "memory", "total": total},
	}), nil
}

// resolveVector produces the query vector: precomputed embedding first, then
// the embedding provider. Any failure, or a missing embedding field, degrades
// the query to plain text search (nil vector).
func (e *Engine) resolveVector(
	ctx context.Context, idx domidx.Index, queryText string, opts *query.Options,
) []float32 {
	field := opts.VectorField
	if field == "" {
		field = idx.EmbeddingField()
	}
	if field == "" {
		return nil
	}
	if len(opts.Embedding) > 0 {
		return opts.Embedding
	}
	if e.embedder == nil {
		return nil
	}
	vec, err := e.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil
	}
	return vec
}

// --- match helpers ---

func tokenize(q string) []string {
	return strings.Fields(strings.ToLower(q))
}

func parseFilter(expr string) map[string]string {
	if expr == "" {
		return nil
	}
	filters := make(map[string]string)
	for _, part := range strings.Fields(expr) {
		k, v, ok := strings.Cut(part, ":")
		if ok {
			filters[k] = v
		}
	}
	return filters
}

func matchesFilter(doc engine.Document, filters map[string]string) bool {
	for k, want := range filters {
		if !valueMatches(doc[k], want) {
			return false
		}
	}
	return true
}

func valueMatches(v any, want string) bool {
	switch val := v.(type) {
	case []string:
		for _, s := range val {
			if s == want {
				return true
			}
		}
		return false
	case []any:
		for _, s := range val {
			if stringify(s) == want {
				return true
			}
		}
		return false
	default:
		return stringify(v) == want
	}
}

// scoreTokens counts token occurrences across string fields. All tokens must
// appear somewhere for a match. An empty query matches everything.
func scoreTokens(doc engine.Document, tokens []string, restrict []string) (float64, bool) {
	if len(tokens) == 0 {
		return 1, true
	}
	allowed := map[string]bool{}
	for _, f := range restrict {
		allowed[f] = true
	}
	var score float64
	for _, tok := range tokens {
		found := false
		for field, v := range doc {
			if len(allowed) > 0 && !allowed[field] {
				continue
			}
			for _, s := range stringValues(v) {
				if strings.Contains(strings.ToLower(s), tok) {
					found = true
					score++
				}
			}
		}
		if !found {
			return 0, false
		}
	}
	return score, true
}

// highlightFields emits one fragment per string value with matched tokens
// wrapped in <em> tags, graded full when every token hit and none when no
// token hit.
func highlightFields(doc engine.Document, tokens []string) map[string][]engine.Fragment {
	out := make(map[string][]engine.Fragment)
	for field, v := range doc {
		if strings.HasPrefix(field, "_") || field == "objectID" {
			continue
		}
		for _, s := range stringValues(v) {
			frag, hit := emphasize(s, tokens)
			level := engine.MatchNone
			switch {
			case hit == len(tokens):
				level = engine.MatchFull
			case hit > 0:
				level = engine.MatchPartial
			}
			out[field] = append(out[field], engine.Fragment{Value: frag, Level: level})
		}
	}
	return out
}

// emphasize matches all tokens against the original string before inserting
// any tags, so a token can never match inside previously inserted markup.
func emphasize(s string, tokens []string) (string, int) {
	lower := strings.ToLower(s)
	type span struct{ start, end int }
	var spans []span
	hits := 0
	for _, tok := range tokens {
		i := strings.Index(lower, tok)
		if i < 0 {
			continue
		}
		hits++
		spans = append(spans, span{i, i + len(tok)})
	}
	if len(spans) == 0 {
		return s, 0
	}
	sort.Slice(spans, func(a, b int) bool { return spans[a].start < spans[b].start })

	var b strings.Builder
	pos := 0
	for _, sp := range spans {
		if sp.start < pos {
			// Overlaps a span already tagged.
			continue
		}
		b.WriteString(s[pos:sp.start])
		b.WriteString("<em>")
		b.WriteString(s[sp.start:sp.end])
		b.WriteString("</em>")
		pos = sp.end
	}
	b.WriteString(s[pos:])
	return b.String(), hits
}

func stringValues(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, s := range val {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	default:
		return 0, false
	}
}

func toVector(v any) []float32 {
	switch val := v.(type) {
	case []float32:
		return val
	case []float64:
		out := make([]float32, len(val))
		for i, f := range val {
			out[i] = float32(f)
		}
		return out
	case []any:
		out := make([]float32, 0, len(val))
		for _, f := range val {
			if fl, ok := toFloat(f); ok {
				out = append(out, float32(fl))
			}
		}
		return out
	default:
		return nil
	}
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func compareBySpec(a, b engine.Document, spec []query.SortField) bool {
	for _, s := range spec {
		av, bv := a[s.Field], b[s.Field]
		if af, ok := toFloat(av); ok {
			bf, _ := toFloat(bv)
			if af != bf {
				if s.Desc {
					return af > bf
				}
				return af < bf
			}
			continue
		}
		as, bs := stringify(av), stringify(bv)
		if as != bs {
			if s.Desc {
				return as > bs
			}
			return as < bs
		}
	}
	return false
}

// --- aggregation helpers ---

func collectFacets[T any](items []T, fields []string, doc func(T) engine.Document) map[string][]result.FacetValue {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string][]result.FacetValue, len(fields))
	for _, field := range fields {
		counts := make(map[string]int)
		for _, it := range items {
			v := doc(it)[field]
			switch val := v.(type) {
			case []string:
				for _, s := range val {
					counts[s]++
				}
			case []any:
				for _, s := range val {
					counts[stringify(s)]++
				}
			case nil:
			default:
				counts[stringify(val)]++
			}
		}
		values := make([]result.FacetValue, 0, len(counts))
		for v, c := range counts {
			values = append(values, result.FacetValue{Value: v, Count: c})
		}
		sort.Slice(values, func(i, j int) bool {
			if values[i].Count != values[j].Count {
				return values[i].Count > values[j].Count
			}
			return values[i].Value < values[j].Value
		})
		out[field] = values
	}
	return out
}

func collectStats[T any](items []T, fields []string, doc func(T) engine.Document) map[string]result.Stats {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]result.Stats, len(fields))
	for _, field := range fields {
		first := true
		var st result.Stats
		for _, it := range items {
			f, ok := toFloat(doc(it)[field])
			if !ok {
				continue
			}
			if first {
				st = result.Stats{Min: f, Max: f}
				first = false
				continue
			}
			st.Min = math.Min(st.Min, f)
			st.Max = math.Max(st.Max, f)
		}
		if !first {
			out[field] = st
		}
	}
	return out
}

func collectHistograms[T any](
	items []T, specs map[string]query.Histogram, doc func(T) engine.Document,
) map[string][]result.Bucket {
	if len(specs) == 0 {
		return nil
	}
	out := make(map[string][]result.Bucket, len(specs))
	for field, spec := range specs {
		var values []float64
		for _, it := range items {
			if f, ok := toFloat(doc(it)[field]); ok {
				values = append(values, f)
			}
		}
		if len(values) == 0 {
			continue
		}
		lo, hi := spec.Min, spec.Max
		if lo == 0 && hi == 0 {
			lo, hi = values[0], values[0]
			for _, f := range values {
				lo = math.Min(lo, f)
				hi = math.Max(hi, f)
			}
		}
		interval := spec.Interval
		if interval <= 0 {
			span := hi - lo
			if span == 0 {
				span = 1
			}
			interval = span / float64(spec.Buckets)
		}
		counts := make(map[float64]int)
		for _, f := range values {
			if f < lo || (spec.Max != 0 && f > hi) {
				continue
			}
			key := lo + math.Floor((f-lo)/interval)*interval
			counts[key]++
		}
		buckets := make([]result.Bucket, 0, len(counts))
		for k, c := range counts {
			buckets = append(buckets, result.Bucket{Key: k, Count: c})
		}
		out[field] = engine.SortBuckets(buckets)
	}
	return out
}
