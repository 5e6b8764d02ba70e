// Package typesense adapts the Typesense document search API to the engine
// contract. Typesense keeps its own live collections without alias
// indirection here, so the adapter is not swap-capable and full rebuilds go
// through the refresh fallback.
package typesense

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/typesense/typesense-go/typesense"
	"github.com/typesense/typesense-go/typesense/api"
	"github.com/typesense/typesense-go/typesense/api/pointer"
	"go.uber.org/zap"

	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
	"github.com/kailas-cloud/searchbridge/internal/domain/mapping"
	"github.com/kailas-cloud/searchbridge/internal/domain/query"
	"github.com/kailas-cloud/searchbridge/internal/domain/result"
	"github.com/kailas-cloud/searchbridge/internal/engine"
)

// Compile-time check.
var _ engine.Adapter = (*Client)(nil)

// Client implements engine.Adapter over a Typesense server.
type Client struct {
	client *typesense.Client
	logger *zap.Logger
}

// Config holds Typesense connection settings.
type Config struct {
	URL    string
	APIKey string
}

// NewClient creates a Typesense adapter.
func NewClient(cfg Config, deps engine.Deps) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		client: typesense.NewClient(
			typesense.WithServer(cfg.URL),
			typesense.WithAPIKey(cfg.APIKey),
		),
		logger: logger,
	}, nil
}

// Factory builds a Client from index engine settings: url, api_key.
func Factory(settings map[string]string, deps engine.Deps) (engine.Adapter, error) {
	return NewClient(Config{URL: settings["url"], APIKey: settings["api_key"]}, deps)
}

// TestConnection probes the health endpoint; any failure yields false.
func (c *Client) TestConnection(ctx context.Context) bool {
	healthy, err := c.client.Health(ctx, 5*time.Second)
	return err == nil && healthy
}

func collectionName(idx domidx.Index) string { return idx.Handle() }

// IndexExists checks whether the collection exists.
func (c *Client) IndexExists(ctx context.Context, idx domidx.Index) (bool, error) {
	_, err := c.client.Collection(collectionName(idx)).Retrieve(ctx)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, &engine.Error{Op: "collection.retrieve", Err: err}
	}
	return true, nil
}

// CreateIndex creates the collection with a schema derived from the field
// mappings, idempotently.
func (c *Client) CreateIndex(ctx context.Context, idx domidx.Index) error {
	exists, err := c.IndexExists(ctx, idx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = c.client.Collections().Create(ctx, buildSchema(idx))
	if err != nil && !isConflict(err) {
		return &engine.Error{Op: "collection.create", Err: err}
	}
	return nil
}

// DeleteIndex drops the collection; a missing collection is not an error.
func (c *Client) DeleteIndex(ctx context.Context, idx domidx.Index) error {
	_, err := c.client.Collection(collectionName(idx)).Delete(ctx)
	if err != nil && !isNotFound(err) {
		return &engine.Error{Op: "collection.delete", Err: err}
	}
	return nil
}

// UpdateIndexSettings re-applies the schema. Typesense cannot retype fields
// in place, so an existing collection is left as-is and only created when
// missing.
func (c *Client) UpdateIndexSettings(ctx context.Context, idx domidx.Index) error {
	return c.CreateIndex(ctx, idx)
}

// IndexDocuments upserts documents one by one, keyed by id. Replaying the
// same documents converges to the same remote state.
func (c *Client) IndexDocuments(ctx context.Context, idx domidx.Index, docs []engine.Document) error {
	coll := c.client.Collection(collectionName(idx))
	for _, doc := range docs {
		if doc.ObjectID() == "" {
			return &engine.Error{Op: "document.upsert", Err: fmt.Errorf("document missing objectID")}
		}
		if _, err := coll.Documents().Upsert(ctx, nativeDoc(doc)); err != nil {
			return &engine.Error{Op: "document.upsert", Err: err}
		}
	}
	return nil
}

// DeleteDocument removes one document; a missing id is not an error.
func (c *Client) DeleteDocument(ctx context.Context, idx domidx.Index, id string) error {
	_, err := c.client.Collection(collectionName(idx)).Document(id).Delete(ctx)
	if err != nil && !isNotFound(err) {
		return &engine.Error{Op: "document.delete", Err: err}
	}
	return nil
}

// GetDocument fetches one document, nil when absent.
func (c *Client) GetDocument(ctx context.Context, idx domidx.Index, id string) (engine.Document, error) {
	doc, err := c.client.Collection(collectionName(idx)).Document(id).Retrieve(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, &engine.Error{Op: "document.retrieve", Err: err}
	}
	out := make(engine.Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out["objectID"] = engine.CoerceObjectID(doc["id"])
	return out, nil
}

// GetDocumentCount returns the collection's document count.
func (c *Client) GetDocumentCount(ctx context.Context, idx domidx.Index) (int, error) {
	resp, err := c.client.Collection(collectionName(idx)).Retrieve(ctx)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, &engine.Error{Op: "collection.retrieve", Err: err}
	}
	if resp.NumDocuments == nil {
		return 0, nil
	}
	return int(*resp.NumDocuments), nil
}

// ClearIndex drops and recreates the collection, the closest Typesense has
// to a single clear operation.
func (c *Client) ClearIndex(ctx context.Context, idx domidx.Index) error {
	if err := c.DeleteIndex(ctx, idx); err != nil {
		return err
	}
	return c.CreateIndex(ctx, idx)
}

// Search runs a collection search and normalizes the native response.
// Histograms and vector search are not supported by this adapter and are
// ignored per the options contract.
func (c *Client) Search(
	ctx context.Context, idx domidx.Index, queryText string, opts *query.Options,
) (result.Result, error) {
	if opts == nil {
		opts = &query.Options{}
	}
	if err := opts.Validate(); err != nil {
		return result.Result{}, err
	}
	opts.Normalize()

	start := time.Now()

	params := &api.SearchCollectionParams{
		Q:       queryText,
		QueryBy: queryBy(idx, opts),
		Page:    pointer.Int(opts.Page),
		PerPage: pointer.Int(opts.PerPage),
	}
	if queryText == "" {
		params.Q = "*"
	}
	if opts.Filter != "" {
		params.FilterBy = pointer.String(opts.Filter)
	}
	facetFields := append([]string{}, opts.Facets...)
	facetFields = append(facetFields, opts.StatsFields...)
	if len(facetFields) > 0 {
		params.FacetBy = pointer.String(strings.Join(facetFields, ","))
	}
	if len(opts.Sort) > 0 {
		parts := make([]string, 0, len(opts.Sort))
		for _, s := range opts.Sort {
			dir := "asc"
			if s.Desc {
				dir = "desc"
			}
			parts = append(parts, s.Field+":"+dir)
		}
		params.SortBy = pointer.String(strings.Join(parts, ","))
	}
	if opts.Highlight {
		params.HighlightFullFields = pointer.String(queryBy(idx, opts))
	}

	resp, err := c.client.Collection(collectionName(idx)).Documents().Search(ctx, params)
	if err != nil {
		return result.Result{}, &engine.Error{Op: "documents.search", Err: err}
	}

	total := 0
	if resp.Found != nil {
		total = *resp.Found
	}

	var hits []result.Hit
	if resp.Hits != nil {
		hits = make([]result.Hit, 0, len(*resp.Hits))
		for _, h := range *resp.Hits {
			hits = append(hits, normalizeHit(h, opts))
		}
	}

	facets, stats := normalizeFacets(resp.FacetCounts, opts)

	return result.New(result.Params{
		Hits:      hits,
		TotalHits: total,
		Page:      opts.Page,
		PerPage:   opts.PerPage,
		Facets:    facets,
		Stats:     stats,
		Raw:       resp,
		Took:      time.Since(start),
		Timed:     opts.WithTiming,
	}), nil
}

// queryBy lists the searchable fields: the caller's restriction when given,
// otherwise every enabled text mapping.
func queryBy(idx domidx.Index, opts *query.Options) string {
	if len(opts.Fields) > 0 {
		return strings.Join(opts.Fields, ",")
	}
	var fields []string
	for _, m := range idx.EnabledMappings() {
		if m.Type() == mapping.Text {
			fields = append(fields, m.TargetField())
		}
	}
	if len(fields) == 0 {
		return "objectID"
	}
	return strings.Join(fields, ",")
}

func normalizeHit(h api.SearchResultHit, opts *query.Options) result.Hit {
	doc := map[string]any{}
	var id any
	if h.Document != nil {
		for k, v := range *h.Document {
			doc[k] = v
		}
		id = doc["id"]
	}

	var score float64
	if h.TextMatch != nil {
		score = float64(*h.TextMatch)
	}

	var highlights map[string][]string
	if opts.Highlight && h.Highlights != nil {
		fragments := make(map[string][]engine.Fragment)
		for _, hl := range *h.Highlights {
			if hl.Field == nil {
				continue
			}
			level := engine.MatchNone
			if hl.MatchedTokens != nil && len(*hl.MatchedTokens) > 0 {
				level = engine.MatchFull
			}
			switch {
			case hl.Snippets != nil && len(*hl.Snippets) > 0:
				for _, s := range *hl.Snippets {
					fragments[*hl.Field] = append(fragments[*hl.Field], engine.Fragment{Value: s, Level: level})
				}
			case hl.Snippet != nil:
				fragments[*hl.Field] = append(fragments[*hl.Field], engine.Fragment{Value: *hl.Snippet, Level: level})
			}
		}
		highlights = engine.NormalizeHighlights(fragments)
	}

	return engine.NewHit(doc, id, score, highlights)
}

// normalizeFacets splits native facet counts into canonical facets (for
// requested facet fields) and numeric stats (for requested stats fields).
func normalizeFacets(
	fc *[]api.FacetCounts, opts *query.Options,
) (map[string][]result.FacetValue, map[string]result.Stats) {
	if fc == nil {
		return nil, nil
	}
	wantFacet := map[string]bool{}
	for _, f := range opts.Facets {
		wantFacet[f] = true
	}
	wantStats := map[string]bool{}
	for _, f := range opts.StatsFields {
		wantStats[f] = true
	}

	var facets map[string][]result.FacetValue
	var stats map[string]result.Stats
	for _, entry := range *fc {
		if entry.FieldName == nil {
			continue
		}
		field := *entry.FieldName

		if wantFacet[field] && entry.Counts != nil {
			values := make([]result.FacetValue, 0, len(*entry.Counts))
			for _, cnt := range *entry.Counts {
				fv := result.FacetValue{}
				if cnt.Value != nil {
					fv.Value = *cnt.Value
				}
				if cnt.Count != nil {
					fv.Count = *cnt.Count
				}
				values = append(values, fv)
			}
			if facets == nil {
				facets = map[string][]result.FacetValue{}
			}
			facets[field] = values
		}

		if wantStats[field] && entry.Stats != nil {
			st := result.Stats{}
			if entry.Stats.Min != nil {
				st.Min = *entry.Stats.Min
			}
			if entry.Stats.Max != nil {
				st.Max = *entry.Stats.Max
			}
			if stats == nil {
				stats = map[string]result.Stats{}
			}
			stats[field] = st
		}
	}
	return facets, stats
}

// nativeDoc renders a canonical document for Typesense, mirroring objectID
// into the required "id" key.
func nativeDoc(doc engine.Document) map[string]any {
	out := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		if strings.HasPrefix(k, "_") {
			continue
		}
		out[k] = v
	}
	out["id"] = doc.ObjectID()
	return out
}

// buildSchema derives the collection schema from the index's field mappings.
func buildSchema(idx domidx.Index) *api.CollectionSchema {
	fields := make([]api.Field, 0, len(idx.Mappings())+1)
	fields = append(fields, api.Field{Name: "objectID", Type: "string"})
	for _, m := range idx.EnabledMappings() {
		f := api.Field{Name: m.TargetField(), Optional: pointer.True()}
		switch m.Type() {
		case mapping.Text:
			f.Type = "string"
		case mapping.Keyword:
			f.Type = "string"
			f.Facet = pointer.True()
		case mapping.Facet:
			f.Type = "string[]"
			f.Facet = pointer.True()
		case mapping.Integer, mapping.Date:
			f.Type = "int64"
			f.Facet = pointer.True()
		case mapping.Float:
			f.Type = "float"
			f.Facet = pointer.True()
		case mapping.Boolean:
			f.Type = "bool"
			f.Facet = pointer.True()
		case mapping.GeoPoint:
			f.Type = "geopoint"
		case mapping.Embedding:
			f.Type = "float[]"
		default:
			f.Type = "string"
		}
		fields = append(fields, f)
	}
	return &api.CollectionSchema{Name: collectionName(idx), Fields: fields}
}

func isNotFound(err error) bool {
	var httpErr *typesense.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == 404
	}
	return strings.Contains(err.Error(), "404")
}

func isConflict(err error) bool {
	var httpErr *typesense.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == 409
	}
	return strings.Contains(err.Error(), "409")
}
