package chi

import (
	"fmt"
	"strings"

	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
	"github.com/kailas-cloud/searchbridge/internal/domain/mapping"
	"github.com/kailas-cloud/searchbridge/internal/domain/query"
	"github.com/kailas-cloud/searchbridge/internal/domain/result"
)

// mappingPayload is the wire form of one field mapping.
type mappingPayload struct {
	FieldUID       string            `json:"fieldUid,omitempty"`
	ParentUID      string            `json:"parentUid,omitempty"`
	Attribute      string            `json:"attribute,omitempty"`
	TargetField    string            `json:"targetField"`
	Type           string            `json:"type"`
	Role           string            `json:"role,omitempty"`
	Enabled        bool              `json:"enabled"`
	Weight         int               `json:"weight"`
	ResolverConfig map[string]string `json:"resolverConfig,omitempty"`
	SortOrder      int               `json:"sortOrder"`
}

// scopePayload is the wire form of one content scope.
type scopePayload struct {
	ContentType string `json:"contentType"`
	Site        string `json:"site,omitempty"`
}

// indexPayload is the wire form of an index configuration.
type indexPayload struct {
	Handle     string            `json:"handle"`
	Name       string            `json:"name"`
	EngineType string            `json:"engineType"`
	Settings   map[string]string `json:"settings,omitempty"`
	Scopes     []scopePayload    `json:"scopes"`
	Mode       string            `json:"mode,omitempty"`
	Enabled    *bool             `json:"enabled,omitempty"`
	Mappings   []mappingPayload  `json:"mappings,omitempty"`
}

func mappingToPayload(m mapping.Mapping) mappingPayload {
	return mappingPayload{
		FieldUID:       m.FieldUID(),
		ParentUID:      m.ParentUID(),
		Attribute:      m.Attribute(),
		TargetField:    m.TargetField(),
		Type:           string(m.Type()),
		Role:           string(m.MappingRole()),
		Enabled:        m.Enabled(),
		Weight:         m.Weight(),
		ResolverConfig: m.ResolverConfig(),
		SortOrder:      m.SortOrder(),
	}
}

func mappingsToPayload(mappings []mapping.Mapping) []mappingPayload {
	out := make([]mappingPayload, len(mappings))
	for i, m := range mappings {
		out[i] = mappingToPayload(m)
	}
	return out
}

func mappingsFromPayload(payloads []mappingPayload) []mapping.Mapping {
	out := make([]mapping.Mapping, len(payloads))
	for i, p := range payloads {
		out[i] = mapping.Reconstruct(
			p.FieldUID, p.ParentUID, p.Attribute, p.TargetField,
			mapping.TargetType(p.Type), mapping.Role(p.Role),
			p.Enabled, p.Weight, p.ResolverConfig, p.SortOrder,
		)
	}
	return out
}

func indexToPayload(idx domidx.Index) indexPayload {
	scopes := make([]scopePayload, len(idx.Scopes()))
	for i, s := range idx.Scopes() {
		scopes[i] = scopePayload{ContentType: s.ContentType, Site: s.Site}
	}
	enabled := idx.Enabled()
	return indexPayload{
		Handle:     idx.Handle(),
		Name:       idx.Name(),
		EngineType: idx.EngineType(),
		Settings:   idx.Settings(),
		Scopes:     scopes,
		Mode:       string(idx.IndexMode()),
		Enabled:    &enabled,
		Mappings:   mappingsToPayload(idx.Mappings()),
	}
}

func indexFromPayload(p indexPayload) (domidx.Index, error) {
	scopes := make([]domidx.Scope, len(p.Scopes))
	for i, s := range p.Scopes {
		scopes[i] = domidx.Scope{ContentType: s.ContentType, Site: s.Site}
	}
	idx, err := domidx.New(
		p.Handle, p.Name, p.EngineType, p.Settings,
		scopes, domidx.Mode(p.Mode), mappingsFromPayload(p.Mappings),
	)
	if err != nil {
		return domidx.Index{}, fmt.Errorf("build index: %w", err)
	}
	if p.Enabled != nil {
		idx = idx.WithEnabled(*p.Enabled)
	}
	return idx, nil
}

// histogramPayload is the wire form of one histogram spec.
type histogramPayload struct {
	Buckets  int     `json:"buckets,omitempty"`
	Interval float64 `json:"interval,omitempty"`
	Min      float64 `json:"min,omitempty"`
	Max      float64 `json:"max,omitempty"`
}

// searchRequest is the wire form of a query.
type searchRequest struct {
	Query        string                      `json:"query"`
	Page         int                         `json:"page,omitempty"`
	PerPage      int                         `json:"perPage,omitempty"`
	Fields       []string                    `json:"fields,omitempty"`
	Sort         []string                    `json:"sort,omitempty"`
	Facets       []string                    `json:"facets,omitempty"`
	ActiveFacets map[string][]string         `json:"activeFacets,omitempty"`
	Filter       string                      `json:"filter,omitempty"`
	Highlight    bool                        `json:"highlight,omitempty"`
	Suggest      bool                        `json:"suggest,omitempty"`
	Vector       bool                        `json:"vector,omitempty"`
	VectorField  string                      `json:"vectorField,omitempty"`
	Embedding    []float32                   `json:"embedding,omitempty"`
	StatsFields  []string                    `json:"statsFields,omitempty"`
	Histograms   map[string]histogramPayload `json:"histograms,omitempty"`
	WithTiming   bool                        `json:"withTiming,omitempty"`
}

// optionsFromRequest maps the wire request onto query options. Sort entries
// use "field" or "field:desc".
func optionsFromRequest(req searchRequest) *query.Options {
	opts := &query.Options{
		Page:        req.Page,
		PerPage:     req.PerPage,
		Fields:      req.Fields,
		Facets:      req.Facets,
		Filter:      req.Filter,
		Highlight:   req.Highlight,
		Suggest:     req.Suggest,
		Vector:      req.Vector,
		VectorField: req.VectorField,
		Embedding:   req.Embedding,
		StatsFields: req.StatsFields,
		WithTiming:  req.WithTiming,
	}
	for _, s := range req.Sort {
		field, dir, _ := strings.Cut(s, ":")
		opts.Sort = append(opts.Sort, query.SortField{
			Field: field,
			Desc:  strings.EqualFold(dir, "desc"),
		})
	}
	if len(req.Histograms) > 0 {
		opts.Histograms = make(map[string]query.Histogram, len(req.Histograms))
		for field, h := range req.Histograms {
			opts.Histograms[field] = query.Histogram{
				Buckets:  h.Buckets,
				Interval: h.Interval,
				Min:      h.Min,
				Max:      h.Max,
			}
		}
	}
	return opts
}

// searchResponse is the wire form of a canonical result.
type searchResponse struct {
	Hits        []result.Hit                    `json:"hits"`
	TotalHits   int                             `json:"totalHits"`
	Page        int                             `json:"page"`
	PerPage     int                             `json:"perPage"`
	TotalPages  int                             `json:"totalPages"`
	Facets      map[string][]result.FacetValue  `json:"facets,omitempty"`
	Stats       map[string]result.Stats         `json:"stats,omitempty"`
	Histograms  map[string][]result.Bucket      `json:"histograms,omitempty"`
	Suggestions []string                        `json:"suggestions,omitempty"`
	TookMs      *int64                          `json:"tookMs,omitempty"`
}

func resultToResponse(res result.Result, activeFacets map[string][]string) searchResponse {
	facets := res.Facets()
	if len(activeFacets) > 0 {
		facets = result.MarkActiveFacets(facets, activeFacets)
	}

	resp := searchResponse{
		Hits:        res.Hits(),
		TotalHits:   res.TotalHits(),
		Page:        res.Page(),
		PerPage:     res.PerPage(),
		TotalPages:  res.TotalPages(),
		Facets:      facets,
		Stats:       res.NumericStats(),
		Histograms:  res.Histograms(),
		Suggestions: res.Suggestions(),
	}
	if resp.Hits == nil {
		resp.Hits = []result.Hit{}
	}
	if took, ok := res.Took(); ok {
		ms := took.Milliseconds()
		resp.TookMs = &ms
	}
	return resp
}
