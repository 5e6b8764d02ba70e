package result

import "time"

// Hit is one canonical search hit: a flat document map. Every hit carries
// "objectID" (string), "_score" (float64), and "_highlights"
// (map[string][]string) regardless of the backend.
type Hit map[string]any

// ObjectID returns the hit's stable document identifier.
func (h Hit) ObjectID() string {
	id, _ := h["objectID"].(string)
	return id
}

// Score returns the hit's relevance score.
func (h Hit) Score() float64 {
	s, _ := h["_score"].(float64)
	return s
}

// Highlights returns matched fragments per field, nil when none qualified.
func (h Hit) Highlights() map[string][]string {
	hl, _ := h["_highlights"].(map[string][]string)
	return hl
}

// FacetValue is one facet bucket. Active marks values present in the caller's
// current filter set.
type FacetValue struct {
	Value  string `json:"value"`
	Count  int    `json:"count"`
	Active bool   `json:"active"`
}

// Stats holds min/max for one numeric field.
type Stats struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Bucket is one histogram bucket.
type Bucket struct {
	Key   float64 `json:"key"`
	Count int     `json:"count"`
}

// Result is the canonical, backend-agnostic search result. Constructed once
// per query via New, never mutated afterward.
type Result struct {
	hits        []Hit
	totalHits   int
	page        int
	perPage     int
	totalPages  int
	facets      map[string][]FacetValue
	stats       map[string]Stats
	histograms  map[string][]Bucket
	suggestions []string
	raw         any
	took        time.Duration
	timed       bool
}

// Params carries the constructor arguments for a Result.
type Params struct {
	Hits        []Hit
	TotalHits   int
	Page        int
	PerPage     int
	Facets      map[string][]FacetValue
	Stats       map[string]Stats
	Histograms  map[string][]Bucket
	Suggestions []string
	Raw         any
	Took        time.Duration
	Timed       bool
}

// New builds a Result, deriving totalPages and clamping pagination fields so
// page >= 1, perPage > 0, totalPages >= 0, totalHits >= 0 hold for every
// adapter.
func New(p Params) Result {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = 1
	}
	if p.TotalHits < 0 {
		p.TotalHits = 0
	}
	totalPages := (p.TotalHits + p.PerPage - 1) / p.PerPage

	return Result{
		hits:        p.Hits,
		totalHits:   p.TotalHits,
		page:        p.Page,
		perPage:     p.PerPage,
		totalPages:  totalPages,
		facets:      p.Facets,
		stats:       p.Stats,
		histograms:  p.Histograms,
		suggestions: p.Suggestions,
		raw:         p.Raw,
		took:        p.Took,
		timed:       p.Timed,
	}
}

// Hits returns the ordered hits.
func (r Result) Hits() []Hit { return r.hits }

// TotalHits returns the total hit count.
func (r Result) TotalHits() int { return r.totalHits }

// Page returns the 1-based page number.
func (r Result) Page() int { return r.page }

// PerPage returns the page size.
func (r Result) PerPage() int { return r.perPage }

// TotalPages returns the derived page count.
func (r Result) TotalPages() int { return r.totalPages }

// Facets returns facet counts per field.
func (r Result) Facets() map[string][]FacetValue { return r.facets }

// NumericStats returns min/max per requested stats field.
func (r Result) NumericStats() map[string]Stats { return r.stats }

// Histograms returns buckets per field, ordered by key ascending.
func (r Result) Histograms() map[string][]Bucket { return r.histograms }

// Suggestions returns spelling suggestions when the backend provides them.
func (r Result) Suggestions() []string { return r.suggestions }

// Raw returns the untouched native backend response for diagnostics.
func (r Result) Raw() any { return r.raw }

// Took returns query timing when it was requested; ok is false otherwise.
func (r Result) Took() (time.Duration, bool) { return r.took, r.timed }

// MarkActiveFacets returns a copy of facets with Active set on every value
// present in the caller's active filter set. Counts and values are unchanged.
func MarkActiveFacets(facets map[string][]FacetValue, active map[string][]string) map[string][]FacetValue {
	if len(facets) == 0 {
		return facets
	}
	out := make(map[string][]FacetValue, len(facets))
	for field, values := range facets {
		marked := make([]FacetValue, len(values))
		copy(marked, values)
		for i := range marked {
			marked[i].Active = containsValue(active[field], marked[i].Value)
		}
		out[field] = marked
	}
	return out
}

func containsValue(values []string, v string) bool {
	for _, cand := range values {
		if cand == v {
			return true
		}
	}
	return false
}
