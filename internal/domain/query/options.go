package query

import (
	"github.com/kailas-cloud/searchbridge/internal/domain"
)

// SortField is one element of a sort specification.
type SortField struct {
	Field string
	Desc  bool
}

// Histogram describes bucketing for one numeric field: either a fixed bucket
// count, or an explicit interval with optional bounds.
type Histogram struct {
	Buckets  int
	Interval float64
	Min      float64
	Max      float64
}

// Options is the backend-agnostic query options bag. Engines ignore options
// they cannot support.
type Options struct {
	Page    int
	PerPage int

	Fields []string
	Sort   []SortField
	Facets []string
	Filter string

	Highlight bool
	Suggest   bool

	Vector      bool
	VectorField string
	Embedding   []float32

	StatsFields []string
	Histograms  map[string]Histogram

	WithTiming bool
}

// DefaultPerPage is used when PerPage is unset.
const DefaultPerPage = 20

// Normalize fills pagination defaults in place. Page becomes >= 1 and
// PerPage > 0 regardless of how the backend counts internally.
func (o *Options) Normalize() {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PerPage < 1 {
		o.PerPage = DefaultPerPage
	}
}

// Validate rejects malformed option combinations, naming the offending option.
func (o *Options) Validate() error {
	if o.Page < 0 {
		return domain.NewValidationError("page", "must not be negative")
	}
	if o.PerPage < 0 {
		return domain.NewValidationError("perPage", "must not be negative")
	}
	if o.PerPage > 1000 {
		return domain.NewValidationError("perPage", "must not exceed 1000")
	}
	if len(o.Embedding) > 0 && !o.Vector {
		return domain.NewValidationError("embedding", "requires the vector option")
	}
	if o.VectorField != "" && !o.Vector {
		return domain.NewValidationError("vectorField", "requires the vector option")
	}
	for field, h := range o.Histograms {
		if h.Buckets < 0 {
			return domain.NewValidationError("histograms."+field, "bucket count must not be negative")
		}
		if h.Buckets == 0 && h.Interval <= 0 {
			return domain.NewValidationError("histograms."+field, "needs a bucket count or a positive interval")
		}
		if h.Buckets > 0 && h.Interval > 0 {
			return domain.NewValidationError("histograms."+field, "bucket count and interval are mutually exclusive")
		}
	}
	for _, s := range o.Sort {
		if s.Field == "" {
			return domain.NewValidationError("sort", "sort field name must not be empty")
		}
	}
	return nil
}
