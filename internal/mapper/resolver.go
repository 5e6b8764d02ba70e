// Package mapper turns content items into flat search documents: it detects
// default field mappings from a content schema, resolves items through
// per-field-type strategies, and validates mapping configurations against
// live content.
package mapper

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/searchbridge/internal/content"
	"github.com/kailas-cloud/searchbridge/internal/domain"
	"github.com/kailas-cloud/searchbridge/internal/domain/mapping"
)

// Resolver extracts a document value from one raw content field value.
// Implementations return a scalar, a list, or nil -- never an error for the
// ordinary absence of data.
type Resolver interface {
	Resolve(value any, spec content.FieldSpec, m mapping.Mapping) (any, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(value any, spec content.FieldSpec, m mapping.Mapping) (any, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(value any, spec content.FieldSpec, m mapping.Mapping) (any, error) {
	return f(value, spec, m)
}

// ResolverSet dispatches to a Resolver by content field type, with a
// stringifying fallback for unknown types.
type ResolverSet struct {
	byType   map[content.FieldType]Resolver
	fallback Resolver
}

// NewResolverSet creates the default resolver set.
func NewResolverSet() *ResolverSet {
	s := &ResolverSet{
		byType:   make(map[content.FieldType]Resolver),
		fallback: ResolverFunc(resolveFallback),
	}
	s.Register(content.FieldText, ResolverFunc(resolveText))
	s.Register(content.FieldRichText, ResolverFunc(resolveText))
	s.Register(content.FieldNumber, ResolverFunc(resolveNumber))
	s.Register(content.FieldBoolean, ResolverFunc(resolveBoolean))
	s.Register(content.FieldDate, ResolverFunc(resolveDate))
	s.Register(content.FieldAsset, ResolverFunc(resolveAsset))
	s.Register(content.FieldRelation, ResolverFunc(resolveRelation))
	s.Register(content.FieldAddress, ResolverFunc(resolveAddress))
	s.Register(content.FieldTags, ResolverFunc(resolveTags))
	return s
}

// Register adds or replaces the resolver for a field type.
func (s *ResolverSet) Register(ft content.FieldType, r Resolver) {
	s.byType[ft] = r
}

// For returns the resolver for a field type, falling back to stringify.
func (s *ResolverSet) For(ft content.FieldType) Resolver {
	if r, ok := s.byType[ft]; ok {
		return r
	}
	return s.fallback
}

// --- built-in resolvers ---

func resolveText(value any, _ content.FieldSpec, _ mapping.Mapping) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return v, nil
	case []string:
		if len(v) == 0 {
			return nil, nil
		}
		return v, nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

func resolveNumber(value any, _ content.FieldSpec, m mapping.Mapping) (any, error) {
	f, ok := toFloat(value)
	if !ok {
		if value == nil {
			return nil, nil
		}
		if s, isStr := value.(string); isStr {
			if s == "" {
				return nil, nil
			}
			parsed, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: non-numeric value %q", domain.ErrResolver, s)
			}
			f = parsed
		} else {
			return nil, fmt.Errorf("%w: non-numeric value %T", domain.ErrResolver, value)
		}
	}
	if m.Type() == mapping.Integer {
		return int64(f), nil
	}
	return f, nil
}

func resolveBoolean(value any, _ content.FieldSpec, _ mapping.Mapping) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case bool:
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: non-boolean value %q", domain.ErrResolver, v)
		}
		return b, nil
	default:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: non-boolean value %T", domain.ErrResolver, value)
		}
		return f != 0, nil
	}
}

// resolveDate emits unix millis regardless of the source representation.
func resolveDate(value any, _ content.FieldSpec, _ mapping.Mapping) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case time.Time:
		if v.IsZero() {
			return nil, nil
		}
		return v.UnixMilli(), nil
	case string:
		if v == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("%w: unparseable date %q", domain.ErrResolver, v)
		}
		return t.UnixMilli(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported date value %T", domain.ErrResolver, value)
	}
}

// resolveAsset emits the configured representation of a referenced file:
// url (default), id, or title.
func resolveAsset(value any, spec content.FieldSpec, m mapping.Mapping) (any, error) {
	emit := m.ConfigValue("emit")
	if emit == "" {
		emit = "url"
	}
	one := func(a content.Asset) any {
		switch emit {
		case "id":
			return a.ID
		case "title":
			return a.Title
		default:
			return a.URL
		}
	}
	switch v := value.(type) {
	case nil:
		return nil, nil
	case content.Asset:
		return one(v), nil
	case []content.Asset:
		if len(v) == 0 {
			return nil, nil
		}
		out := make([]any, 0, len(v))
		for _, a := range v {
			out = append(out, one(a))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported asset value %T", domain.ErrResolver, value)
	}
}

// resolveRelation emits related item ids, or {id,title} objects when the
// resolver config asks for emit=objects.
func resolveRelation(value any, _ content.FieldSpec, m mapping.Mapping) (any, error) {
	items, ok := value.([]content.Item)
	if !ok {
		if ids, isIDs := value.([]int64); isIDs {
			if len(ids) == 0 {
				return nil, nil
			}
			out := make([]any, 0, len(ids))
			for _, id := range ids {
				out = append(out, id)
			}
			return out, nil
		}
		if value == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: unsupported relation value %T", domain.ErrResolver, value)
	}
	if len(items) == 0 {
		return nil, nil
	}
	asObjects := m.ConfigValue("emit") == "objects"
	out := make([]any, 0, len(items))
	for _, it := range items {
		if asObjects {
			out = append(out, map[string]any{"id": it.ID, "title": it.Title})
		} else {
			out = append(out, it.ID)
		}
	}
	return out, nil
}

// resolveAddress emits the configured sub-representation: latlng (default,
// "lat,lng" for geo-point fields), text, or parts.
func resolveAddress(value any, _ content.FieldSpec, m mapping.Mapping) (any, error) {
	addr, ok := value.(content.Address)
	if !ok {
		if value == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: unsupported address value %T", domain.ErrResolver, value)
	}
	switch m.ConfigValue("emit") {
	case "text":
		if addr.Text == "" {
			return nil, nil
		}
		return addr.Text, nil
	case "parts":
		return map[string]any{
			"street":  addr.Street,
			"city":    addr.City,
			"country": addr.Country,
		}, nil
	default:
		if addr.Lat == 0 && addr.Lng == 0 {
			return nil, nil
		}
		return fmt.Sprintf("%g,%g", addr.Lat, addr.Lng), nil
	}
}

func resolveTags(value any, _ content.FieldSpec, _ mapping.Mapping) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []string:
		if len(v) == 0 {
			return nil, nil
		}
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return strings.Split(v, ","), nil
	default:
		return nil, fmt.Errorf("%w: unsupported tags value %T", domain.ErrResolver, value)
	}
}

// resolveFallback stringifies unknown shapes: scalars via Sprintf, anything
// structured via JSON.
func resolveFallback(value any, _ content.FieldSpec, _ mapping.Mapping) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string, bool, int, int64, float64:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: unserializable value %T", domain.ErrResolver, value)
		}
		return string(data), nil
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
