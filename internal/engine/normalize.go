package engine

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/kailas-cloud/searchbridge/internal/domain/result"
)

// MatchLevel grades how strongly a highlighted fragment matched the query.
type MatchLevel string

// Match levels, weakest first.
const (
	MatchNone    MatchLevel = "none"
	MatchPartial MatchLevel = "partial"
	MatchFull    MatchLevel = "full"
)

// Qualifies reports whether the fragment matched at all.
func (l MatchLevel) Qualifies() bool { return l == MatchPartial || l == MatchFull }

// Fragment is one highlighted snippet with its match strength.
type Fragment struct {
	Value string
	Level MatchLevel
}

// NormalizeHighlights collapses per-field fragments into the canonical
// _highlights shape: only fragments stronger than "no match" survive, a
// multi-valued field keeps all qualifying entries, a field with none is
// omitted entirely.
func NormalizeHighlights(fields map[string][]Fragment) map[string][]string {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string][]string, len(fields))
	for field, fragments := range fields {
		var kept []string
		for _, f := range fragments {
			if f.Level.Qualifies() {
				kept = append(kept, f.Value)
			}
		}
		if len(kept) > 0 {
			out[field] = kept
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// CoerceObjectID renders any native document key as a string. Backends with
// numeric keys still yield a string objectID.
func CoerceObjectID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", id)
	}
}

// NewHit assembles a canonical hit from a flat document, guaranteeing the
// objectID, _score, and _highlights invariants.
func NewHit(doc map[string]any, id any, score float64, highlights map[string][]string) result.Hit {
	hit := make(result.Hit, len(doc)+3)
	for k, v := range doc {
		hit[k] = v
	}
	hit["objectID"] = CoerceObjectID(id)
	hit["_score"] = score
	if len(highlights) > 0 {
		hit["_highlights"] = highlights
	} else {
		hit["_highlights"] = map[string][]string{}
	}
	return hit
}

// SortBuckets orders histogram buckets by key ascending, in place, and
// returns the slice.
func SortBuckets(buckets []result.Bucket) []result.Bucket {
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Key < buckets[j].Key })
	return buckets
}
