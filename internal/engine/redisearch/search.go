package redisearch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/rueidis"
	"go.uber.org/zap"

	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
	"github.com/kailas-cloud/searchbridge/internal/domain/query"
	"github.com/kailas-cloud/searchbridge/internal/domain/result"
	"github.com/kailas-cloud/searchbridge/internal/engine"
)

const vectorScoreField = "__vector_score"

// Search executes FT.SEARCH against the live alias and normalizes the reply
// into the canonical result model.
func (s *Store) Search(
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
	alias := s.aliasName(idx.Handle())

	vector := s.resolveVector(ctx, idx, queryText, opts)
	queryStr, params := buildQuery(idx, queryText, opts, vector)

	args := []string{alias, queryStr}
	if opts.Highlight {
		args = append(args, "HIGHLIGHT", "TAGS", "<em>", "</em>")
	}
	if len(opts.Sort) > 0 {
		order := "ASC"
		if opts.Sort[0].Desc {
			order = "DESC"
		}
		args = append(args, "SORTBY", opts.Sort[0].Field, order)
	} else if vector != nil {
		args = append(args, "SORTBY", vectorScoreField, "ASC")
	}
	args = append(args,
		"WITHSCORES",
		"LIMIT", strconv.Itoa((opts.Page-1)*opts.PerPage), strconv.Itoa(opts.PerPage),
	)
	args = append(args, params...)
	args = append(args, "DIALECT", "2")

	cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
	msg, err := s.do(ctx, cmd).ToMessage()
	if err != nil {
		return result.Result{}, &engine.Error{Op: "FT.SEARCH", Err: err}
	}
	raw, err := msg.ToArray()
	if err != nil {
		return result.Result{}, &engine.Error{Op: "FT.SEARCH", Err: err}
	}

	total, hits, err := s.parseHits(raw, opts, vector != nil)
	if err != nil {
		return result.Result{}, err
	}

	facets, err := s.collectFacets(ctx, alias, queryStr, params, opts)
	if err != nil {
		return result.Result{}, err
	}
	stats, err := s.collectStats(ctx, alias, queryStr, params, opts.StatsFields)
	if err != nil {
		return result.Result{}, err
	}
	histograms, err := s.collectHistograms(ctx, alias, queryStr, params, opts.Histograms)
	if err != nil {
		return result.Result{}, err
	}

	native, _ := msg.ToAny()

	return result.New(result.Params{
		Hits:       hits,
		TotalHits:  total,
		Page:       opts.Page,
		PerPage:    opts.PerPage,
		Facets:     facets,
		Stats:      stats,
		Histograms: histograms,
		Raw:        native,
		Took:       time.Since(start),
		Timed:      opts.WithTiming,
	}), nil
}

// resolveVector returns the KNN query vector, or nil when the query should
// run as plain text: vector search not requested, no embedding field on the
// index, or the embedding provider failed (degraded mode, never an error).
func (s *Store) resolveVector(
	ctx context.Context, idx domidx.Index, queryText string, opts *query.Options,
) []float32 {
	if !opts.Vector {
		return nil
	}
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
	if s.embedder == nil {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		s.logger.Warn("embedding failed, degrading to text search",
			zap.String("index", idx.Handle()), zap.Error(err))
		return nil
	}
	return vec
}

// buildQuery assembles the FT query string plus PARAMS arguments.
func buildQuery(
	idx domidx.Index, queryText string, opts *query.Options, vector []float32,
) (string, []string) {
	base := buildTextQuery(queryText, opts)

	if vector == nil {
		return base, nil
	}

	field := opts.VectorField
	if field == "" {
		field = idx.EmbeddingField()
	}
	// KNN depth covers all requested pages.
	k := opts.Page * opts.PerPage
	prefilter := "*"
	if opts.Filter != "" {
		prefilter = "(" + opts.Filter + ")"
	}
	queryStr := fmt.Sprintf("%s=>[KNN %d @%s $BLOB AS %s]", prefilter, k, field, vectorScoreField)
	params := []string{"PARAMS", "2", "BLOB", vectorToBytes(vector)}
	return queryStr, params
}

func buildTextQuery(queryText string, opts *query.Options) string {
	escaped := escapeQuery(queryText)

	var text string
	switch {
	case escaped == "":
		text = ""
	case len(opts.Fields) > 0:
		text = fmt.Sprintf("@%s:(%s)", strings.Join(opts.Fields, "|"), escaped)
	default:
		text = fmt.Sprintf("(%s)", escaped)
	}

	switch {
	case text == "" && opts.Filter == "":
		return "*"
	case text == "":
		return opts.Filter
	case opts.Filter == "":
		return text
	default:
		return opts.Filter + " " + text
	}
}

// escapeQuery strips FT syntax characters from user text.
var queryEscaper = strings.NewReplacer(
	"@", " ", "{", " ", "}", " ", "(", " ", ")", " ", "|", " ",
	"=", " ", ">", " ", "[", " ", "]", " ", "\"", " ", "'", " ",
	"~", " ", "*", " ", ":", " ", "-", " ",
)

func escapeQuery(q string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(queryEscaper.Replace(q)), " "))
}

// parseHits walks the WITHSCORES reply: [total, key1, score1, fields1, ...].
func (s *Store) parseHits(
	raw []rueidis.RedisMessage, opts *query.Options, vectorMode bool,
) (int, []result.Hit, error) {
	if len(raw) == 0 {
		return 0, nil, nil
	}
	total64, err := raw[0].AsInt64()
	if err != nil {
		return 0, nil, fmt.Errorf("parse total: %w", err)
	}
	total := int(total64)

	hits := make([]result.Hit, 0, opts.PerPage)
	// 3-stride with WITHSCORES.
	for i := 1; i+2 < len(raw); i += 3 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		score, _ := raw[i+1].AsFloat64()
		fieldArr, err := raw[i+2].ToArray()
		if err != nil {
			continue
		}
		fields := parseFieldPairs(fieldArr)

		if vectorMode {
			if distStr, ok := fields[vectorScoreField]; ok {
				if dist, err := strconv.ParseFloat(distStr, 64); err == nil {
					score = max(0, 1.0-dist) // cosine distance to similarity
				}
				delete(fields, vectorScoreField)
			}
		}

		id := fields["objectID"]
		if id == "" {
			if n := strings.LastIndex(key, ":"); n >= 0 {
				id = key[n+1:]
			}
		}

		doc := make(map[string]any, len(fields))
		var fragments map[string][]engine.Fragment
		if opts.Highlight {
			fragments = make(map[string][]engine.Fragment, len(fields))
		}
		for k, v := range fields {
			values := []string{v}
			if strings.Contains(v, tagSeparator) {
				values = strings.Split(v, tagSeparator)
			}
			clean := make([]string, len(values))
			for j, val := range values {
				clean[j] = stripEmphasis(val)
				if opts.Highlight {
					level := engine.MatchNone
					if strings.Contains(val, "<em>") {
						level = engine.MatchFull
					}
					fragments[k] = append(fragments[k], engine.Fragment{Value: val, Level: level})
				}
			}
			if len(clean) == 1 {
				doc[k] = clean[0]
			} else {
				doc[k] = clean
			}
		}

		hits = append(hits, engine.NewHit(doc, id, score, engine.NormalizeHighlights(fragments)))
	}
	return total, hits, nil
}

var emphasisStripper = strings.NewReplacer("<em>", "", "</em>", "")

func stripEmphasis(s string) string { return emphasisStripper.Replace(s) }

func parseFieldPairs(arr []rueidis.RedisMessage) map[string]string {
	fields := make(map[string]string, len(arr)/2)
	for i := 0; i+1 < len(arr); i += 2 {
		k, err := arr[i].ToString()
		if err != nil {
			continue
		}
		v, err := arr[i+1].ToString()
		if err != nil {
			continue
		}
		fields[k] = v
	}
	return fields
}

// --- aggregations ---

// collectFacets groups per requested facet field via FT.AGGREGATE.
func (s *Store) collectFacets(
	ctx context.Context, alias, queryStr string, params []string, opts *query.Options,
) (map[string][]result.FacetValue, error) {
	if len(opts.Facets) == 0 {
		return nil, nil
	}
	out := make(map[string][]result.FacetValue, len(opts.Facets))
	for _, field := range opts.Facets {
		args := []string{alias, queryStr,
			"GROUPBY", "1", "@" + field,
			"REDUCE", "COUNT", "0", "AS", "count",
		}
		args = append(args, params...)
		args = append(args, "DIALECT", "2")
		rows, err := s.aggregate(ctx, args)
		if err != nil {
			return nil, err
		}
		values := make([]result.FacetValue, 0, len(rows))
		for _, row := range rows {
			count, _ := strconv.Atoi(row["count"])
			values = append(values, result.FacetValue{Value: row[field], Count: count})
		}
		out[field] = values
	}
	return out, nil
}

// collectStats computes min/max per field via FT.AGGREGATE.
func (s *Store) collectStats(
	ctx context.Context, alias, queryStr string, params, fields []string,
) (map[string]result.Stats, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	out := make(map[string]result.Stats, len(fields))
	for _, field := range fields {
		args := []string{alias, queryStr,
			"GROUPBY", "0",
			"REDUCE", "MIN", "1", "@" + field, "AS", "min",
			"REDUCE", "MAX", "1", "@" + field, "AS", "max",
		}
		args = append(args, params...)
		args = append(args, "DIALECT", "2")
		rows, err := s.aggregate(ctx, args)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			continue
		}
		minV, _ := strconv.ParseFloat(rows[0]["min"], 64)
		maxV, _ := strconv.ParseFloat(rows[0]["max"], 64)
		out[field] = result.Stats{Min: minV, Max: maxV}
	}
	return out, nil
}

// collectHistograms buckets numeric fields via FT.AGGREGATE APPLY floor().
// A bucket-count spec is resolved to an interval from the field's min/max.
func (s *Store) collectHistograms(
	ctx context.Context, alias, queryStr string, params []string, specs map[string]query.Histogram,
) (map[string][]result.Bucket, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make(map[string][]result.Bucket, len(specs))
	for field, spec := range specs {
		interval := spec.Interval
		if interval <= 0 {
			stats, err := s.collectStats(ctx, alias, queryStr, params, []string{field})
			if err != nil {
				return nil, err
			}
			st, ok := stats[field]
			if !ok {
				continue
			}
			span := st.Max - st.Min
			if span == 0 {
				span = 1
			}
			interval = span / float64(spec.Buckets)
		}

		expr := fmt.Sprintf("floor(@%s/%g)*%g", field, interval, interval)
		args := []string{alias, queryStr,
			"APPLY", expr, "AS", "bucket",
			"GROUPBY", "1", "@bucket",
			"REDUCE", "COUNT", "0", "AS", "count",
		}
		args = append(args, params...)
		args = append(args, "DIALECT", "2")
		rows, err := s.aggregate(ctx, args)
		if err != nil {
			return nil, err
		}
		buckets := make([]result.Bucket, 0, len(rows))
		for _, row := range rows {
			key, _ := strconv.ParseFloat(row["bucket"], 64)
			count, _ := strconv.Atoi(row["count"])
			buckets = append(buckets, result.Bucket{Key: key, Count: count})
		}
		out[field] = engine.SortBuckets(buckets)
	}
	return out, nil
}

// aggregate runs FT.AGGREGATE and returns rows as field maps.
func (s *Store) aggregate(ctx context.Context, args []string) ([]map[string]string, error) {
	cmd := s.b().Arbitrary("FT.AGGREGATE").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return nil, &engine.Error{Op: "FT.AGGREGATE", Err: err}
	}
	if len(raw) < 2 {
		return nil, nil
	}
	rows := make([]map[string]string, 0, len(raw)-1)
	for _, msg := range raw[1:] {
		arr, err := msg.ToArray()
		if err != nil {
			continue
		}
		row := parseFieldPairs(arr)
		// GROUPBY field names come back without the leading @.
		for k, v := range row {
			if strings.HasPrefix(k, "@") {
				row[strings.TrimPrefix(k, "@")] = v
				delete(row, k)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
