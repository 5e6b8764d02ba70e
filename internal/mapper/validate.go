package mapper

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/kailas-cloud/searchbridge/internal/content"
	"github.com/kailas-cloud/searchbridge/internal/domain"
	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
	"github.com/kailas-cloud/searchbridge/internal/domain/mapping"
)

// FieldStatus classifies one mapping's behavior against a sample item.
type FieldStatus string

// Field status values, from benign to broken.
const (
	StatusOK      FieldStatus = "ok"
	StatusNull    FieldStatus = "null"
	StatusWarning FieldStatus = "warning"
	StatusError   FieldStatus = "error"
)

// FieldResult is the validation outcome for one mapping.
type FieldResult struct {
	TargetField string      `json:"targetField"`
	Type        string      `json:"type"`
	Status      FieldStatus `json:"status"`
	Value       any         `json:"value,omitempty"`
	Detail      string      `json:"detail,omitempty"`
}

// Report is a dry-run resolution of one item against an index's mappings.
type Report struct {
	Index  string        `json:"index"`
	ItemID int64         `json:"itemId"`
	Title  string        `json:"title,omitempty"`
	Fields []FieldResult `json:"fields"`
}

// Errors counts the fields that failed outright.
func (r Report) Errors() int {
	n := 0
	for _, f := range r.Fields {
		if f.Status == StatusError {
			n++
		}
	}
	return n
}

// Text renders the report as an aligned table for operator consumption.
func (r Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "index %s, item %d", r.Index, r.ItemID)
	if r.Title != "" {
		fmt.Fprintf(&b, " (%s)", r.Title)
	}
	b.WriteString("\n")

	w := tabwriter.NewWriter(&b, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tTYPE\tSTATUS\tVALUE")
	for _, f := range r.Fields {
		val := f.Detail
		if val == "" && f.Value != nil {
			val = preview(f.Value)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.TargetField, f.Type, f.Status, val)
	}
	w.Flush()
	return b.String()
}

// Validate resolves a sample item against every enabled mapping and reports
// per-field status without touching any engine. When itemID is zero the first
// item of the index's first scope is used; a forced itemID must exist and lie
// in scope or the whole validation fails.
func (mp *Mapper) Validate(ctx context.Context, idx domidx.Index, itemID int64) (Report, error) {
	item, err := mp.sampleItem(ctx, idx, itemID)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Index:  idx.Handle(),
		ItemID: item.ID,
		Title:  item.Title,
	}
	for _, m := range idx.EnabledMappings() {
		report.Fields = append(report.Fields, mp.validateMapping(&item, m))
	}
	return report, nil
}

func (mp *Mapper) sampleItem(ctx context.Context, idx domidx.Index, itemID int64) (content.Item, error) {
	if itemID != 0 {
		item, err := mp.repo.ItemByID(ctx, itemID)
		if err != nil {
			return content.Item{}, fmt.Errorf("validation item %d: %w", itemID, err)
		}
		if !idx.InScope(item.ContentType, item.Site) {
			return content.Item{}, domain.NewValidationError("itemId",
				fmt.Sprintf("item %d is outside the index's scopes", itemID))
		}
		return item, nil
	}

	for _, scope := range idx.Scopes() {
		items, err := mp.repo.ItemsByScope(ctx, scope.ContentType, scope.Site, 0, 1)
		if err != nil {
			return content.Item{}, fmt.Errorf("sample item for %s: %w", idx.Handle(), err)
		}
		if len(items) > 0 {
			return items[0], nil
		}
	}
	return content.Item{}, fmt.Errorf("%w: no items in scope for %s", domain.ErrNotFound, idx.Handle())
}

// validateMapping runs one resolver and classifies the outcome. Resolver
// failures surface as per-field errors rather than aborting the run.
func (mp *Mapper) validateMapping(item *content.Item, m mapping.Mapping) FieldResult {
	res := FieldResult{
		TargetField: m.TargetField(),
		Type:        string(m.Type()),
	}

	value, err := mp.resolveMapping(item, m)
	switch {
	case err != nil:
		res.Status = StatusError
		res.Detail = err.Error()
	case value == nil:
		res.Status = StatusNull
	default:
		res.Status = StatusOK
		res.Value = value
		if warn := typeWarning(m.Type(), value); warn != "" {
			res.Status = StatusWarning
			res.Detail = warn
		}
	}
	return res
}

// typeWarning flags values whose runtime shape contradicts the declared
// target type, which would index but sort and filter wrong.
func typeWarning(tt mapping.TargetType, value any) string {
	switch tt {
	case mapping.Integer, mapping.Float:
		if !isNumeric(value) {
			return fmt.Sprintf("declared %s but resolved %T", tt, value)
		}
	case mapping.Boolean:
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("declared boolean but resolved %T", value)
		}
	case mapping.Date:
		if !isNumeric(value) {
			return fmt.Sprintf("declared date but resolved %T", value)
		}
	}
	return ""
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int64, float32, float64:
		return true
	default:
		return false
	}
}

func preview(v any) string {
	s := fmt.Sprintf("%v", v)
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}
