package mapper

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/kailas-cloud/searchbridge/internal/content"
	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
	"github.com/kailas-cloud/searchbridge/internal/domain/mapping"
	"github.com/kailas-cloud/searchbridge/internal/engine"
)

// Mapper detects field mappings from content schemas and resolves content
// items into flat search documents.
type Mapper struct {
	repo      content.Repository
	resolvers *ResolverSet
	roles     *RoleCache
	logger    *zap.Logger
}

// New creates a Mapper.
func New(repo content.Repository, roles *RoleCache, logger *zap.Logger) *Mapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mapper{
		repo:      repo,
		resolvers: NewResolverSet(),
		roles:     roles,
		logger:    logger,
	}
}

// Resolvers exposes the resolver set for registration of custom strategies.
func (mp *Mapper) Resolvers() *ResolverSet { return mp.resolvers }

// inferTargetType is the fixed type-inference table for detection.
func inferTargetType(ft content.FieldType) mapping.TargetType {
	switch ft {
	case content.FieldText, content.FieldRichText:
		return mapping.Text
	case content.FieldNumber:
		return mapping.Float
	case content.FieldBoolean:
		return mapping.Boolean
	case content.FieldDate:
		return mapping.Date
	case content.FieldAddress:
		return mapping.GeoPoint
	case content.FieldAsset:
		return mapping.Keyword
	case content.FieldRelation:
		return mapping.Object
	case content.FieldTags:
		return mapping.Keyword
	default:
		return mapping.Text
	}
}

// builtinAttributes are appended to every detection run, in this order.
var builtinAttributes = []struct {
	name   string
	target string
	tt     mapping.TargetType
}{
	{"id", "id", mapping.Keyword},
	{"title", "title", mapping.Text},
	{"slug", "slug", mapping.Keyword},
	{"uri", "uri", mapping.Keyword},
	{"postDate", "post_date", mapping.Date},
	{"contentType", "content_type", mapping.Keyword},
	{"site", "site", mapping.Keyword},
}

// Detect produces one default mapping per discoverable field across the
// index's scopes: built-in attributes first, then top-level fields in schema
// order, then nested sub-fields grouped by parent. Emission order is
// deterministic; duplicate fields across scopes are emitted once.
func (mp *Mapper) Detect(ctx context.Context, idx domidx.Index) ([]mapping.Mapping, error) {
	var out []mapping.Mapping
	seen := make(map[string]bool)
	targets := make(map[string]bool)

	add := func(m mapping.Mapping) {
		if seen[m.Identity()] {
			return
		}
		seen[m.Identity()] = true
		m = m.WithTargetField(uniqueTarget(targets, m.TargetField()))
		m = m.WithSortOrder(len(out))
		out = append(out, m)
	}

	for _, attr := range builtinAttributes {
		m, err := mapping.NewAttribute(attr.name, attr.target, attr.tt)
		if err != nil {
			return nil, fmt.Errorf("attribute mapping %s: %w", attr.name, err)
		}
		add(m)
	}

	for _, scope := range idx.Scopes() {
		schema, err := mp.repo.SchemaForScope(ctx, scope.ContentType)
		if err != nil {
			return nil, fmt.Errorf("schema for %s: %w", scope.ContentType, err)
		}

		for _, f := range schema.Fields {
			if f.Type == content.FieldMatrix {
				continue
			}
			m, err := mapping.NewField(f.UID, "", f.Handle, inferTargetType(f.Type))
			if err != nil {
				return nil, fmt.Errorf("field mapping %s: %w", f.Handle, err)
			}
			add(m)
		}

		// Sub-fields grouped by parent, one mapping per distinct sub-field
		// across all block variants.
		for _, parent := range schema.Fields {
			if parent.Type != content.FieldMatrix {
				continue
			}
			for _, sub := range schema.BlockFields[parent.UID] {
				m, err := mapping.NewField(
					sub.UID, parent.UID,
					parent.Handle+"_"+sub.Handle,
					inferTargetType(sub.Type),
				)
				if err != nil {
					return nil, fmt.Errorf("sub-field mapping %s.%s: %w", parent.Handle, sub.Handle, err)
				}
				add(m)
			}
		}
	}

	return out, nil
}

// Redetect re-runs detection and merges with the index's current mappings by
// identity: surviving mappings keep their role, weight, enabled flag, target
// name, resolver config and sort order; newly discovered mappings are
// appended with defaults; vanished mappings are dropped.
func (mp *Mapper) Redetect(ctx context.Context, idx domidx.Index) ([]mapping.Mapping, error) {
	detected, err := mp.Detect(ctx, idx)
	if err != nil {
		return nil, err
	}

	detectedByID := make(map[string]bool, len(detected))
	for _, d := range detected {
		detectedByID[d.Identity()] = true
	}

	var merged []mapping.Mapping
	existing := make(map[string]bool)
	for _, cur := range idx.Mappings() {
		if detectedByID[cur.Identity()] {
			merged = append(merged, cur)
			existing[cur.Identity()] = true
		}
	}
	for _, d := range detected {
		if !existing[d.Identity()] {
			merged = append(merged, d.WithSortOrder(len(merged)))
		}
	}

	if mp.roles != nil {
		mp.roles.Invalidate(idx.Handle())
	}
	return merged, nil
}

// Fresh returns pure detection defaults, skipping the merge.
func (mp *Mapper) Fresh(ctx context.Context, idx domidx.Index) ([]mapping.Mapping, error) {
	if mp.roles != nil {
		mp.roles.Invalidate(idx.Handle())
	}
	return mp.Detect(ctx, idx)
}

// ResolveItem turns one content item into a flat document: every enabled
// mapping dispatched to its resolver, plus the synthesized objectID and scope
// metadata. A failing resolver yields a null field and the item continues.
func (mp *Mapper) ResolveItem(item *content.Item, idx domidx.Index) engine.Document {
	doc := engine.Document{
		"objectID": strconv.FormatInt(item.ID, 10),
	}
	if item.ContentType != "" {
		doc["_type"] = item.ContentType
	}
	if item.Site != "" {
		doc["_site"] = item.Site
	}
	if item.URI != "" {
		doc["_uri"] = item.URI
	}

	for _, m := range idx.EnabledMappings() {
		value, err := mp.resolveMapping(item, m)
		if err != nil {
			mp.logger.Warn("field resolution failed",
				zap.String("index", idx.Handle()),
				zap.String("target", m.TargetField()),
				zap.Int64("item", item.ID),
				zap.Error(err),
			)
			continue
		}
		if value != nil {
			doc[m.TargetField()] = value
		}
	}
	return doc
}

// resolveMapping resolves one mapping against one item.
func (mp *Mapper) resolveMapping(item *content.Item, m mapping.Mapping) (any, error) {
	if m.Attribute() != "" {
		return mp.resolveAttribute(item, m)
	}
	if m.IsSubField() {
		return mp.resolveSubField(item, m)
	}

	spec, ok := item.FieldSpecByUID(m.FieldUID())
	if !ok {
		// Field not in this item's layout: ordinary absence, not an error.
		return nil, nil
	}
	return mp.resolvers.For(spec.Type).Resolve(item.FieldValue(m.FieldUID()), spec, m)
}

func (mp *Mapper) resolveAttribute(item *content.Item, m mapping.Mapping) (any, error) {
	switch m.Attribute() {
	case "id":
		return strconv.FormatInt(item.ID, 10), nil
	case "title":
		return emptyAsNil(item.Title), nil
	case "slug":
		return emptyAsNil(item.Slug), nil
	case "uri":
		return emptyAsNil(item.URI), nil
	case "postDate":
		if item.PostedAt == 0 {
			return nil, nil
		}
		return item.PostedAt, nil
	case "updateDate":
		if item.UpdatedAt == 0 {
			return nil, nil
		}
		return item.UpdatedAt, nil
	case "contentType":
		return emptyAsNil(item.ContentType), nil
	case "site":
		return emptyAsNil(item.Site), nil
	default:
		return nil, nil
	}
}

// resolveSubField loads the parent block collection and collects the
// sub-field's value from every instance whose own layout carries it.
// Instances lacking the sub-field contribute nothing. Multiple contributions
// aggregate into a list unless the mapping asks for first_only.
func (mp *Mapper) resolveSubField(item *content.Item, m mapping.Mapping) (any, error) {
	blocks := item.Blocks(m.ParentUID())
	if len(blocks) == 0 {
		return nil, nil
	}

	firstOnly := m.ConfigValue("first_only") == "true"
	var collected []any
	for _, block := range blocks {
		if !block.HasSubField(m.FieldUID()) {
			continue
		}
		var spec content.FieldSpec
		for _, f := range block.Layout {
			if f.UID == m.FieldUID() {
				spec = f
				break
			}
		}
		value, err := mp.resolvers.For(spec.Type).Resolve(block.Values[m.FieldUID()], spec, m)
		if err != nil {
			return nil, err
		}
		if value == nil {
			continue
		}
		collected = append(collected, value)
		if firstOnly {
			break
		}
	}

	switch len(collected) {
	case 0:
		return nil, nil
	case 1:
		return collected[0], nil
	default:
		return collected, nil
	}
}

func emptyAsNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func uniqueTarget(taken map[string]bool, name string) string {
	candidate := name
	for i := 2; taken[candidate]; i++ {
		candidate = fmt.Sprintf("%s_%d", name, i)
	}
	taken[candidate] = true
	return candidate
}
