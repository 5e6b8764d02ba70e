package mapping

import "fmt"

// TargetType is the document-side type a source value is indexed as.
type TargetType string

// Target type constants.
const (
	Text      TargetType = "text"
	Keyword   TargetType = "keyword"
	Integer   TargetType = "integer"
	Float     TargetType = "float"
	Boolean   TargetType = "boolean"
	Date      TargetType = "date"
	GeoPoint  TargetType = "geo_point"
	Facet     TargetType = "facet"
	Object    TargetType = "object"
	Embedding TargetType = "embedding"
)

// IsValid checks if the target type is supported.
func (t TargetType) IsValid() bool {
	switch t {
	case Text, Keyword, Integer, Float, Boolean, Date, GeoPoint, Facet, Object, Embedding:
		return true
	}
	return false
}

// Role is a semantic tag letting generic consumers find canonical document fields.
type Role string

// Role constants. At most one enabled mapping per role per index.
const (
	RoleNone     Role = ""
	RoleTitle    Role = "title"
	RoleImage    Role = "image"
	RoleSummary  Role = "summary"
	RoleURL      Role = "url"
	RoleDate     Role = "date"
	RoleIIIFInfo Role = "iiif-info"
)

// IsValid checks if the role is supported (empty means no role).
func (r Role) IsValid() bool {
	switch r {
	case RoleNone, RoleTitle, RoleImage, RoleSummary, RoleURL, RoleDate, RoleIIIFInfo:
		return true
	}
	return false
}

// DefaultWeight is the relevance weight assigned to newly detected mappings.
const DefaultWeight = 5

// Mapping is one source-field to target-document-field translation rule
// (immutable value object).
type Mapping struct {
	fieldUID  string
	parentUID string
	attribute string

	targetField    string
	targetType     TargetType
	role           Role
	enabled        bool
	weight         int
	resolverConfig map[string]string
	sortOrder      int
}

// NewField validates and creates a mapping bound to a structured content field.
// parentUID is non-empty when the field lives inside a repeatable nested block.
func NewField(fieldUID, parentUID, targetField string, tt TargetType) (Mapping, error) {
	if fieldUID == "" {
		return Mapping{}, fmt.Errorf("field UID is required")
	}
	if err := validateTarget(targetField, tt); err != nil {
		return Mapping{}, err
	}
	return Mapping{
		fieldUID:    fieldUID,
		parentUID:   parentUID,
		targetField: targetField,
		targetType:  tt,
		enabled:     true,
		weight:      DefaultWeight,
	}, nil
}

// NewAttribute validates and creates a mapping bound to a built-in item
// attribute (id, title, slug, timestamps, type identifiers).
func NewAttribute(attribute, targetField string, tt TargetType) (Mapping, error) {
	if attribute == "" {
		return Mapping{}, fmt.Errorf("attribute name is required")
	}
	if err := validateTarget(targetField, tt); err != nil {
		return Mapping{}, err
	}
	return Mapping{
		attribute:   attribute,
		targetField: targetField,
		targetType:  tt,
		enabled:     true,
		weight:      DefaultWeight,
	}, nil
}

// Reconstruct creates a Mapping without validation (storage hydration).
func Reconstruct(
	fieldUID, parentUID, attribute, targetField string, tt TargetType,
	role Role, enabled bool, weight int, resolverConfig map[string]string, sortOrder int,
) Mapping {
	return Mapping{
		fieldUID: fieldUID, parentUID: parentUID, attribute: attribute,
		targetField: targetField, targetType: tt, role: role,
		enabled: enabled, weight: weight, resolverConfig: resolverConfig, sortOrder: sortOrder,
	}
}

func validateTarget(targetField string, tt TargetType) error {
	if targetField == "" {
		return fmt.Errorf("target field name is required")
	}
	if len(targetField) > 64 {
		return fmt.Errorf("target field name %q too long (max 64)", targetField)
	}
	if !tt.IsValid() {
		return fmt.Errorf("invalid target type %q for %q", tt, targetField)
	}
	return nil
}

// Identity returns the merge key: field UID + parent UID for field mappings,
// the attribute name for attribute mappings.
func (m Mapping) Identity() string {
	if m.attribute != "" {
		return "attr:" + m.attribute
	}
	return "field:" + m.parentUID + ":" + m.fieldUID
}

// FieldUID returns the source field identifier (empty for attribute mappings).
func (m Mapping) FieldUID() string { return m.fieldUID }

// ParentUID returns the parent block field identifier for sub-field mappings.
func (m Mapping) ParentUID() string { return m.parentUID }

// Attribute returns the built-in attribute name (empty for field mappings).
func (m Mapping) Attribute() string { return m.attribute }

// IsSubField reports whether this mapping targets a nested block sub-field.
func (m Mapping) IsSubField() bool { return m.parentUID != "" }

// TargetField returns the document field name.
func (m Mapping) TargetField() string { return m.targetField }

// Type returns the target field type.
func (m Mapping) Type() TargetType { return m.targetType }

// MappingRole returns the semantic role, RoleNone when unset.
func (m Mapping) MappingRole() Role { return m.role }

// Enabled reports whether the mapping participates in resolution.
func (m Mapping) Enabled() bool { return m.enabled }

// Weight returns the relevance weight.
func (m Mapping) Weight() int { return m.weight }

// ResolverConfig returns the free-form resolver configuration.
func (m Mapping) ResolverConfig() map[string]string { return m.resolverConfig }

// ConfigValue returns one resolver configuration value.
func (m Mapping) ConfigValue(key string) string {
	if m.resolverConfig == nil {
		return ""
	}
	return m.resolverConfig[key]
}

// SortOrder returns the display/emission order.
func (m Mapping) SortOrder() int { return m.sortOrder }

// WithRole returns a copy with the given role.
func (m Mapping) WithRole(r Role) Mapping { m.role = r; return m }

// WithWeight returns a copy with the given weight.
func (m Mapping) WithWeight(w int) Mapping { m.weight = w; return m }

// WithEnabled returns a copy with the enabled flag set.
func (m Mapping) WithEnabled(on bool) Mapping { m.enabled = on; return m }

// WithTargetField returns a copy with the given target field name.
func (m Mapping) WithTargetField(name string) Mapping { m.targetField = name; return m }

// WithType returns a copy with the given target type.
func (m Mapping) WithType(tt TargetType) Mapping { m.targetType = tt; return m }

// WithResolverConfig returns a copy with the given resolver configuration.
func (m Mapping) WithResolverConfig(cfg map[string]string) Mapping { m.resolverConfig = cfg; return m }

// WithSortOrder returns a copy with the given sort order.
func (m Mapping) WithSortOrder(n int) Mapping { m.sortOrder = n; return m }
