package index

import (
	"fmt"
	"regexp"

	"github.com/kailas-cloud/searchbridge/internal/domain/mapping"
)

var handleRegex = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Mode controls how an index is populated.
type Mode string

const (
	// ModeSynced keeps the remote index driven by content-change events.
	ModeSynced Mode = "synced"
	// ModeReadonly marks an externally populated index used for queries only.
	ModeReadonly Mode = "readonly"
)

// IsValid checks if the mode is supported.
func (m Mode) IsValid() bool { return m == ModeSynced || m == ModeReadonly }

// Scope selects the content covered by an index. Empty Site means all sites.
type Scope struct {
	ContentType string `json:"content_type"`
	Site        string `json:"site,omitempty"`
}

// Index is a named, versioned search index configuration (immutable aggregate).
type Index struct {
	handle     string
	name       string
	engineType string
	settings   map[string]string
	scopes     []Scope
	mode       Mode
	enabled    bool
	mappings   []mapping.Mapping
}

// New validates and creates an Index.
// Handle: ^[a-z0-9_-]+$, 1-64 chars. Target field names must be unique across
// mappings; a role may be carried by at most one mapping.
func New(
	handle, name, engineType string, settings map[string]string,
	scopes []Scope, mode Mode, mappings []mapping.Mapping,
) (Index, error) {
	if handle == "" {
		return Index{}, fmt.Errorf("index handle is required")
	}
	if len(handle) > 64 {
		return Index{}, fmt.Errorf("index handle too long (max 64)")
	}
	if !handleRegex.MatchString(handle) {
		return Index{}, fmt.Errorf("index handle must be lowercase alphanumeric with underscores and hyphens")
	}
	if engineType == "" {
		return Index{}, fmt.Errorf("engine type is required")
	}
	if mode == "" {
		mode = ModeSynced
	}
	if !mode.IsValid() {
		return Index{}, fmt.Errorf("invalid index mode: %q", mode)
	}
	if err := validateMappings(mappings); err != nil {
		return Index{}, err
	}

	return Index{
		handle:     handle,
		name:       name,
		engineType: engineType,
		settings:   settings,
		scopes:     scopes,
		mode:       mode,
		enabled:    true,
		mappings:   mappings,
	}, nil
}

// Reconstruct creates an Index without validation (storage hydration).
func Reconstruct(
	handle, name, engineType string, settings map[string]string,
	scopes []Scope, mode Mode, enabled bool, mappings []mapping.Mapping,
) Index {
	if mode == "" {
		mode = ModeSynced
	}
	return Index{
		handle: handle, name: name, engineType: engineType, settings: settings,
		scopes: scopes, mode: mode, enabled: enabled, mappings: mappings,
	}
}

func validateMappings(mappings []mapping.Mapping) error {
	targets := make(map[string]bool, len(mappings))
	roles := make(map[mapping.Role]bool)
	for _, m := range mappings {
		if targets[m.TargetField()] {
			return fmt.Errorf("duplicate target field name: %s", m.TargetField())
		}
		targets[m.TargetField()] = true

		if r := m.MappingRole(); r != mapping.RoleNone {
			if !r.IsValid() {
				return fmt.Errorf("invalid role %q on %s", r, m.TargetField())
			}
			if roles[r] {
				return fmt.Errorf("duplicate role %q on %s", r, m.TargetField())
			}
			roles[r] = true
		}
	}
	return nil
}

// Handle returns the unique index handle.
func (i Index) Handle() string { return i.handle }

// Name returns the display name.
func (i Index) Name() string { return i.name }

// EngineType returns the engine type tag (redisearch, typesense, memory).
func (i Index) EngineType() string { return i.engineType }

// Settings returns the engine-specific connection/config values.
func (i Index) Settings() map[string]string { return i.settings }

// Setting returns one engine setting value.
func (i Index) Setting(key string) string {
	if i.settings == nil {
		return ""
	}
	return i.settings[key]
}

// Scopes returns the content scopes covered by this index.
func (i Index) Scopes() []Scope { return i.scopes }

// IndexMode returns synced or readonly.
func (i Index) IndexMode() Mode { return i.mode }

// Enabled reports whether the index participates in sync and queries.
func (i Index) Enabled() bool { return i.enabled }

// Mappings returns the ordered field mappings.
func (i Index) Mappings() []mapping.Mapping { return i.mappings }

// EnabledMappings returns only the mappings with the enabled flag set.
func (i Index) EnabledMappings() []mapping.Mapping {
	out := make([]mapping.Mapping, 0, len(i.mappings))
	for _, m := range i.mappings {
		if m.Enabled() {
			out = append(out, m)
		}
	}
	return out
}

// InScope reports whether a content item of the given type and site is
// covered by this index.
func (i Index) InScope(contentType, site string) bool {
	for _, s := range i.scopes {
		if s.ContentType != contentType {
			continue
		}
		if s.Site == "" || s.Site == site {
			return true
		}
	}
	return false
}

// EmbeddingField returns the target name of the first enabled mapping of type
// embedding, or "" when the index has none.
func (i Index) EmbeddingField() string {
	for _, m := range i.mappings {
		if m.Enabled() && m.Type() == mapping.Embedding {
			return m.TargetField()
		}
	}
	return ""
}

// MappingForTarget looks up a mapping by target field name.
func (i Index) MappingForTarget(name string) (mapping.Mapping, bool) {
	for _, m := range i.mappings {
		if m.TargetField() == name {
			return m, true
		}
	}
	return mapping.Mapping{}, false
}

// WithMappings returns a copy carrying the given mappings (validated).
func (i Index) WithMappings(mappings []mapping.Mapping) (Index, error) {
	if err := validateMappings(mappings); err != nil {
		return Index{}, err
	}
	i.mappings = mappings
	return i, nil
}

// WithEnabled returns a copy with the enabled flag set.
func (i Index) WithEnabled(on bool) Index { i.enabled = on; return i }

// WithMode returns a copy with the given mode.
func (i Index) WithMode(m Mode) Index { i.mode = m; return i }
