package index

import (
	"encoding/json"
	"fmt"
	"strconv"

	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
	"github.com/kailas-cloud/searchbridge/internal/domain/mapping"
)

// mappingRow is the JSON-serializable representation of one mapping.
type mappingRow struct {
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

// scopeRow is the JSON-serializable representation of one scope.
type scopeRow struct {
	ContentType string `json:"contentType"`
	Site        string `json:"site,omitempty"`
}

// indexToHash converts a domain Index to a map for HSET.
func indexToHash(idx domidx.Index) (map[string]string, error) {
	mappings := idx.Mappings()
	rows := make([]mappingRow, len(mappings))
	for i, m := range mappings {
		rows[i] = mappingRow{
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
	mappingsJSON, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("marshal mappings: %w", err)
	}

	scopes := idx.Scopes()
	scopeRows := make([]scopeRow, len(scopes))
	for i, s := range scopes {
		scopeRows[i] = scopeRow{ContentType: s.ContentType, Site: s.Site}
	}
	scopesJSON, err := json.Marshal(scopeRows)
	if err != nil {
		return nil, fmt.Errorf("marshal scopes: %w", err)
	}

	settingsJSON, err := json.Marshal(idx.Settings())
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}

	return map[string]string{
		"handle":        idx.Handle(),
		"name":          idx.Name(),
		"engine_type":   idx.EngineType(),
		"settings_json": string(settingsJSON),
		"scopes_json":   string(scopesJSON),
		"mode":          string(idx.IndexMode()),
		"enabled":       strconv.FormatBool(idx.Enabled()),
		"mappings_json": string(mappingsJSON),
	}, nil
}

// indexFromHash hydrates a domain Index from an HGETALL result map.
func indexFromHash(m map[string]string) (domidx.Index, error) {
	var rows []mappingRow
	if s := m["mappings_json"]; s != "" {
		if err := json.Unmarshal([]byte(s), &rows); err != nil {
			return domidx.Index{}, fmt.Errorf("unmarshal mappings: %w", err)
		}
	}
	mappings := make([]mapping.Mapping, len(rows))
	for i, r := range rows {
		mappings[i] = mapping.Reconstruct(
			r.FieldUID, r.ParentUID, r.Attribute, r.TargetField,
			mapping.TargetType(r.Type), mapping.Role(r.Role),
			r.Enabled, r.Weight, r.ResolverConfig, r.SortOrder,
		)
	}

	var scopeRows []scopeRow
	if s := m["scopes_json"]; s != "" {
		if err := json.Unmarshal([]byte(s), &scopeRows); err != nil {
			return domidx.Index{}, fmt.Errorf("unmarshal scopes: %w", err)
		}
	}
	scopes := make([]domidx.Scope, len(scopeRows))
	for i, r := range scopeRows {
		scopes[i] = domidx.Scope{ContentType: r.ContentType, Site: r.Site}
	}

	var settings map[string]string
	if s := m["settings_json"]; s != "" {
		if err := json.Unmarshal([]byte(s), &settings); err != nil {
			return domidx.Index{}, fmt.Errorf("unmarshal settings: %w", err)
		}
	}

	enabled := m["enabled"] != "false"

	return domidx.Reconstruct(
		m["handle"], m["name"], m["engine_type"], settings,
		scopes, domidx.Mode(m["mode"]), enabled, mappings,
	), nil
}
