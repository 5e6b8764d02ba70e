// Package content describes the content repository collaborator: enumerable
// items scoped by type and site, field layouts, and change notifications.
// The repository itself lives in the hosting application; searchbridge only
// consumes these shapes.
package content

import "context"

// FieldType tags a content field's storage kind, driving resolver dispatch
// and default mapping inference.
type FieldType string

// Field type constants.
const (
	FieldText     FieldType = "text"
	FieldRichText FieldType = "richtext"
	FieldNumber   FieldType = "number"
	FieldBoolean  FieldType = "boolean"
	FieldDate     FieldType = "date"
	FieldAsset    FieldType = "asset"
	FieldRelation FieldType = "relation"
	FieldAddress  FieldType = "address"
	FieldMatrix   FieldType = "matrix" // repeatable nested block
	FieldTags     FieldType = "tags"
)

// FieldSpec describes one field in an item's layout.
type FieldSpec struct {
	UID    string    `json:"uid"`
	Handle string    `json:"handle"`
	Name   string    `json:"name,omitempty"`
	Type   FieldType `json:"type"`
}

// Block is one instance of a repeatable nested block field. Each instance
// carries its own layout; instances of different block types may expose
// different sub-fields.
type Block struct {
	TypeHandle string         `json:"typeHandle"`
	Layout     []FieldSpec    `json:"layout"`
	Values     map[string]any `json:"values"`
}

// HasSubField reports whether this block instance's own layout carries the
// given sub-field.
func (b Block) HasSubField(uid string) bool {
	for _, f := range b.Layout {
		if f.UID == uid {
			return true
		}
	}
	return false
}

// Address is the structured value of an address field.
type Address struct {
	Text    string  `json:"text,omitempty"`
	Street  string  `json:"street,omitempty"`
	City    string  `json:"city,omitempty"`
	Country string  `json:"country,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lng     float64 `json:"lng,omitempty"`
}

// Asset is a referenced file or image.
type Asset struct {
	ID    int64  `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Item is one content item: stable id, built-in attributes, field values and
// a field-layout description.
type Item struct {
	ID          int64
	ContentType string
	Site        string
	Title       string
	Slug        string
	URI         string
	PostedAt    int64 // unix millis
	UpdatedAt   int64 // unix millis

	Layout []FieldSpec
	Values map[string]any
}

// FieldValue returns the raw value for a field UID; nil when absent.
func (it *Item) FieldValue(uid string) any {
	if it.Values == nil {
		return nil
	}
	return it.Values[uid]
}

// FieldSpecByUID looks up a layout entry by field UID.
func (it *Item) FieldSpecByUID(uid string) (FieldSpec, bool) {
	for _, f := range it.Layout {
		if f.UID == uid {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Blocks returns the nested block instances of a matrix field, nil when the
// field is absent or holds a different shape.
func (it *Item) Blocks(uid string) []Block {
	blocks, _ := it.FieldValue(uid).([]Block)
	return blocks
}

// EventKind tags a content-change notification.
type EventKind string

// Event kinds.
const (
	EventSaved     EventKind = "saved"
	EventDeleted   EventKind = "deleted"
	EventRestored  EventKind = "restored"
	EventSlugMoved EventKind = "slug_moved"
)

// Event is one content-change notification carrying the affected item.
type Event struct {
	Kind EventKind
	Item Item
}

// Schema describes the fields discoverable for a content scope, used by
// mapping detection.
type Schema struct {
	Fields []FieldSpec `json:"fields"`
	// BlockFields lists, per matrix field UID, the distinct sub-fields
	// encountered across all block variants.
	BlockFields map[string][]FieldSpec `json:"blockFields,omitempty"`
}

// Repository enumerates content items. Implemented by the hosting
// application's storage layer.
type Repository interface {
	// ItemsByScope returns items of the given type/site, offset-paged in a
	// stable order.
	ItemsByScope(ctx context.Context, contentType, site string, offset, limit int) ([]Item, error)
	// CountByScope returns the number of items in scope.
	CountByScope(ctx context.Context, contentType, site string) (int, error)
	// ItemByID returns one item, domain.ErrNotFound when missing.
	ItemByID(ctx context.Context, id int64) (Item, error)
	// SchemaForScope describes the fields reachable from a scope.
	SchemaForScope(ctx context.Context, contentType string) (Schema, error)
}
