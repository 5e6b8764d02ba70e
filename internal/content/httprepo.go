package content

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/searchbridge/internal/domain"
)

// HTTPRepository implements Repository against the hosting application's
// content API. Items arrive as JSON with the layout and raw field values
// inline; values are decoded into the typed shapes the resolvers expect.
type HTTPRepository struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPRepository creates a content API client.
func NewHTTPRepository(baseURL, token string, logger *zap.Logger) *HTTPRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPRepository{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// ItemsByScope returns items of the given type/site, offset-paged in a stable order.
func (r *HTTPRepository) ItemsByScope(ctx context.Context, contentType, site string, offset, limit int) ([]Item, error) {
	q := url.Values{
		"type":   {contentType},
		"offset": {strconv.Itoa(offset)},
		"limit":  {strconv.Itoa(limit)},
	}
	if site != "" {
		q.Set("site", site)
	}

	var payload struct {
		Items []itemPayload `json:"items"`
	}
	if err := r.get(ctx, "/items?"+q.Encode(), &payload); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(payload.Items))
	for _, p := range payload.Items {
		item, err := p.toItem()
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", p.ID, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// CountByScope returns the number of items in scope.
func (r *HTTPRepository) CountByScope(ctx context.Context, contentType, site string) (int, error) {
	q := url.Values{"type": {contentType}}
	if site != "" {
		q.Set("site", site)
	}

	var payload struct {
		Count int `json:"count"`
	}
	if err := r.get(ctx, "/items/count?"+q.Encode(), &payload); err != nil {
		return 0, err
	}
	return payload.Count, nil
}

// ItemByID returns one item, domain.ErrNotFound when missing.
func (r *HTTPRepository) ItemByID(ctx context.Context, id int64) (Item, error) {
	var p itemPayload
	if err := r.get(ctx, "/items/"+strconv.FormatInt(id, 10), &p); err != nil {
		return Item{}, err
	}
	item, err := p.toItem()
	if err != nil {
		return Item{}, fmt.Errorf("item %d: %w", id, err)
	}
	return item, nil
}

// SchemaForScope describes the fields reachable from a scope.
func (r *HTTPRepository) SchemaForScope(ctx context.Context, contentType string) (Schema, error) {
	var schema Schema
	if err := r.get(ctx, "/schema/"+url.PathEscape(contentType), &schema); err != nil {
		return Schema{}, err
	}
	return schema, nil
}

func (r *HTTPRepository) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("content api %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode >= 400:
		return fmt.Errorf("content api %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// itemPayload is the wire form of a content item. Field values stay raw until
// the layout says what shape each one has.
type itemPayload struct {
	ID          int64                      `json:"id"`
	ContentType string                     `json:"contentType"`
	Site        string                     `json:"site,omitempty"`
	Title       string                     `json:"title,omitempty"`
	Slug        string                     `json:"slug,omitempty"`
	URI         string                     `json:"uri,omitempty"`
	PostedAt    int64                      `json:"postedAt,omitempty"`
	UpdatedAt   int64                      `json:"updatedAt,omitempty"`
	Layout      []FieldSpec                `json:"layout"`
	Values      map[string]json.RawMessage `json:"values"`
}

type blockPayload struct {
	TypeHandle string                     `json:"typeHandle"`
	Layout     []FieldSpec                `json:"layout"`
	Values     map[string]json.RawMessage `json:"values"`
}

func (p itemPayload) toItem() (Item, error) {
	values, err := decodeValues(p.Layout, p.Values)
	if err != nil {
		return Item{}, err
	}
	return Item{
		ID:          p.ID,
		ContentType: p.ContentType,
		Site:        p.Site,
		Title:       p.Title,
		Slug:        p.Slug,
		URI:         p.URI,
		PostedAt:    p.PostedAt,
		UpdatedAt:   p.UpdatedAt,
		Layout:      p.Layout,
		Values:      values,
	}, nil
}

// decodeValues decodes each raw field value into the shape its layout entry
// declares. Unknown field types stay as generically decoded JSON.
func decodeValues(layout []FieldSpec, raw map[string]json.RawMessage) (map[string]any, error) {
	if raw == nil {
		return nil, nil
	}
	values := make(map[string]any, len(raw))
	for _, spec := range layout {
		data, ok := raw[spec.UID]
		if !ok || string(data) == "null" {
			continue
		}
		v, err := decodeValue(spec, data)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", spec.Handle, err)
		}
		values[spec.UID] = v
	}
	return values, nil
}

func decodeValue(spec FieldSpec, data json.RawMessage) (any, error) {
	switch spec.Type {
	case FieldAsset:
		return decodeOneOrMany[Asset](data)
	case FieldAddress:
		var addr Address
		if err := json.Unmarshal(data, &addr); err != nil {
			return nil, err
		}
		return addr, nil
	case FieldRelation:
		var ids []int64
		if err := json.Unmarshal(data, &ids); err != nil {
			return nil, err
		}
		return ids, nil
	case FieldTags:
		var tags []string
		if err := json.Unmarshal(data, &tags); err != nil {
			return nil, err
		}
		return tags, nil
	case FieldMatrix:
		var payloads []blockPayload
		if err := json.Unmarshal(data, &payloads); err != nil {
			return nil, err
		}
		blocks := make([]Block, 0, len(payloads))
		for _, bp := range payloads {
			blockValues, err := decodeValues(bp.Layout, bp.Values)
			if err != nil {
				return nil, fmt.Errorf("block %s: %w", bp.TypeHandle, err)
			}
			blocks = append(blocks, Block{
				TypeHandle: bp.TypeHandle,
				Layout:     bp.Layout,
				Values:     blockValues,
			})
		}
		return blocks, nil
	default:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// decodeOneOrMany decodes either a single object or a list of them.
func decodeOneOrMany[T any](data json.RawMessage) (any, error) {
	var many []T
	if err := json.Unmarshal(data, &many); err == nil {
		return many, nil
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, err
	}
	return one, nil
}
